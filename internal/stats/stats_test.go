package stats

import (
	"testing"
	"time"
)

func TestCountersAndRunReset(t *testing.T) {
	s := NewDeviceStats(true, 0, 0)

	s.BeginRun(2)
	s.ConnectionAttempted()
	s.ConnectionSucceeded()
	s.FileProcessed()
	s.FileDownloaded(1_000_000)
	s.FileDownloaded(500_000)
	s.AddConnectedTime(90 * time.Second)

	snap := s.Snapshot()
	if snap.FilesDownloaded != 2 || snap.TotalFilesDownloaded != 2 {
		t.Fatalf("download counters = %d/%d, want 2/2", snap.FilesDownloaded, snap.TotalFilesDownloaded)
	}
	if snap.MegaBytesDownloaded != 1.5 {
		t.Fatalf("MegaBytesDownloaded = %v, want 1.5", snap.MegaBytesDownloaded)
	}
	if snap.TotalConnectedTime != 90 {
		t.Fatalf("TotalConnectedTime = %d, want 90", snap.TotalConnectedTime)
	}
	if snap.Enabled != 1 {
		t.Fatalf("Enabled = %d, want 1", snap.Enabled)
	}

	// A new run resets only the per-run counter.
	s.BeginRun(2)
	snap = s.Snapshot()
	if snap.FilesDownloaded != 0 {
		t.Fatalf("FilesDownloaded after BeginRun = %d, want 0", snap.FilesDownloaded)
	}
	if snap.TotalFilesDownloaded != 2 {
		t.Fatalf("TotalFilesDownloaded after BeginRun = %d, want 2", snap.TotalFilesDownloaded)
	}
}

func TestSuccessFailureNeverExceedAttempts(t *testing.T) {
	s := NewDeviceStats(true, 0, 0)
	for i := 0; i < 10; i++ {
		s.ConnectionAttempted()
		if i%3 == 0 {
			s.ConnectionFailed()
		} else {
			s.ConnectionSucceeded()
		}
		s.DialUpAttempted()
		s.DialUpSucceeded()
	}

	snap := s.Snapshot()
	if snap.SuccessfulConnections+snap.FailedConnections > snap.AttemptedConnections {
		t.Fatalf("connection counters violate successful+failed <= attempted: %+v", snap)
	}
	if snap.SuccessfulDialUps+snap.FailedDialUps > snap.AttemptedDialUps {
		t.Fatalf("dial-up counters violate successful+failed <= attempted: %+v", snap)
	}
}

func TestTaskCompletionAnchors(t *testing.T) {
	s := NewDeviceStats(true, 0, 0)
	s.BeginRun(3)

	completed, total := s.TaskCompleted()
	if completed != 1 || total != 3 {
		t.Fatalf("TaskCompleted = %d/%d, want 1/3", completed, total)
	}
	completed, _ = s.TaskCompleted()
	if completed != 2 {
		t.Fatalf("second TaskCompleted = %d, want 2", completed)
	}
}

func TestDownloadThreshold(t *testing.T) {
	// 1 MB per 1 hour window.
	s := NewDeviceStats(true, 1, 1)

	if !s.AllowDownload(400_000) {
		t.Fatal("first download within the window budget was denied")
	}
	if !s.AllowDownload(400_000) {
		t.Fatal("second download within the window budget was denied")
	}
	// Budget nearly spent; the next full-size request must be denied.
	if s.AllowDownload(400_000) {
		t.Fatal("download over the window budget was allowed")
	}
	// A file larger than the whole window budget passes rather than
	// starving forever.
	if !s.AllowDownload(5_000_000) {
		t.Fatal("oversized download was starved")
	}

	// A disarmed guard always allows.
	open := NewDeviceStats(true, 0, 0)
	if !open.AllowDownload(1 << 40) {
		t.Fatal("disarmed threshold denied a download")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	reg := NewRegistry()
	a := NewDeviceStats(true, 0, 0)
	b := NewDeviceStats(false, 0, 0)
	reg.Add("A", a)
	reg.Add("B", b)

	a.FileDownloaded(100)
	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d devices, want 2", len(snap))
	}
	if snap["A"].TotalFilesDownloaded != 1 {
		t.Fatalf("device A downloads = %d, want 1", snap["A"].TotalFilesDownloaded)
	}
	if snap["B"].Enabled != 0 {
		t.Fatalf("device B enabled = %d, want 0", snap["B"].Enabled)
	}

	reg.Remove("B")
	if reg.Get("B") != nil {
		t.Fatal("removed device still present")
	}
}
