package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tbracken/gridpoll/internal/models"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"prog", []string{"prog"}},
		{"prog -a -b", []string{"prog", "-a", "-b"}},
		{`prog "two words" last`, []string{"prog", "two words", "last"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitCommand(tt.in), "input %q", tt.in)
	}
}

// TestExternalOperationTimeout kills a silent child once inactivity
// exceeds the configured timeout, within the poll interval's slack.
func TestExternalOperationTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real process and waits out the timeout")
	}

	session := newFakeSession()
	h := newHarness(t, session, nil)
	h.seedDevice("EXT1", plainConn,
		"externalOperation=sleep 60;externalOperationTimeout=2;localPath=<DeviceFolderPath>")

	start := time.Now()
	h.run("EXT1")
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 10*time.Second, "process tree was not killed promptly")

	h.waitUpdates(func(us []models.ProgressUpdate) bool {
		for _, u := range us {
			if u.State == models.StateFailed && strings.Contains(u.Message, "exceeded timeout") {
				return true
			}
		}
		return false
	})
	h.waitUpdates(func(us []models.ProgressUpdate) bool {
		return countState(us, models.StateFinished) == 1
	})
}

// TestExternalOperationCountsNewFiles: files appearing in the local
// directory during the run count as downloads.
func TestExternalOperationCountsNewFiles(t *testing.T) {
	session := newFakeSession()
	h := newHarness(t, session, nil)
	h.seedDevice("EXT2", plainConn,
		"externalOperation=sh -c \"echo payload > fetched.rcd\";externalOperationTimeout=10;localPath=<DeviceFolderPath>")

	h.run("EXT2")

	snap := h.reg.Get("EXT2").Snapshot()
	assert.EqualValues(t, 1, snap.FilesDownloaded)
	assert.EqualValues(t, 1, snap.TotalFilesDownloaded)
}

func TestExternalOperationNonZeroExitIsNotFatal(t *testing.T) {
	session := newFakeSession()
	h := newHarness(t, session, nil)
	h.seedDevice("EXT3", plainConn,
		"externalOperation=sh -c \"exit 3\";externalOperationTimeout=10;localPath=<DeviceFolderPath>")

	h.run("EXT3")

	h.waitUpdates(func(us []models.ProgressUpdate) bool {
		sawExit := false
		for _, u := range us {
			if u.State == models.StateProcessing && strings.Contains(u.Message, "exited abnormally") {
				sawExit = true
			}
		}
		// The run itself still succeeds.
		return sawExit && countState(us, models.StateFinished) == 1
	})
}
