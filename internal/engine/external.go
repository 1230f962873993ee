package engine

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tbracken/gridpoll/internal/models"
)

// activityWriter logs child output line by line and resets the inactivity
// clock on every write.
type activityWriter struct {
	prefix string
	touch  func()
	buf    []byte
}

func (w *activityWriter) Write(p []byte) (int, error) {
	w.touch()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		log.Printf("%s: %s", w.prefix, strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// externalPollInterval paces the activity/timeout checks of a running
// external operation.
const externalPollInterval = time.Second

// runExternalTask launches the task's external command in place of an FTP
// transfer. The child's activity is tracked through stdio output and new
// files appearing in the local directory; the whole process tree is
// killed on cancellation or when inactivity exceeds the configured
// timeout. Files that appear during the run count as downloads.
func (r *Runner) runExternalTask(task models.ConnectionProfileTask, settings models.TaskSettings) {
	now := time.Now()
	ctx := TemplateContext{
		Now:              now,
		Device:           r.device,
		Profile:          r.profile,
		TaskID:           task.ID,
		DefaultLocalPath: r.engine.settings.DefaultLocalPath,
	}

	publish := func(state models.ProgressState, message string) {
		r.engine.bus.Publish(r.device.Name, models.ProgressUpdate{
			State:   state,
			Summary: task.Name,
			Message: message,
		})
	}

	command := ExpandPath(settings.ExternalOperation, ctx)
	parts := splitCommand(command)
	if len(parts) == 0 {
		publish(models.StateFailed, "external operation is empty")
		return
	}

	localDir := settings.LocalPath
	if localDir == "" {
		localDir = r.engine.settings.DefaultLocalPath
	}
	localDir = NormalizeLocalPath(ExpandPath(localDir, ctx))
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		publish(models.StateFailed, fmt.Sprintf("cannot create local directory %s: %v", localDir, err))
		return
	}
	before := snapshotDir(localDir)

	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Dir = localDir
	// Own process group so the whole descendant tree can be killed.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var lastUpdate atomic.Int64
	lastUpdate.Store(time.Now().UnixNano())
	touch := func() { lastUpdate.Store(time.Now().UnixNano()) }

	cmd.Stdout = &activityWriter{prefix: fmt.Sprintf("[%s] %s stdout", r.device.Acronym, task.Name), touch: touch}
	cmd.Stderr = &activityWriter{prefix: fmt.Sprintf("[%s] %s stderr", r.device.Acronym, task.Name), touch: touch}

	publish(models.StateProcessing, fmt.Sprintf("Launching external operation: %s", command))
	if err := cmd.Start(); err != nil {
		publish(models.StateFailed, fmt.Sprintf("external operation failed to start: %v", err))
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := time.Duration(settings.ExternalOperationTimeout) * time.Second
	ticker := time.NewTicker(externalPollInterval)
	defer ticker.Stop()

	prev := before
	var waitErr error
	var forceKilled, timedOut bool

loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-r.engine.token.Done():
			killProcessTree(cmd)
			forceKilled = true
			waitErr = <-done
			break loop
		case <-ticker.C:
			// The filesystem stands in for progress output: any change in
			// the target directory resets the inactivity clock.
			cur := snapshotDir(localDir)
			if dirChanged(prev, cur) {
				prev = cur
				touch()
			}
			if timeout > 0 && time.Since(time.Unix(0, lastUpdate.Load())) > timeout {
				killProcessTree(cmd)
				forceKilled = true
				timedOut = true
				waitErr = <-done
				break loop
			}
		}
	}

	// Count files that appeared during the run as downloads.
	after := snapshotDir(localDir)
	for name, size := range after {
		if _, ok := before[name]; ok {
			continue
		}
		r.stats.FileProcessed()
		r.stats.FileDownloaded(size)
	}

	switch {
	case timedOut:
		publish(models.StateFailed, fmt.Sprintf("external operation exceeded timeout of %d seconds", settings.ExternalOperationTimeout))
	case forceKilled:
		// Cancellation is not an error; the run-level Finished event
		// follows from the runner.
		publish(models.StateProcessing, "external operation canceled")
	case waitErr != nil:
		publish(models.StateProcessing, fmt.Sprintf("external operation exited abnormally: %v", waitErr))
	default:
		publish(models.StateSucceeded, "external operation completed")
	}
}

// killProcessTree kills the child and all of its descendants via its
// process group.
func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// snapshotDir captures the files directly inside dir with their sizes.
func snapshotDir(dir string) map[string]int64 {
	out := make(map[string]int64)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[filepath.Join(dir, e.Name())] = info.Size()
	}
	return out
}

func dirChanged(prev, cur map[string]int64) bool {
	if len(prev) != len(cur) {
		return true
	}
	for name, size := range cur {
		if old, ok := prev[name]; !ok || old != size {
			return true
		}
	}
	return false
}

// splitCommand splits an expanded command line into executable and
// arguments, honoring double-quoted segments.
func splitCommand(command string) []string {
	var parts []string
	var b strings.Builder
	inQuote := false
	flush := func() {
		if b.Len() > 0 {
			parts = append(parts, b.String())
			b.Reset()
		}
	}
	for _, c := range command {
		switch {
		case c == '"':
			inQuote = !inQuote
		case !inQuote && (c == ' ' || c == '\t'):
			flush()
		default:
			b.WriteRune(c)
		}
	}
	flush()
	return parts
}
