package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/tbracken/gridpoll/internal/coop"
	"github.com/tbracken/gridpoll/internal/models"
	"github.com/tbracken/gridpoll/internal/remote"
	"github.com/tbracken/gridpoll/internal/stats"
)

// plannedTask pairs a profile task with its expanded settings.
type plannedTask struct {
	task     models.ConnectionProfileTask
	settings models.TaskSettings
}

// Runner holds one device's process-lifetime state and executes its
// profile runs end-to-end on its assigned cooperative thread.
type Runner struct {
	engine  *Engine
	device  models.Device
	profile models.ConnectionProfile
	opts    models.ConnectionOptions
	tasks   []plannedTask
	stats   *stats.DeviceStats

	thread        *coop.Thread
	runOnce       *coop.RunOnce
	privateThread bool
}

// Device returns the runner's device record.
func (r *Runner) Device() models.Device { return r.device }

// TaskCount returns the number of tasks in the device's profile.
func (r *Runner) TaskCount() int { return len(r.tasks) }

// publishRun emits a run-scope progress event anchored on overall task
// progress.
func (r *Runner) publishRun(state models.ProgressState, message string, completed, total int) {
	r.engine.bus.Publish(r.device.Name, models.ProgressUpdate{
		State:    state,
		Summary:  r.profile.Name,
		Message:  message,
		Complete: int64(completed),
		Total:    int64(total),
	})
}

func (r *Runner) recordFailure(file, message string) {
	r.engine.recorder.RecordFailure(r.device.ID, r.device.Name, file, message)
}

// execute performs one run of the device's profile. Always invoked on the
// runner's cooperative thread via the run-once wrapper, so at most one
// run is ever in flight.
func (r *Runner) execute() {
	token := r.engine.token
	if token.Canceled() {
		return
	}

	r.stats.BeginRun(len(r.tasks))
	log.Printf("[%s] starting run of profile %q (%d tasks)", r.device.Acronym, r.profile.Name, len(r.tasks))

	if queued, err := r.engine.db.DequeueTasks(r.device.ID); err != nil {
		log.Printf("[%s] draining task queue: %v", r.device.Acronym, err)
	} else if len(queued) > 0 {
		log.Printf("[%s] picked up %d queued task requests", r.device.Acronym, len(queued))
	}

	if r.opts.UseDialUp {
		r.stats.DialUpAttempted()
		timeout := time.Duration(r.opts.DialUpTimeout) * time.Second
		if err := r.engine.dialer.Dial(r.opts.DialUpEntryName, timeout); err != nil {
			r.stats.DialUpFailed()
			_ = r.engine.dialer.HangUp(r.opts.DialUpEntryName)
			msg := fmt.Sprintf("dial-up to %s failed: %v", r.opts.DialUpEntryName, err)
			log.Printf("[%s] %s", r.device.Acronym, msg)
			r.publishRun(models.StateFailed, msg, 0, len(r.tasks))
			r.recordFailure("", msg)
			r.publishRun(models.StateFinished, "Run finished", 0, len(r.tasks))
			return
		}
		r.stats.DialUpSucceeded()
		dialStart := time.Now()
		defer func() {
			_ = r.engine.dialer.HangUp(r.opts.DialUpEntryName)
			r.stats.AddDialUpTime(time.Since(dialStart))
		}()
	}

	r.authenticatePaths()

	ftpCount := 0
	for _, pt := range r.tasks {
		if !pt.settings.IsExternal() {
			ftpCount++
		}
	}

	// One FTP session per run. A connect failure aborts the remaining
	// FTP tasks with a per-profile failure but leaves external-operation
	// tasks running.
	var session remote.Session
	runFailed := false
	if ftpCount > 0 {
		r.stats.ConnectionAttempted()
		session = r.engine.sessions(r.opts)
		if err := session.Connect(); err != nil {
			r.stats.ConnectionFailed()
			session = nil
			runFailed = true
			msg := fmt.Sprintf("connection to %s failed: %v", r.opts.Host, err)
			log.Printf("[%s] %s", r.device.Acronym, msg)
			r.publishRun(models.StateFailed, msg, 0, len(r.tasks))
			r.recordFailure("", msg)
		} else {
			r.stats.ConnectionSucceeded()
			connStart := time.Now()
			defer func() {
				if err := session.Close(); err != nil {
					log.Printf("[%s] closing session: %v", r.device.Acronym, err)
				}
				r.stats.AddConnectedTime(time.Since(connStart))
			}()
		}
	}

	for _, pt := range r.tasks {
		if token.Canceled() {
			break
		}
		switch {
		case pt.settings.IsExternal():
			r.runExternalTask(pt.task, pt.settings)
			if pt.settings.DeleteOldLocalFiles {
				dir := pt.settings.LocalPath
				if dir == "" {
					dir = r.engine.settings.DefaultLocalPath
				}
				dir = NormalizeLocalPath(ExpandPath(dir, TemplateContext{
					Now: time.Now(), Device: r.device, Profile: r.profile,
					TaskID: pt.task.ID, DefaultLocalPath: r.engine.settings.DefaultLocalPath,
				}))
				r.purgeOldLocalFiles(dir, r.engine.settings.MaxLocalFileAge)
			}
		case session != nil:
			tr := r.newTaskRun(session, pt.task, pt.settings)
			tr.run()
			if pt.settings.DeleteOldLocalFiles && tr.destRoot != "" {
				r.purgeOldLocalFiles(tr.destRoot, r.engine.settings.MaxLocalFileAge)
			}
		default:
			// FTP task on a failed session; already reported.
			continue
		}

		completed, total := r.stats.TaskCompleted()
		r.publishRun(models.StateProcessing,
			fmt.Sprintf("Completed %d of %d tasks", completed, total), completed, total)
	}

	completed := len(r.tasks)
	switch {
	case token.Canceled():
		r.publishRun(models.StateFinished, "Run canceled", completed, len(r.tasks))
	case runFailed:
		r.publishRun(models.StateFinished, "Run finished with failures", completed, len(r.tasks))
	default:
		r.publishRun(models.StateSucceeded, "Run succeeded", completed, len(r.tasks))
		r.publishRun(models.StateFinished, "Run finished", completed, len(r.tasks))
	}

	if err := r.engine.db.UpdateDeviceLastRun(r.device.ID, time.Now()); err != nil {
		log.Printf("[%s] updating last run: %v", r.device.Acronym, err)
	}
	log.Printf("[%s] run complete, %d files downloaded", r.device.Acronym, r.stats.FilesDownloaded())
}

// authenticatePaths establishes credentials for UNC local paths, once per
// distinct path. Failure is a warning; the task may still fail later on
// write.
func (r *Runner) authenticatePaths() {
	seen := make(map[string]bool)
	for _, pt := range r.tasks {
		user := pt.settings.DirectoryAuthUserName
		if user == "" {
			continue
		}
		path := pt.settings.LocalPath
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		if err := r.engine.auth.Authenticate(path, user, pt.settings.DirectoryAuthPassword); err != nil {
			msg := fmt.Sprintf("authentication to %s as %s failed: %v", path, user, err)
			log.Printf("[%s] %s", r.device.Acronym, msg)
			r.publishRun(models.StateFailed, msg, 0, len(r.tasks))
		}
	}
}

// notifyFileUpdate queues an e-mail notification on its own goroutine so
// SMTP latency or failure never touches the transfer path.
func (r *Runner) notifyFileUpdate(settings models.TaskSettings, file string) {
	if r.engine.mailer == nil {
		return
	}
	recipients := models.SplitList(settings.EmailRecipients)
	if len(recipients) == 0 {
		return
	}
	device := r.device.Name
	mailer := r.engine.mailer
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[%s] mail notification panicked: %v", device, rec)
			}
		}()
		if err := mailer.NotifyFileUpdate(recipients, device, file); err != nil {
			log.Printf("[%s] mail notification for %s failed: %v", device, file, err)
		}
	}()
}

// Strategy returns a short human-readable execution strategy label.
func (r *Runner) Strategy() string {
	switch {
	case r.opts.UseDialUp:
		return "dialup"
	case r.privateThread:
		return "private"
	default:
		return "pooled"
	}
}
