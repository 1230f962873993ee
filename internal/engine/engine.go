// Package engine coordinates the device fleet: it owns the schedule
// clock, the cooperative thread pool, the resource-serialized thread
// registry and the per-device runners, and drives the transfer state
// machine for each run.
package engine

import (
	"fmt"
	"log"
	"sync"

	"github.com/tbracken/gridpoll/internal/cancel"
	"github.com/tbracken/gridpoll/internal/coop"
	"github.com/tbracken/gridpoll/internal/models"
	"github.com/tbracken/gridpoll/internal/progress"
	"github.com/tbracken/gridpoll/internal/remote"
	"github.com/tbracken/gridpoll/internal/schedule"
	"github.com/tbracken/gridpoll/internal/stats"
	"github.com/tbracken/gridpoll/internal/status"
	"github.com/tbracken/gridpoll/internal/storage"
)

// Mailer sends file-update notifications. Failures are warnings and never
// affect a run.
type Mailer interface {
	NotifyFileUpdate(recipients []string, device, file string) error
}

// PathAuthenticator establishes credentials for UNC local paths. The
// default implementation is a no-op; shares are expected to be mounted by
// the host.
type PathAuthenticator interface {
	Authenticate(path, username, password string) error
}

type noopAuthenticator struct{}

func (noopAuthenticator) Authenticate(path, username, password string) error { return nil }

// Engine is the process-wide coordinator.
type Engine struct {
	settings  models.Settings
	db        *storage.Database
	bus       *progress.Bus
	recorder  *status.Recorder
	statsReg  *stats.Registry
	pool      *coop.Scheduler
	resources *coop.Registry
	clock     *schedule.Clock
	token     *cancel.Token

	sessions remote.Factory
	dialer   remote.Dialer
	mailer   Mailer
	auth     PathAuthenticator

	mu       sync.RWMutex
	runners  map[string]*Runner
	observed map[*coop.Thread]bool
}

// Option adjusts an Engine at construction time.
type Option func(*Engine)

// WithSessionFactory replaces the FTP session factory.
func WithSessionFactory(f remote.Factory) Option {
	return func(e *Engine) { e.sessions = f }
}

// WithDialer replaces the dial-up collaborator.
func WithDialer(d remote.Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// WithMailer sets the SMTP collaborator.
func WithMailer(m Mailer) Option {
	return func(e *Engine) { e.mailer = m }
}

// WithAuthenticator replaces the UNC path authenticator.
func WithAuthenticator(a PathAuthenticator) Option {
	return func(e *Engine) { e.auth = a }
}

// New builds an engine. The thread pool is capped at the configured
// FTPThreadCount; zero disables pooling and gives each device a private
// worker.
func New(settings models.Settings, db *storage.Database, bus *progress.Bus,
	recorder *status.Recorder, statsReg *stats.Registry, opts ...Option) *Engine {

	e := &Engine{
		settings:  settings,
		db:        db,
		bus:       bus,
		recorder:  recorder,
		statsReg:  statsReg,
		pool:      coop.NewScheduler(settings.FTPThreadCount),
		resources: coop.NewRegistry(),
		clock:     schedule.NewClock(),
		token:     cancel.New(),
		sessions:  remote.NewFTPSession,
		dialer:    remote.NoModemDialer{},
		auth:      noopAuthenticator{},
		runners:   make(map[string]*Runner),
		observed:  make(map[*coop.Thread]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock.OnDue(e.onScheduleDue)
	return e
}

// Clock exposes the schedule clock, primarily for lifecycle wiring.
func (e *Engine) Clock() *schedule.Clock { return e.clock }

// Token exposes the process-wide cancellation token.
func (e *Engine) Token() *cancel.Token { return e.token }

// Start begins schedule-driven operation.
func (e *Engine) Start() {
	e.clock.Start()
}

// Register creates the runner for a device and binds it to its execution
// strategy: the thread pinned to its dial-up entry, a pooled thread, or a
// private worker when pooling is disabled. A bad connection string or
// task settings string is fatal to runner initialization.
func (e *Engine) Register(dev models.Device) error {
	opts, err := models.ParseConnectionString(dev.ConnectionString)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev.Acronym, err)
	}
	profile, err := e.db.GetProfile(dev.ProfileID)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev.Acronym, err)
	}
	rawTasks, err := e.db.ListProfileTasks(dev.ProfileID)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev.Acronym, err)
	}
	tasks := make([]plannedTask, 0, len(rawTasks))
	for _, t := range rawTasks {
		settings, err := models.ParseTaskSettings(t.Settings)
		if err != nil {
			return fmt.Errorf("device %s task %s: %w", dev.Acronym, t.Name, err)
		}
		tasks = append(tasks, plannedTask{task: t, settings: settings})
	}

	ds := stats.NewDeviceStats(dev.Enabled, e.settings.MaxDownloadThreshold,
		e.settings.MaxDownloadThresholdTimeWindow)
	r := &Runner{
		engine:  e,
		device:  dev,
		profile: *profile,
		opts:    opts,
		tasks:   tasks,
		stats:   ds,
	}

	switch {
	case opts.UseDialUp:
		r.thread = e.resources.GetOrAdd(opts.DialUpEntryName)
	case e.pool.MaxThreadCount() > 0:
		r.thread = e.pool.CreateThread()
	default:
		r.thread = coop.NewThread("device-"+dev.Acronym, 0)
		r.privateThread = true
	}
	r.runOnce = coop.NewRunOnce(r.thread, r.execute)

	e.mu.Lock()
	if !e.observed[r.thread] {
		e.observed[r.thread] = true
		name := r.thread.Name()
		r.thread.OnUnhandled(func(err error) {
			log.Printf("unhandled exception on thread %s: %v", name, err)
		})
	}
	e.runners[dev.Acronym] = r
	e.statsReg.Add(dev.Acronym, ds)
	e.mu.Unlock()

	if dev.Enabled && dev.Schedule != "" {
		if err := e.clock.Add(dev.Acronym, dev.Schedule); err != nil {
			e.Deregister(dev.Acronym)
			return fmt.Errorf("device %s: %w", dev.Acronym, err)
		}
	}
	log.Printf("Registered device %s on thread %s", dev.Acronym, r.thread.Name())
	return nil
}

// Deregister removes a device's runner, its schedule and its statistics.
func (e *Engine) Deregister(acronym string) {
	e.clock.Remove(acronym)

	e.mu.Lock()
	r, ok := e.runners[acronym]
	if ok {
		delete(e.runners, acronym)
	}
	e.mu.Unlock()
	e.statsReg.Remove(acronym)

	if ok && r.privateThread {
		r.thread.Close()
	}
}

// Runner returns the runner for a device acronym, or nil.
func (e *Engine) Runner(acronym string) *Runner {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runners[acronym]
}

// Acronyms lists the registered devices.
func (e *Engine) Acronyms() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.runners))
	for acronym := range e.runners {
		out = append(out, acronym)
	}
	return out
}

// onScheduleDue routes a clock fire to the device's coalesced run request.
func (e *Engine) onScheduleDue(name string) {
	r := e.Runner(name)
	if r == nil {
		return
	}
	r.runOnce.SetPriority(coop.Normal)
	r.runOnce.RunOnceAsync()
}

// TriggerNow requests an immediate run for a device. A dial-up device's
// run is queued at high priority so it jumps ahead of background runs on
// the shared modem thread.
func (e *Engine) TriggerNow(acronym string) error {
	r := e.Runner(acronym)
	if r == nil {
		return fmt.Errorf("device not registered: %s", acronym)
	}
	// Manual triggers count a connection attempt up front, before
	// dispatching on connection mode; the run counts another attempt when
	// it opens its FTP session, so a manual run with FTP tasks (dial-up or
	// not) records two attempts.
	r.stats.ConnectionAttempted()

	// Queue the profile's tasks so the request survives a restart; the
	// run marks them processed when it picks them up.
	for _, pt := range r.tasks {
		if err := e.db.EnqueueTask(r.device.ID, pt.task.ID); err != nil {
			log.Printf("[%s] queueing task %s: %v", acronym, pt.task.Name, err)
			break
		}
	}

	pri := coop.Normal
	if r.opts.UseDialUp {
		pri = coop.High
	}
	r.runOnce.SetPriority(pri)
	r.runOnce.RunOnceAsync()
	return nil
}

// CancelAll fires the process-wide cancellation token. Runs terminate at
// their next checked suspension point.
func (e *Engine) CancelAll() {
	e.token.Cancel()
}

// Shutdown stops the clock, cancels outstanding runs and tears down every
// thread.
func (e *Engine) Shutdown() {
	e.clock.Stop()
	e.token.Cancel()

	e.mu.Lock()
	runners := e.runners
	e.runners = make(map[string]*Runner)
	e.mu.Unlock()

	for _, r := range runners {
		if r.privateThread {
			r.thread.Close()
		}
	}
	e.pool.Close()
	e.resources.Close()
}
