// Package stats tracks per-device runtime counters for the lifetime of
// the process. Counters are monotonically non-decreasing except
// FilesDownloaded, which resets at the start of every run. Readers see
// relaxed consistency: a snapshot may lag the run in progress.
package stats

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tbracken/gridpoll/internal/models"
)

// DeviceStats is the runtime state of one device runner.
type DeviceStats struct {
	mu sync.Mutex

	enabled bool

	attemptedConnections  int64
	successfulConnections int64
	failedConnections     int64
	attemptedDialUps      int64
	successfulDialUps     int64
	failedDialUps         int64

	totalProcessedFiles  int64
	filesDownloaded      int64 // this run
	totalFilesDownloaded int64
	bytesDownloaded      int64

	totalConnected time.Duration
	totalDialUp    time.Duration

	overallTasksCount     int
	overallTasksCompleted int

	sessionStart time.Time
	dialStart    time.Time

	// limiter caps downloaded bytes per threshold window; nil disables
	// the guard.
	limiter *rate.Limiter
}

// NewDeviceStats creates counters for one device. A positive thresholdMB
// with a positive window arms the download-threshold guard.
func NewDeviceStats(enabled bool, thresholdMB float64, windowHours int) *DeviceStats {
	s := &DeviceStats{enabled: enabled}
	if thresholdMB > 0 && windowHours > 0 {
		bytesPerWindow := thresholdMB * 1e6
		perSecond := bytesPerWindow / float64(windowHours*3600)
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), int(bytesPerWindow))
	}
	return s
}

// SetEnabled flags the device's enabled state for reporting.
func (s *DeviceStats) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// BeginRun resets the per-run counter and stamps the session start.
func (s *DeviceStats) BeginRun(tasks int) {
	s.mu.Lock()
	s.filesDownloaded = 0
	s.sessionStart = time.Now()
	s.overallTasksCount = tasks
	s.overallTasksCompleted = 0
	s.mu.Unlock()
}

// ConnectionAttempted increments the attempt counter.
func (s *DeviceStats) ConnectionAttempted() {
	s.mu.Lock()
	s.attemptedConnections++
	s.mu.Unlock()
}

// ConnectionSucceeded increments the success counter.
func (s *DeviceStats) ConnectionSucceeded() {
	s.mu.Lock()
	s.successfulConnections++
	s.mu.Unlock()
}

// ConnectionFailed increments the failure counter.
func (s *DeviceStats) ConnectionFailed() {
	s.mu.Lock()
	s.failedConnections++
	s.mu.Unlock()
}

// DialUpAttempted increments the dial attempt counter.
func (s *DeviceStats) DialUpAttempted() {
	s.mu.Lock()
	s.attemptedDialUps++
	s.mu.Unlock()
}

// DialUpSucceeded increments the dial success counter and stamps the dial
// start.
func (s *DeviceStats) DialUpSucceeded() {
	s.mu.Lock()
	s.successfulDialUps++
	s.dialStart = time.Now()
	s.mu.Unlock()
}

// DialUpFailed increments the dial failure counter.
func (s *DeviceStats) DialUpFailed() {
	s.mu.Lock()
	s.failedDialUps++
	s.mu.Unlock()
}

// FileProcessed counts a file that entered the transfer stage.
func (s *DeviceStats) FileProcessed() {
	s.mu.Lock()
	s.totalProcessedFiles++
	s.mu.Unlock()
}

// FileDownloaded counts a completed get.
func (s *DeviceStats) FileDownloaded(bytes int64) {
	s.mu.Lock()
	s.filesDownloaded++
	s.totalFilesDownloaded++
	s.bytesDownloaded += bytes
	s.mu.Unlock()
}

// FilesDownloaded returns the current run's download count.
func (s *DeviceStats) FilesDownloaded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filesDownloaded
}

// AddConnectedTime accumulates session-connected time.
func (s *DeviceStats) AddConnectedTime(d time.Duration) {
	s.mu.Lock()
	s.totalConnected += d
	s.mu.Unlock()
}

// AddDialUpTime accumulates dialed-up time.
func (s *DeviceStats) AddDialUpTime(d time.Duration) {
	s.mu.Lock()
	s.totalDialUp += d
	s.mu.Unlock()
}

// TaskCompleted advances the overall-progress anchor.
func (s *DeviceStats) TaskCompleted() (completed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overallTasksCompleted++
	return s.overallTasksCompleted, s.overallTasksCount
}

// AllowDownload reports whether the download-threshold guard permits a
// file of the given size. Disarmed guards always allow.
func (s *DeviceStats) AllowDownload(size int64) bool {
	if s.limiter == nil {
		return true
	}
	if size <= 0 {
		return true
	}
	burst := s.limiter.Burst()
	if size > int64(burst) {
		// Larger than the whole window's budget; let it through rather
		// than starve the file forever.
		return true
	}
	return s.limiter.AllowN(time.Now(), int(size))
}

// Snapshot returns the exposed statistics.
func (s *DeviceStats) Snapshot() models.DeviceStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := 0
	if s.enabled {
		enabled = 1
	}
	return models.DeviceStatistics{
		AttemptedConnections:  s.attemptedConnections,
		SuccessfulConnections: s.successfulConnections,
		FailedConnections:     s.failedConnections,
		AttemptedDialUps:      s.attemptedDialUps,
		SuccessfulDialUps:     s.successfulDialUps,
		FailedDialUps:         s.failedDialUps,
		FilesDownloaded:       s.filesDownloaded,
		TotalFilesDownloaded:  s.totalFilesDownloaded,
		TotalProcessedFiles:   s.totalProcessedFiles,
		MegaBytesDownloaded:   float64(s.bytesDownloaded) / 1e6,
		TotalConnectedTime:    int64(s.totalConnected.Seconds()),
		TotalDialUpTime:       int64(s.totalDialUp.Seconds()),
		Enabled:               enabled,
	}
}

// Registry holds the per-device stats for the fleet.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*DeviceStats
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*DeviceStats)}
}

// Add registers a device's stats under its acronym, replacing any prior
// entry.
func (r *Registry) Add(acronym string, s *DeviceStats) {
	r.mu.Lock()
	r.devices[acronym] = s
	r.mu.Unlock()
}

// Remove drops a device's stats.
func (r *Registry) Remove(acronym string) {
	r.mu.Lock()
	delete(r.devices, acronym)
	r.mu.Unlock()
}

// Get returns the stats for a device, or nil.
func (r *Registry) Get(acronym string) *DeviceStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[acronym]
}

// Snapshot returns statistics for every registered device.
func (r *Registry) Snapshot() map[string]models.DeviceStatistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.DeviceStatistics, len(r.devices))
	for acronym, s := range r.devices {
		out[acronym] = s.Snapshot()
	}
	return out
}
