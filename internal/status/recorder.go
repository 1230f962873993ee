// Package status writes terminal per-file outcomes to the persistence
// collaborator. Writes are serialized per process and isolated from the
// transfer path: a database failure becomes a warning, never an abort.
package status

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tbracken/gridpoll/internal/models"
	"github.com/tbracken/gridpoll/internal/storage"
)

// Warner surfaces a recorder problem without interrupting the transfer.
type Warner func(device, message string)

// Recorder maintains the one StatusLog row per device and appends
// DownloadedFile rows for in-scope downloads.
type Recorder struct {
	db         *storage.Database
	mu         sync.Mutex
	inclusions []string // lowered extensions, e.g. ".rcd"
	exclusions []string // lowered filename prefixes, e.g. "rms."
	warn       Warner
}

// NewRecorder builds a recorder from the configured inclusion and
// exclusion lists.
func NewRecorder(db *storage.Database, settings models.Settings, warn Warner) *Recorder {
	r := &Recorder{db: db, warn: warn}
	for _, ext := range models.SplitList(settings.StatusLogInclusions) {
		r.inclusions = append(r.inclusions, strings.ToLower(ext))
	}
	for _, prefix := range models.SplitList(settings.StatusLogExclusions) {
		r.exclusions = append(r.exclusions, strings.ToLower(prefix))
	}
	return r
}

// InScope reports whether a successful download of file updates the status
// log: its extension must be in the inclusion set and its name must not
// carry an excluded prefix.
func (r *Recorder) InScope(file string) bool {
	name := strings.ToLower(filepath.Base(file))
	ext := filepath.Ext(name)

	included := false
	for _, inc := range r.inclusions {
		if ext == inc {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, prefix := range r.exclusions {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

// RecordSuccess records a successful download. The status row is updated
// only for in-scope files; each in-scope download also appends a
// DownloadedFile row. FileSizeKB divides by 1028, matching the historical
// record format.
func (r *Recorder) RecordSuccess(deviceID int64, device, file string, length int64, remoteTime time.Time) {
	if !r.InScope(file) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if err := r.db.UpsertStatusSuccess(deviceID, file, now); err != nil {
		r.warnf(device, "status log update failed for %s: %v", file, err)
	}
	rec := &models.DownloadedFile{
		DeviceID:        deviceID,
		CreationTimeUTC: remoteTime.UTC(),
		File:            file,
		FileSizeKB:      length / 1028,
		Timestamp:       now,
	}
	if err := r.db.AppendDownloadedFile(rec); err != nil {
		r.warnf(device, "downloaded-file record failed for %s: %v", file, err)
	}
}

// RecordFailure updates the status row unconditionally with the error
// message.
func (r *Recorder) RecordFailure(deviceID int64, device, file, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.UpsertStatusFailure(deviceID, file, message, time.Now()); err != nil {
		r.warnf(device, "status log update failed for %s: %v", file, err)
	}
}

func (r *Recorder) warnf(device, format string, args ...interface{}) {
	if r.warn != nil {
		r.warn(device, fmt.Sprintf(format, args...))
	}
}
