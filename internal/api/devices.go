package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// listDevices returns every device with its runtime statistics.
func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.db.ListDevices()
	if err != nil {
		s.error(w, "DB_ERROR", "Failed to list devices", http.StatusInternalServerError)
		return
	}

	snapshot := s.stats.Snapshot()
	type deviceView struct {
		Device     interface{} `json:"device"`
		Statistics interface{} `json:"statistics,omitempty"`
		Strategy   string      `json:"strategy,omitempty"`
	}

	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		view := deviceView{Device: dev}
		if snap, ok := snapshot[dev.Acronym]; ok {
			view.Statistics = snap
		}
		if runner := s.engine.Runner(dev.Acronym); runner != nil {
			view.Strategy = runner.Strategy()
		}
		views = append(views, view)
	}
	s.success(w, views)
}

// getDevice returns one device with its status log row.
func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	acronym := mux.Vars(r)["acronym"]

	dev, err := s.db.GetDevice(acronym)
	if err != nil {
		s.error(w, "NOT_FOUND", "Device not found", http.StatusNotFound)
		return
	}
	statusLog, err := s.db.GetStatusLog(dev.ID)
	if err != nil {
		s.error(w, "DB_ERROR", "Failed to load status log", http.StatusInternalServerError)
		return
	}

	out := map[string]interface{}{
		"device":     dev,
		"status_log": statusLog,
	}
	if snap := s.stats.Get(acronym); snap != nil {
		out["statistics"] = snap.Snapshot()
	}
	s.success(w, out)
}

// runDevice requests an immediate run. Repeated requests while a run is
// queued or executing coalesce into at most one pending re-run.
func (s *Server) runDevice(w http.ResponseWriter, r *http.Request) {
	acronym := mux.Vars(r)["acronym"]

	if err := s.engine.TriggerNow(acronym); err != nil {
		s.error(w, "NOT_FOUND", err.Error(), http.StatusNotFound)
		return
	}
	s.success(w, map[string]string{"status": "queued"})
}

// listDownloads returns the most recent downloaded-file records.
func (s *Server) listDownloads(w http.ResponseWriter, r *http.Request) {
	acronym := mux.Vars(r)["acronym"]

	dev, err := s.db.GetDevice(acronym)
	if err != nil {
		s.error(w, "NOT_FOUND", "Device not found", http.StatusNotFound)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	files, err := s.db.ListDownloadedFiles(dev.ID, limit)
	if err != nil {
		s.error(w, "DB_ERROR", "Failed to list downloads", http.StatusInternalServerError)
		return
	}
	s.success(w, files)
}

// cancelAll fires the process-wide cancellation token. Runs terminate at
// their next checked suspension point.
func (s *Server) cancelAll(w http.ResponseWriter, r *http.Request) {
	s.engine.CancelAll()
	s.success(w, map[string]string{"status": "canceling"})
}
