package api

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tbracken/gridpoll/internal/config"
	"github.com/tbracken/gridpoll/internal/engine"
	"github.com/tbracken/gridpoll/internal/progress"
	"github.com/tbracken/gridpoll/internal/stats"
	"github.com/tbracken/gridpoll/internal/storage"
)

// Server represents the HTTP API server
type Server struct {
	config   *config.Manager
	db       *storage.Database
	engine   *engine.Engine
	bus      *progress.Bus
	stats    *stats.Registry
	metrics  http.Handler
	upgrader websocket.Upgrader

	wsMu      sync.Mutex
	wsClients map[string]*websocket.Conn
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents error information
type ErrorInfo struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// NewServer creates a new API server
func NewServer(cfg *config.Manager, db *storage.Database, eng *engine.Engine,
	bus *progress.Bus, statsReg *stats.Registry) *Server {

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(stats.NewCollector(statsReg))

	return &Server{
		config:  cfg,
		db:      db,
		engine:  eng,
		bus:     bus,
		stats:   statsReg,
		metrics: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
		wsClients: make(map[string]*websocket.Conn),
	}
}

// Router returns the HTTP router
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})

	api := r.PathPrefix("/api/v1").Subrouter()

	// Devices
	api.HandleFunc("/devices", s.listDevices).Methods("GET")
	api.HandleFunc("/devices/{acronym}", s.getDevice).Methods("GET")
	api.HandleFunc("/devices/{acronym}/run", s.runDevice).Methods("POST")
	api.HandleFunc("/devices/{acronym}/downloads", s.listDownloads).Methods("GET")

	// Fleet control
	api.HandleFunc("/cancel", s.cancelAll).Methods("POST")

	// System
	api.HandleFunc("/system/health", s.healthCheck).Methods("GET")
	api.HandleFunc("/system/stats", s.systemStats).Methods("GET")

	// WebSocket
	api.HandleFunc("/ws/progress", s.handleWebSocket)

	// Prometheus metrics
	r.Handle("/metrics", s.metrics).Methods("GET")

	return r
}

// handleWebSocket upgrades a progress subscriber. Each connection gets a
// client id (supplied via ?client= or generated) that publishers can use
// for unicast delivery.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	s.wsMu.Lock()
	s.wsClients[clientID] = conn
	s.wsMu.Unlock()

	s.bus.Subscribe(clientID, func(ev progress.Event) {
		s.wsMu.Lock()
		c := s.wsClients[clientID]
		s.wsMu.Unlock()
		if c == nil {
			return
		}
		if err := c.WriteJSON(ev); err != nil {
			// Client disconnected, will be cleaned up by the read loop.
			return
		}
	})

	defer func() {
		s.bus.Unsubscribe(clientID)
		s.wsMu.Lock()
		delete(s.wsClients, clientID)
		s.wsMu.Unlock()
		if err := conn.Close(); err != nil {
			log.Printf("Error closing WebSocket connection: %v", err)
		}
	}()

	// Keep connection alive and handle client messages if needed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Helper functions
func (s *Server) success(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Response{Success: true, Data: data}); err != nil {
		log.Printf("Error encoding success response: %v", err)
	}
}

func (s *Server) error(w http.ResponseWriter, code string, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}); err != nil {
		log.Printf("Error encoding error response: %v", err)
	}
}

// Health check
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.success(w, map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0-dev",
	})
}

// System stats
func (s *Server) systemStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	snapshot := s.stats.Snapshot()

	enabled := 0
	for _, snap := range snapshot {
		if snap.Enabled == 1 {
			enabled++
		}
	}

	s.success(w, map[string]interface{}{
		"devices": map[string]interface{}{
			"total":    len(snapshot),
			"enabled":  enabled,
			"disabled": len(snapshot) - enabled,
		},
		"statistics": snapshot,
		"system": map[string]interface{}{
			"memory_used":  m.Alloc,
			"memory_total": m.Sys,
			"goroutines":   runtime.NumGoroutine(),
		},
	})
}
