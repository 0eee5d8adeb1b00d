// Package server provides the HTTP surface of the card maker: health,
// settings, the live preview stream and socket, capture and card rendering.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matsumoto-fabrica/cardmaker/internal/app"
	"github.com/matsumoto-fabrica/cardmaker/internal/server/api"
	"github.com/matsumoto-fabrica/cardmaker/internal/store"
)

// Pipeline is everything the server needs from the application.
type Pipeline interface {
	api.Pipeline
	Snapshot() *app.Update
	OnPreviewUpdated(fn func(app.Update)) func()
	FPS() int
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Pipeline  Pipeline
	Logger    logrus.FieldLogger
}

// Server represents the HTTP server for the card maker.
type Server struct {
	config Config
	log    logrus.FieldLogger
	mux    *http.ServeMux
	start  time.Time
	socket *PreviewSocket
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	s := &Server{
		config: config,
		log:    config.Logger.WithField("component", "server"),
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.Handle("/api/templates", api.NewTemplatesHandler())

	if p := s.config.Pipeline; p != nil {
		s.mux.Handle("/api/settings", api.NewSettingsHandler(p))
		s.mux.Handle("/api/capture", api.NewCaptureHandler(p))
		s.mux.Handle("/api/card", api.NewCardHandler(p))
		s.mux.Handle("/api/preview/stream", NewStreamHandler(p))

		s.socket = NewPreviewSocket(p, s.log)
		s.mux.Handle("/api/preview/ws", s.socket)
	}

	if s.config.Store != nil {
		s.mux.Handle("/api/captures", api.NewJournalHandler(s.config.Store))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}
	if s.config.Pipeline != nil {
		response["fps"] = s.config.Pipeline.FPS()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Close disconnects preview socket clients.
func (s *Server) Close() {
	if s.socket != nil {
		s.socket.Close()
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
