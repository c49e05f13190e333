// Package events exposes the daemon's inbound surface: browser lifecycle
// events and user signals forwarded by the extension over local HTTP.
package events

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/blocklist"
	"github.com/goodtune/tabtime/internal/syncer"
	"github.com/goodtune/tabtime/internal/usage"
)

// Server handles extension events and signals.
type Server struct {
	server   *http.Server
	tabs     *TabRegistry
	tracker  *usage.Tracker
	store    *usage.Store
	cache    *blocklist.Cache
	engine   *syncer.Engine
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates the events server.
func NewServer(addr string, tabs *TabRegistry, tracker *usage.Tracker, store *usage.Store, cache *blocklist.Cache, engine *syncer.Engine, logger zerolog.Logger) *Server {
	s := &Server{
		tabs:    tabs,
		tracker: tracker,
		store:   store,
		cache:   cache,
		engine:  engine,
		logger:  logger.With().Str("component", "events").Logger(),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/events/tab-activated", s.handleTabActivated).Methods(http.MethodPost)
	api.HandleFunc("/events/tab-updated", s.handleTabUpdated).Methods(http.MethodPost)
	api.HandleFunc("/events/tab-removed", s.handleTabRemoved).Methods(http.MethodPost)
	api.HandleFunc("/events/window-focus", s.handleWindowFocus).Methods(http.MethodPost)
	api.HandleFunc("/events/suspend", s.handleSuspend).Methods(http.MethodPost)

	api.HandleFunc("/signals/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/signals/logout", s.handleLogout).Methods(http.MethodPost)

	api.HandleFunc("/sites", s.handleGetSites).Methods(http.MethodGet)
	api.HandleFunc("/blocklist", s.handleGetBlocklist).Methods(http.MethodGet)
	api.HandleFunc("/blocklist/refresh", s.handleRefreshBlocklist).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the events server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting events server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Events server error")
		}
	}()
	return nil
}

// Stop stops the events server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping events server")
	return s.server.Close()
}

type tabEvent struct {
	TabID  int    `json:"tabId"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

type focusEvent struct {
	Focused bool `json:"focused"`
	TabID   int  `json:"tabId"`
}

func (s *Server) handleTabActivated(w http.ResponseWriter, r *http.Request) {
	var event tabEvent
	if !decodeBody(w, r, &event) {
		return
	}

	if event.URL != "" {
		s.tabs.Update(event.TabID, event.URL)
	}
	s.tracker.OnTabActivated(event.TabID)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTabUpdated(w http.ResponseWriter, r *http.Request) {
	var event tabEvent
	if !decodeBody(w, r, &event) {
		return
	}

	// The registry tracks every tab; only the active tab restarts the
	// session. Registry update comes second so the flush still sees the
	// URL the elapsed time was spent on.
	if event.Active {
		s.tracker.OnActiveTabUpdated(event.TabID, event.URL)
	}
	s.tabs.Update(event.TabID, event.URL)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTabRemoved(w http.ResponseWriter, r *http.Request) {
	var event tabEvent
	if !decodeBody(w, r, &event) {
		return
	}

	s.tabs.Remove(event.TabID)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleWindowFocus(w http.ResponseWriter, r *http.Request) {
	var event focusEvent
	if !decodeBody(w, r, &event) {
		return
	}

	if event.Focused {
		s.tracker.OnWindowFocusGained(event.TabID)
	} else {
		s.tracker.OnWindowFocusLost()
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.tracker.OnSuspend()
	if err := s.store.Persist(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Final persist on suspend failed")
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.logger.Info().Msg("Login signal received, starting sync")

	result := s.engine.OnLogin(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     result.Failed == 0,
		"result": result,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.engine.OnLogout(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetSites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sites":       s.store.Snapshot(),
		"lastUpdated": s.store.LastUpdated(),
	})
}

func (s *Server) handleGetBlocklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"blockedSites": s.cache.Snapshot(),
	})
}

func (s *Server) handleRefreshBlocklist(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Refresh(r.Context()); err != nil {
		// The cache itself refreshed; only rule enforcement failed.
		s.logger.Error().Err(err).Msg("Blocking rules not fully applied after refresh")
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":           false,
			"blockedSites": s.cache.Snapshot(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"blockedSites": s.cache.Snapshot(),
	})
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the error payload shape.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
