// Package control exposes the pipeline over HTTP and WebSocket: an
// http.ServeMux behind logging/recovery/CORS middleware, plus a websocket
// hub broadcasting state transitions to connected clients. Handlers
// depend on narrow interfaces rather than the concrete pipeline types.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/session"
)

var (
	errNoRecorder = errors.New("control: no recorder attached")
	errNoPlayer   = errors.New("control: no player attached")
)

// Recorder is the subset of the MovieOutput/MovieCache pair control needs
// to start and stop a recording session.
type Recorder interface {
	StartRecording(durationSeconds float64) error
	StopRecording(ctx context.Context) error
	State() domain.WriterState
}

// Player is the subset of MoviePlayer control needs to drive transport
// and seeking from an HTTP request.
type Player interface {
	Play()
	Pause()
	SeekToTime(t domain.Timestamp, shouldPlayAfterSeeking bool, toleranceBefore, toleranceAfter domain.Timestamp) error
}

// Server wires the recording and player control surface over HTTP, plus a
// WebSocket feed of state transitions for dashboards.
type Server struct {
	recorder Recorder
	player   Player
	sessions *session.Manager
	logger   *slog.Logger
	handler  http.Handler
	hub      *wsHub
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithSessions(mgr *session.Manager) Option {
	return func(s *Server) { s.sessions = mgr }
}

// NewServer builds a control Server. recorder and player may be nil,
// disabling the routes that depend on them with 503s rather than a panic.
func NewServer(recorder Recorder, player Player, opts ...Option) *Server {
	s := &Server{recorder: recorder, player: player}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.hub = newWSHub(s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/recording/start", s.handleStart)
	mux.HandleFunc("/recording/stop", s.handleStop)
	mux.HandleFunc("/recording/records", s.handleRecords)
	mux.HandleFunc("/player/play", s.handlePlay)
	mux.HandleFunc("/player/pause", s.handlePause)
	mux.HandleFunc("/player/seek", s.handleSeek)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "movie-pipeline",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/metrics" }),
	)
	s.handler = recoveryMiddleware(s.logger, corsMiddleware(traced))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects every WebSocket client and stops the hub.
func (s *Server) Close() {
	s.hub.Close()
}

// BroadcastStateTransition pushes a named component's state change to
// connected clients; callers subscribe pipeline state-change callbacks
// into this. from may be nil when only the resulting state is known.
func (s *Server) BroadcastStateTransition(component string, from, to fmt.Stringer) {
	s.hub.broadcastTransition(component, from, to)
}

// BroadcastDrop pushes a frame-drop event to connected clients.
func (s *Server) BroadcastDrop(component string, reason domain.DropReason) {
	s.hub.broadcastDrop(component, reason)
}

type jsonError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, jsonError{Error: err.Error()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, errNoRecorder)
		return
	}
	var req struct {
		CacheSeconds float64 `json:"cacheSeconds"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := s.recorder.StartRecording(req.CacheSeconds); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.hub.broadcastTransition("recorder", nil, s.recorder.State())
	writeJSON(w, http.StatusAccepted, map[string]string{"state": s.recorder.State().String()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, errNoRecorder)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.recorder.StopRecording(ctx); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.hub.broadcastTransition("recorder", nil, s.recorder.State())
	writeJSON(w, http.StatusOK, map[string]string{"state": s.recorder.State().String()})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, []session.Record{})
		return
	}
	records, err := s.sessions.ListRecords(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, errNoPlayer)
		return
	}
	s.player.Play()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, errNoPlayer)
		return
	}
	s.player.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, errNoPlayer)
		return
	}
	var req struct {
		Seconds            float64 `json:"seconds"`
		PlayAfter          bool    `json:"playAfter"`
		ToleranceBeforeSec float64 `json:"toleranceBeforeSec"`
		ToleranceAfterSec  float64 `json:"toleranceAfterSec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.player.SeekToTime(
		domain.NewTimestamp(req.Seconds, 600),
		req.PlayAfter,
		domain.NewTimestamp(req.ToleranceBeforeSec, 600),
		domain.NewTimestamp(req.ToleranceAfterSec, 600),
	); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := newWSClient(s.hub, conn)
	if !s.hub.add(client) {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
