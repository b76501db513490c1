/*
 * MIT License
 *
 * Copyright (c) 2026 Nguyen Thanh Phuong
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package server exposes the live sampler state over HTTP as JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/phuonguno98/unorate/pkg/metrics"
	"github.com/phuonguno98/unorate/pkg/version"
)

// FrameProvider is the sampler state served by the API.
type FrameProvider interface {
	SessionID() string
	Latest() *metrics.Frame
	Entries() []metrics.Entry
}

// Server represents the HTTP view of a running sampler.
type Server struct {
	provider FrameProvider
	history  *History
	logger   *slog.Logger
	router   *mux.Router
	handler  http.Handler
	started  time.Time
}

// NewServer creates a new server. history may be nil, which disables the history routes.
func NewServer(provider FrameProvider, history *History, logger *slog.Logger) *Server {
	s := &Server{
		provider: provider,
		history:  history,
		logger:   logger,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}
	s.setupRoutes()
	// CORS wraps the router so preflight requests are answered before route matching.
	s.handler = corsMiddleware(s.router)
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/version", s.handleGetVersion).Methods("GET")
	s.router.HandleFunc("/api/frame", s.handleGetFrame).Methods("GET")
	s.router.HandleFunc("/api/frame/{section}", s.handleGetFrameSection).Methods("GET")
	s.router.HandleFunc("/api/keys", s.handleGetKeys).Methods("GET")
	if s.history != nil {
		s.router.HandleFunc("/api/history", s.handleGetHistory).Methods("GET")
		s.router.HandleFunc("/api/history/{series:.+}", s.handleGetSeries).Methods("GET")
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"session": s.provider.SessionID(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"series":  len(s.provider.Entries()),
	}
	if latest := s.provider.Latest(); latest != nil {
		status["last_frame"] = latest.Timestamp
	}
	s.writeJSON(w, status)
}

// handleGetVersion returns version information from the version package.
func (s *Server) handleGetVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, version.Map())
}

func (s *Server) latestFrame(w http.ResponseWriter) (*metrics.Frame, bool) {
	frame := s.provider.Latest()
	if frame == nil {
		s.writeError(w, "no frame collected yet", http.StatusNotFound)
		return nil, false
	}
	return frame, true
}

func (s *Server) handleGetFrame(w http.ResponseWriter, _ *http.Request) {
	if frame, ok := s.latestFrame(w); ok {
		s.writeJSON(w, frame)
	}
}

// handleGetFrameSection returns one part of the latest frame.
func (s *Server) handleGetFrameSection(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.latestFrame(w)
	if !ok {
		return
	}

	section := mux.Vars(r)["section"]
	var data any
	switch section {
	case "cpu":
		data = map[string]any{"cpu": frame.CPU, "iowait": frame.IOWait, "iowait_valid": frame.IOWaitValid}
	case "cores":
		data = frame.Cores
	case "disks":
		data = frame.Disks
	case "networks":
		data = frame.Networks
	case "processes":
		data = frame.Processes
	case "memory":
		data = frame.Memory
	case "load":
		data = frame.Load
	case "host":
		data = frame.Host
	default:
		s.writeError(w, fmt.Sprintf("unknown section: %s", section), http.StatusNotFound)
		return
	}
	s.writeJSON(w, data)
}

// handleGetKeys lists tracked series, optionally filtered by ?kind=.
func (s *Server) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	entries := s.provider.Entries()

	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := make([]metrics.Entry, 0, len(entries))
		for _, e := range entries {
			if string(e.Key.Kind) == kind {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	s.writeJSON(w, entries)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.history.Info())
}

// handleGetSeries returns one recorded series.
// Supports optional 'from' and 'to' query parameters for time range filtering.
func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["series"]

	var timeFrom, timeTo *time.Time
	for param, dst := range map[string]**time.Time{"from": &timeFrom, "to": &timeTo} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		t, err := parseTimestamp(raw)
		if err != nil {
			s.writeError(w, fmt.Sprintf("invalid '%s': %v", param, err), http.StatusBadRequest)
			return
		}
		*dst = &t
	}

	points, err := s.history.Series(name, timeFrom, timeTo)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	s.writeJSON(w, points)
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	}); err != nil {
		s.logger.Error("Failed to write error response", "error", err)
	}
}
