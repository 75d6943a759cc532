// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package api exposes the control surface of the relay: REST endpoints
// for the pipeline lifecycle plus websocket and SSE notification feeds.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgevision/obstacle-relay/internal/hub"
	"github.com/edgevision/obstacle-relay/internal/pipeline"
	"github.com/edgevision/obstacle-relay/pkg/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server hosts the HTTP API. baseCtx outlives individual requests so
// that a pipeline started over HTTP keeps running after the start
// request completes.
type Server struct {
	coordinator *pipeline.Coordinator
	hub         *hub.Hub
	logger      *slog.Logger
	baseCtx     context.Context
	httpServer  *http.Server
}

func NewServer(port int, coordinator *pipeline.Coordinator, h *hub.Hub, baseCtx context.Context, logger *slog.Logger) *Server {
	s := &Server{
		coordinator: coordinator,
		hub:         h,
		logger:      logger,
		baseCtx:     baseCtx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/start", s.handleStart)
	mux.HandleFunc("POST /api/v1/stop", s.handleStop)
	mux.HandleFunc("POST /api/v1/capture", s.handleCapture)
	mux.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/v1/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start serves until ctx is cancelled, then drains with a 5s grace
// period. It blocks.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", "error", err)
		}
	}()

	s.logger.Info("api server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "obstacle-relay",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_active":      s.coordinator.Active(),
		"current_image":      s.coordinator.CurrentImage(),
		"last_notification":  s.hub.LastNotification(),
		"active_connections": s.hub.ActiveCount(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// The loop must not die with this request, so it inherits the
	// server's base context rather than r.Context().
	if !s.coordinator.Start(s.baseCtx) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Detection already running",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Obstacle detection started successfully",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.coordinator.Stop()
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Obstacle detection stopped successfully",
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	path, err := s.coordinator.Capture(r.Context())
	if err != nil {
		s.logger.Error("manual capture failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to capture image")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"image_path": path,
		"message":    "Image captured successfully",
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	result, imagePath, err := s.coordinator.AnalyzeCurrent(r.Context())
	if err != nil {
		if errors.Is(err, core.ErrNoFrame) {
			writeError(w, http.StatusNotFound, "No image available for analysis")
			return
		}
		s.logger.Error("manual analysis failed", "image", imagePath, "error", err)
		writeError(w, http.StatusInternalServerError, "Analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"analysis":   result,
		"image_path": imagePath,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response; the observer was
		// never attached so there is nothing to clean up.
		s.logger.Error("websocket upgrade failed",
			"client", core.GenerateObserverID(r),
			"error", fmt.Errorf("%w: %v", core.ErrHandshakeFailed, err))
		return
	}

	obs := hub.NewWSObserver(core.GenerateObserverID(r), conn)
	s.hub.Attach(obs)
	s.logger.Info("websocket client connected", "observer", obs.ID())

	defer func() {
		s.hub.Detach(obs)
		s.logger.Info("websocket client disconnected", "observer", obs.ID())
	}()

	// Inbound frames are ignored; the read loop only notices closure.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	obs := hub.NewSSEObserver(core.GenerateObserverID(r), w, flusher)
	s.hub.Attach(obs)
	s.logger.Info("sse client connected", "observer", obs.ID())

	select {
	case <-r.Context().Done():
	case <-obs.Done():
	}
	s.hub.Detach(obs)
	s.logger.Info("sse client disconnected", "observer", obs.ID())
}
