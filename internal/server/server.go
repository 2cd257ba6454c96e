// Package server exposes the HTTP surface: change-event push endpoints, the
// backfill trigger, health probes and metrics.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tripcart/rankingsync/internal/change"
	"github.com/tripcart/rankingsync/internal/metrics"
	"github.com/tripcart/rankingsync/internal/ranking"
)

const maxBodyBytes = 1 << 20

// Dispatcher handles one decoded notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n change.Notification) error
}

// Backfiller runs the full reconciliation.
type Backfiller interface {
	Run(ctx context.Context) (ranking.Summary, error)
}

type Server struct {
	dispatcher Dispatcher
	backfiller Backfiller
	logger     *zap.Logger
}

func New(dispatcher Dispatcher, backfiller Backfiller, logger *zap.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		backfiller: backfiller,
		logger:     logger.Named("server"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/live", s.handleLive)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/events", s.handleEvent)
	mux.HandleFunc("/process", s.handlePush)
	mux.HandleFunc("/backfill", s.handleBackfill)
	return mux
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown failed", zap.Error(err))
		}
	}()

	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UTC().Unix(),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("alive"))
}

// handleEvent accepts binary-mode CloudEvents pushed by Eventarc. The body is
// the document event in JSON or protobuf per Content-Type; ce-subject names
// the document.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Error("failed to read event body", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n, err := change.ParsePayload(body, r.Header.Get("Content-Type"), r.Header.Get("ce-subject"))
	if err != nil {
		s.discard(w, r.Header.Get("ce-id"), err)
		return
	}
	s.dispatch(r.Context(), w, r.Header.Get("ce-id"), n)
}

type pushEnvelope struct {
	Message struct {
		Data       string            `json:"data"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// handlePush accepts Pub/Sub push deliveries.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var env pushEnvelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&env); err != nil {
		s.discard(w, "", fmt.Errorf("%w: %v", change.ErrMalformed, err))
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		s.discard(w, env.Message.ID, fmt.Errorf("%w: base64: %v", change.ErrMalformed, err))
		return
	}
	attrs := env.Message.Attributes
	n, err := change.ParsePayload(decoded, attrs[change.ContentTypeAttribute], attrs[change.DocumentAttribute])
	if err != nil {
		s.discard(w, env.Message.ID, err)
		return
	}
	s.dispatch(r.Context(), w, env.Message.ID, n)
}

// discard acknowledges a payload that can never be processed, so the
// delivery service does not retry it forever.
func (s *Server) discard(w http.ResponseWriter, id string, err error) {
	s.logger.Error("discarding malformed delivery", zap.String("id", id), zap.Error(err))
	writeJSON(w, http.StatusOK, map[string]any{"status": "discarded", "error": err.Error()})
}

func (s *Server) dispatch(ctx context.Context, w http.ResponseWriter, id string, n change.Notification) {
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.logger.Warn("dispatch failed, requesting redelivery",
			zap.String("id", id),
			zap.String("document", n.Document),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type backfillResponse struct {
	Success bool `json:"success"`
	ranking.Summary
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.backfiller.Run(r.Context())
	if err != nil {
		s.logger.Error("backfill failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, backfillResponse{Success: true, Summary: summary})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
