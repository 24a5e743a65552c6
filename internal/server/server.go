// Package server exposes hearthd over HTTP: a blocking chat endpoint, a
// WebSocket stream, health, and a separate metrics listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/gateway"
	"github.com/hearthd/hearth/internal/storage"
	"github.com/hearthd/hearth/pkg/models"
)

const historyWindow = 20

// Server is the hearthd HTTP front door.
type Server struct {
	cfg      config.ServerConfig
	agentCfg config.AgentConfig

	gateway  *gateway.Gateway
	registry *gateway.Registry
	history  storage.HistoryStore

	defaultHousehold string

	logger *slog.Logger

	httpSrv    *http.Server
	metricsSrv *http.Server
}

// New builds the server.
func New(cfg config.ServerConfig, agentCfg config.AgentConfig, gw *gateway.Gateway, registry *gateway.Registry, history storage.HistoryStore, defaultHousehold string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:              cfg,
		agentCfg:         agentCfg,
		gateway:          gw,
		registry:         registry,
		history:          history,
		defaultHousehold: defaultHousehold,
		logger:           logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs both listeners until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		s.logger.Info("metrics listening", "addr", s.metricsSrv.Addr)
		if err := s.metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.metricsSrv.Shutdown(shutdownCtx)
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type chatRequest struct {
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id"`
	Message     string `json:"message"`
	TaskMode    bool   `json:"task_mode"`
}

type chatResponse struct {
	Message string                `json:"message"`
	Actions []models.ActionRecord `json:"actions,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Message == "" {
		http.Error(w, "user_id and message are required", http.StatusBadRequest)
		return
	}
	if req.HouseholdID == "" {
		req.HouseholdID = s.defaultHousehold
	}

	reply, err := s.gateway.Process(r.Context(), gateway.Request{
		HouseholdID: req.HouseholdID,
		UserID:      req.UserID,
		Message:     req.Message,
		History:     s.recentHistory(r.Context(), req.HouseholdID, req.UserID),
		TaskMode:    req.TaskMode,
	}, nil)
	if err != nil {
		s.logger.Error("chat turn failed", "user", req.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(chatResponse{Message: reply.Message, Actions: reply.Actions}); err != nil {
		s.logger.Warn("encode response failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) recentHistory(ctx context.Context, householdID, userID string) []models.Message {
	if s.history == nil {
		return nil
	}
	history, err := s.history.Recent(ctx, householdID, userID, historyWindow, s.agentCfg.SessionInactivity)
	if err != nil {
		s.logger.Warn("history read failed", "user", userID, "error", err)
		return nil
	}
	return history
}
