package operator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"predxarb/internal/config"
)

// Server runs the operator HTTP control surface.
type Server struct {
	cfg      config.OperatorConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the 6-endpoint operator control surface: health,
// emergency-stop, resume, close-position, rematch, and parameter get/post.
func NewServer(cfg config.OperatorConfig, ctrl Controller, logger *slog.Logger) *Server {
	handlers := NewHandlers(ctrl, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/emergency-stop", handlers.HandleEmergencyStop)
	mux.HandleFunc("/resume", handlers.HandleResume)
	mux.HandleFunc("/close-position", handlers.HandleClosePosition)
	mux.HandleFunc("/rematch", handlers.HandleRematch)
	mux.HandleFunc("/parameters", handlers.HandleParameters)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "operator_server"),
	}
}

// Start blocks serving the operator surface until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("operator server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("operator server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping operator server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
