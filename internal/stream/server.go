package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server hosts the websocket endpoint on its own listener. The REST API runs
// on fasthttp, which cannot hand a hijacked connection to gorilla's upgrader,
// so the stream listens on a separate port.
type Server struct {
	hub    *Hub
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a stream server bound to the given port.
func NewServer(port int, hub *Hub, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/signals", hub.HandleSignals)

	return &Server{
		hub: hub,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving websocket upgrades until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("stream.listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects subscribers and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}
