// Package api provides a read/write REST surface over an engine.Manager's
// live PLC snapshot.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"s7link/config"
	"s7link/engine"
)

// Server wraps net/http.Server with a mutex-guarded start/stop lifecycle.
type Server struct {
	manager *engine.Manager
	cfg     *config.RESTConfig

	mu      sync.RWMutex
	server  *http.Server
	running bool
}

// NewServer creates a Server bound to manager's live snapshot.
func NewServer(manager *engine.Manager, cfg *config.RESTConfig) *Server {
	return &Server{manager: manager, cfg: cfg}
}

// IsRunning reports whether the HTTP listener is active.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start begins serving the REST API in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	router := NewRouter(s.manager)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{Addr: addr, Handler: router}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	return err
}
