// package chatwire provides a single-instance presence and conversation
// fan-out coordinator for real-time messaging over websockets.
// This file contains the Server struct which manages the HTTP server
// lifecycle, the websocket gateway mount, and graceful shutdown handling.
package chatwire

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type Server struct {
	server    *http.Server
	gateway   *Gateway
	mutex     sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewServer creates a server hosting the websocket gateway at the configured
// path (default "/ws"). If no options are provided, default values are used.
func NewServer(options *ServerOptions) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	opts := options.Options
	if opts == nil {
		opts = DefaultOptions()
	}
	gateway := NewGateway(ctx, *opts)

	addr := options.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	path := options.Path
	if path == "" {
		path = "/ws"
	}
	mux := http.NewServeMux()

	mux.Handle(path, gateway)

	return &Server{
		ctx:     ctx,
		cancel:  cancel,
		gateway: gateway,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  options.ServerReadTimeout,
			WriteTimeout: options.ServerWriteTimeout,
			IdleTimeout:  options.ServerIdleTimeout,
			TLSConfig:    options.ServerTLSConfig,
		},
	}
}

// Gateway returns the websocket gateway hosted by this server.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Coordinator returns the coordinator behind the gateway.
func (s *Server) Coordinator() *Coordinator {
	return s.gateway.Coordinator()
}

// Start begins listening in a background goroutine and returns immediately.
// Returns an error if the server is already running.
func (s *Server) Start() error {
	s.mutex.Lock()

	if s.isRunning {
		s.mutex.Unlock()

		return internal("SERVER", "Server is already running")
	}
	s.isRunning = true
	s.mutex.Unlock()

	go func() {
		if s.server.TLSConfig != nil {
			s.server.ListenAndServeTLS("", "")
		} else {
			s.server.ListenAndServe()
		}

		s.mutex.Lock()

		s.isRunning = false
		s.mutex.Unlock()
	}()

	return nil
}

// Listen starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully with a 30 second drain window.
func (s *Server) Listen() error {
	if err := s.Start(); err != nil {
		return err
	}
	quit := make(chan os.Signal, 1)

	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	shutdownTimeout := 30 * time.Second
	if err := s.Stop(shutdownTimeout); err != nil {
		return wrapF(err, "error during server shutdown")
	}
	return nil
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mutex.RLock()

	defer s.mutex.RUnlock()

	return s.isRunning
}

// Stop gracefully shuts down the server within the given timeout.
// Returns nil if the server was not running.
func (s *Server) Stop(timeout time.Duration) error {
	s.mutex.Lock()

	if !s.isRunning {
		s.mutex.Unlock()

		return nil
	}
	s.mutex.Unlock()

	s.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)

	defer shutdownCancel()

	err := s.server.Shutdown(shutdownCtx)

	if err != nil {
		return wrapF(err, "http server shutdown failed")
	}
	return nil
}
