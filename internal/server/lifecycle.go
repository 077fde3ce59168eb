package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rsclarke/netcap/internal/logging"
)

// ShutdownTimeout bounds graceful shutdown in Run.
const ShutdownTimeout = 5 * time.Second

type ServerConfig struct {
	Addr              string
	Handler           http.Handler
	Logger            *zap.Logger
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

func DefaultServerConfig(addr string, handler http.Handler, logger *zap.Logger) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		Handler:           handler,
		Logger:            logger,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// ManagedServer is an http.Server with a bind-then-serve lifecycle.
type ManagedServer struct {
	server   *http.Server
	logger   *zap.Logger
	name     string
	listener net.Listener
	errCh    chan error
}

func NewManagedServer(name string, cfg ServerConfig) *ManagedServer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	errLog, _ := zap.NewStdLogAt(logger, zapcore.ErrorLevel)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           cfg.Handler,
		ErrorLog:          errLog,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return &ManagedServer{
		server: srv,
		logger: logger,
		name:   name,
		errCh:  make(chan error, 1),
	}
}

// Start binds the listen address and serves in the background. Bind errors
// are returned directly.
func (m *ManagedServer) Start() error {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("%s failed to start: %w", m.name, err)
	}
	m.listener = ln
	m.logger.Info("starting server", zap.String("server", m.name), logging.Addr(ln.Addr().String()))

	go func() {
		err := m.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.errCh <- err
		}
		close(m.errCh)
	}()
	return nil
}

// Addr returns the bound address once started.
func (m *ManagedServer) Addr() string {
	if m.listener == nil {
		return m.server.Addr
	}
	return m.listener.Addr().String()
}

// Run starts the server and blocks until ctx is done or serving fails, then
// shuts it down.
func (m *ManagedServer) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	select {
	case err, ok := <-m.errCh:
		if ok && err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	m.Shutdown(shutdownCtx)
	return nil
}

func (m *ManagedServer) Shutdown(ctx context.Context) {
	if m.listener == nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.String("server", m.name), zap.Error(err))
	}
}
