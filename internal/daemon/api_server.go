package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"traceapi/internal/api"
	"traceapi/internal/config"
	"traceapi/internal/logging"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, svc api.Services, logger *slog.Logger) *apiServer {
	return &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		handler: api.NewServer(svc, logger),
	}
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api disabled; no bind address configured")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	listener := s.listener
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// apiStatus converts daemon status into its API representation.
func (d *Daemon) apiStatus(ctx context.Context) api.DaemonStatus {
	status := d.Status(ctx)
	checks := make([]api.CheckResult, len(status.Checks))
	for i, check := range status.Checks {
		checks[i] = api.CheckResult{Name: check.Name, Passed: check.Passed, Detail: check.Detail}
	}
	return api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		StorageDir:   status.StorageDir,
		LockFilePath: status.LockFilePath,
		Generation:   api.FromSummary(status.Generation),
		Checks:       checks,
	}
}
