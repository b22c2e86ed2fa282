package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rucat-project/rucat/internal/engine"
	"github.com/rucat-project/rucat/pkg/logger"
)

// Service wraps an http.Server as an internal/system.Service.
type Service struct {
	server       *http.Server
	log          *logger.Logger
	drainTimeout time.Duration
	serveErrCh   chan error
}

// NewService builds the API server's Service, bound to addr, implementing
// the REST surface over store.
func NewService(store engine.Store, addr string, log *logger.Logger, opts Options) *Service {
	return &Service{
		server: &http.Server{
			Addr:    addr,
			Handler: NewRouter(store, log, opts),
		},
		log:          log,
		drainTimeout: 30 * time.Second,
		serveErrCh:   make(chan error, 1),
	}
}

func (s *Service) Name() string { return "api-server" }

// Start begins accepting connections in a background goroutine.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		s.log.WithContext(ctx).WithField("addr", s.server.Addr).Info("api server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErrCh <- err
		}
	}()
	return nil
}

// Stop stops accepting new requests and drains in-flight ones within the
// configured window, then aborts.
func (s *Service) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
