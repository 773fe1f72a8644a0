// Package coordinator wires the coordinator's components (registry,
// messaging, auth, rate limiting, audit) into one runnable server, the way
// the teacher's hub.Server wires agentmgr/workermgr/terminalmgr into a
// single *http.Server (hub/server.go). There is no socket transport here
// (spec.md never asks for local IPC) so the shape is simpler: one TCP
// listener, h2c for plaintext HTTP/2 the same way the teacher serves its
// RPC traffic.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/c3po-dev/c3po/internal/config"
	"github.com/c3po-dev/c3po/internal/coordinator/audit"
	"github.com/c3po-dev/c3po/internal/coordinator/auth"
	"github.com/c3po-dev/c3po/internal/coordinator/messaging"
	"github.com/c3po-dev/c3po/internal/coordinator/ratelimit"
	"github.com/c3po-dev/c3po/internal/coordinator/registry"
	"github.com/c3po-dev/c3po/internal/coordinator/store"
	"github.com/c3po-dev/c3po/internal/coordinator/transport"
	"github.com/c3po-dev/c3po/internal/logging"
	"github.com/c3po-dev/c3po/internal/metrics"
)

// Server is the coordinator process: one HTTP listener in front of the
// registry, messaging engine, and auth/rate-limit/audit components, plus a
// background scavenger loop.
type Server struct {
	cfg    *config.Config
	db     *store.DB
	server *http.Server
	logger *slog.Logger

	registry  *registry.Registry
	messaging *messaging.Engine
}

// NewServer opens the store, runs migrations, and wires every component
// per SPEC_FULL.md's component map.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.Open(cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	auditLog := audit.New(db, audit.DefaultMaxEntries, logger)
	authMgr := auth.New(db, auditLog, auth.Config{
		ServerSecret: cfg.ServerSecret,
		AdminKey:     cfg.AdminKey,
		ProxyToken:   cfg.ProxyBearerToken,
	}, logger)
	limiter := ratelimit.New(db, ratelimit.DefaultPolicies(), logger)
	notifier := store.NewNotifier()
	reg := registry.New(db, notifier, cfg.HeartbeatTTL)
	msg := messaging.New(db, notifier, cfg.MessageTTL, reg.Exists, reg.RegisterOffline)

	deps := &transport.Deps{
		Registry:    reg,
		Messaging:   msg,
		Auth:        authMgr,
		RateLimit:   limiter,
		Audit:       auditLog,
		Logger:      logger,
		BehindProxy: cfg.BehindProxy,
	}
	mux := transport.NewRouter(deps)

	h2cHandler := h2c.NewHandler(logging.HTTPMiddleware(metrics.HTTPMiddleware(mux)), &http2.Server{
		MaxConcurrentStreams: 1000,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h2cHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:       cfg,
		db:        db,
		server:    httpServer,
		logger:    logger,
		registry:  reg,
		messaging: msg,
	}, nil
}

// Serve listens on cfg.Addr() and blocks until ctx is cancelled, at which
// point it stops the scavenger, drains in-flight requests, checkpoints the
// WAL, and closes the database. Mirrors the teacher's hub.Server.Serve
// shutdown sequence (hub/server.go): reject new work, drain, checkpoint,
// close.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		_ = s.db.Close()
		return fmt.Errorf("listen: %w", err)
	}

	scavengeCtx, cancel := context.WithCancel(context.Background())
	go runScavenger(scavengeCtx, s.registry, s.messaging, s.cfg.MessageTTL, s.logger)

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.logger.Info("coordinator shutting down...")

		cancel() // stop the scavenger before draining requests

		shutdownCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer timeoutCancel()
		_ = s.server.Shutdown(shutdownCtx)

		close(shutdownDone)
	}()

	s.logger.Info("coordinator listening", "addr", s.cfg.Addr())
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		_ = s.db.Close()
		return fmt.Errorf("serve: %w", err)
	}

	<-shutdownDone

	if err := s.db.Checkpoint(); err != nil {
		s.logger.Warn("WAL checkpoint failed", "error", err)
	}
	_ = s.db.Close()
	return nil
}
