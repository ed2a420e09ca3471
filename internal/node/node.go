// Package node assembles a directory node for its configured role and serves
// it over HTTP.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/api/store"
	"github.com/sushant-115/microblog-uds/config"
	"github.com/sushant-115/microblog-uds/core/coordinator"
	"github.com/sushant-115/microblog-uds/core/directory"
	"github.com/sushant-115/microblog-uds/core/worker"
	internaltelemetry "github.com/sushant-115/microblog-uds/internal/telemetry"
	"github.com/sushant-115/microblog-uds/pkg/connection"
	"github.com/sushant-115/microblog-uds/pkg/logger"
	"github.com/sushant-115/microblog-uds/pkg/telemetry"
)

// HTTPServerStopTimeout bounds graceful shutdown of the node's listener.
const HTTPServerStopTimeout = 5 * time.Second

// Node is one running directory process. Exactly one of Coordinator and
// Worker is set, according to the configured role.
type Node struct {
	Coordinator *coordinator.Coordinator
	Worker      *worker.Worker

	cfg         config.Config
	logger      *zap.Logger
	router      *mux.Router
	conns       *connection.Manager
	coordClient *connection.CoordinatorClient
	server      *http.Server
}

// New builds the node described by cfg. cfg must already be validated.
func New(cfg config.Config, zlogger *zap.Logger, tel *telemetry.Telemetry) (*Node, error) {
	if tel == nil {
		tel = telemetry.Noop()
	}
	n := &Node{
		cfg:    cfg,
		logger: zlogger.Named("node"),
		router: mux.NewRouter(),
		conns: connection.NewManager(connection.Options{
			DialTimeout: cfg.DialTimeout,
			Timeout:     cfg.RPCTimeout,
		}, zlogger.Named("connection")),
	}

	httpMetrics, err := internaltelemetry.NewHTTPMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create http metrics: %w", err)
	}
	n.router.Use(requestIDMiddleware, httpMetrics.Middleware)

	n.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	if tel.MetricsHandler != nil && cfg.Telemetry.PrometheusPort == 0 {
		n.router.Handle("/metrics", tel.MetricsHandler).Methods(http.MethodGet)
	}

	switch cfg.Role {
	case config.RoleCoordinator:
		txnMetrics, err := internaltelemetry.NewTxnMetrics(tel.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create transaction metrics: %w", err)
		}
		n.Coordinator = coordinator.New(
			coordinator.NewMembership(),
			connection.NewReplicaClient(n.conns),
			zlogger.Named("coordinator"),
			coordinator.WithCallTimeout(cfg.RPCTimeout),
			coordinator.WithWorkerPort(cfg.WorkerPort),
			coordinator.WithTracer(tel.Tracer),
			coordinator.WithMetrics(txnMetrics),
		)
		n.Coordinator.RegisterHandlers(n.router)

	case config.RoleWorker:
		n.Worker = worker.New(directory.NewStore(), directory.NewUndoLog(), zlogger.Named("worker"), worker.WithTracer(tel.Tracer))
		n.coordClient = connection.NewCoordinatorClient(n.conns, cfg.CoordinatorAddr, cfg.StartTimeout)
		n.Worker.RegisterHandlers(n.router)
		store.NewStoreServer(n.Worker, n.coordClient, zlogger, store.WithRateLimit(cfg.PutRateLimit, cfg.PutBurst)).
			RegisterHandlers(n.router)

	default:
		return nil, fmt.Errorf("%w: unknown role %q", config.ErrInvalidConfig, cfg.Role)
	}
	n.server = &http.Server{
		Handler:           n.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return n, nil
}

// Handler returns the node's HTTP handler.
func (n *Node) Handler() http.Handler {
	return n.router
}

// Join registers a worker node with its coordinator, retrying up to the
// configured number of attempts. advertise is the address announced to the
// coordinator; empty lets the coordinator derive it.
func (n *Node) Join(ctx context.Context, advertise string) error {
	if n.coordClient == nil {
		return errors.New("only a worker joins a coordinator")
	}
	var lastErr error
	for attempt := 1; attempt <= n.cfg.JoinRetries; attempt++ {
		resp, err := n.coordClient.Join(ctx, advertise)
		if err == nil && resp.Success {
			n.logger.Info("Joined coordinator", zap.String("coordinator", n.cfg.CoordinatorAddr), zap.String("msg", resp.Msg))
			return nil
		}
		if err == nil {
			// A refused join will not succeed on retry.
			return fmt.Errorf("coordinator refused join: %s", resp.Msg)
		}
		lastErr = err
		n.logger.Warn("Join attempt failed", zap.Int("attempt", attempt), zap.Int("max_attempts", n.cfg.JoinRetries), zap.Error(err))
		if attempt == n.cfg.JoinRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.cfg.JoinRetryDelay):
		}
	}
	return fmt.Errorf("failed to join coordinator %s after %d attempts: %w", n.cfg.CoordinatorAddr, n.cfg.JoinRetries, lastErr)
}

// Serve accepts connections on l until Shutdown is called.
func (n *Node) Serve(l net.Listener) error {
	n.logger.Info("Serving", zap.String("role", string(n.cfg.Role)), zap.String("addr", l.Addr().String()))
	if err := n.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and releases pooled connections.
func (n *Node) Shutdown(ctx context.Context) error {
	defer n.conns.Close()
	ctx, cancel := context.WithTimeout(ctx, HTTPServerStopTimeout)
	defer cancel()
	return n.server.Shutdown(ctx)
}

// requestIDMiddleware tags every request with an id, reusing the caller's
// when present, and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(logger.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(logger.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
