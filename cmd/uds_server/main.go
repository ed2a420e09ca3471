package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/config"
	"github.com/sushant-115/microblog-uds/internal/node"
	"github.com/sushant-115/microblog-uds/pkg/logger"
	"github.com/sushant-115/microblog-uds/pkg/telemetry"
)

var (
	configPath      = flag.String("config", "", "Path to a YAML config file")
	role            = flag.String("role", "", "Node role, COORDINATOR or WORKER (overrides NODE_TYPE)")
	listenAddr      = flag.String("listen", "", "HTTP bind address (overrides listen_addr)")
	coordinatorAddr = flag.String("coordinator", "", "Coordinator address a worker joins (overrides COORDINATOR)")
	advertiseAddr   = flag.String("advertise", "", "Address a worker announces when joining")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if *role != "" {
		cfg.Role = config.Role(strings.ToUpper(*role))
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *coordinatorAddr != "" {
		cfg.CoordinatorAddr = *coordinatorAddr
	}
	if *advertiseAddr != "" {
		cfg.AdvertiseAddr = *advertiseAddr
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("CRITICAL: Can't initialize zap logger: %v", err)
	}
	defer zlogger.Sync()

	if err := cfg.Validate(); err != nil {
		zlogger.Fatal("CRITICAL: Invalid configuration", zap.Error(err))
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "uds-" + string(cfg.Role)
	}

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		zlogger.Fatal("CRITICAL: Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zlogger.Error("Failed to shutdown telemetry", zap.Error(err))
		}
	}()

	n, err := node.New(cfg, zlogger, tel)
	if err != nil {
		zlogger.Fatal("CRITICAL: Failed to build node", zap.Error(err))
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		zlogger.Fatal("Failed to listen", zap.Error(err), zap.String("address", cfg.ListenAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- n.Serve(lis) }()

	if cfg.Role == config.RoleWorker {
		if err := n.Join(ctx, cfg.AdvertiseAddr); err != nil {
			zlogger.Fatal("CRITICAL: Failed to join coordinator", zap.Error(err))
		}
	}

	zlogger.Info("Directory node started",
		zap.String("role", string(cfg.Role)),
		zap.String("listenAddr", cfg.ListenAddr),
		zap.String("coordinatorAddr", cfg.CoordinatorAddr),
	)

	select {
	case <-ctx.Done():
		zlogger.Info("Received signal, initiating graceful shutdown")
	case err := <-serveErr:
		if err != nil {
			zlogger.Error("HTTP server failed", zap.Error(err))
		}
	}

	if err := n.Shutdown(context.Background()); err != nil {
		zlogger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}
	zlogger.Info("Directory node stopped")
}
