package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yurug/maplume-sub000/internal/adapters/rpc"
	"github.com/yurug/maplume-sub000/internal/app"
	"github.com/yurug/maplume-sub000/internal/bootstrap"
	"github.com/yurug/maplume-sub000/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", "", "JSON-RPC listen address (default "+rpc.DefaultAddr+")")
	configPath := flag.String("config", "", "Path to maplume.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Maplume-Rpc-Token (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("maplumed version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadFromPath(*configPath)
	if *rpcAddr != "" {
		cfg.RPCAddr = *rpcAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *rpcToken != "" {
		cfg.RPCToken = *rpcToken
	}

	logger := app.DefaultLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	secrets, err := bootstrap.OpenSecretStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("maplumed failed to open secret store: %v", err)
	}

	registry := prometheus.NewRegistry()
	svc := app.New(cfg,
		app.WithLogger(logger),
		app.WithSecretStore(secrets),
		app.WithRegisterer(registry),
	)
	if err := svc.Init(ctx); err != nil {
		log.Fatalf("maplumed failed to initialize: %v", err)
	}
	defer svc.Cleanup()

	srv := rpc.NewServer(cfg.RPCAddr, svc,
		rpc.WithLogger(logger),
		rpc.WithToken(cfg.RPCToken),
		rpc.WithRateLimit(cfg.RateRPS, cfg.RateBurst),
		rpc.WithMetricsGatherer(registry),
	)

	logger.Info("maplumed starting", "rpc_addr", cfg.RPCAddr, "version", version)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("maplumed failed: %v", err)
	}
	logger.Info("maplumed stopped")
}
