package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"homestead/config"
	"homestead/core"
	"homestead/observability/logging"
	"homestead/observability/metrics"
	"homestead/rpc"
	"homestead/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	logger := logging.New("escrowd")

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	seller, inspector, lender, err := cfg.Roles()
	if err != nil {
		logger.Error("Failed to decode role addresses", slog.Any("error", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to prepare data directory", slog.Any("error", err))
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, seller.Array(), inspector.Array(), lender.Array(), metrics.NewEmitter())
	if err != nil {
		logger.Error("Failed to assemble node", slog.Any("error", err))
		os.Exit(1)
	}

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics listening", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics listener failed", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(node)
	logger.Info("escrowd started",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("seller", seller.String()),
		slog.String("inspector", inspector.String()),
		slog.String("lender", lender.String()),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		panic(fmt.Sprintf("RPC server failed: %v", err))
	}
}
