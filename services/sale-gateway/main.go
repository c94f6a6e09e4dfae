package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homestead/gateway/auth"
	"homestead/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logging.New("sale-gateway")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("open sqlite store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	authenticator := auth.NewAuthenticator(cfg.SecretMap(), cfg.AllowedTimestampSkew, cfg.NonceTTL, cfg.NonceCapacity, nil)
	node := NewRPCNodeClient(cfg.NodeURL, cfg.NodeAuthToken)
	server := NewServer(authenticator, node, store)

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server,
	}

	go func() {
		logger.Info("sale gateway listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down sale gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
