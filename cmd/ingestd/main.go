// Package main runs the ingest service: two Pub/Sub consumers driving the
// crawl and transform stages, plus the ops HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ragline/ingest/internal/app"
	"github.com/ragline/ingest/internal/config"
	"github.com/ragline/ingest/internal/logging"
	"github.com/ragline/ingest/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	logger.Info("ingest service starting",
		zap.String("raw_bucket", cfg.Storage.RawBucket),
		zap.String("chunk_bucket", cfg.Storage.ChunkBucket),
		zap.String("work_topic", cfg.PubSub.WorkTopic))

	if err := a.Run(ctx); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
	a.Close()
}
