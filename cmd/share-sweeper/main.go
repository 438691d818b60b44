package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unistay/roomshare/internal/app/shareapi"
	"github.com/unistay/roomshare/internal/platform/dbpool"
	"github.com/unistay/roomshare/internal/platform/env"
	"github.com/unistay/roomshare/internal/platform/natsutil"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	sweepInterval := env.Duration("SWEEP_INTERVAL", 10*time.Minute)
	applicationTTL := env.Duration("APPLICATION_TTL", 14*24*time.Hour)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		logger.Fatal("postgres pool init failed", zap.Error(err))
	}
	defer pool.Close()

	shareRepo := shareapi.NewPostgresRepository(pool)

	client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), 20*time.Second)
	if err != nil {
		logger.Fatal("nats connect failed", zap.Error(err))
	}
	defer client.Close()

	// The sweeper only expires state; it never scores applicants, so no
	// profile source is wired in.
	publisher := natsutil.JetStreamPublisher{JS: client.JS}
	service := shareapi.NewService(shareRepo, nil, publisher.Publish)

	logger.Info("share sweeper running",
		zap.Duration("interval", sweepInterval),
		zap.Duration("application_ttl", applicationTTL),
	)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		sweepCtx, cancel := context.WithTimeout(runCtx, sweepInterval)
		swept, err := service.ExpireStaleApplications(sweepCtx, applicationTTL)
		cancel()
		if err != nil {
			logger.Error("sweep failed", zap.Error(err))
		} else if swept > 0 {
			logger.Info("expired stale applications", zap.Int("count", swept))
		}

		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
		}
	}
}
