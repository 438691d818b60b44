package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/unistay/roomshare/internal/app/notifysink"
	"github.com/unistay/roomshare/internal/messaging"
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

	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		logger.Fatal("postgres pool init failed", zap.Error(err))
	}
	defer pool.Close()

	repository := notifysink.NewEventRepository(pool)
	if err := waitForPostgres(runCtx, logger, pool, repository, 30*time.Second); err != nil {
		logger.Fatal("postgres readiness failed", zap.Error(err))
	}
	service := notifysink.NewService(repository)

	client, err := natsutil.ConnectJetStreamWithRetry(natsURL, 20*time.Second)
	if err != nil {
		logger.Fatal("nats connect failed", zap.Error(err))
	}
	defer client.Close()
	if err := messaging.EnsureStreams(client.JS); err != nil {
		logger.Fatal("stream setup failed", zap.Error(err))
	}

	sub, err := client.JS.QueueSubscribe("app.event.>", "notification-sink", func(msg *nats.Msg) {
		var eventSeq uint64
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			eventSeq = meta.Sequence.Stream
		}

		insertCtx, cancel := context.WithTimeout(runCtx, 3*time.Second)
		defer cancel()
		if err := service.Handle(insertCtx, msg.Data, eventSeq); err != nil {
			if errors.Is(err, notifysink.ErrInvalidEventPayload) || errors.Is(err, notifysink.ErrUnsupportedEventType) {
				logger.Warn("discarding event", zap.Error(err))
				_ = msg.Term()
				return
			}
			logger.Error("event persistence failed", zap.Error(err))
			_ = msg.Nak()
			return
		}

		_ = msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		logger.Fatal("subscribe failed", zap.Error(err))
	}

	logger.Info("notification sink listening", zap.String("subject", sub.Subject))
	<-runCtx.Done()
	_ = sub.Drain()
}

func waitForPostgres(
	ctx context.Context,
	logger *zap.Logger,
	pool *pgxpool.Pool,
	repository *notifysink.EventRepository,
	timeout time.Duration,
) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = repository.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		logger.Info("waiting for postgres readiness", zap.Error(lastErr))
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}
