package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cataloghq/fulfillment/internal/audit"
	"github.com/cataloghq/fulfillment/internal/config"
	"github.com/cataloghq/fulfillment/internal/fulfillment"
	kafkax "github.com/cataloghq/fulfillment/internal/kafka"
	"github.com/cataloghq/fulfillment/internal/pgstore"
	"github.com/cataloghq/fulfillment/internal/postgres"
	"github.com/cataloghq/fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	repo := pgstore.New(db, cfg.LedgerWait)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &audit.Service{
		Repo:        repo,
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-audit",
	}

	group := getenv("AUDIT_GROUP", "audit-svc")
	workers := mustAtoi(os.Getenv("AUDIT_WORKERS"), 4)

	topics := []string{
		fulfillment.TopicOrderCreated,
		fulfillment.TopicOrderStatus,
		fulfillment.TopicOrderDeleted,
	}
	for _, topic := range topics {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers)
		go func(topic string) {
			log.Info().Str("group", group).Str("topic", topic).Int("workers", workers).
				Msg("audit consumer started")
			if err := cons.Start(ctx, svc.HandleEvent); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("consumer exit")
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down audit consumers...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
