package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cataloghq/fulfillment/internal/config"
	"github.com/cataloghq/fulfillment/internal/fulfillment"
	"github.com/cataloghq/fulfillment/internal/httpx"
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

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("tax_rate", cfg.TaxRate.String()).
		Int64("shipping_cents", cfg.ShippingCents).
		Msg("starting fulfillment api")

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

	pubs := httpx.Publishers{
		Created: kafkax.NewProducer(cfg.KafkaBrokers, fulfillment.TopicOrderCreated, 1024),
		Status:  kafkax.NewProducer(cfg.KafkaBrokers, fulfillment.TopicOrderStatus, 1024),
		Deleted: kafkax.NewProducer(cfg.KafkaBrokers, fulfillment.TopicOrderDeleted, 1024),
	}
	pubs.Created.Start(ctx)
	pubs.Status.Start(ctx)
	pubs.Deleted.Start(ctx)

	engine := fulfillment.NewEngine(repo, repo, repo,
		fulfillment.NewPricing(cfg.TaxRate, cfg.ShippingCents))

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Engine:  engine,
		Pub:     pubs,
		Redis:   rdb,
		History: repo,
		Service: cfg.ServiceName,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pubs.Created, pubs.Status, pubs.Deleted} {
		p.Close()
		p.WaitClosed()
	}
}
