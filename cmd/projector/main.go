package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/projector"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-projector"
	log := logging.New(cfg.LogLevel).With(slog.String("service", service))
	slog.SetDefault(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	p := &projector.Projector{
		Orders: &orders.Repo{DB: db},
		Cache:  &redisx.OrderCache{Redis: rdb},
		Dedup:  &redisx.Dedup{Redis: rdb, Service: service},
		Log:    log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.TopicOrderStatusChanged, cfg.ProjectorWorkers, log)
	log.Info("projector started",
		slog.String("group", cfg.ProjectorGroup),
		slog.String("topic", orders.TopicOrderStatusChanged),
		slog.Int("workers", cfg.ProjectorWorkers),
	)
	if err := cons.Start(ctx, p.HandleStatusChanged); err != nil {
		log.Error("consumer exit", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("projector stopped")
}
