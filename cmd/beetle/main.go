// Command beetle runs a consumer daemon against a RabbitMQ pair and a Redis
// deduplication store. It subscribes one consumer per server so both copies
// of a redundant message are seen, drives every delivery through the
// processing state machine, and garbage-collects expired bookkeeping on an
// interval.
//
// The built-in handler only logs payloads; real consumers embed the
// library and register their own consumer.Handler. The daemon is still
// useful as-is for draining a queue and for soak-testing a deployment.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joevandyk/beetle/pkg/broker"
	"github.com/joevandyk/beetle/pkg/broker/adapters/rabbitmq"
	"github.com/joevandyk/beetle/pkg/config"
	"github.com/joevandyk/beetle/pkg/consumer"
	"github.com/joevandyk/beetle/pkg/dedup"
	dedupredis "github.com/joevandyk/beetle/pkg/dedup/adapters/redis"
	"github.com/joevandyk/beetle/pkg/logger"
	"github.com/joevandyk/beetle/pkg/telemetry"
)

type appConfig struct {
	Queue           string        `env:"BEETLE_QUEUE" env-default:"messages" validate:"required"`
	HandlerTimeout  time.Duration `env:"BEETLE_HANDLER_TIMEOUT" env-default:"600s"`
	RetryDelay      time.Duration `env:"BEETLE_RETRY_DELAY" env-default:"10s"`
	AttemptsLimit   int           `env:"BEETLE_ATTEMPTS_LIMIT" env-default:"1" validate:"min=1"`
	ExceptionsLimit int           `env:"BEETLE_EXCEPTIONS_LIMIT" env-default:"0" validate:"min=0"`
	GCInterval      time.Duration `env:"BEETLE_GC_INTERVAL" env-default:"1h"`

	Log       logger.Config
	Telemetry telemetry.Config
	RabbitMQ  rabbitmq.Config
	Dedup     dedup.Config
}

func main() {
	cfg := config.MustLoad[appConfig]()
	log := logger.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Telemetry.Queue = cfg.Queue
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	store, err := dedupredis.New(cfg.Dedup, cfg.Queue)
	if err != nil {
		log.Error("failed to connect to deduplication store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	b, err := rabbitmq.New(cfg.RabbitMQ)
	if err != nil {
		log.Error("failed to connect to brokers", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	proc := consumer.NewInstrumentedProcessor(consumer.NewProcessor(store))
	opts := consumer.Options{
		HandlerTimeout:  cfg.HandlerTimeout,
		RetryDelay:      cfg.RetryDelay,
		AttemptsLimit:   cfg.AttemptsLimit,
		ExceptionsLimit: cfg.ExceptionsLimit,
	}
	handler := consumer.HandlerFunc(func(ctx context.Context, m *consumer.Message) error {
		log.InfoContext(ctx, "message received",
			"queue", m.Queue, "message_id", m.ID, "bytes", len(m.Payload))
		return nil
	})

	var wg sync.WaitGroup
	for server := 0; server < b.Servers(); server++ {
		sub, err := b.Subscriber(server)
		if err != nil {
			log.Error("failed to create subscriber", "server", server, "error", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func(server int) {
			defer wg.Done()
			err := sub.Subscribe(ctx, cfg.Queue, func(ctx context.Context, d broker.Delivery) {
				m := consumer.NewMessage(cfg.Queue, d, opts)
				proc.Process(ctx, m, handler)
			})
			if err != nil {
				log.Error("subscription ended", "server", server, "error", err)
			}
		}(server)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		gcLoop(ctx, store, cfg.GCInterval, log)
	}()

	log.Info("beetle consumer running",
		"queue", cfg.Queue, "servers", b.Servers(), "attempts_limit", cfg.AttemptsLimit)
	<-ctx.Done()
	wg.Wait()
	log.Info("beetle consumer stopped")
}

// gcLoop periodically purges bookkeeping of messages whose envelope TTL has
// passed. Every consumer runs it; the store's sampling gate keeps the
// aggregate scan load bounded.
func gcLoop(ctx context.Context, store dedup.Store, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collected, err := store.GarbageCollect(ctx, time.Now())
			if err != nil {
				log.ErrorContext(ctx, "garbage collection failed", "error", err)
				continue
			}
			if collected > 0 {
				log.InfoContext(ctx, "garbage collected expired messages", "count", collected)
			}
		}
	}
}
