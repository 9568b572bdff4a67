package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fedotovmax/payflow/config"
	"github.com/fedotovmax/payflow/internal/consumer"
	"github.com/fedotovmax/payflow/internal/event"
	"github.com/fedotovmax/payflow/internal/idgen"
	"github.com/fedotovmax/payflow/internal/outbox"
	"github.com/fedotovmax/payflow/internal/payment"
	"github.com/fedotovmax/payflow/internal/psp"
	"github.com/fedotovmax/payflow/internal/publisher"
	"github.com/fedotovmax/payflow/internal/retry"
	"github.com/fedotovmax/payflow/pkg/kafka"
	"github.com/fedotovmax/payflow/pkg/postgres"
	"github.com/fedotovmax/payflow/pkg/telemetry"
)

// Run wires the payment service and blocks until ctx is done or a component
// fails, then stops everything within cfg.App.ShutdownTimeout.
func Run(ctx context.Context, l *slog.Logger, cfg *config.Config) error {
	const op = "app.Run"

	log := l.With(slog.String("op", op))

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	pg, err := postgres.New(ctx, cfg.PG.URL,
		postgres.MaxPoolSize(cfg.PG.PoolMax),
		postgres.ConnAttempts(cfg.PG.ConnAttempts),
		postgres.ConnTimeout(cfg.PG.ConnTimeout),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer pg.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%s: redis ping: %w", op, err)
	}

	kafkaOpts := kafka.Options{
		Brokers:     cfg.Kafka.Brokers,
		ClientID:    cfg.Kafka.ClientID,
		Version:     cfg.Kafka.Version,
		ConnTimeout: cfg.Kafka.ConnTimeout,
	}

	syncProducers, err := kafka.NewTransactionalProducers(ctx, kafkaOpts,
		cfg.Kafka.TxnPrefix+"-"+cfg.App.InstanceID, cfg.Kafka.Producers)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	txnProducers := make([]publisher.TxnProducer, 0, len(syncProducers))
	for _, p := range syncProducers {
		txnProducers = append(txnProducers, p)
	}

	asyncProducer, err := kafka.NewAsyncProducer(ctx, kafkaOpts)
	if err != nil {
		closeProducers(log, txnProducers)
		return fmt.Errorf("%s: %w", op, err)
	}

	pub := publisher.New(l, txnProducers, asyncProducer)
	defer func() {
		if err := pub.Close(); err != nil {
			log.Error("close transactional producers", slog.String("error", err.Error()))
		}
		if err := asyncProducer.Close(); err != nil {
			log.Error("close async producer", slog.String("error", err.Error()))
		}
	}()

	group, err := kafka.NewConsumerGroup(ctx, kafkaOpts, cfg.Kafka.GroupID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ids, err := idgen.NewAllocator(cfg.App.RegionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ob := outbox.New(l, pub, event.DefaultRegistry(), pg.Manager, pg.Extractor, outbox.Config{
		Limit:           cfg.Outbox.Limit,
		Workers:         cfg.Outbox.Workers,
		Interval:        cfg.Outbox.Interval,
		LeaseTTL:        cfg.Outbox.LeaseTTL,
		PublishTimeout:  cfg.Outbox.PublishTimeout,
		ProcessTimeout:  cfg.Outbox.ProcessTimeout,
		CleanupInterval: cfg.Outbox.CleanupInterval,
		Retention:       cfg.Outbox.Retention,
		InstanceID:      cfg.App.InstanceID,
	})

	scheduler := retry.NewScheduler(rdb, l)

	dispatcher := retry.NewDispatcher(l, scheduler, pub, retry.Config{
		PollInterval:    cfg.Retry.PollInterval,
		PollBatch:       cfg.Retry.PollBatch,
		ChunkSize:       cfg.Retry.ChunkSize,
		Workers:         cfg.Retry.Workers,
		PublishTimeout:  cfg.Retry.PublishTimeout,
		ReclaimInterval: cfg.Retry.ReclaimInterval,
		InflightMaxAge:  cfg.Retry.InflightMaxAge,
	})

	svc := payment.NewService(l, payment.Deps{
		IDs:       ids,
		Orders:    payment.NewPostgresRepository(pg.Extractor),
		Outbox:    ob,
		Retries:   scheduler,
		Ledger:    payment.NewOutboxLedgerRecorder(ids, ob),
		Publisher: pub,
		Gateway:   psp.NewHTTPGateway(cfg.PSP.BaseURL, cfg.PSP.BackgroundTimeout),
		TxManager: pg.Manager,
	}, payment.Config{
		MaxRetry: cfg.Payment.MaxRetry,
		Backoff: retry.Backoff{
			Base:   cfg.Payment.BackoffBase,
			Max:    cfg.Payment.BackoffMax,
			Jitter: cfg.Payment.BackoffJitter,
		},
		Caller: psp.CallerConfig{
			Timeout:           cfg.PSP.Timeout,
			BackgroundTimeout: cfg.PSP.BackgroundTimeout,
		},
	})

	handler := consumer.New(l, svc, consumer.Config{ProcessTimeout: cfg.Consumer.ProcessTimeout})

	admin := &http.Server{
		Addr: cfg.Admin.Addr,
		Handler: newAdminRouter(l, ob, scheduler, svc,
			HealthCheck{Name: "postgres", Check: func(ctx context.Context) error {
				_, err := pg.Pool.Exec(ctx, "SELECT 1")
				return err
			}},
			HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}},
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pub.Monitor(runCtx)
	ob.Start()
	dispatcher.Start()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		go consumeErrors(gctx, log, group)
		return handler.Run(gctx, group)
	})

	g.Go(func() error {
		log.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
		defer cancel()

		log.Info("shutting down")

		errs := []error{
			admin.Shutdown(shutdownCtx),
			group.Close(),
			ob.Stop(shutdownCtx),
			dispatcher.Stop(shutdownCtx),
			shutdownTracing(shutdownCtx),
		}

		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("stopped")

	return nil
}

// consumeErrors logs the errors sarama returns outside of Consume.
func consumeErrors(ctx context.Context, log *slog.Logger, group sarama.ConsumerGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-group.Errors():
			if !ok {
				return
			}
			log.Error("consumer group error", slog.String("error", err.Error()))
		}
	}
}

func closeProducers(log *slog.Logger, producers []publisher.TxnProducer) {
	for _, p := range producers {
		if err := p.Close(); err != nil {
			log.Error("close producer", slog.String("error", err.Error()))
		}
	}
}
