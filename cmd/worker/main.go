package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DioGolang/BookingSaga/configs"
	"github.com/DioGolang/BookingSaga/internal/application/usecase/saga"
	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/internal/infra/database"
	"github.com/DioGolang/BookingSaga/internal/infra/event"
	"github.com/DioGolang/BookingSaga/internal/infra/grpc/service"
	"github.com/DioGolang/BookingSaga/internal/infra/scheduler"
	"github.com/DioGolang/BookingSaga/internal/infra/storage"
	"github.com/DioGolang/BookingSaga/pkg/events"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/DioGolang/BookingSaga/pkg/metrics"
	pkgotel "github.com/DioGolang/BookingSaga/pkg/otel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

type startFunc func(ctx context.Context, handler event.MessageHandler) error

func run() error {
	cfg, err := configs.LoadConfig(".")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serviceName := cfg.ServiceName + "-worker"
	log := logger.NewLogger(serviceName, cfg.IsProduction())

	shutdownTracer, err := pkgotel.InitProvider(ctx, serviceName, version, cfg.Environment, cfg.OTelCollector)
	if err != nil {
		return err
	}
	defer shutdownTracer()

	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(reg, serviceName)

	stores, err := database.NewStores(ctx, cfg.DBDriver, cfg.DSN())
	if err != nil {
		return err
	}
	defer stores.Close()

	rdb, err := storage.NewRedisClient(ctx, cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var backend scheduler.Backend = scheduler.NewRedisBackend(rdb, "")
	if cfg.SchedulerBackend == "memory" {
		backend = scheduler.NewMemoryBackend()
	}
	sched := scheduler.New(backend, scheduler.Config{
		PollInterval: cfg.SchedulerPollInterval,
		BatchSize:    cfg.SchedulerBatchSize,
		Lease:        cfg.SchedulerLease,
		FireRate:     cfg.SchedulerFireRate,
	}, log.With(logger.String("component", "scheduler")), m)

	var uc saga.HandleUseCase = saga.NewOrchestrator(stores.Saga, cfg.Policy(), log,
		saga.WithMetrics(m),
		saga.WithMaxConflictRetries(cfg.MaxConflictRetries),
	)
	uc = &saga.HandleMetricsDecorator{Next: uc, Metrics: m}
	uc = saga.NewHandleTracingDecorator(uc)

	handler := event.NewSagaMessageHandler(uc, log)
	handler = event.WrapExponentialBackoff(log, m, "saga_events", cfg.ConsumerRetries, 200*time.Millisecond, handler)
	handler = event.WrapResilientConsumer(m, "saga_events", cfg.ConsumerTimeout, event.NewCircuitBreaker("saga-events"), handler)
	handler = event.WrapIdempotency(log, m, storage.NewRedisAdapter(rdb), "saga_events", cfg.IdempotencyTTL, handler)

	health := service.NewHealthServer(log, 10*time.Second)
	health.AddProbe("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	if stores.DB != nil {
		health.AddProbe(stores.Dialect.String(), stores.DB.PingContext)
	}

	var (
		dispatcher events.EventDispatcher
		start      startFunc
	)
	switch cfg.Transport {
	case "nats":
		nt, err := event.NewNATSTransport(event.NATSConfig{URL: cfg.NATSURL, Stream: cfg.NATSStream}, log)
		if err != nil {
			return err
		}
		defer nt.Close()
		dispatcher, start = nt, nt.Start
		health.AddProbe("nats", func(context.Context) error { return nt.Ping() })
	default:
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("amqp dial: %w", err)
		}
		defer conn.Close()
		d, err := event.NewDispatcher(conn, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer d.Close()
		consumer := event.NewConsumer(conn, event.TopologyConfig{
			Exchange: cfg.AMQPExchange,
			Queue:    cfg.AMQPQueue,
			Prefetch: cfg.AMQPPrefetch,
		}, log)
		dispatcher, start = d, consumer.Start
		health.AddProbe("rabbitmq", func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("amqp connection closed")
			}
			return nil
		})
	}

	relay := event.NewOutboxRelay(stores.Outbox, dispatcher, sched, log.With(logger.String("component", "outbox")), m, event.RelayConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		Workers:      cfg.OutboxWorkers,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		Retention:    cfg.OutboxRetention,
	})
	if _, err := relay.ScheduleMaintenance(ctx, cfg.OutboxRescueSchedule); err != nil {
		return err
	}

	fire := func(ctx context.Context, evt message.TimeoutExpired) error {
		_, err := uc.Handle(ctx, evt)
		return err
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info(ctx, "🚀 Worker started",
		logger.String("transport", cfg.Transport),
		logger.String("db_driver", cfg.DBDriver))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return start(gCtx, handler) })
	g.Go(func() error { return sched.Run(gCtx, fire) })
	g.Go(func() error { return relay.Run(gCtx) })
	g.Go(func() error { return health.Serve(gCtx, ":"+cfg.GRPCPort) })
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutCtx)
	})

	err = g.Wait()
	log.Info(context.Background(), "Worker stopped")
	return err
}
