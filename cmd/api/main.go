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
	"github.com/DioGolang/BookingSaga/internal/infra/database"
	"github.com/DioGolang/BookingSaga/internal/infra/storage"
	"github.com/DioGolang/BookingSaga/internal/infra/web"
	"github.com/DioGolang/BookingSaga/internal/infra/web/handler"
	"github.com/DioGolang/BookingSaga/internal/infra/web/middleware"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/DioGolang/BookingSaga/pkg/metrics"
	pkgotel "github.com/DioGolang/BookingSaga/pkg/otel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := configs.LoadConfig(".")
	if err != nil {
		return err
	}
	if cfg.DBDriver == "memory" {
		return errors.New("the ops api needs a shared store, set DB_DRIVER to postgres or sqlite")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serviceName := cfg.ServiceName + "-api"
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

	healthOpts := []handler.HealthOption{
		handler.WithDatabase(stores.Dialect.String(), stores.DB),
		handler.WithRedis(rdb),
	}
	if cfg.Transport == "amqp" {
		healthOpts = append(healthOpts, handler.WithRabbitMQ(cfg.AMQPURL))
	}
	health, err := handler.NewHealthHandler(cfg.ServiceName, version, healthOpts...)
	if err != nil {
		return err
	}

	// Operator cancels go through the orchestrator; the worker's relay
	// publishes the resulting commands from the outbox.
	var uc saga.HandleUseCase = saga.NewOrchestrator(stores.Saga, cfg.Policy(), log,
		saga.WithMetrics(m),
		saga.WithMaxConflictRetries(cfg.MaxConflictRetries),
	)
	uc = &saga.HandleMetricsDecorator{Next: uc, Metrics: m}
	uc = saga.NewHandleTracingDecorator(uc)

	router := web.NewRouter(web.RouterDeps{
		ServiceName:    serviceName,
		Logger:         log,
		Metrics:        m,
		Health:         health,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Sagas:          handler.NewSagaHandler(stores.Saga, uc, log),
		WriteLimiter: middleware.NewRateLimiter(ctx, middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.CancelRateLimit,
			Burst:             cfg.CancelBurst,
		}),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.WebServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "Server running", logger.String("port", cfg.WebServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
