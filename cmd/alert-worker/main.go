// Package main provides the alert worker entry point. It consumes dose and
// stock events, recomputes the affected senior's caregiver alerts and
// publishes them to the alerts topic.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/alerting"
	"github.com/carelink/pillwise/internal/bootstrap"
	"github.com/carelink/pillwise/internal/config"
	"github.com/carelink/pillwise/internal/infrastructure/redpanda"
	"github.com/carelink/pillwise/internal/observability/logging"
	"github.com/carelink/pillwise/internal/observability/metrics"
	"github.com/carelink/pillwise/internal/observability/tracing"
	"github.com/carelink/pillwise/pkg/circuitbreaker"
	"github.com/carelink/pillwise/pkg/idempotency"
)

const serviceName = "alert-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", serviceName))

	ctx := context.Background()

	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)
	breakers := circuitbreaker.NewManager(logger, func(name string, _, to circuitbreaker.State) {
		m.SetBreakerState(name, string(to))
	})

	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store setup failed", zap.Error(err))
	}
	defer stores.Close()

	tracker, err := bootstrap.NewTracker(cfg, stores, logger)
	if err != nil {
		logger.Fatal("tracker setup failed", zap.Error(err))
	}

	// without postgres there is no inbox and redeliveries republish the same snapshot
	var inbox alerting.Deduplicator
	if stores.Pool != nil {
		in := idempotency.NewInbox(stores.Pool, idempotency.DefaultInboxConfig(), logger.Named("inbox"))
		in.StartCleanup()
		defer in.Stop()
		inbox = in
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, func(n int) {
		m.KafkaMessagesProduced.Add(float64(n))
	}, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	publishBreaker, err := breakers.GetOrCreate(circuitbreaker.AlertPublishing,
		circuitbreaker.DefaultConfig(circuitbreaker.AlertPublishing))
	if err != nil {
		logger.Fatal("breaker setup failed", zap.Error(err))
	}

	worker, err := alerting.New(alerting.DefaultConfig(), tracker, producer, inbox, publishBreaker, m, logger)
	if err != nil {
		logger.Fatal("worker creation failed", zap.Error(err))
	}
	worker.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = serviceName
	consumerCfg.Topics = []string{redpanda.TopicDoseEvents}

	consumer, err := redpanda.NewConsumer(consumerCfg, worker.Handle, m.KafkaMessagesConsumed.Inc, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()
	logger.Info("alert worker started", zap.Strings("brokers", cfg.KafkaBrokers))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop", zap.Error(err))
	}
	if err := worker.Stop(); err != nil {
		logger.Warn("worker stop", zap.Error(err))
	}
	logger.Info("alert worker stopped")
}
