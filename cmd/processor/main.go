package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"flashsale/internal/broker"
	"flashsale/internal/config"
	"flashsale/internal/consumer"
	"flashsale/internal/database"
	"flashsale/internal/monitor"
	"flashsale/internal/repository"
	"flashsale/internal/service/fulfill"
	"flashsale/pkg/limiter"
	"flashsale/pkg/log"
	"flashsale/pkg/snowflake"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to load config")
	}

	log.Init(log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})

	// database
	if err := database.Init(cfg); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize database")
	}
	defer database.Close()

	db := database.GetDB()
	if err := database.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}
	if err := database.CreateIndexes(db); err != nil {
		log.WithError(err).Fatal("Failed to create indexes")
	}

	// redis
	redisClient := redisv9.NewClient(&redisv9.Options{
		Addr:         cfg.Redis.GetAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.WithError(err).Fatal("Failed to connect to redis")
	}

	// broker
	var queueBroker broker.Broker
	switch cfg.Broker.Driver {
	case "memory":
		queueBroker = broker.NewMemoryBroker(broker.MemoryBrokerConfig{
			RetryDelay: cfg.Broker.RetryDelay,
		})
	default:
		queueBroker, err = broker.NewRabbitMQBroker(cfg.Broker)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to broker")
		}
	}
	defer queueBroker.Close()

	// fulfillment service
	goodsRepo := repository.NewGoodsRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	idGenerator, err := snowflake.NewIDGenerator(cfg.Pipeline.NodeID)
	if err != nil {
		log.WithError(err).Fatal("Failed to create ID generator")
	}

	gate, err := fulfill.NewStockGate(redisClient)
	if err != nil {
		log.WithError(err).Fatal("Failed to create stock gate")
	}

	fulfillSvc := fulfill.NewService(db, goodsRepo, orderRepo, gate, idGenerator, cfg.Pipeline.StoreTimeout)
	if err := fulfillSvc.WarmupStock(context.Background()); err != nil {
		// Warmup is an optimization; a cold gate is safe, just slower.
		log.WithError(err).Warn("Stock warmup failed, continuing with cold gate")
	}

	// observability
	metrics := monitor.NewMetricsCollector()
	tracer, err := monitor.NewTracer(&monitor.TracerConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Server.Mode,
		JaegerEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create tracer")
	}

	// pipeline
	processor := consumer.NewProcessor(
		fulfillSvc,
		queueBroker,
		metrics,
		tracer,
		cfg.Pipeline.MaxRetry,
		cfg.Pipeline.SimulateTransient,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mainConsumer := consumer.NewConsumer(queueBroker, processor, cfg.Pipeline.Workers)
	if err := mainConsumer.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start consumer")
	}

	terminalMonitor := consumer.NewTerminalMonitor(
		queueBroker,
		metrics,
		limiter.NewTokenBucketLimiter(1, 5), // at most bursts of 5 alerts, 1/s sustained
		nil,
	)
	if err := terminalMonitor.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start terminal queue monitor")
	}

	if mb, ok := queueBroker.(*broker.MemoryBroker); ok {
		go reportQueueDepth(ctx, mb, metrics)
	}

	// admin HTTP: metrics and health
	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, monitor.Handler())
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    cfg.Server.GetAddr(),
		Handler: mux,
	}
	go func() {
		log.WithField("addr", server.Addr).Info("Admin server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Admin server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	server.Shutdown(shutdownCtx)
	mainConsumer.Stop()
	terminalMonitor.Stop()
	tracer.Shutdown(shutdownCtx)
	log.Info("Shutdown complete")
}

func reportQueueDepth(ctx context.Context, b *broker.MemoryBroker, metrics *monitor.MetricsCollector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	queues := []string{broker.MainQueue, broker.RetryQueue, broker.DeadLetterQueue, broker.ParkingLotQueue}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queues {
				metrics.SetQueueDepth(q, float64(b.Depth(q)))
			}
		}
	}
}
