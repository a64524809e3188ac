package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sagaflow/sagaflow/config"
	"github.com/sagaflow/sagaflow/pkg/api"
	"github.com/sagaflow/sagaflow/pkg/api/handlers"
	"github.com/sagaflow/sagaflow/pkg/kafka"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/metrics"
	"github.com/sagaflow/sagaflow/pkg/saga"
	badgerstore "github.com/sagaflow/sagaflow/pkg/storage/badger"
	"github.com/sagaflow/sagaflow/pkg/stream"
	"github.com/sagaflow/sagaflow/pkg/telemetry/tracing"
	"github.com/sagaflow/sagaflow/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	// Initialize logger with configuration
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting Sagaflow",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize tracing
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize event and state stores
	var (
		events saga.EventStore
		states saga.StateStore
		store  *badgerstore.Store
	)
	switch cfg.Storage.Type {
	case "badger":
		store, err = badgerstore.Open(&badgerstore.Config{
			Path:              cfg.Storage.Badger.Path,
			SyncWrites:        cfg.Storage.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Storage.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Storage.Badger.NumVersionsToKeep,
		}, log)
		if err != nil {
			log.Error("Failed to open Badger storage", "error", err)
			os.Exit(1)
		}
		events, err = saga.NewBadgerEventStore(store.DB())
		if err != nil {
			log.Error("Failed to create event store", "error", err)
			os.Exit(1)
		}
		states, err = saga.NewBadgerStateStore(store.DB())
		if err != nil {
			log.Error("Failed to create state store", "error", err)
			os.Exit(1)
		}
		log.Info("Initialized Badger storage", "path", cfg.Storage.Badger.Path)
	default:
		events = saga.NewMemoryEventStore()
		states = saga.NewMemoryStateStore()
		log.Info("Initialized memory storage")
	}

	// Build the saga registry from declared definitions
	registry, err := buildRegistry(cfg)
	if err != nil {
		log.Error("Failed to build saga registry", "error", err)
		os.Exit(1)
	}
	log.Info("Registered saga types", "types", registry.Types())

	// Initialize metrics manager
	metricsManager := metrics.NewManager(metrics.Config{
		Enabled:             cfg.Metrics.Enabled,
		Port:                cfg.Metrics.Port,
		Path:                cfg.Metrics.Path,
		SagaDurationBuckets: metrics.DefaultConfig().SagaDurationBuckets,
		HTTPDurationBuckets: metrics.DefaultConfig().HTTPDurationBuckets,
	})
	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Kafka transport: command dispatcher + response consumer
	dispatcher, err := kafka.NewDispatcher(kafka.DispatcherConfig{
		Brokers:      cfg.Kafka.Brokers,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		WriteTimeout: cfg.Kafka.WriteTimeout,
		Retry: kafka.RetryConfig{
			MaxRetries:     cfg.Kafka.Retry.MaxRetries,
			InitialBackoff: cfg.Kafka.Retry.InitialBackoff,
			MaxBackoff:     cfg.Kafka.Retry.MaxBackoff,
			BackoffFactor:  cfg.Kafka.Retry.BackoffFactor,
		},
	}, log)
	if err != nil {
		log.Error("Failed to create Kafka dispatcher", "error", err)
		os.Exit(1)
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Saga.ResponseTopic,
		GroupID:  cfg.Saga.ConsumerGroup,
		MinBytes: cfg.Kafka.MinBytes,
		MaxBytes: cfg.Kafka.MaxBytes,
		MaxWait:  cfg.Kafka.MaxWait,
	})
	if err != nil {
		log.Error("Failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}

	// Stream fan-out: local broadcaster plus optional Redis bus
	broadcaster := stream.NewBroadcaster()
	var bus *stream.RedisBus
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bus = stream.NewRedisBus(redisClient, cfg.Redis.ChannelPrefix, cfg.Redis.SubscriberBuffer)
		log.Info("Initialized Redis stream bus", "address", cfg.Redis.Address)
	}
	notifier := stream.NewNotifier(broadcaster, bus, log)

	// Orchestrator core
	orchestrator, err := saga.NewOrchestrator(registry, events, states, dispatcher,
		saga.WithLogger(log),
		saga.WithMetrics(metricsManager),
		saga.WithNotifier(notifier),
		saga.WithConflictRetries(cfg.Saga.ConflictRetries),
		saga.WithCompensationRetry(saga.CompensationRetryConfig{
			MaxRetries:     cfg.Saga.Compensation.MaxRetries,
			InitialBackoff: cfg.Saga.Compensation.InitialBackoff,
			MaxBackoff:     cfg.Saga.Compensation.MaxBackoff,
			BackoffFactor:  cfg.Saga.Compensation.BackoffFactor,
		}),
	)
	if err != nil {
		log.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	// Response listener over the shared response topic
	listener, err := saga.NewListener(consumer, orchestrator,
		saga.WithListenerLogger(log),
		saga.WithListenerMetrics(metricsManager),
		saga.WithListenerMaxAttempts(cfg.Saga.Listener.MaxAttempts),
		saga.WithListenerRetryDelay(cfg.Saga.Listener.RetryDelay),
	)
	if err != nil {
		log.Error("Failed to create response listener", "error", err)
		os.Exit(1)
	}
	go func() {
		log.Info("Starting response listener",
			"topic", cfg.Saga.ResponseTopic, "group", cfg.Saga.ConsumerGroup)
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("Response listener stopped", "error", err)
		}
	}()

	// Timeout sweeper for stalled sagas
	sweeper, err := saga.NewSweeper(orchestrator, states, events, registry, saga.SweeperConfig{
		Interval:        cfg.Saga.Sweeper.Interval,
		MaxRedispatches: cfg.Saga.Sweeper.MaxRedispatches,
	}, log)
	if err != nil {
		log.Error("Failed to create timeout sweeper", "error", err)
		os.Exit(1)
	}
	go func() {
		log.Info("Starting timeout sweeper", "interval", cfg.Saga.Sweeper.Interval)
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("Timeout sweeper stopped", "error", err)
		}
	}()

	// HTTP API
	wsHandler := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
	})
	wsFeed := broadcaster.Subscribe("", 128)
	go wsHandler.StreamSagaEvents(wsFeed)

	readinessChecks := []handlers.ReadinessCheck{}
	if store != nil {
		readinessChecks = append(readinessChecks, handlers.ReadinessCheck{
			Name:  "badger",
			Check: store.Healthy,
		})
	}
	if bus != nil {
		readinessChecks = append(readinessChecks, handlers.ReadinessCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				if !bus.Healthy() {
					return fmt.Errorf("redis stream bus unavailable")
				}
				return nil
			},
		})
	}

	apiHandlers := &api.Handlers{
		Saga:      handlers.NewSagaHandler(orchestrator, states, events, registry, log),
		Stream:    handlers.NewStreamHandler(states, events, broadcaster, bus, log),
		WebSocket: wsHandler,
		Health:    handlers.NewHealthHandler(readinessChecks...),
		Metrics:   metricsManager,
	}
	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("Sagaflow is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"saga_types", len(registry.Types()),
	)

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	// Graceful shutdown, dependency-reverse order
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}
	wsHandler.Close()

	// Stop listener and sweeper loops
	cancel()

	if err := consumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}
	if err := dispatcher.Close(); err != nil {
		log.Error("Error closing Kafka dispatcher", "error", err)
	}

	notifier.Close()
	broadcaster.Close()
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Error("Error closing Redis stream bus", "error", err)
		}
	}

	if store != nil {
		if err := store.Close(); err != nil {
			log.Error("Error closing storage", "error", err)
		}
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}

	log.Info("Sagaflow stopped gracefully")
}

// buildRegistry turns config-declared saga definitions into the
// immutable registry the orchestrator runs against.
func buildRegistry(cfg *config.Config) (*saga.Registry, error) {
	defs := make([]*saga.SagaDefinition, 0, len(cfg.Saga.Definitions))
	for _, defCfg := range cfg.Saga.Definitions {
		builder := saga.NewDefinition(defCfg.SagaType)
		for _, stepCfg := range defCfg.Steps {
			var opts []saga.StepOption
			if stepCfg.NoCompensation {
				opts = append(opts, saga.NoCompensation())
			} else if stepCfg.CompensationTopic != "" {
				opts = append(opts, saga.CompensationTopic(stepCfg.CompensationTopic))
			}
			if stepCfg.Timeout > 0 {
				opts = append(opts, saga.StepTimeout(stepCfg.Timeout))
			}
			builder.Step(stepCfg.Name, stepCfg.CommandTopic, opts...)
		}

		responseTopic := defCfg.ResponseTopic
		if responseTopic == "" {
			responseTopic = cfg.Saga.ResponseTopic
		}
		def, err := builder.ResponseTopic(responseTopic).Build()
		if err != nil {
			return nil, fmt.Errorf("saga definition %q: %w", defCfg.SagaType, err)
		}
		defs = append(defs, def)
	}
	return saga.NewRegistry(defs...)
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Sagaflow - Saga Orchestration Service\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Sagaflow - Kafka-driven saga orchestration service\n\n")
	fmt.Printf("Usage: sagaflow [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  sagaflow                                  # Run with default config\n")
	fmt.Printf("  sagaflow -config config.yaml              # Use specific config file\n")
	fmt.Printf("  sagaflow -port 9090 -log-level debug      # Override specific options\n")
	fmt.Printf("  sagaflow -version                         # Print version info\n")
}
