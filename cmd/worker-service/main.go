package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/gigmarket/internal/api/storage"
	"github.com/cuongbtq/gigmarket/internal/chain"
	"github.com/cuongbtq/gigmarket/internal/config"
	"github.com/cuongbtq/gigmarket/internal/gateway"
	"github.com/cuongbtq/gigmarket/internal/gateway/attestation"
	"github.com/cuongbtq/gigmarket/internal/gateway/verification"
	"github.com/cuongbtq/gigmarket/internal/lifecycle"
	"github.com/cuongbtq/gigmarket/internal/worker"
	"github.com/cuongbtq/gigmarket/shared/logger"
	"github.com/cuongbtq/gigmarket/shared/postgresql"
	"github.com/cuongbtq/gigmarket/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		return err
	}
	cfg.ApplySecrets(secrets)

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := storage.MigrateUp(dbClient.GetDB(), appLogger.Logger); err != nil {
			return err
		}
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	controller, closeChain, err := initController(cfg, dbClient, rabbitClient, appLogger.Logger)
	if err != nil {
		return err
	}
	defer closeChain()

	// Create worker instance
	workerID := consumerTag(cfg.RabbitMQ.Consumer.Tag)
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.With(slog.String("component", "attestation-worker")).Logger,
		Jobs:              controller,
		Broker:            rabbitClient,
		WorkerID:          workerID,
		Concurrency:       cfg.Worker.Concurrency,
		MaxJobs:           cfg.Worker.MaxJobs,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		RetryBackoff:      cfg.Worker.RetryBackoff,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Stop taking deliveries, let in-flight jobs settle
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, canceling in-flight jobs")
		cancel()
		<-done
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initController wires the lifecycle controller the worker attests through
func initController(cfg *config.Config, dbClient *postgresql.Client, rabbitClient *rabbitmq.Client, logger *slog.Logger) (*lifecycle.Controller, func(), error) {
	verifier, err := verification.NewClient(verification.Config{
		BaseURL:   cfg.Verification.BaseURL,
		AgentCID:  cfg.Verification.AgentCID,
		SecretKey: cfg.Secrets.PhalaSecretKey,
		OpenAIKey: cfg.Secrets.OpenAIAPIKey,
	}, newCaller(cfg.Verification, logger))
	if err != nil {
		return nil, nil, err
	}

	attester, err := attestation.NewClient(attestation.Config{
		BaseURL:   cfg.Attestation.BaseURL,
		AgentCID:  cfg.Attestation.AgentCID,
		SecretKey: cfg.Secrets.PhalaViemSecretKey,
	}, newCaller(cfg.Attestation, logger))
	if err != nil {
		return nil, nil, err
	}

	minimum, err := cfg.MinimumEscrow()
	if err != nil {
		return nil, nil, err
	}

	lifecycleCfg := lifecycle.Config{
		Store:         storage.NewStorage(dbClient),
		Verifier:      verifier,
		Attester:      attester,
		Publisher:     rabbitClient,
		MinimumEscrow: minimum,
		Logger:        logger,
	}

	closeChain := func() {}
	if cfg.Chain.Enabled && cfg.Secrets.PrivateKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		chainClient, err := chain.Dial(ctx, chain.Config{
			RPCURL:                cfg.Chain.RPCURL,
			ChainID:               cfg.Chain.ChainID,
			ContractAddress:       cfg.Chain.ContractAddress,
			SchemaRegistryAddress: cfg.Chain.SchemaRegistryAddress,
			PrivateKey:            cfg.Secrets.PrivateKey,
			ReceiptTimeout:        cfg.Chain.ReceiptTimeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize chain client: %w", err)
		}
		lifecycleCfg.Escrow = chainClient
		closeChain = chainClient.Close
	}

	controller, err := lifecycle.NewController(lifecycleCfg)
	if err != nil {
		closeChain()
		return nil, nil, err
	}
	return controller, closeChain, nil
}

func newCaller(cfg config.GatewayConfig, logger *slog.Logger) *gateway.Caller {
	return gateway.NewCaller(gateway.Config{
		Timeout:      cfg.Timeout,
		RetryMax:     cfg.RetryMax,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
		RateLimit:    cfg.RateLimit,
		Burst:        cfg.Burst,
	}, logger)
}

// consumerTag makes the tag unique per host
func consumerTag(tag string) string {
	if tag == "" {
		tag = "attestation-worker"
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return tag + "-" + host
	}
	return tag
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client with the attestation queue
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		BindingKeys:        cfg.Queue.BindingKeys,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		DeadLetterQueue:    cfg.Queue.DeadLetterQueue,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
