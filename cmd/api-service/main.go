package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/gigmarket/internal/api/handler"
	"github.com/cuongbtq/gigmarket/internal/api/router"
	"github.com/cuongbtq/gigmarket/internal/api/storage"
	"github.com/cuongbtq/gigmarket/internal/auth"
	"github.com/cuongbtq/gigmarket/internal/chain"
	"github.com/cuongbtq/gigmarket/internal/config"
	"github.com/cuongbtq/gigmarket/internal/gateway"
	"github.com/cuongbtq/gigmarket/internal/gateway/attestation"
	"github.com/cuongbtq/gigmarket/internal/gateway/indexer"
	"github.com/cuongbtq/gigmarket/internal/gateway/verification"
	"github.com/cuongbtq/gigmarket/internal/lifecycle"
	"github.com/cuongbtq/gigmarket/shared/logger"
	"github.com/cuongbtq/gigmarket/shared/postgresql"
	"github.com/cuongbtq/gigmarket/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
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

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), time.Minute)
	defer startupCancel()

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

	verifier, attester, attestationIndex, err := initGateways(cfg, appLogger.Logger)
	if err != nil {
		return err
	}

	minimum, err := cfg.MinimumEscrow()
	if err != nil {
		return err
	}

	lifecycleCfg := lifecycle.Config{
		Store:         storage.NewStorage(dbClient),
		Verifier:      verifier,
		Attester:      attester,
		Publisher:     rabbitClient,
		MinimumEscrow: minimum,
		Logger:        appLogger.Logger,
	}

	deps := &handler.Dependencies{
		Logger:         appLogger.Logger,
		Signer:         attester,
		Indexer:        attestationIndex,
		Health:         healthChecks{dbClient, rabbitClient},
		CookieName:     cfg.Auth.CookieName,
		CookieSecure:   cfg.Auth.CookieSecure,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ServiceName:    cfg.App.Name,
	}

	if cfg.Chain.Enabled {
		chainClient, err := initChain(startupCtx, cfg, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize chain client: %w", err)
		}
		defer chainClient.Close()

		deps.Chain = chainClient
		if cfg.Secrets.PrivateKey != "" {
			lifecycleCfg.Escrow = chainClient
		}
	}

	controller, err := lifecycle.NewController(lifecycleCfg)
	if err != nil {
		return err
	}
	deps.Jobs = controller

	if cfg.Auth.Enabled {
		redisClient, authService, err := initAuth(startupCtx, cfg, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize sign-in: %w", err)
		}
		defer redisClient.Close()

		deps.Auth = authService
		appLogger.Info("Sign-in enabled", slog.String("discovery_url", cfg.Auth.DiscoveryURL))
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, deps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
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

// initRabbitMQ initializes the RabbitMQ client in publisher mode
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

// initGateways builds the verification, signing and indexer clients
func initGateways(cfg *config.Config, logger *slog.Logger) (*verification.Client, *attestation.Client, *indexer.Client, error) {
	verifier, err := verification.NewClient(verification.Config{
		BaseURL:   cfg.Verification.BaseURL,
		AgentCID:  cfg.Verification.AgentCID,
		SecretKey: cfg.Secrets.PhalaSecretKey,
		OpenAIKey: cfg.Secrets.OpenAIAPIKey,
	}, newCaller(cfg.Verification, logger))
	if err != nil {
		return nil, nil, nil, err
	}

	attester, err := attestation.NewClient(attestation.Config{
		BaseURL:   cfg.Attestation.BaseURL,
		AgentCID:  cfg.Attestation.AgentCID,
		SecretKey: cfg.Secrets.PhalaViemSecretKey,
	}, newCaller(cfg.Attestation, logger))
	if err != nil {
		return nil, nil, nil, err
	}

	attestationIndex, err := indexer.NewClient(cfg.Indexer.Endpoint, gateway.NewCaller(gateway.Config{
		Timeout: cfg.Indexer.Timeout,
	}, logger))
	if err != nil {
		return nil, nil, nil, err
	}

	return verifier, attester, attestationIndex, nil
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

// initChain dials the escrow contract; writes need PRIVATE_KEY
func initChain(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*chain.Client, error) {
	return chain.Dial(ctx, chain.Config{
		RPCURL:                cfg.Chain.RPCURL,
		ChainID:               cfg.Chain.ChainID,
		ContractAddress:       cfg.Chain.ContractAddress,
		SchemaRegistryAddress: cfg.Chain.SchemaRegistryAddress,
		PrivateKey:            cfg.Secrets.PrivateKey,
		ReceiptTimeout:        cfg.Chain.ReceiptTimeout,
	}, logger)
}

// initAuth connects Redis and discovers the identity provider
func initAuth(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, *auth.Service, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	provider, err := auth.NewProvider(ctx, auth.ProviderConfig{
		ClientID:     cfg.Secrets.WLDClientID,
		ClientSecret: cfg.Secrets.WLDClientSecret,
		RedirectURL:  cfg.Auth.RedirectURL,
		Scope:        cfg.Auth.Scope,
		DiscoveryURL: cfg.Auth.DiscoveryURL,
	})
	if err != nil {
		redisClient.Close()
		return nil, nil, err
	}

	service := auth.NewService(auth.ServiceOptions{
		Provider:   provider,
		Store:      auth.NewRedisStore(redisClient),
		SessionTTL: cfg.Auth.SessionTTL,
		Logger:     logger,
	})

	return redisClient, service, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Setup router
	return router.SetupRouter(deps)
}

// healthChecks fails on the first unhealthy dependency
type healthChecks []handler.HealthChecker

func (h healthChecks) HealthCheck(ctx context.Context) error {
	for _, check := range h {
		if err := check.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}
