package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig   `yaml:"server"`
	Database     DatabaseConfig `yaml:"database"`
	RabbitMQ     RabbitMQConfig `yaml:"rabbitmq"`
	Redis        RedisConfig    `yaml:"redis"`
	Logging      LoggingConfig  `yaml:"logging"`
	App          AppConfig      `yaml:"app"`
	Worker       WorkerConfig   `yaml:"worker"`
	Escrow       EscrowConfig   `yaml:"escrow"`
	Verification GatewayConfig  `yaml:"verification"`
	Attestation  GatewayConfig  `yaml:"attestation"`
	Indexer      IndexerConfig  `yaml:"indexer"`
	Chain        ChainConfig    `yaml:"chain"`
	Auth         AuthConfig     `yaml:"auth"`
	Secrets      Secrets        `yaml:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration. The API service only
// publishes and leaves Name empty.
type QueueConfig struct {
	Name               string   `yaml:"name"`
	Durable            bool     `yaml:"durable"`
	AutoDelete         bool     `yaml:"auto_delete"`
	Exclusive          bool     `yaml:"exclusive"`
	BindingKeys        []string `yaml:"binding_keys"`
	DeadLetterExchange string   `yaml:"dead_letter_exchange"`
	DeadLetterQueue    string   `yaml:"dead_letter_queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int    `yaml:"prefetch_count"`
	Tag           string `yaml:"tag"`
}

// RedisConfig holds the session store connection
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxJobs           int           `yaml:"max_jobs"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// EscrowConfig sets the minimum escrow. Amounts are decimal strings so the
// floor/price division stays exact.
type EscrowConfig struct {
	MinimumUSD    string `yaml:"minimum_usd"`
	TokenPriceUSD string `yaml:"token_price_usd"`
}

// GatewayConfig locates an agent behind the TEE gateway
type GatewayConfig struct {
	BaseURL      string        `yaml:"base_url"`
	AgentCID     string        `yaml:"agent_cid"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryMax     int           `yaml:"retry_max"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max"`
	RateLimit    float64       `yaml:"rate_limit"`
	Burst        int           `yaml:"burst"`
}

// IndexerConfig locates the attestation GraphQL indexer
type IndexerConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ChainConfig holds escrow contract settings
type ChainConfig struct {
	Enabled               bool          `yaml:"enabled"`
	RPCURL                string        `yaml:"rpc_url"`
	ChainID               int64         `yaml:"chain_id"`
	ContractAddress       string        `yaml:"contract_address"`
	SchemaRegistryAddress string        `yaml:"schema_registry_address"`
	ReceiptTimeout        time.Duration `yaml:"receipt_timeout"`
}

// AuthConfig holds OIDC sign-in settings
type AuthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DiscoveryURL string        `yaml:"discovery_url"`
	RedirectURL  string        `yaml:"redirect_url"`
	Scope        string        `yaml:"scope"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	CookieName   string        `yaml:"cookie_name"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// Secrets are read from the environment, never from the config file
type Secrets struct {
	PhalaSecretKey     string `env:"PHALA_SECRET_KEY"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
	PhalaViemSecretKey string `env:"PHALA_VIEM_SECRET_KEY"`
	ViemAgentCID       string `env:"VIEM_AGENT_CID"`
	PrivateKey         string `env:"PRIVATE_KEY"`
	WLDClientID        string `env:"WLD_CLIENT_ID"`
	WLDClientSecret    string `env:"WLD_CLIENT_SECRET"`
	DBPassword         string `env:"DB_PASSWORD"`
	RabbitMQPassword   string `env:"RABBITMQ_PASSWORD"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadSecrets parses secrets from the process environment
func LoadSecrets() (Secrets, error) {
	return parseSecrets(env.Options{})
}

func parseSecrets(opts env.Options) (Secrets, error) {
	var s Secrets
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Secrets{}, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return s, nil
}

// ApplySecrets stores s and lets non-empty passwords override the file
func (c *Config) ApplySecrets(s Secrets) {
	c.Secrets = s
	if s.DBPassword != "" {
		c.Database.Password = s.DBPassword
	}
	if s.RabbitMQPassword != "" {
		c.RabbitMQ.Password = s.RabbitMQPassword
	}
	if s.RedisPassword != "" {
		c.Redis.Password = s.RedisPassword
	}
	if s.ViemAgentCID != "" {
		c.Attestation.AgentCID = s.ViemAgentCID
	}
}

// Validate checks the settings both services share
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.Attestation.BaseURL == "" || c.Attestation.AgentCID == "" {
		return fmt.Errorf("attestation gateway base_url and agent_cid are required")
	}

	if c.Chain.Enabled {
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("chain rpc_url is required when chain is enabled")
		}
		if c.Chain.ContractAddress == "" {
			return fmt.Errorf("chain contract_address is required when chain is enabled")
		}
	}

	return nil
}

// ValidateAPIConfig checks the API service configuration
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.Validate(); err != nil {
		return err
	}

	if c.Verification.BaseURL == "" || c.Verification.AgentCID == "" {
		return fmt.Errorf("verification gateway base_url and agent_cid are required")
	}

	if _, err := c.MinimumEscrow(); err != nil {
		return err
	}

	if c.Auth.Enabled {
		if c.Auth.DiscoveryURL == "" || c.Auth.RedirectURL == "" {
			return fmt.Errorf("auth discovery_url and redirect_url are required when auth is enabled")
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required when auth is enabled")
		}
	}

	return nil
}

// ValidateWorkerConfig checks the worker service configuration
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if len(c.RabbitMQ.Queue.BindingKeys) == 0 {
		return fmt.Errorf("rabbitmq queue binding_keys are required")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker max_attempts must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

// MinimumEscrow computes the escrow floor in base units. Unset values
// default to a 1 USD floor at a 1.01 USD token price.
func (c *Config) MinimumEscrow() (*big.Int, error) {
	floor := c.Escrow.MinimumUSD
	if floor == "" {
		floor = "1"
	}
	price := c.Escrow.TokenPriceUSD
	if price == "" {
		price = "1.01"
	}

	minimum, err := domain.MinimumEscrow(floor, price)
	if err != nil {
		return nil, fmt.Errorf("invalid escrow config: %w", err)
	}
	return minimum, nil
}
