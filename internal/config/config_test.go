package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "gigmarket_db", cfg.Database.Database)
				assert.Equal(t, "gigmarket.events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "topic", cfg.RabbitMQ.Exchange.Type)
				assert.Equal(t, "gigmarket.attestations", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, []string{"job.validated"}, cfg.RabbitMQ.Queue.BindingKeys)
				assert.Equal(t, "gigmarket.dlx", cfg.RabbitMQ.Queue.DeadLetterExchange)
				assert.Equal(t, "gigmarket-api", cfg.App.Name)
				assert.Equal(t, 2*time.Minute, cfg.Worker.JobTimeout)
				assert.Equal(t, "1.01", cfg.Escrow.TokenPriceUSD)
				assert.Equal(t, "QmViemAgent", cfg.Attestation.AgentCID)
				assert.Equal(t, int64(84532), cfg.Chain.ChainID)
				assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "gigmarket_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "gigmarket.events",
			},
			Queue: QueueConfig{
				Name:        "gigmarket.attestations",
				BindingKeys: []string{"job.validated"},
			},
		},
		Worker: WorkerConfig{
			Concurrency:     2,
			MaxAttempts:     3,
			JobTimeout:      time.Minute,
			ShutdownTimeout: time.Second,
		},
		Verification: GatewayConfig{BaseURL: "https://gw", AgentCID: "QmVerify"},
		Attestation:  GatewayConfig{BaseURL: "https://gw", AgentCID: "QmViem"},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "publisher without queue",
			mutate:  func(c *Config) { c.RabbitMQ.Queue = QueueConfig{} },
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "missing verification agent",
			mutate:    func(c *Config) { c.Verification.AgentCID = "" },
			wantErr:   true,
			errString: "verification gateway",
		},
		{
			name:      "missing attestation gateway",
			mutate:    func(c *Config) { c.Attestation.BaseURL = "" },
			wantErr:   true,
			errString: "attestation gateway",
		},
		{
			name:      "zero token price",
			mutate:    func(c *Config) { c.Escrow.TokenPriceUSD = "0" },
			wantErr:   true,
			errString: "invalid escrow config",
		},
		{
			name:      "chain enabled without rpc",
			mutate:    func(c *Config) { c.Chain = ChainConfig{Enabled: true, ContractAddress: "0x1"} },
			wantErr:   true,
			errString: "chain rpc_url is required",
		},
		{
			name: "auth enabled without redis",
			mutate: func(c *Config) {
				c.Auth = AuthConfig{Enabled: true, DiscoveryURL: "https://id", RedirectURL: "http://cb"}
			},
			wantErr:   true,
			errString: "redis addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "no binding keys",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.BindingKeys = nil },
			errString: "binding_keys are required",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero max attempts",
			mutate:    func(c *Config) { c.Worker.MaxAttempts = 0 },
			errString: "worker max_attempts must be greater than 0",
		},
		{
			name:      "zero job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = 0 },
			errString: "worker job_timeout must be greater than 0",
		},
	}

	require.NoError(t, validConfig().ValidateWorkerConfig())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateWorkerConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})

	t.Run("shipped service configs are valid", func(t *testing.T) {
		api, err := Load("../../configs/api-service/config.yaml")
		require.NoError(t, err)
		assert.NoError(t, api.ValidateAPIConfig())

		worker, err := Load("../../configs/worker-service/config.yaml")
		require.NoError(t, err)
		assert.NoError(t, worker.ValidateWorkerConfig())
	})
}

func TestParseSecrets(t *testing.T) {
	secrets, err := parseSecrets(env.Options{Environment: map[string]string{
		"PHALA_SECRET_KEY":      "phala",
		"OPENAI_API_KEY":        "sk-test",
		"PHALA_VIEM_SECRET_KEY": "viem",
		"VIEM_AGENT_CID":        "QmFromEnv",
		"PRIVATE_KEY":           "0xabc",
		"DB_PASSWORD":           "env-password",
	}})
	require.NoError(t, err)

	assert.Equal(t, "phala", secrets.PhalaSecretKey)
	assert.Equal(t, "sk-test", secrets.OpenAIAPIKey)
	assert.Equal(t, "viem", secrets.PhalaViemSecretKey)
	assert.Equal(t, "0xabc", secrets.PrivateKey)
	assert.Empty(t, secrets.WLDClientID)

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)
	cfg.ApplySecrets(secrets)

	assert.Equal(t, "env-password", cfg.Database.Password)
	assert.Equal(t, "guest", cfg.RabbitMQ.Password, "empty secrets keep file values")
	assert.Equal(t, "QmFromEnv", cfg.Attestation.AgentCID)
	assert.Equal(t, "sk-test", cfg.Secrets.OpenAIAPIKey)
}

func TestConfig_MinimumEscrow(t *testing.T) {
	cfg := &Config{}
	minimum, err := cfg.MinimumEscrow()
	require.NoError(t, err)
	assert.Equal(t, "990099009900990100", minimum.String())

	cfg.Escrow = EscrowConfig{MinimumUSD: "5", TokenPriceUSD: "2"}
	minimum, err = cfg.MinimumEscrow()
	require.NoError(t, err)
	assert.Equal(t, "2500000000000000000", minimum.String())
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
