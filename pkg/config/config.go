package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the syncer configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Chains    []ChainConfig   `mapstructure:"chains"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Solver    SolverConfig    `mapstructure:"solver"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Quotes    QuotesConfig    `mapstructure:"quotes"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig contains the ops HTTP server settings (health + metrics)
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ChainConfig describes one chain the warehouse tracks. Autopools and their
// destinations are discovered on-chain starting from the registry contract.
type ChainConfig struct {
	Name               string        `mapstructure:"name"`
	ChainID            int64         `mapstructure:"chain_id"`
	RPCURL             string        `mapstructure:"rpc_url"`
	MulticallContract  string        `mapstructure:"multicall_contract"`
	RegistryContract   string        `mapstructure:"registry_contract"`
	FirstDeployBlock   int64         `mapstructure:"first_deploy_block"`
	FirstDeployDate    string        `mapstructure:"first_deploy_date"`
	ConfirmationBlocks int64         `mapstructure:"confirmation_blocks"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

// SyncConfig contains knobs for the incremental sync passes
type SyncConfig struct {
	ReceiptBatchSize   int           `mapstructure:"receipt_batch_size"`
	LogRangeBlocks     int64         `mapstructure:"log_range_blocks"`
	MulticallBatchSize int           `mapstructure:"multicall_batch_size"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryInitialDelay  time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	BlockLookupURL     string        `mapstructure:"block_lookup_url"`
	DayCoverageMin     time.Duration `mapstructure:"day_coverage_min"`
	DayEdgeOffsets     []int64       `mapstructure:"day_edge_offsets"`
	MaxRewardTokens    int           `mapstructure:"max_reward_tokens"`
	StateWorkers       int           `mapstructure:"state_workers"`
}

// SolverConfig contains settings for rebalance-plan ingestion from object storage
type SolverConfig struct {
	BucketURL      string        `mapstructure:"bucket_url"`
	Prefix         string        `mapstructure:"prefix"`
	Workers        int           `mapstructure:"workers"`
	MatchWindow    time.Duration `mapstructure:"match_window"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// IndexerConfig contains settings for the rebalance-event indexer API
type IndexerConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// QuotesConfig contains settings for the third-party swap-quote sampler
type QuotesConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	QuoteURL       string        `mapstructure:"quote_url"`
	ExposureURL    string        `mapstructure:"exposure_url"`
	RequestsPerMin int           `mapstructure:"requests_per_min"`
	MaxInFlight    int           `mapstructure:"max_in_flight"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BatchPause     time.Duration `mapstructure:"batch_pause"`
}

// SchedulerConfig contains daemon scheduling settings
type SchedulerConfig struct {
	CronSpec string `mapstructure:"cron_spec"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "autopool_warehouse")

	// Sync defaults
	viper.SetDefault("sync.receipt_batch_size", 50)
	viper.SetDefault("sync.log_range_blocks", 100000)
	viper.SetDefault("sync.multicall_batch_size", 500)
	viper.SetDefault("sync.max_retries", 3)
	viper.SetDefault("sync.retry_initial_delay", "1s")
	viper.SetDefault("sync.retry_max_delay", "30s")
	viper.SetDefault("sync.block_lookup_url", "https://coins.llama.fi/block")
	viper.SetDefault("sync.day_coverage_min", "23h59m")
	viper.SetDefault("sync.day_edge_offsets", []int64{0, 30, 86400, 86430})
	viper.SetDefault("sync.max_reward_tokens", 10)
	viper.SetDefault("sync.state_workers", 8)

	// Solver defaults
	viper.SetDefault("solver.workers", 4)
	viper.SetDefault("solver.match_window", "10m")
	viper.SetDefault("solver.request_timeout", "30s")

	// Indexer defaults
	viper.SetDefault("indexer.request_timeout", "30s")

	// Quotes defaults
	viper.SetDefault("quotes.enabled", false)
	viper.SetDefault("quotes.requests_per_min", 60)
	viper.SetDefault("quotes.max_in_flight", 5)
	viper.SetDefault("quotes.request_timeout", "15s")
	viper.SetDefault("quotes.batch_pause", "5s")

	// Scheduler defaults
	viper.SetDefault("scheduler.cron_spec", "0 * * * *")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if len(config.Chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}
	for i, chain := range config.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chains[%d].chain_id is required", i)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("chains[%d].rpc_url is required", i)
		}
		if chain.MulticallContract == "" {
			return fmt.Errorf("chains[%d].multicall_contract is required", i)
		}
		if chain.FirstDeployDate == "" {
			return fmt.Errorf("chains[%d].first_deploy_date is required", i)
		}
		if _, err := time.Parse("2006-01-02", chain.FirstDeployDate); err != nil {
			return fmt.Errorf("chains[%d].first_deploy_date must be YYYY-MM-DD: %w", i, err)
		}
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DeployDate parses the configured first-deploy date as a UTC day
func (c *ChainConfig) DeployDate() time.Time {
	d, _ := time.Parse("2006-01-02", c.FirstDeployDate)
	return d.UTC()
}
