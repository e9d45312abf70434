package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Indexer  IndexerConfig  `mapstructure:"indexer"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Referral ReferralConfig `mapstructure:"referral"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	SeedDefaults    bool   `mapstructure:"seed_defaults"`
}

// DSN returns the explicit url when set, otherwise builds one for the driver.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			d.Host, d.Port, d.User, d.Password, d.DBName)
	case "sqlite":
		return d.DBName
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBName)
	}
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type ChainConfig struct {
	ID            uint64   `mapstructure:"id"`
	Name          string   `mapstructure:"name"`
	RPCURL        string   `mapstructure:"rpc_url"`
	PairAddresses []string `mapstructure:"pair_addresses"`
	// StartBlock < 0 means unset.
	StartBlock        int64   `mapstructure:"start_block"`
	BatchSize         int     `mapstructure:"batch_size"`
	MaxBatchSteps     int     `mapstructure:"max_batch_steps"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryDelay        int     `mapstructure:"retry_delay"`
	WindowDelayMs     int     `mapstructure:"window_delay_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	RequestBurst      int     `mapstructure:"request_burst"`
}

func (c *ChainConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

func (c *ChainConfig) WindowDelay() time.Duration {
	return time.Duration(c.WindowDelayMs) * time.Millisecond
}

// StartFromBlock returns nil when no start block is configured.
func (c *ChainConfig) StartFromBlock() *uint64 {
	if c.StartBlock < 0 {
		return nil
	}
	b := uint64(c.StartBlock)
	return &b
}

type IndexerConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ScanInterval      int    `mapstructure:"scan_interval"`
	DrainInterval     int    `mapstructure:"drain_interval"`
	QueueBackend      string `mapstructure:"queue_backend"`
	MaxItemRetries    int    `mapstructure:"max_item_retries"`
	AutoRegisterUsers bool   `mapstructure:"auto_register_users"`
	RecoveryInterval  int    `mapstructure:"recovery_interval"`
	RecoveryBatch     int    `mapstructure:"recovery_batch"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	QueueKey string `mapstructure:"queue_key"`
}

type ReferralConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
	// SettleDelay 秒，结算截止时间相对当前时间的回退量
	SettleDelay int `mapstructure:"settle_delay"`
}

func (c *ReferralConfig) SettleDelayDuration() time.Duration {
	return time.Duration(c.SettleDelay) * time.Second
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

var envBindings = map[string]string{
	"chain.rpc_url":               "RPC_URL",
	"chain.id":                    "CHAIN_ID",
	"chain.batch_size":            "BATCH_SIZE",
	"chain.max_batch_steps":       "MAX_BATCH_STEPS",
	"chain.max_retries":           "MAX_ROUND_RETRIES",
	"chain.retry_delay":           "RETRY_DELAY_SEC",
	"chain.start_block":           "START_FROM_BLOCK",
	"indexer.scan_interval":       "INDEXER_INTERVAL",
	"indexer.drain_interval":      "QUEUE_INTERVAL",
	"indexer.queue_backend":       "QUEUE_BACKEND",
	"database.driver":             "DATABASE_DRIVER",
	"database.url":                "DATABASE_URL",
	"redis.addr":                  "REDIS_ADDR",
	"referral.cron":               "REFERRAL_CRON",
	"referral.settle_delay":       "REFERRAL_SETTLE_DELAY",
	"logging.level":               "LOG_LEVEL",
	"logging.format":              "LOG_FORMAT",
	"server.port":                 "PORT",
	"indexer.auto_register_users": "AUTO_REGISTER_USERS",
	"indexer.recovery_interval":   "RECOVERY_INTERVAL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.seed_defaults", true)

	v.SetDefault("server.port", 4200)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)

	v.SetDefault("chain.id", 10143)
	v.SetDefault("chain.name", "Monad Testnet")
	v.SetDefault("chain.rpc_url", "https://testnet-rpc.monad.xyz")
	v.SetDefault("chain.start_block", -1)
	v.SetDefault("chain.batch_size", 25)
	v.SetDefault("chain.max_batch_steps", 5)
	v.SetDefault("chain.max_retries", 3)
	v.SetDefault("chain.retry_delay", 1)
	v.SetDefault("chain.window_delay_ms", 500)
	v.SetDefault("chain.requests_per_second", 10)
	v.SetDefault("chain.request_burst", 5)

	v.SetDefault("indexer.enabled", true)
	v.SetDefault("indexer.scan_interval", 10)
	v.SetDefault("indexer.drain_interval", 1)
	v.SetDefault("indexer.queue_backend", "memory")
	v.SetDefault("indexer.max_item_retries", 3)
	v.SetDefault("indexer.auto_register_users", true)
	v.SetDefault("indexer.recovery_interval", 600)
	v.SetDefault("indexer.recovery_batch", 100)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.queue_key", "indexer:tx-queue")

	v.SetDefault("referral.enabled", true)
	v.SetDefault("referral.cron", "0 0 * * * *")
	v.SetDefault("referral.settle_delay", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

// Load 读取配置：默认值 < YAML配置文件 < 环境变量(.env)
// configPath 为空或文件不存在时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain rpc url is required")
	}
	if c.Chain.BatchSize <= 0 {
		return fmt.Errorf("chain batch size must be positive, got %d", c.Chain.BatchSize)
	}
	if c.Chain.MaxBatchSteps <= 0 {
		return fmt.Errorf("chain max batch steps must be positive, got %d", c.Chain.MaxBatchSteps)
	}
	if c.Chain.MaxRetries <= 0 {
		return fmt.Errorf("chain max retries must be positive, got %d", c.Chain.MaxRetries)
	}
	if c.Indexer.ScanInterval <= 0 || c.Indexer.DrainInterval <= 0 || c.Indexer.RecoveryInterval <= 0 {
		return fmt.Errorf("indexer intervals must be positive")
	}
	switch c.Indexer.QueueBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue backend: %s", c.Indexer.QueueBackend)
	}
	return nil
}
