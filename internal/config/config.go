package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pool-liquidity-alerts/internal/logging"
)

// Storage backends understood by the application.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	EnvFile     string `mapstructure:"env_file"`
}

// StorageConfig selects the sample store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig covers the sorted-set sample backend.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxAlerts    int64         `mapstructure:"max_alerts"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	Parallelism   int           `mapstructure:"parallelism"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// MonitorConfig lists the pools to watch and the lookback window.
type MonitorConfig struct {
	Window time.Duration `mapstructure:"window"`
	Pools  []PoolConfig  `mapstructure:"pools"`
}

// PoolConfig registers one liquidity pool. Zero thresholds fall back to the alerting defaults.
type PoolConfig struct {
	Address                  string  `mapstructure:"address"`
	Name                     string  `mapstructure:"name"`
	PriceBasis               string  `mapstructure:"price_basis"`
	PriceChangeThreshold     float64 `mapstructure:"price_change_threshold"`
	LiquidityChangeThreshold float64 `mapstructure:"liquidity_change_threshold"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled            bool           `mapstructure:"enabled"`
	PriceChangePct     float64        `mapstructure:"price_change_pct"`
	LiquidityChangePct float64        `mapstructure:"liquidity_change_pct"`
	Cooldown           time.Duration  `mapstructure:"cooldown"`
	Channels           []string       `mapstructure:"channels"`
	QueueSize          int            `mapstructure:"queue_size"`
	Telegram           TelegramConfig `mapstructure:"telegram"`
	Pushover           PushoverConfig `mapstructure:"pushover"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BotToken  string        `mapstructure:"bot_token"`
	ChatIDs   []string      `mapstructure:"chat_ids"`
	APIBase   string        `mapstructure:"api_base"`
	ParseMode string        `mapstructure:"parse_mode"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// PushoverConfig describes Pushover delivery.
type PushoverConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ApplicationKey string        `mapstructure:"application_key"`
	UserKey        string        `mapstructure:"user_key"`
	APIBase        string        `mapstructure:"api_base"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Path       string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadEnvFile(os.Getenv("POOLWATCH_APP_ENV_FILE")); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("POOLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadEnvFile populates the process environment from a dotenv file. A missing
// default .env is not an error; a missing explicitly named file is.
func loadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "poolwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("storage.backend", "")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "poolwatch")
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.max_alerts", 1000)

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.parallelism", 8)

	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.rate_limit_rps", 10.0)
	v.SetDefault("ethereum.rate_limit_burst", 5)
	v.SetDefault("ethereum.breaker_failures", 5)
	v.SetDefault("ethereum.breaker_timeout", "1m")

	v.SetDefault("monitor.window", "24h")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.price_change_pct", 5.0)
	v.SetDefault("alerting.liquidity_change_pct", 5.0)
	v.SetDefault("alerting.cooldown", "3h")
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.queue_size", 64)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.parse_mode", "Markdown")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.pushover.enabled", false)
	v.SetDefault("alerting.pushover.api_base", "https://api.pushover.net")
	v.SetDefault("alerting.pushover.timeout", "10s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9102")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Parallelism <= 0 {
		return fmt.Errorf("scheduler.parallelism must be greater than zero")
	}
	if c.Monitor.Window <= 0 {
		return fmt.Errorf("monitor.window must be greater than zero")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.PriceChangePct <= 0 {
		return fmt.Errorf("alerting.price_change_pct must be greater than zero")
	}
	if c.Alerting.LiquidityChangePct <= 0 {
		return fmt.Errorf("alerting.liquidity_change_pct must be greater than zero")
	}

	switch c.Storage.Backend {
	case "", BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendPostgres && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres backend")
	}
	if c.Storage.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis backend")
	}

	seen := make(map[string]struct{}, len(c.Monitor.Pools))
	for i, pool := range c.Monitor.Pools {
		if strings.TrimSpace(pool.Address) == "" {
			return fmt.Errorf("monitor.pools[%d].address is required", i)
		}
		key := strings.ToLower(pool.Address)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("monitor.pools[%d]: duplicate address %s", i, pool.Address)
		}
		seen[key] = struct{}{}
		if pool.PriceChangeThreshold < 0 || pool.LiquidityChangeThreshold < 0 {
			return fmt.Errorf("monitor.pools[%d]: thresholds cannot be negative", i)
		}
		if !knownBasis(pool.PriceBasis) {
			return fmt.Errorf("monitor.pools[%d]: invalid price_basis %q", i, pool.PriceBasis)
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if len(c.Alerting.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("alerting.telegram.chat_ids is required")
		}
	}
	if c.Alerting.Pushover.Enabled {
		if c.Alerting.Pushover.ApplicationKey == "" || c.Alerting.Pushover.UserKey == "" {
			return fmt.Errorf("alerting.pushover application_key and user_key are required")
		}
	}
	return nil
}

// knownBasis mirrors monitor.ParseBasis so configuration errors surface at load time.
func knownBasis(basis string) bool {
	switch strings.ToLower(strings.TrimSpace(basis)) {
	case "a_per_b", "b_per_a", "token0", "token1":
		return true
	}
	return false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ResolveBackend picks the effective storage backend. An empty selection
// prefers Postgres when a DSN is set and falls back to memory otherwise.
func (c *Config) ResolveBackend() string {
	if c.Storage.Backend != "" {
		return c.Storage.Backend
	}
	if c.Database.DSN != "" {
		return BackendPostgres
	}
	return BackendMemory
}

// Thresholds returns the effective price and liquidity thresholds for a pool.
func (c *Config) Thresholds(pool PoolConfig) (price, liquidity float64) {
	price = pool.PriceChangeThreshold
	if price <= 0 {
		price = c.Alerting.PriceChangePct
	}
	liquidity = pool.LiquidityChangeThreshold
	if liquidity <= 0 {
		liquidity = c.Alerting.LiquidityChangePct
	}
	return price, liquidity
}
