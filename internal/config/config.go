package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. INVOICE_SERVER_PORT
const EnvPrefix = "INVOICE"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Invoice   InvoiceConfig   `mapstructure:"invoice"`
	Recurring RecurringConfig `mapstructure:"recurring"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// InvoiceConfig controls FrontendID formatting
type InvoiceConfig struct {
	IDPrefix string `mapstructure:"id_prefix"`
	IDWidth  int    `mapstructure:"id_width"`
}

// RecurringConfig controls the scheduled generator
type RecurringConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	RunOnStart bool          `mapstructure:"run_on_start"`
	BatchMode  string        `mapstructure:"batch_mode"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// CacheConfig controls the invoice id cache refresh
type CacheConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// Load loads configuration from an optional YAML file, an optional .env file and
// environment variables, in increasing order of precedence
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/invoices.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("invoice.id_prefix", "INV")
	v.SetDefault("invoice.id_width", 6)

	v.SetDefault("recurring.enabled", true)
	v.SetDefault("recurring.interval", 24*time.Hour)
	v.SetDefault("recurring.run_on_start", true)
	v.SetDefault("recurring.batch_mode", "atomic")
	v.SetDefault("recurring.timeout", 10*time.Minute)

	v.SetDefault("cache.refresh_interval", 15*time.Minute)
}

// bindEnvVars binds the unprefixed variables commonly set by deployment platforms
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":   {EnvPrefix + "_SERVER_PORT", "PORT"},
		"database.path": {EnvPrefix + "_DATABASE_PATH", "DATABASE_PATH"},
		"logger.level":  {EnvPrefix + "_LOGGER_LEVEL", "LOG_LEVEL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Invoice.IDPrefix == "" {
		return fmt.Errorf("invoice.id_prefix is required")
	}
	if c.Invoice.IDWidth < 1 || c.Invoice.IDWidth > 18 {
		return fmt.Errorf("invoice.id_width must be between 1 and 18, got %d", c.Invoice.IDWidth)
	}

	switch c.Recurring.BatchMode {
	case "atomic", "isolated":
	default:
		return fmt.Errorf("recurring.batch_mode must be atomic or isolated, got %q", c.Recurring.BatchMode)
	}
	if c.Recurring.Enabled && c.Recurring.Interval <= 0 {
		return fmt.Errorf("recurring.interval must be positive when the generator is enabled")
	}
	if c.Cache.RefreshInterval < 0 {
		return fmt.Errorf("cache.refresh_interval cannot be negative")
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}
	return nil
}

// Address returns the host:port the HTTP server listens on
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
