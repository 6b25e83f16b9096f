package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Security SecurityConfig `mapstructure:"security"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// ServerConfig defines the local listeners
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address"`
	HTTPPort       int      `mapstructure:"http_port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	MetricsEnabled bool     `mapstructure:"metrics_enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // websocket origins accepted from the browser shim
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Path  string      `mapstructure:"path"`
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines usage accumulation settings
type TrackingConfig struct {
	TickInterval     string   `mapstructure:"tick_interval"`
	Scope            string   `mapstructure:"scope"` // "protected" or "all"
	Bypass           []string `mapstructure:"bypass"`
	RetentionDays    int      `mapstructure:"retention_days"` // 0 keeps every day; analytics cannot look further back
	PruneTime        string   `mapstructure:"prune_time"`
	MatcherCacheSize int      `mapstructure:"matcher_cache_size"`
}

// SecurityConfig defines password gate settings
type SecurityConfig struct {
	SessionWindow             string `mapstructure:"session_window"`
	PasswordAttemptsPerMinute int    `mapstructure:"password_attempts_per_minute"` // 0 disables limiting
}

// PolicyConfig selects the evaluator
type PolicyConfig struct {
	Engine       string `mapstructure:"engine"` // "native" or "opa"
	OPAPolicyDir string `mapstructure:"opa_policy_dir"`
}

// SyncConfig defines remote account replication
type SyncConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	BaseURL            string `mapstructure:"base_url"`
	Timeout            string `mapstructure:"timeout"`
	TokenCheckInterval string `mapstructure:"token_check_interval"`
	MaxInFlight        int    `mapstructure:"max_in_flight"`
}

const (
	ScopeProtected = "protected"
	ScopeAll       = "all"

	EngineNative = "native"
	EngineOPA    = "opa"
)

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "focusguard.yaml"
	}
	return filepath.Join(dir, "focusguard", "config.yaml")
}

func defaultDataPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "focusguard.db"
	}
	return filepath.Join(dir, "focusguard", "focusguard.db")
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FOCUSGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration used when no file or environment
// overrides are present.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// UnknownKeys returns the keys in the config file that no setting uses.
func UnknownKeys(configPath string) ([]string, error) {
	file := viper.New()
	file.SetConfigFile(configPath)
	file.SetConfigType("yaml")
	if err := file.ReadInConfig(); err != nil {
		return nil, err
	}

	known := viper.New()
	setDefaults(known)
	valid := make(map[string]bool)
	for _, key := range known.AllKeys() {
		valid[key] = true
	}

	unknown := []string{}
	for _, key := range file.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.http_port", 7421)
	v.SetDefault("server.metrics_port", 9421)
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.allowed_origins", []string{})

	// Storage defaults
	v.SetDefault("storage.path", defaultDataPath())
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "focusguard")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Tracking defaults
	v.SetDefault("tracking.tick_interval", "1s")
	v.SetDefault("tracking.scope", ScopeProtected)
	v.SetDefault("tracking.bypass", []string{"localhost", "127.0.0.1"})
	v.SetDefault("tracking.retention_days", 0)
	v.SetDefault("tracking.prune_time", "00:05")
	v.SetDefault("tracking.matcher_cache_size", 1024)

	// Security defaults
	v.SetDefault("security.session_window", "30m")
	v.SetDefault("security.password_attempts_per_minute", 0)

	// Policy defaults
	v.SetDefault("policy.engine", EngineNative)
	v.SetDefault("policy.opa_policy_dir", "")

	// Sync defaults
	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.base_url", "")
	v.SetDefault("sync.timeout", "10s")
	v.SetDefault("sync.token_check_interval", "1h")
	v.SetDefault("sync.max_in_flight", 8)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsEnabled && (cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	for name, value := range map[string]string{
		"tracking.tick_interval":    cfg.Tracking.TickInterval,
		"security.session_window":   cfg.Security.SessionWindow,
		"sync.timeout":              cfg.Sync.Timeout,
		"sync.token_check_interval": cfg.Sync.TokenCheckInterval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if _, err := time.Parse("15:04", cfg.Tracking.PruneTime); err != nil {
		return fmt.Errorf("invalid tracking.prune_time %q: expected HH:MM", cfg.Tracking.PruneTime)
	}

	switch cfg.Tracking.Scope {
	case ScopeProtected, ScopeAll:
	default:
		return fmt.Errorf("tracking.scope must be %q or %q", ScopeProtected, ScopeAll)
	}
	if cfg.Tracking.RetentionDays < 0 {
		return fmt.Errorf("tracking.retention_days must not be negative")
	}

	if cfg.Security.PasswordAttemptsPerMinute < 0 {
		return fmt.Errorf("security.password_attempts_per_minute must not be negative")
	}

	switch cfg.Policy.Engine {
	case EngineNative, EngineOPA:
	default:
		return fmt.Errorf("policy.engine must be %q or %q", EngineNative, EngineOPA)
	}

	if cfg.Sync.Enabled && cfg.Sync.BaseURL == "" {
		return fmt.Errorf("sync.base_url is required when sync is enabled")
	}
	if cfg.Sync.MaxInFlight <= 0 {
		cfg.Sync.MaxInFlight = 1
	}

	return nil
}
