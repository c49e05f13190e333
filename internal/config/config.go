package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Blocklist BlocklistConfig `mapstructure:"blocklist"`
	DNSBlock  DNSBlockConfig  `mapstructure:"dns_block"`
}

// ServerConfig defines local listener ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	EventsPort  int    `mapstructure:"events_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// BackendConfig defines the remote productivity API
type BackendConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AuthToken string `mapstructure:"auth_token"`
	Timeout   string `mapstructure:"timeout"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
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
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines tracker thresholds and buffer bounds
type TrackingConfig struct {
	MinTrackTime    string `mapstructure:"min_track_time"`
	MaxSessionGap   string `mapstructure:"max_session_gap"`
	MaxSiteEntries  int    `mapstructure:"max_site_entries"`
	CleanupInterval string `mapstructure:"cleanup_interval"`
}

// BlocklistConfig defines the blocklist fallback behavior
type BlocklistConfig struct {
	Defaults []string `mapstructure:"defaults"`
}

// DNSBlockConfig defines the local DNS sinkhole used to enforce block rules
type DNSBlockConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Port            int      `mapstructure:"port"`
	UpstreamServers []string `mapstructure:"upstream_servers"`
	BlockTTL        uint32   `mapstructure:"block_ttl"`
	UpstreamTimeout string   `mapstructure:"upstream_timeout"`
	EnableUDP       bool     `mapstructure:"enable_udp"`
	EnableTCP       bool     `mapstructure:"enable_tcp"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TABTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.events_port", 8377)
	v.SetDefault("server.metrics_port", 9377)

	// Backend defaults
	v.SetDefault("backend.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("backend.timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/tabtime/tabtime.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.min_track_time", "1s")
	v.SetDefault("tracking.max_session_gap", "24h")
	v.SetDefault("tracking.max_site_entries", 1000)
	v.SetDefault("tracking.cleanup_interval", "24h")

	// Blocklist defaults
	v.SetDefault("blocklist.defaults", []string{
		"facebook.com",
		"twitter.com",
		"instagram.com",
		"tiktok.com",
		"reddit.com",
	})

	// DNS sinkhole defaults
	v.SetDefault("dns_block.enabled", false)
	v.SetDefault("dns_block.port", 5353)
	v.SetDefault("dns_block.upstream_servers", []string{"8.8.8.8:53", "1.1.1.1:53"})
	v.SetDefault("dns_block.block_ttl", 60)
	v.SetDefault("dns_block.upstream_timeout", "5s")
	v.SetDefault("dns_block.enable_udp", true)
	v.SetDefault("dns_block.enable_tcp", true)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.EventsPort <= 0 || cfg.Server.EventsPort > 65535 {
		return fmt.Errorf("invalid events port: %d", cfg.Server.EventsPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend base URL is required")
	}

	if cfg.Tracking.MaxSiteEntries <= 0 {
		return fmt.Errorf("tracking.max_site_entries must be positive")
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.DNSBlock.Enabled {
		if cfg.DNSBlock.Port <= 0 || cfg.DNSBlock.Port > 65535 {
			return fmt.Errorf("invalid dns_block port: %d", cfg.DNSBlock.Port)
		}
		if len(cfg.DNSBlock.UpstreamServers) == 0 {
			return fmt.Errorf("at least one upstream DNS server is required when dns_block is enabled")
		}
	}

	return nil
}
