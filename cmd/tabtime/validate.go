package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goodtune/tabtime/internal/config"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the TabTime configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with -dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		// Get default configuration
		defaultCfg := getDefaultConfig()

		// Dump configuration
		dumpConfig(cfg, defaultCfg, unknownKeys)
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	setDefaultsForDump(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// setDefaultsForDump sets default configuration values (copied from config package)
func setDefaultsForDump(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.events_port", 8377)
	v.SetDefault("server.metrics_port", 9377)

	// Backend defaults
	v.SetDefault("backend.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("backend.auth_token", "")
	v.SetDefault("backend.timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/tabtime/tabtime.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
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

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	// Get all keys from the config file
	allKeys := v.AllKeys()

	// Build set of valid keys
	validKeys := getValidKeys()

	// Find unknown keys
	unknown := []string{}
	for _, key := range allKeys {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	keys := map[string]bool{
		// Server
		"server.bind_address": true,
		"server.events_port":  true,
		"server.metrics_port": true,

		// Backend
		"backend.base_url":   true,
		"backend.auth_token": true,
		"backend.timeout":    true,

		// Storage
		"storage.type":                 true,
		"storage.path":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Tracking
		"tracking.min_track_time":   true,
		"tracking.max_session_gap":  true,
		"tracking.max_site_entries": true,
		"tracking.cleanup_interval": true,

		// Blocklist
		"blocklist.defaults": true,

		// DNS sinkhole
		"dns_block.enabled":          true,
		"dns_block.port":             true,
		"dns_block.upstream_servers": true,
		"dns_block.block_ttl":        true,
		"dns_block.upstream_timeout": true,
		"dns_block.enable_udp":       true,
		"dns_block.enable_tcp":       true,
	}

	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	// Setup colors (only if terminal supports it)
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  events_port", cfg.Server.EventsPort, defaultCfg.Server.EventsPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)

	// Backend
	_, _ = cyan.Println("\n[backend]")
	dumpField("  base_url", cfg.Backend.BaseURL, defaultCfg.Backend.BaseURL, yellow, green)
	dumpField("  auth_token", redactSecret(cfg.Backend.AuthToken), redactSecret(defaultCfg.Backend.AuthToken), yellow, green)
	dumpField("  timeout", cfg.Backend.Timeout, defaultCfg.Backend.Timeout, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactSecret(cfg.Storage.Redis.Password), redactSecret(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Tracking
	_, _ = cyan.Println("\n[tracking]")
	dumpField("  min_track_time", cfg.Tracking.MinTrackTime, defaultCfg.Tracking.MinTrackTime, yellow, green)
	dumpField("  max_session_gap", cfg.Tracking.MaxSessionGap, defaultCfg.Tracking.MaxSessionGap, yellow, green)
	dumpField("  max_site_entries", cfg.Tracking.MaxSiteEntries, defaultCfg.Tracking.MaxSiteEntries, yellow, green)
	dumpField("  cleanup_interval", cfg.Tracking.CleanupInterval, defaultCfg.Tracking.CleanupInterval, yellow, green)

	// Blocklist
	_, _ = cyan.Println("\n[blocklist]")
	dumpField("  defaults", cfg.Blocklist.Defaults, defaultCfg.Blocklist.Defaults, yellow, green)

	// DNS sinkhole
	_, _ = cyan.Println("\n[dns_block]")
	dumpField("  enabled", cfg.DNSBlock.Enabled, defaultCfg.DNSBlock.Enabled, yellow, green)
	dumpField("  port", cfg.DNSBlock.Port, defaultCfg.DNSBlock.Port, yellow, green)
	dumpField("  upstream_servers", cfg.DNSBlock.UpstreamServers, defaultCfg.DNSBlock.UpstreamServers, yellow, green)
	dumpField("  block_ttl", cfg.DNSBlock.BlockTTL, defaultCfg.DNSBlock.BlockTTL, yellow, green)
	dumpField("  upstream_timeout", cfg.DNSBlock.UpstreamTimeout, defaultCfg.DNSBlock.UpstreamTimeout, yellow, green)
	dumpField("  enable_udp", cfg.DNSBlock.EnableUDP, defaultCfg.DNSBlock.EnableUDP, yellow, green)
	dumpField("  enable_tcp", cfg.DNSBlock.EnableTCP, defaultCfg.DNSBlock.EnableTCP, yellow, green)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		cyan := color.New(color.FgCyan, color.Bold)

		cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	// Deep equal comparison
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactSecret redacts a secret value if not empty
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
