// Package config loads and validates the relay configuration from defaults,
// YAML files, and environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. YAML configuration files
// 3. Default values (lowest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	// Load default configuration first
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Load from YAML file (if exists)
	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		// YAML file is optional, log but don't fail
		fmt.Printf("Warning: could not load config.yaml: %v\n", err)
	}

	// Load environment-specific YAML (if exists)
	if envName := k.String("app.env"); envName != "" {
		envFile := fmt.Sprintf("config.%s.yaml", envName)
		if err := k.Load(file.Provider(envFile), yaml.Parser()); err != nil {
			fmt.Printf("Warning: could not load %s: %v\n", envFile, err)
		}
	}

	// Load environment variables (highest priority)
	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			// Convert UPPER_CASE to lower.case for koanf
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return fromKoanf(k)
}

// fromKoanf unmarshals and validates a populated Koanf instance.
// Tests use this to load configuration from raw bytes.
func fromKoanf(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Store the Koanf instance for flexible access
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "go-relay",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,
		"app.debug":   false,

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.timeout.read":     "15s",
		"server.timeout.write":    "30s",
		"server.timeout.shutdown": "10s",
		"server.path.health":      "/health",
		"server.path.ready":       "/ready",

		"log.level":  "info",
		"log.pretty": false,

		"messaging.input.workers":                1,
		"messaging.reconnect.delay":              "5s",
		"messaging.reconnect.reinit_delay":       "2s",
		"messaging.reconnect.resend_delay":       "5s",
		"messaging.reconnect.connection_timeout": "30s",

		"httpclient.http_method":            "GET",
		"httpclient.expected_response_type": ResponseTypeText,
		"httpclient.reply_expression":       ReplyBody,
		"httpclient.timeout":                "30s",
		"httpclient.rate.limit":             0,
		"httpclient.rate.burst":             0,
		"httpclient.retry.enabled":          false,
		"httpclient.retry.max_attempts":     3,
		"httpclient.retry.initial_interval": "1s",
		"httpclient.retry.multiplier":       1.0,
		"httpclient.retry.max_interval":     "10s",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
