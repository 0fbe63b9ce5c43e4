package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/gaborage/go-relay/retry"
)

// Config represents the overall relay configuration structure.
// It includes sections for application settings, the health server,
// logging preferences, broker/pipeline options, and the outbound
// HTTP client with its retry policy. The embedded koanf.Koanf
// instance allows for flexible access to additional custom
// configurations not explicitly defined in the struct.
type Config struct {
	App        AppConfig        `koanf:"app" json:"app" yaml:"app" toml:"app" mapstructure:"app"`
	Server     ServerConfig     `koanf:"server" json:"server" yaml:"server" toml:"server" mapstructure:"server"`
	Log        LogConfig        `koanf:"log" json:"log" yaml:"log" toml:"log" mapstructure:"log"`
	Messaging  MessagingConfig  `koanf:"messaging" json:"messaging" yaml:"messaging" toml:"messaging" mapstructure:"messaging"`
	HTTPClient HTTPClientConfig `koanf:"httpclient" json:"httpclient" yaml:"httpclient" toml:"httpclient" mapstructure:"httpclient"`

	// k holds the underlying Koanf instance for flexible access to custom configurations
	k *koanf.Koanf `json:"-" yaml:"-" toml:"-" mapstructure:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" toml:"name" mapstructure:"name"`
	Version string `koanf:"version" json:"version" yaml:"version" toml:"version" mapstructure:"version"`
	Env     string `koanf:"env" json:"env" yaml:"env" toml:"env" mapstructure:"env"`
	Debug   bool   `koanf:"debug" json:"debug" yaml:"debug" toml:"debug" mapstructure:"debug"`
}

// ServerConfig holds health server settings.
type ServerConfig struct {
	Host    string        `koanf:"host" json:"host" yaml:"host" toml:"host" mapstructure:"host"`
	Port    int           `koanf:"port" json:"port" yaml:"port" toml:"port" mapstructure:"port"`
	Timeout TimeoutConfig `koanf:"timeout" json:"timeout" yaml:"timeout" toml:"timeout" mapstructure:"timeout"`
	Path    PathConfig    `koanf:"path" json:"path" yaml:"path" toml:"path" mapstructure:"path"`
}

// TimeoutConfig holds various timeout durations for the health server.
type TimeoutConfig struct {
	Read     time.Duration `koanf:"read" json:"read" yaml:"read" toml:"read" mapstructure:"read"`
	Write    time.Duration `koanf:"write" json:"write" yaml:"write" toml:"write" mapstructure:"write"`
	Shutdown time.Duration `koanf:"shutdown" json:"shutdown" yaml:"shutdown" toml:"shutdown" mapstructure:"shutdown"`
}

// PathConfig holds URL path settings for the health server.
type PathConfig struct {
	Health string `koanf:"health" json:"health" yaml:"health" toml:"health" mapstructure:"health"`
	Ready  string `koanf:"ready" json:"ready" yaml:"ready" toml:"ready" mapstructure:"ready"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" toml:"level" mapstructure:"level"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty" toml:"pretty" mapstructure:"pretty"`
}

// MessagingConfig holds broker and pipeline routing settings.
type MessagingConfig struct {
	Broker    BrokerConfig    `koanf:"broker" json:"broker" yaml:"broker" toml:"broker" mapstructure:"broker"`
	Input     InputConfig     `koanf:"input" json:"input" yaml:"input" toml:"input" mapstructure:"input"`
	Output    OutputConfig    `koanf:"output" json:"output" yaml:"output" toml:"output" mapstructure:"output"`
	Reconnect ReconnectConfig `koanf:"reconnect" json:"reconnect" yaml:"reconnect" toml:"reconnect" mapstructure:"reconnect"`
}

// BrokerConfig holds message broker connection settings.
type BrokerConfig struct {
	URL         string `koanf:"url" json:"url" yaml:"url" toml:"url" mapstructure:"url"`
	VirtualHost string `koanf:"virtualhost" json:"virtualhost" yaml:"virtualhost" toml:"virtualhost" mapstructure:"virtualhost"`
}

// InputConfig describes the queue the relay consumes request messages from.
type InputConfig struct {
	Queue      string `koanf:"queue" json:"queue" yaml:"queue" toml:"queue" mapstructure:"queue"`
	Exchange   string `koanf:"exchange" json:"exchange" yaml:"exchange" toml:"exchange" mapstructure:"exchange"`
	RoutingKey string `koanf:"routing_key" json:"routing_key" yaml:"routing_key" toml:"routing_key" mapstructure:"routing_key"`
	Consumer   string `koanf:"consumer" json:"consumer" yaml:"consumer" toml:"consumer" mapstructure:"consumer"`
	Workers    int    `koanf:"workers" json:"workers" yaml:"workers" toml:"workers" mapstructure:"workers"`
}

// OutputConfig describes where reply values are published.
type OutputConfig struct {
	Exchange   string `koanf:"exchange" json:"exchange" yaml:"exchange" toml:"exchange" mapstructure:"exchange"`
	RoutingKey string `koanf:"routing_key" json:"routing_key" yaml:"routing_key" toml:"routing_key" mapstructure:"routing_key"`
	EventType  string `koanf:"event_type" json:"event_type" yaml:"event_type" toml:"event_type" mapstructure:"event_type"`
}

// ReconnectConfig holds AMQP reconnection settings.
// Production-safe defaults are applied automatically:
//   - Delay: 5s (initial delay between reconnection attempts)
//   - ReinitDelay: 2s (delay before channel reinitialization)
//   - ResendDelay: 5s (delay before retrying failed publishes)
//   - ConnectionTimeout: 30s (timeout for connection/confirmation)
type ReconnectConfig struct {
	Delay             time.Duration `koanf:"delay" json:"delay" yaml:"delay" toml:"delay" mapstructure:"delay"`
	ReinitDelay       time.Duration `koanf:"reinit_delay" json:"reinit_delay" yaml:"reinit_delay" toml:"reinit_delay" mapstructure:"reinit_delay"`
	ResendDelay       time.Duration `koanf:"resend_delay" json:"resend_delay" yaml:"resend_delay" toml:"resend_delay" mapstructure:"resend_delay"`
	ConnectionTimeout time.Duration `koanf:"connection_timeout" json:"connection_timeout" yaml:"connection_timeout" toml:"connection_timeout" mapstructure:"connection_timeout"`
}

// HTTPClientConfig holds the outbound request settings derived per message.
// Exactly one of URL and URLExpression must be set; at most one of Body and
// BodyExpression. The *_expression fields name expressions registered with
// the processor at startup.
type HTTPClientConfig struct {
	URL                  string        `koanf:"url" json:"url" yaml:"url" toml:"url" mapstructure:"url"`
	URLExpression        string        `koanf:"url_expression" json:"url_expression" yaml:"url_expression" toml:"url_expression" mapstructure:"url_expression"`
	HTTPMethod           string        `koanf:"http_method" json:"http_method" yaml:"http_method" toml:"http_method" mapstructure:"http_method"`
	HTTPMethodExpression string        `koanf:"http_method_expression" json:"http_method_expression" yaml:"http_method_expression" toml:"http_method_expression" mapstructure:"http_method_expression"`
	Body                 string        `koanf:"body" json:"body" yaml:"body" toml:"body" mapstructure:"body"`
	BodyExpression       string        `koanf:"body_expression" json:"body_expression" yaml:"body_expression" toml:"body_expression" mapstructure:"body_expression"`
	HeadersExpression    string        `koanf:"headers_expression" json:"headers_expression" yaml:"headers_expression" toml:"headers_expression" mapstructure:"headers_expression"`
	ExpectedResponseType string        `koanf:"expected_response_type" json:"expected_response_type" yaml:"expected_response_type" toml:"expected_response_type" mapstructure:"expected_response_type"`
	ReplyExpression      string        `koanf:"reply_expression" json:"reply_expression" yaml:"reply_expression" toml:"reply_expression" mapstructure:"reply_expression"`
	Timeout              time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" toml:"timeout" mapstructure:"timeout"`
	Rate                 RateConfig    `koanf:"rate" json:"rate" yaml:"rate" toml:"rate" mapstructure:"rate"`
	Retry                RetryConfig   `koanf:"retry" json:"retry" yaml:"retry" toml:"retry" mapstructure:"retry"`
}

// RateConfig holds outbound rate limiting settings. A zero limit disables
// the limiter.
type RateConfig struct {
	Limit int `koanf:"limit" json:"limit" yaml:"limit" toml:"limit" mapstructure:"limit"`
	Burst int `koanf:"burst" json:"burst" yaml:"burst" toml:"burst" mapstructure:"burst"`
}

// RetryConfig holds the retry policy settings for outbound requests.
type RetryConfig struct {
	Enabled         bool          `koanf:"enabled" json:"enabled" yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
	MaxAttempts     int           `koanf:"max_attempts" json:"max_attempts" yaml:"max_attempts" toml:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval" json:"initial_interval" yaml:"initial_interval" toml:"initial_interval" mapstructure:"initial_interval"`
	Multiplier      float64       `koanf:"multiplier" json:"multiplier" yaml:"multiplier" toml:"multiplier" mapstructure:"multiplier"`
	MaxInterval     time.Duration `koanf:"max_interval" json:"max_interval" yaml:"max_interval" toml:"max_interval" mapstructure:"max_interval"`
}

// Policy converts the configured retry settings into an executable policy.
func (r *RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		Enabled:         r.Enabled,
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		Multiplier:      r.Multiplier,
		MaxInterval:     r.MaxInterval,
	}
}

// Koanf returns the underlying Koanf instance for access to custom keys.
func (c *Config) Koanf() *koanf.Koanf {
	return c.k
}
