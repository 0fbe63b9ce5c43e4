package config

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Response decode types accepted for httpclient.expected_response_type.
const (
	ResponseTypeText  = "text"
	ResponseTypeBytes = "bytes"
	ResponseTypeJSON  = "json"
)

// Named reply selectors accepted for httpclient.reply_expression.
const (
	ReplyBody       = "body"
	ReplyStatusCode = "status_code"
	ReplyHeaders    = "headers"
	ReplyEntity     = "entity"
)

// Validate checks the full configuration and returns the first violation.
// A configuration that fails validation must abort startup.
func Validate(cfg *Config) error {
	if err := validateApp(&cfg.App); err != nil {
		return fmt.Errorf("app config: %w", err)
	}

	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if err := validateMessaging(&cfg.Messaging); err != nil {
		return fmt.Errorf("messaging config: %w", err)
	}

	if err := validateHTTPClient(&cfg.HTTPClient); err != nil {
		return fmt.Errorf("httpclient config: %w", err)
	}

	return nil
}

// validateApp requires Name and Version to be non-empty and Env to be one of
// EnvDevelopment, EnvStaging, or EnvProduction.
func validateApp(cfg *AppConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if cfg.Version == "" {
		return fmt.Errorf("app version is required")
	}

	validEnvs := []string{EnvDevelopment, EnvStaging, EnvProduction}
	if !slices.Contains(validEnvs, cfg.Env) {
		return fmt.Errorf("invalid environment: %s (must be one of: %s)",
			cfg.Env, strings.Join(validEnvs, ", "))
	}

	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", cfg.Port)
	}

	if cfg.Timeout.Read <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}

	if cfg.Timeout.Write <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	return nil
}

func validateLog(cfg *LogConfig) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}
	if !slices.Contains(validLevels, cfg.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)",
			cfg.Level, strings.Join(validLevels, ", "))
	}
	return nil
}

// validateMessaging requires a complete broker pipeline: the relay consumes
// from and publishes to the broker, so a config without one cannot start.
func validateMessaging(cfg *MessagingConfig) error {
	if cfg.Broker.URL == "" {
		return fmt.Errorf("broker url is required")
	}

	u, err := url.Parse(cfg.Broker.URL)
	if err != nil {
		return fmt.Errorf("invalid broker url %q: %w", cfg.Broker.URL, err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return fmt.Errorf("invalid broker url %q: scheme must be amqp or amqps", cfg.Broker.URL)
	}

	if cfg.Input.Queue == "" {
		return fmt.Errorf("input queue is required")
	}

	if cfg.Input.Workers < 1 {
		return fmt.Errorf("input workers must be at least 1, got %d", cfg.Input.Workers)
	}

	if cfg.Input.Exchange != "" && cfg.Input.RoutingKey == "" {
		return fmt.Errorf("input routing key is required when an input exchange is set")
	}

	if cfg.Output.Exchange == "" && cfg.Output.RoutingKey == "" {
		return fmt.Errorf("output exchange or routing key is required")
	}

	return nil
}

func validateHTTPClient(cfg *HTTPClientConfig) error {
	if err := validateURLSource(cfg); err != nil {
		return err
	}

	if cfg.Body != "" && cfg.BodyExpression != "" {
		return fmt.Errorf("at most one of 'body' or 'body_expression' is allowed")
	}

	if cfg.HTTPMethodExpression == "" {
		if err := validateHTTPMethod(cfg.HTTPMethod); err != nil {
			return err
		}
	}

	validTypes := []string{ResponseTypeText, ResponseTypeBytes, ResponseTypeJSON}
	if !slices.Contains(validTypes, cfg.ExpectedResponseType) {
		return fmt.Errorf("invalid expected response type: %s (must be one of: %s)",
			cfg.ExpectedResponseType, strings.Join(validTypes, ", "))
	}

	validReplies := []string{ReplyBody, ReplyStatusCode, ReplyHeaders, ReplyEntity}
	if !slices.Contains(validReplies, cfg.ReplyExpression) {
		return fmt.Errorf("invalid reply expression: %s (must be one of: %s)",
			cfg.ReplyExpression, strings.Join(validReplies, ", "))
	}

	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if cfg.Rate.Limit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if cfg.Rate.Burst < 0 {
		return fmt.Errorf("rate burst must not be negative")
	}

	if err := cfg.Retry.Policy().Validate(); err != nil {
		return err
	}

	return nil
}

// validateURLSource enforces the cross-field rule: exactly one of a static
// URL and a URL expression.
func validateURLSource(cfg *HTTPClientConfig) error {
	switch {
	case cfg.URL == "" && cfg.URLExpression == "":
		return fmt.Errorf("exactly one of 'url' or 'url_expression' is required")
	case cfg.URL != "" && cfg.URLExpression != "":
		return fmt.Errorf("exactly one of 'url' or 'url_expression' is required, both are set")
	case cfg.URL != "":
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", cfg.URL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid url %q: scheme must be http or https", cfg.URL)
		}
	}
	return nil
}

func validateHTTPMethod(method string) error {
	validMethods := []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions,
	}
	if !slices.Contains(validMethods, strings.ToUpper(method)) {
		return fmt.Errorf("invalid http method: %s", method)
	}
	return nil
}
