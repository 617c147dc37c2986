// Package config handles loading and validation of client configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultSecretName = "storefront-client"
	defaultSessionKey = "default"
)

// Config holds all client configuration.
// Environment determines whether backend credentials load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings (MCP server only)
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	SecretName string

	// HTTP transport
	ChromeTLS   bool
	HTTPTimeout time.Duration

	// Cart behaviour
	FenceStaleResponses bool

	// Currency is the ISO 4217 code appended to display amounts; empty omits it.
	Currency string

	// SessionKey names the persisted session; SessionID pins a fixed id.
	SessionKey string
	SessionID  string

	// Backend endpoints and credentials (loaded from secrets in production)
	Backend BackendConfig
}

// BackendConfig contains the storefront API location and credentials.
// In production, this is loaded from Secret Manager as JSON.
type BackendConfig struct {
	APIBaseURL   string `json:"api_base_url"`
	AuthToken    string `json:"auth_token,omitempty"`
	AuthUserID   string `json:"auth_user_id,omitempty"`
	RedisURL     string `json:"redis_url,omitempty"`
	AMQPURL      string `json:"amqp_url,omitempty"`
	AMQPExchange string `json:"amqp_exchange,omitempty"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretName:  envOrDefault("SECRET_NAME", defaultSecretName),
		SessionKey:  envOrDefault("SESSION_KEY", defaultSessionKey),
		SessionID:   os.Getenv("SESSION_ID"),
		Currency:    os.Getenv("CURRENCY"),
	}

	var err error
	if cfg.ChromeTLS, err = envBool("CHROME_TLS", false); err != nil {
		return nil, err
	}
	if cfg.FenceStaleResponses, err = envBool("FENCE_STALE_RESPONSES", false); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = envDuration("HTTP_TIMEOUT", defaultTimeout); err != nil {
		return nil, err
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading backend config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port                string        `json:"port"`
		Environment         string        `json:"environment"`
		LogLevel            string        `json:"log_level"`
		ChromeTLS           bool          `json:"chrome_tls"`
		HTTPTimeout         string        `json:"http_timeout"`
		FenceStaleResponses bool          `json:"fence_stale_responses"`
		SessionKey          string        `json:"session_key"`
		SessionID           string        `json:"session_id"`
		Currency            string        `json:"currency"`
		Backend             BackendConfig `json:"backend"`
	}
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:                withDefault(fileConfig.Port, "8080"),
		Environment:         withDefault(fileConfig.Environment, "development"),
		LogLevel:            withDefault(fileConfig.LogLevel, "info"),
		ChromeTLS:           fileConfig.ChromeTLS,
		HTTPTimeout:         defaultTimeout,
		FenceStaleResponses: fileConfig.FenceStaleResponses,
		SessionKey:          withDefault(fileConfig.SessionKey, defaultSessionKey),
		SessionID:           fileConfig.SessionID,
		Currency:            fileConfig.Currency,
		Backend:             fileConfig.Backend,
	}
	if fileConfig.HTTPTimeout != "" {
		d, err := time.ParseDuration(fileConfig.HTTPTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid http_timeout: %w", err)
		}
		cfg.HTTPTimeout = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches backend config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretName)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	return c.applySecret(result.Payload.Data)
}

// applySecret decodes the secret payload into the backend config.
func (c *Config) applySecret(data []byte) error {
	if err := json.Unmarshal(data, &c.Backend); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// loadFromEnv reads backend config from individual environment variables.
func (c *Config) loadFromEnv() {
	c.Backend = BackendConfig{
		APIBaseURL:   os.Getenv("API_BASE_URL"),
		AuthToken:    os.Getenv("AUTH_TOKEN"),
		AuthUserID:   os.Getenv("AUTH_USER_ID"),
		RedisURL:     os.Getenv("REDIS_URL"),
		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: os.Getenv("AMQP_EXCHANGE"),
	}
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Backend.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	u, err := url.Parse(c.Backend.APIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid api_base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid api_base_url %q: must be an absolute http(s) URL", c.Backend.APIBaseURL)
	}
	if (c.Backend.AuthToken == "") != (c.Backend.AuthUserID == "") {
		return fmt.Errorf("auth_token and auth_user_id must be set together")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	if c.Currency != "" && !isCurrencyCode(c.Currency) {
		return fmt.Errorf("invalid currency %q: want a three-letter code like USD", c.Currency)
	}
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
