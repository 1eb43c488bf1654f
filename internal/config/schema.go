// Package config provides configuration loading and validation for ytagent.
// It reads an optional TOML file, expands ${VAR} and ${VAR:default}
// references, applies well-known environment variables and fills defaults.
//
// Configuration structure:
//   - [app]: zone, environment name and the agents definition file
//   - [logging]: logging level, format, and output
//   - [database]: PostgreSQL connection; empty URL keeps state in memory
//   - [cache]: Redis URL; empty URL uses the in-process cache
//   - [server]: operator HTTP surface
//   - [workers]: worker pool sizing
//   - [orchestrator]: run deadline, retry policy and failure guard
//   - [quota]: search-platform daily quota
//   - [schedules]: per-schedule cron overrides ("off" disables a row)
//   - [notify]: webhook and Telegram sinks
//   - [telemetry]: OTLP trace export
//   - [providers.*]: credentials, endpoints, timeouts and rate limits
//
// Environment variables:
// Values can reference the environment with ${VAR} or ${VAR:default}.
// For example: api_key = "${YOUTUBE_API_KEY}"
package config

import "time"

// Config represents the main application configuration.
type Config struct {
	App          AppConfig          `toml:"app"`
	Logging      LoggingConfig      `toml:"logging"`
	Database     DatabaseConfig     `toml:"database"`
	Cache        CacheConfig        `toml:"cache"`
	Server       ServerConfig       `toml:"server"`
	Workers      WorkersConfig      `toml:"workers"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Quota        QuotaConfig        `toml:"quota"`
	Schedules    map[string]string  `toml:"schedules"`
	Notify       NotifyConfig       `toml:"notify"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
	Providers    ProvidersConfig    `toml:"providers"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Zone        string `toml:"zone"`
	AgentsFile  string `toml:"agents_file"`
	Environment string `toml:"environment"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// DatabaseConfig configures the PostgreSQL run store.
type DatabaseConfig struct {
	URL             string `toml:"url"`
	MaxConns        int32  `toml:"max_conns"`
	MinConns        int32  `toml:"min_conns"`
	MaxConnLifetime int    `toml:"max_conn_lifetime_minutes"`
	Retries         int    `toml:"retries"`
	Migrate         *bool  `toml:"migrate"`
}

// CacheConfig configures the shared cache.
type CacheConfig struct {
	URL    string `toml:"url"`
	Prefix string `toml:"prefix"`
}

// ServerConfig configures the operator HTTP surface.
type ServerConfig struct {
	Addr                   string `toml:"addr"`
	ReadTimeoutSeconds     int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	PoolSize  int `toml:"pool_size"`
	QueueSize int `toml:"queue_size"`
}

// OrchestratorConfig tunes task execution.
type OrchestratorConfig struct {
	DeadlineSeconds    int `toml:"deadline_seconds"`
	MaxAttempts        int `toml:"max_attempts"`
	InitialBackoffMS   int `toml:"initial_backoff_ms"`
	MaxBackoffSeconds  int `toml:"max_backoff_seconds"`
	FailureThreshold   int `toml:"failure_threshold"`
	FailureWindowHours int `toml:"failure_window_hours"`
}

// QuotaConfig sizes the search-platform quota.
type QuotaConfig struct {
	DailyLimit int64   `toml:"daily_limit"`
	WarnRatio  float64 `toml:"warn_ratio"`
	StopRatio  float64 `toml:"stop_ratio"`
}

// NotifyConfig selects notification sinks.
type NotifyConfig struct {
	WebhookURL     string `toml:"webhook_url"`
	WebhookFormat  string `toml:"webhook_format"` // slack or json
	QueueSize      int    `toml:"queue_size"`
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID int64  `toml:"telegram_chat_id"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// ProviderConfig is shared by every external provider.
type ProviderConfig struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RatePerSecond  float64 `toml:"rate_per_second"`
	Burst          int     `toml:"burst"`
}

// Timeout returns the configured timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Configured reports whether credentials are present.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != ""
}

// ProvidersConfig lists every provider the agents talk to.
type ProvidersConfig struct {
	YouTube   ProviderConfig  `toml:"youtube"`
	Serp      ProviderConfig  `toml:"serp"`
	Anthropic ProviderConfig  `toml:"anthropic"`
	OpenAI    ProviderConfig  `toml:"openai"`
	TTS       TTSConfig       `toml:"tts"`
	Avatar    ProviderConfig  `toml:"avatar"`
	Analytics AnalyticsConfig `toml:"analytics"`
	Embedding ProviderConfig  `toml:"embedding"`
}

// TTSConfig adds the default voice to ProviderConfig.
type TTSConfig struct {
	ProviderConfig
	Voice string `toml:"voice"`
}

// AnalyticsConfig adds the client id to ProviderConfig.
type AnalyticsConfig struct {
	ProviderConfig
	ClientID string `toml:"client_id"`
}

// Deadline bounds one run including retries.
func (o OrchestratorConfig) Deadline() time.Duration {
	return time.Duration(o.DeadlineSeconds) * time.Second
}

func (o OrchestratorConfig) FailureWindow() time.Duration {
	return time.Duration(o.FailureWindowHours) * time.Hour
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// MigrateEnabled reports whether migrations run at startup (default true).
func (d DatabaseConfig) MigrateEnabled() bool {
	return d.Migrate == nil || *d.Migrate
}
