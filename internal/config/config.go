package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

// Load reads the TOML file at path, expands environment references, applies
// environment overrides and fills defaults. A missing file is not an error:
// defaults plus environment produce a runnable configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	expandEnvVars(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file and no environment are present.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults fills every zero value with its default.
func applyDefaults(c *Config) {
	if c.App.Zone == "" {
		c.App.Zone = DefaultZone
	}
	if c.App.Environment == "" {
		c.App.Environment = "production"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 1
	}
	if c.Database.MaxConnLifetime == 0 {
		c.Database.MaxConnLifetime = 30
	}
	if c.Database.Retries == 0 {
		c.Database.Retries = 3
	}

	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "ytagent"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		// Synchronous task requests wait for the whole run.
		c.Server.WriteTimeoutSeconds = DefaultDeadlineSeconds + 60
	}
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = 30
	}

	if c.Workers.PoolSize == 0 {
		c.Workers.PoolSize = DefaultPoolSize
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = DefaultQueueSize
	}

	if c.Orchestrator.DeadlineSeconds == 0 {
		c.Orchestrator.DeadlineSeconds = DefaultDeadlineSeconds
	}
	if c.Orchestrator.MaxAttempts == 0 {
		c.Orchestrator.MaxAttempts = 3
	}
	if c.Orchestrator.InitialBackoffMS == 0 {
		c.Orchestrator.InitialBackoffMS = 1000
	}
	if c.Orchestrator.MaxBackoffSeconds == 0 {
		c.Orchestrator.MaxBackoffSeconds = 60
	}
	if c.Orchestrator.FailureThreshold == 0 {
		c.Orchestrator.FailureThreshold = 3
	}
	if c.Orchestrator.FailureWindowHours == 0 {
		c.Orchestrator.FailureWindowHours = 24
	}

	if c.Quota.DailyLimit == 0 {
		c.Quota.DailyLimit = 10_000
	}
	if c.Quota.WarnRatio == 0 {
		c.Quota.WarnRatio = 0.80
	}
	if c.Quota.StopRatio == 0 {
		c.Quota.StopRatio = 0.95
	}

	if c.Notify.WebhookFormat == "" {
		c.Notify.WebhookFormat = "slack"
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 100
	}

	p := &c.Providers
	providerDefaults(&p.YouTube, 30, 5, 10)
	providerDefaults(&p.Serp, 10, 1, 2)
	providerDefaults(&p.Anthropic, 60, 1, 3)
	providerDefaults(&p.OpenAI, 60, 2, 5)
	providerDefaults(&p.TTS.ProviderConfig, 120, 1, 2)
	providerDefaults(&p.Avatar, 30, 1, 2)
	providerDefaults(&p.Analytics.ProviderConfig, 30, 2, 5)
	providerDefaults(&p.Embedding, 30, 5, 10)
}

func providerDefaults(p *ProviderConfig, timeoutSeconds int, perSecond float64, burst int) {
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = timeoutSeconds
	}
	if p.RatePerSecond == 0 {
		p.RatePerSecond = perSecond
	}
	if p.Burst == 0 {
		p.Burst = burst
	}
}

// RetryPolicy builds the task-level retry policy.
func (o OrchestratorConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    o.MaxAttempts,
		InitialBackoff: time.Duration(o.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(o.MaxBackoffSeconds) * time.Second,
	}
}

// stringFields lists every string value that may hold ${VAR} references.
func (c *Config) stringFields() []*string {
	p := &c.Providers
	fields := []*string{
		&c.App.Zone, &c.App.AgentsFile,
		&c.Logging.Output,
		&c.Database.URL,
		&c.Cache.URL, &c.Cache.Prefix,
		&c.Server.Addr,
		&c.Notify.WebhookURL, &c.Notify.TelegramToken,
		&c.Telemetry.Endpoint,
		&p.TTS.Voice, &p.Analytics.ClientID,
	}
	for _, pc := range c.providerList() {
		fields = append(fields, &pc.APIKey, &pc.BaseURL, &pc.Model)
	}
	return fields
}

func (c *Config) providerList() []*ProviderConfig {
	p := &c.Providers
	return []*ProviderConfig{
		&p.YouTube, &p.Serp, &p.Anthropic, &p.OpenAI,
		&p.TTS.ProviderConfig, &p.Avatar, &p.Analytics.ProviderConfig, &p.Embedding,
	}
}

// expandEnvVars expands ${VAR} and ${VAR:default} in every string field.
func expandEnvVars(c *Config) {
	for _, f := range c.stringFields() {
		if strings.Contains(*f, "${") {
			*f = expandEnv(*f)
		}
	}
	for name, expr := range c.Schedules {
		c.Schedules[name] = expandEnv(expr)
	}
	c.App.AgentsFile = expandHome(c.App.AgentsFile)
	if c.Logging.Output != "stdout" && c.Logging.Output != "stderr" {
		c.Logging.Output = expandHome(c.Logging.Output)
	}
}

// expandEnv replaces every ${VAR} or ${VAR:default} reference in s.
func expandEnv(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			b.WriteString(s)
			return b.String()
		}
		end += start

		b.WriteString(s[:start])
		content := s[start+2 : end]
		if key, def, ok := strings.Cut(content, ":"); ok {
			if val := os.Getenv(key); val != "" {
				b.WriteString(val)
			} else {
				b.WriteString(def)
			}
		} else {
			b.WriteString(os.Getenv(content))
		}
		s = s[end+1:]
	}
}

// envOverrides maps well-known variables onto configuration fields. A set
// variable wins over the file.
func (c *Config) envOverrides() map[string]*string {
	p := &c.Providers
	return map[string]*string{
		"DATABASE_URL":       &c.Database.URL,
		"REDIS_URL":          &c.Cache.URL,
		"APP_TIMEZONE":       &c.App.Zone,
		"APP_ENV":            &c.App.Environment,
		"YOUTUBE_API_KEY":    &p.YouTube.APIKey,
		"SERPAPI_API_KEY":    &p.Serp.APIKey,
		"ANTHROPIC_API_KEY":  &p.Anthropic.APIKey,
		"OPENAI_API_KEY":     &p.OpenAI.APIKey,
		"ELEVENLABS_API_KEY": &p.TTS.APIKey,
		"HEYGEN_API_KEY":     &p.Avatar.APIKey,
		"ANALYTICS_API_KEY":  &p.Analytics.APIKey,
		"EMBEDDING_API_KEY":  &p.Embedding.APIKey,
		"SLACK_WEBHOOK_URL":  &c.Notify.WebhookURL,
		"TELEGRAM_BOT_TOKEN": &c.Notify.TelegramToken,
	}
}

func applyEnvOverrides(c *Config) error {
	for key, field := range c.envOverrides() {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			*field = val
		}
	}
	if val := os.Getenv("TELEGRAM_CHAT_ID"); val != "" {
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", val, err)
		}
		c.Notify.TelegramChatID = id
	}
	return nil
}

// expandHome expands a leading ~/ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
