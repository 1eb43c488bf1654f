package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cron"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

// Validate reports every problem found, not just the first.
func (c *Config) Validate() []error {
	var errs []error

	if _, err := clock.LoadZone(c.App.Zone); err != nil {
		errs = append(errs, fmt.Errorf("invalid app.zone: %w", err))
	}

	if !logger.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}
	if c.Logging.Output == "" {
		errs = append(errs, fmt.Errorf("logging.output is required"))
	}

	if c.Database.URL != "" {
		if err := validateURL(c.Database.URL, "database.url", "postgres", "postgresql"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("database.min_conns (%d) exceeds database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns))
	}
	if c.Cache.URL != "" {
		if err := validateURL(c.Cache.URL, "cache.url", "redis", "rediss"); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Workers.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("workers.pool_size must be >= 1"))
	}
	if c.Workers.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("workers.queue_size must be >= 1"))
	}

	o := c.Orchestrator
	if o.DeadlineSeconds < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.deadline_seconds must be >= 1"))
	}
	if o.MaxAttempts < 1 || o.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("orchestrator.max_attempts must be between 1 and 10 (got %d)", o.MaxAttempts))
	}
	if o.InitialBackoffMS < 1 || o.MaxBackoffSeconds < 1 {
		errs = append(errs, fmt.Errorf("orchestrator backoff values must be positive"))
	}
	if o.FailureThreshold < 1 || o.FailureWindowHours < 1 {
		errs = append(errs, fmt.Errorf("orchestrator failure guard values must be positive"))
	}

	q := c.Quota
	if q.DailyLimit < 1 {
		errs = append(errs, fmt.Errorf("quota.daily_limit must be >= 1"))
	}
	if q.WarnRatio <= 0 || q.StopRatio > 1 || q.WarnRatio >= q.StopRatio {
		errs = append(errs, fmt.Errorf("quota ratios must satisfy 0 < warn_ratio < stop_ratio <= 1 (got %.2f, %.2f)", q.WarnRatio, q.StopRatio))
	}

	if _, err := cron.Override(cron.DefaultTable(), c.Schedules); err != nil {
		errs = append(errs, fmt.Errorf("invalid schedules: %w", err))
	}

	if c.Notify.WebhookURL != "" {
		if err := validateURL(c.Notify.WebhookURL, "notify.webhook_url", "http", "https"); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Notify.WebhookFormat {
	case "slack", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid notify.webhook_format: %s (expected: slack, json)", c.Notify.WebhookFormat))
	}
	if c.Notify.TelegramToken != "" {
		if err := validateTelegramToken(c.Notify.TelegramToken); err != nil {
			errs = append(errs, err)
		}
		if c.Notify.TelegramChatID == 0 {
			errs = append(errs, fmt.Errorf("notify.telegram_chat_id is required when telegram_token is set"))
		}
	}

	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1 (got %.2f)", r))
	}

	for name, p := range c.namedProviders() {
		if p.APIKey != "" {
			if err := validateAPIKey(p.APIKey, "providers."+name+".api_key"); err != nil {
				errs = append(errs, err)
			}
		}
		if p.BaseURL != "" {
			if err := validateURL(p.BaseURL, "providers."+name+".base_url", "http", "https"); err != nil {
				errs = append(errs, err)
			}
		}
		if p.TimeoutSeconds < 1 {
			errs = append(errs, fmt.Errorf("providers.%s.timeout_seconds must be >= 1", name))
		}
		if p.RatePerSecond <= 0 || p.Burst < 1 {
			errs = append(errs, fmt.Errorf("providers.%s rate limit must be positive", name))
		}
	}

	return errs
}

func (c *Config) namedProviders() map[string]ProviderConfig {
	p := c.Providers
	return map[string]ProviderConfig{
		"youtube":   p.YouTube,
		"serp":      p.Serp,
		"anthropic": p.Anthropic,
		"openai":    p.OpenAI,
		"tts":       p.TTS.ProviderConfig,
		"avatar":    p.Avatar,
		"analytics": p.Analytics.ProviderConfig,
		"embedding": p.Embedding,
	}
}

func validateAPIKey(key, fieldName string) error {
	if len(key) < 10 {
		return fmt.Errorf("%s is too short (minimum 10 characters, got %d)", fieldName, len(key))
	}
	if strings.ContainsAny(key, " \t\n") {
		return formatValidationError(fieldName, "contains whitespace", key)
	}
	return nil
}

func validateURL(raw, fieldName string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return formatValidationError(fieldName, "is not a valid URL", raw)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			if u.Host == "" {
				return formatValidationError(fieldName, "has no host", raw)
			}
			return nil
		}
	}
	return formatValidationError(fieldName, fmt.Sprintf("must use one of the schemes %s", strings.Join(schemes, ", ")), raw)
}

func validateTelegramToken(token string) error {
	botID, botToken, ok := strings.Cut(token, ":")
	if !ok || strings.Contains(botToken, ":") {
		return fmt.Errorf("telegram token has invalid format (expected format: <bot_id>:<token>, got: %s)", maskSecret(token))
	}

	if len(botID) < 3 || len(botID) > 15 {
		return fmt.Errorf("telegram token has invalid bot ID length (expected 3-15 digits, got %d digits)", len(botID))
	}
	for _, r := range botID {
		if r < '0' || r > '9' {
			return fmt.Errorf("telegram token has invalid bot ID (expected digits only, got: %s)", botID)
		}
	}

	if len(botToken) < 10 || len(botToken) > 50 {
		return fmt.Errorf("telegram token has invalid token length (expected 10-50 characters, got %d)", len(botToken))
	}
	return nil
}
