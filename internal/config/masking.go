package config

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/BurntSushi/toml"
)

// maskSecret keeps the first and last four characters of a secret.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 8 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// maskTelegramToken keeps the bot id visible for diagnostics.
func maskTelegramToken(token string) string {
	if token == "" {
		return ""
	}
	botID, rest, ok := strings.Cut(token, ":")
	if !ok {
		return maskSecret(token)
	}
	return botID + ":" + maskSecret(rest)
}

// maskURL hides the password of a connection URL and the path of a webhook,
// which carries its credential.
func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return maskSecret(raw)
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	if strings.HasPrefix(u.Scheme, "http") && len(u.Path) > 1 {
		u.Path = ""
		u.RawPath = ""
		u.RawQuery = ""
		return u.String() + "/***"
	}
	return u.String()
}

// Masked returns a copy of c that is safe to print or log.
func (c *Config) Masked() Config {
	m := *c
	m.Schedules = make(map[string]string, len(c.Schedules))
	for k, v := range c.Schedules {
		m.Schedules[k] = v
	}
	m.Database.URL = maskURL(c.Database.URL)
	m.Cache.URL = maskURL(c.Cache.URL)
	m.Notify.WebhookURL = maskURL(c.Notify.WebhookURL)
	m.Notify.TelegramToken = maskTelegramToken(c.Notify.TelegramToken)
	for _, p := range m.providerList() {
		p.APIKey = maskSecret(p.APIKey)
	}
	return m
}

// MaskedTOML renders the masked configuration as TOML.
func (c *Config) MaskedTOML() (string, error) {
	m := c.Masked()
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatValidationError builds a ValidationError whose message never carries
// the raw secret.
func formatValidationError(field, message, secret string) error {
	msg := field + ": " + message
	if secret != "" {
		msg += " (value: " + maskSecret(secret) + ")"
	}
	return &ValidationError{Field: field, Message: msg}
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
