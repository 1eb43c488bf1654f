// Package notify emits operator-facing events to chat surfaces. Emission
// never blocks the caller and delivery failures are only logged.
package notify

import (
	"fmt"
	"time"
)

// Level controls surface formatting.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelInfo, LevelWarn, LevelError, LevelCritical:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown notification level %q", s)
}

// Kind is the event family.
type Kind string

const (
	KindAlert       Kind = "alert"
	KindDailyReport Kind = "daily_report"
	KindDeploy      Kind = "deploy"
	KindError       Kind = "error"
)

// Event is the payload delivered to sinks.
type Event struct {
	Kind      Kind              `json:"kind"`
	Level     Level             `json:"level"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields"`
	Timestamp time.Time         `json:"timestamp"`
}

func (l Level) emoji() string {
	switch l {
	case LevelWarn:
		return "⚠️"
	case LevelError:
		return "❌"
	case LevelCritical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

func (l Level) color() string {
	switch l {
	case LevelWarn:
		return "#f2c744"
	case LevelError:
		return "#e01e5a"
	case LevelCritical:
		return "#8b0000"
	default:
		return "#36a64f"
	}
}
