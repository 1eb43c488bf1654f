package agent

import (
	"context"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

// Journal persists task-scoped log lines.
type Journal interface {
	Append(ctx context.Context, level, msg string, fields map[string]any)
}

type runKey struct{}

type runScope struct {
	log     *logger.Logger
	journal Journal
}

// WithRun attaches the task-scoped logger and journal to ctx.
func WithRun(ctx context.Context, log *logger.Logger, j Journal) context.Context {
	return context.WithValue(ctx, runKey{}, runScope{log: log, journal: j})
}

// Logger returns the task-scoped logger, or a discarding one.
func Logger(ctx context.Context) *logger.Logger {
	if s, ok := ctx.Value(runKey{}).(runScope); ok && s.log != nil {
		return s.log
	}
	return logger.Discard()
}

// Note logs msg at level and appends it to the task journal.
func Note(ctx context.Context, level, msg string, fields ...logger.Field) {
	s, _ := ctx.Value(runKey{}).(runScope)
	log := s.log
	if log == nil {
		log = logger.Discard()
	}
	switch level {
	case "debug":
		log.DebugCtx(ctx, msg, fields...)
	case "warn":
		log.WarnCtx(ctx, msg, fields...)
	case "error":
		log.ErrorCtx(ctx, msg, nil, fields...)
	default:
		level = "info"
		log.InfoCtx(ctx, msg, fields...)
	}
	if s.journal != nil {
		m := make(map[string]any, len(fields))
		for _, f := range fields {
			m[f.Key] = f.Value
		}
		s.journal.Append(ctx, level, msg, m)
	}
}
