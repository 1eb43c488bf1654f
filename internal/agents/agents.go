// Package agents holds the seven concrete agents run by the orchestrator.
package agents

import (
	"context"
	"errors"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/analytics"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/llm"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/sanitize"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/serp"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/youtube"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
)

// VideoPlatform is the part of the search platform client agents use.
type VideoPlatform interface {
	Configured() bool
	SearchVideos(ctx context.Context, p youtube.SearchParams) ([]youtube.SearchResult, error)
	ListVideos(ctx context.Context, ids []string) ([]youtube.Video, error)
	ListChannels(ctx context.Context, ids []string) ([]youtube.Channel, error)
	ListCommentThreads(ctx context.Context, videoID string, maxResults int) ([]youtube.CommentThread, error)
	InsertComment(ctx context.Context, parentID, text string) (string, error)
}

type TrendSource interface {
	Configured() bool
	Trends(ctx context.Context, query, geo string) (serp.Trends, error)
}

type ChannelAnalytics interface {
	ChannelStats(ctx context.Context, channelID string) (analytics.Stats, error)
	Projections(ctx context.Context, channelID string) (analytics.Projection, error)
}

type Embedder interface {
	Configured() bool
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Alerter is the notification surface agents may use directly.
type Alerter interface {
	Alert(level notify.Level, title, message string, fields map[string]string)
}

// Deps are the collaborators shared by all agents. Nil optional members
// disable the feature that needs them.
type Deps struct {
	Store     store.Store
	Platform  VideoPlatform
	Trends    TrendSource
	Analytics ChannelAnalytics
	LLMA      llm.Completer
	LLMB      llm.Completer
	Embedder  Embedder
	Cache     *cache.Layer
	Alerter   Alerter
	Sanitizer *sanitize.Sanitizer
	Retention RetentionSource
	Clock     clock.Clock
	Zone      *time.Location
}

func (d *Deps) defaults() {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Zone == nil {
		d.Zone = time.UTC
	}
	if d.Sanitizer == nil {
		d.Sanitizer = sanitize.New(sanitize.Config{})
	}
	if d.Retention == nil {
		d.Retention = ZeroRetention{}
	}
	if d.LLMB == nil {
		d.LLMB = d.LLMA
	}
}

// All builds the seven agents.
func All(d Deps) []agent.Agent {
	d.defaults()
	return []agent.Agent{
		NewTrendMonitor(d),
		NewCompetitorAnalyzer(d),
		NewCommentResponder(d),
		NewContentScheduler(d),
		NewPerformanceTracker(d),
		NewQAChecker(d),
		NewKeywordResearcher(d),
	}
}

// fatal reports whether err must end the run instead of failing one item.
func fatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return true
	}
	return apperr.KindOf(err).Critical()
}

// firstFatal returns the first error in errs that must end the run.
func firstFatal(ctx context.Context, errs []error) error {
	for _, err := range errs {
		if fatal(ctx, err) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
	return nil
}

// settle turns a run in which every attempted item failed into a run error,
// so the orchestrator can retry or fail it as a whole.
func settle(t *agent.Tally, errs []error) error {
	if t.Failed() == 0 || t.Succeeded() > 0 {
		return nil
	}
	return errors.Join(errs...)
}

// skippable reports per-item errors that are not failures.
func skippable(err error) bool {
	return apperr.Is(err, apperr.NotFound)
}
