package agents

import (
	"context"
	"fmt"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/youtube"
)

const KeyVideosUpdated = "videos_updated"

// RetentionSource supplies audience retention metrics the public data API
// does not expose.
type RetentionSource interface {
	Retention(ctx context.Context, videoID string) (watchMinutes, ctr float64, err error)
}

// ZeroRetention reports zeros until an analytics-scoped source is wired.
type ZeroRetention struct{}

func (ZeroRetention) Retention(context.Context, string) (float64, float64, error) { return 0, 0, nil }

type performanceConfig struct {
	MaxVideos int `json:"max_videos"`
}

// PerformanceTracker refreshes the single analytics row of recent videos.
type PerformanceTracker struct {
	d Deps
}

func NewPerformanceTracker(d Deps) *PerformanceTracker {
	d.defaults()
	return &PerformanceTracker{d: d}
}

func (a *PerformanceTracker) Kind() model.AgentKind { return model.PerformanceTracker }

func (a *PerformanceTracker) Summarize(r agent.Result) string {
	return fmt.Sprintf("更新: %d本", r.Int(KeyVideosUpdated))
}

func (a *PerformanceTracker) Execute(ctx context.Context, cfgMap map[string]any, _ model.AgentTask, _ map[string]any) (agent.Result, error) {
	var cfg performanceConfig
	if err := agent.DecodeConfig(cfgMap, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxVideos <= 0 {
		cfg.MaxVideos = 50
	}

	videos, err := a.d.Store.RecentVideos(ctx, cfg.MaxVideos)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(videos))
	for _, v := range videos {
		ids = append(ids, v.VideoID)
	}

	stats := make(map[string]youtube.Video, len(ids))
	for start := 0; start < len(ids); start += youtube.MaxIDsPerCall {
		end := min(start+youtube.MaxIDsPerCall, len(ids))
		got, err := a.d.Platform.ListVideos(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, v := range got {
			stats[v.ID] = v
		}
	}

	var tally agent.Tally
	var errs []error
	updated := 0
	for _, id := range ids {
		v, ok := stats[id]
		if !ok {
			agent.Note(ctx, "info", "video missing from platform, skipped", logger.String("video_id", id))
			tally.Skip()
			continue
		}
		watch, ctr, err := a.d.Retention.Retention(ctx, id)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			agent.Note(ctx, "warn", "retention lookup failed", logger.String("video_id", id), logger.Err(err))
			tally.Degraded()
			watch, ctr = 0, 0
		}
		err = a.d.Store.UpsertVideoAnalytics(ctx, model.VideoAnalytics{
			VideoID:          id,
			Views:            v.Views,
			Likes:            v.Likes,
			Comments:         v.Comments,
			WatchTimeMinutes: watch,
			CTR:              ctr,
			UpdatedAt:        a.d.Clock.Now(),
		})
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			tally.Fail()
			errs = append(errs, err)
			continue
		}
		tally.Succeed()
		updated++
	}
	if err := settle(&tally, errs); err != nil {
		return nil, err
	}

	return tally.Result(map[string]any{KeyVideosUpdated: updated}), nil
}
