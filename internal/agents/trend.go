package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/youtube"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
)

const KeyAlertsCreated = "alerts_created"

type trendConfig struct {
	Categories    []string `json:"categories"`
	Geo           string   `json:"geo"`
	RegionCode    string   `json:"region_code"`
	MaxResults    int      `json:"max_results"`
	LookbackHours int      `json:"lookback_hours"`
}

func (c *trendConfig) defaults() {
	if c.Geo == "" {
		c.Geo = "JP"
	}
	if c.RegionCode == "" {
		c.RegionCode = "JP"
	}
	if c.MaxResults <= 0 || c.MaxResults > 50 {
		c.MaxResults = 10
	}
	if c.LookbackHours <= 0 {
		c.LookbackHours = 48
	}
}

// TrendMonitor searches each tracked category for trending videos and
// records the ones not seen in the novelty window as alerts.
type TrendMonitor struct {
	d Deps
}

func NewTrendMonitor(d Deps) *TrendMonitor {
	d.defaults()
	return &TrendMonitor{d: d}
}

func (a *TrendMonitor) Kind() model.AgentKind { return model.TrendMonitor }

func (a *TrendMonitor) Summarize(r agent.Result) string {
	return fmt.Sprintf("アラート: %d件", r.Int(KeyAlertsCreated))
}

type categoryHits struct {
	query   string
	results []youtube.SearchResult
}

func (a *TrendMonitor) Execute(ctx context.Context, cfgMap map[string]any, task model.AgentTask, _ map[string]any) (agent.Result, error) {
	var cfg trendConfig
	if err := agent.DecodeConfig(cfgMap, &cfg); err != nil {
		return nil, err
	}
	cfg.defaults()

	categories := cfg.Categories
	if rem := quota.BudgetFrom(ctx).Remaining(); rem >= 0 {
		if n := int(rem / youtube.CostSearch); n < len(categories) {
			agent.Note(ctx, "warn", "categories truncated to run budget",
				logger.Int("categories", len(categories)), logger.Int("kept", n))
			categories = categories[:n]
		}
	}

	var tally agent.Tally
	now := a.d.Clock.Now()
	hits := make([]categoryHits, len(categories))
	errs := agent.FanOut(ctx, categories, agent.MaxFanOut, func(ctx context.Context, i int, category string) error {
		query, degraded := a.query(ctx, category, cfg.Geo)
		if degraded {
			tally.Degraded()
		}
		results, err := a.d.Platform.SearchVideos(ctx, youtube.SearchParams{
			Query:          query,
			MaxResults:     cfg.MaxResults,
			Order:          "viewCount",
			RegionCode:     cfg.RegionCode,
			PublishedAfter: now.Add(-time.Duration(cfg.LookbackHours) * time.Hour).Truncate(time.Hour),
		})
		if err != nil {
			tally.Fail()
			agent.Note(ctx, "warn", "category search failed", logger.String("category", category), logger.Err(err))
			return err
		}
		tally.Succeed()
		hits[i] = categoryHits{query: query, results: results}
		return nil
	})
	if err := firstFatal(ctx, errs); err != nil {
		return nil, err
	}
	if err := settle(&tally, errs); err != nil {
		return nil, err
	}

	// Novelty is decided in category order so equal inputs give equal alerts.
	var alerts []model.TrendAlert
	inRun := make(map[string]bool)
	for i, h := range hits {
		for _, r := range h.results {
			if r.VideoID == "" || inRun[r.VideoID] {
				continue
			}
			inRun[r.VideoID] = true
			if !a.novel(ctx, r.VideoID) {
				continue
			}
			alerts = append(alerts, model.TrendAlert{
				ID:           uuid.New(),
				TaskID:       task.ID,
				Category:     categories[i],
				Query:        h.query,
				VideoID:      r.VideoID,
				Title:        r.Title,
				ChannelID:    r.ChannelID,
				ChannelTitle: r.ChannelTitle,
				PublishedAt:  r.PublishedAt,
				DetectedAt:   now,
			})
		}
	}
	result := tally.Result(map[string]any{
		KeyAlertsCreated: len(alerts),
		"categories":     len(categories),
	})
	for i := range alerts {
		alerts[i].IsFallback = result.Fallback()
	}
	if len(alerts) > 0 {
		if err := a.d.Store.SaveTrendAlerts(ctx, alerts); err != nil {
			return nil, err
		}
	}
	// Ids become seen only once their alerts are stored, so a retried run
	// reports them again.
	for _, al := range alerts {
		a.markSeen(ctx, al.VideoID)
	}
	return result, nil
}

// query picks the top rising related term of category when the trends engine
// answers, and the bare category name otherwise.
func (a *TrendMonitor) query(ctx context.Context, category, geo string) (string, bool) {
	if a.d.Trends == nil || !a.d.Trends.Configured() {
		return category, true
	}
	t, err := a.d.Trends.Trends(ctx, category, geo)
	if err != nil {
		agent.Note(ctx, "warn", "trends lookup failed, searching category name",
			logger.String("category", category), logger.Err(err))
		return category, true
	}
	if terms := t.Terms(); len(terms) > 0 {
		return terms[0], false
	}
	return category, false
}

// novel reports whether videoID was unseen within the window of the seen
// namespace.
func (a *TrendMonitor) novel(ctx context.Context, videoID string) bool {
	if a.d.Cache == nil {
		return true
	}
	key, err := cache.Key(cache.Seen, videoID)
	if err != nil {
		return true
	}
	return !a.d.Cache.Exists(ctx, key)
}

func (a *TrendMonitor) markSeen(ctx context.Context, videoID string) {
	if a.d.Cache == nil {
		return
	}
	if key, err := cache.Key(cache.Seen, videoID); err == nil {
		a.d.Cache.Set(ctx, key, []byte("1"), cache.Seen.TTL)
	}
}
