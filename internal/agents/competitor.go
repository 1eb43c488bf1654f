package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/youtube"
)

const (
	ModeDaily  = "daily"
	ModeWeekly = "weekly"

	KeyComparisonsCreated = "comparisons_created"
)

type competitorConfig struct {
	Channels           []string `json:"channels"`
	UploadLookbackDays int      `json:"upload_lookback_days"`
	MaxUploads         int      `json:"max_uploads"`
}

type competitorInput struct {
	Mode string `json:"mode"`
}

// CompetitorAnalyzer snapshots tracked channels and compares them with the
// previous snapshot. Weekly runs also collect recent uploads.
type CompetitorAnalyzer struct {
	d Deps
}

func NewCompetitorAnalyzer(d Deps) *CompetitorAnalyzer {
	d.defaults()
	return &CompetitorAnalyzer{d: d}
}

func (a *CompetitorAnalyzer) Kind() model.AgentKind { return model.CompetitorAnalyzer }

func (a *CompetitorAnalyzer) Summarize(r agent.Result) string {
	return fmt.Sprintf("比較: %d件", r.Int(KeyComparisonsCreated))
}

func (a *CompetitorAnalyzer) Execute(ctx context.Context, cfgMap map[string]any, task model.AgentTask, input map[string]any) (agent.Result, error) {
	var cfg competitorConfig
	if err := agent.DecodeConfig(cfgMap, &cfg); err != nil {
		return nil, err
	}
	if cfg.UploadLookbackDays <= 0 {
		cfg.UploadLookbackDays = 7
	}
	if cfg.MaxUploads <= 0 {
		cfg.MaxUploads = 5
	}
	var in competitorInput
	if err := agent.DecodeInput(input, &in); err != nil {
		return nil, err
	}
	switch in.Mode {
	case "":
		in.Mode = ModeDaily
	case ModeDaily, ModeWeekly:
	default:
		return nil, apperr.New(apperr.InvalidInput, "", "competitor_analyzer", fmt.Sprintf("unknown mode %q", in.Mode))
	}

	channels, err := a.platformStats(ctx, cfg.Channels)
	if err != nil {
		return nil, err
	}

	var tally agent.Tally
	now := a.d.Clock.Now()
	records := make([]*model.CompetitorRecord, len(cfg.Channels))
	errs := agent.FanOut(ctx, cfg.Channels, agent.MaxFanOut, func(ctx context.Context, i int, id string) error {
		rec, err := a.analyze(ctx, task, id, channels, in.Mode, cfg, now, &tally)
		switch {
		case err == nil:
			tally.Succeed()
			records[i] = rec
		case skippable(err):
			tally.Skip()
			agent.Note(ctx, "info", "channel not found, skipped", logger.String("channel_id", id))
			return nil
		default:
			tally.Fail()
			agent.Note(ctx, "warn", "channel analysis failed", logger.String("channel_id", id), logger.Err(err))
		}
		return err
	})
	if err := firstFatal(ctx, errs); err != nil {
		return nil, err
	}
	if err := settle(&tally, errs); err != nil {
		return nil, err
	}

	created := 0
	for _, rec := range records {
		if rec != nil {
			created++
		}
	}
	return tally.Result(map[string]any{
		KeyComparisonsCreated: created,
		"mode":                in.Mode,
	}), nil
}

// platformStats fetches current statistics for every tracked channel in
// batches of 50. Without platform credentials analytics provides them.
func (a *CompetitorAnalyzer) platformStats(ctx context.Context, ids []string) (map[string]youtube.Channel, error) {
	if a.d.Platform == nil || !a.d.Platform.Configured() {
		return nil, nil
	}
	out := make(map[string]youtube.Channel, len(ids))
	for start := 0; start < len(ids); start += youtube.MaxIDsPerCall {
		batch := ids[start:min(start+youtube.MaxIDsPerCall, len(ids))]
		chans, err := a.d.Platform.ListChannels(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, c := range chans {
			out[c.ID] = c
		}
	}
	return out, nil
}

func (a *CompetitorAnalyzer) analyze(ctx context.Context, task model.AgentTask, id string, channels map[string]youtube.Channel,
	mode string, cfg competitorConfig, now time.Time, tally *agent.Tally) (*model.CompetitorRecord, error) {
	stats, err := a.d.Analytics.ChannelStats(ctx, id)
	if err != nil {
		return nil, err
	}
	proj, err := a.d.Analytics.Projections(ctx, id)
	if err != nil {
		return nil, err
	}

	rec := model.CompetitorRecord{
		ID:                   uuid.New(),
		TaskID:               task.ID,
		ChannelID:            id,
		Title:                stats.Title,
		Subscribers:          stats.Subscribers,
		Views:                stats.Views,
		Videos:               stats.Videos,
		Rank:                 stats.Rank,
		Grade:                stats.Grade,
		ProjectedSubscribers: proj.Subscribers30d,
		IsFallback:           stats.IsFallback || proj.IsFallback,
		RecordedAt:           now,
	}
	if channels != nil {
		c, ok := channels[id]
		if !ok {
			return nil, apperr.New(apperr.NotFound, youtube.Provider, "list_channels", "channel "+id+" not found")
		}
		rec.Title, rec.Subscribers, rec.Views, rec.Videos = c.Title, c.Subscribers, c.Views, c.Videos
	}
	if rec.IsFallback {
		tally.Degraded()
	}

	if mode == ModeWeekly && a.d.Platform != nil && a.d.Platform.Configured() {
		uploads, err := a.d.Platform.SearchVideos(ctx, youtube.SearchParams{
			ChannelID:      id,
			Order:          "date",
			MaxResults:     cfg.MaxUploads,
			PublishedAfter: now.AddDate(0, 0, -cfg.UploadLookbackDays).Truncate(24 * time.Hour),
		})
		switch {
		case err == nil:
			for _, u := range uploads {
				rec.RecentUploads = append(rec.RecentUploads, u.VideoID)
			}
		case apperr.Is(err, apperr.QuotaExhausted):
			agent.Note(ctx, "info", "recent uploads skipped, budget spent", logger.String("channel_id", id))
		default:
			return nil, err
		}
	}

	prev, found, err := a.d.Store.LatestCompetitorRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if found {
		rec.SubscriberDelta = rec.Subscribers - prev.Subscribers
		rec.ViewDelta = rec.Views - prev.Views
		rec.VideoDelta = rec.Videos - prev.Videos
	}
	if err := a.d.Store.SaveCompetitorRecord(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
