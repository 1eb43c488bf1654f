package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/youtube"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
)

const (
	KeyKeywordsFound = "keywords_found"

	MaxKeywords = 50

	// nearDuplicate is the cosine distance under which a keyword is treated
	// as already researched.
	nearDuplicate = 0.05

	seedCost = youtube.CostSearch + youtube.CostRead
)

type keywordConfig struct {
	Seeds        []string `json:"seeds"`
	Geo          string   `json:"geo"`
	RegionCode   string   `json:"region_code"`
	SampleSize   int      `json:"sample_size"`
	RelatedTerms int      `json:"related_terms"`
}

// KeywordResearcher expands seed keywords with related trend terms and labels
// each by how crowded the search results for its seed are.
type KeywordResearcher struct {
	d Deps
}

func NewKeywordResearcher(d Deps) *KeywordResearcher {
	d.defaults()
	return &KeywordResearcher{d: d}
}

func (a *KeywordResearcher) Kind() model.AgentKind { return model.KeywordResearcher }

func (a *KeywordResearcher) Summarize(r agent.Result) string {
	return fmt.Sprintf("キーワード: %d件", r.Int(KeyKeywordsFound))
}

type seedReport struct {
	terms    []string
	avgViews int64
}

func (a *KeywordResearcher) Execute(ctx context.Context, cfgMap map[string]any, task model.AgentTask, input map[string]any) (agent.Result, error) {
	var cfg keywordConfig
	if err := agent.DecodeConfig(cfgMap, &cfg); err != nil {
		return nil, err
	}
	var in struct {
		Seeds []string `json:"seeds"`
	}
	if err := agent.DecodeInput(input, &in); err != nil {
		return nil, err
	}
	if len(in.Seeds) > 0 {
		cfg.Seeds = in.Seeds
	}
	if cfg.Geo == "" {
		cfg.Geo = "JP"
	}
	if cfg.RegionCode == "" {
		cfg.RegionCode = "JP"
	}
	if cfg.SampleSize <= 0 || cfg.SampleSize > youtube.MaxIDsPerCall {
		cfg.SampleSize = 10
	}
	if cfg.RelatedTerms <= 0 {
		cfg.RelatedTerms = 10
	}

	seeds := cfg.Seeds
	if rem := quota.BudgetFrom(ctx).Remaining(); rem >= 0 {
		if n := int(rem / seedCost); n < len(seeds) {
			agent.Note(ctx, "warn", "seeds truncated to run budget", logger.Int("seeds", len(seeds)), logger.Int("kept", n))
			seeds = seeds[:n]
		}
	}

	var tally agent.Tally
	reports := make([]*seedReport, len(seeds))
	errs := agent.FanOut(ctx, seeds, agent.MaxFanOut, func(ctx context.Context, i int, seed string) error {
		rep, degraded, err := a.research(ctx, cfg, seed)
		if degraded {
			tally.Degraded()
		}
		if err != nil {
			tally.Fail()
			agent.Note(ctx, "warn", "seed research failed", logger.String("seed", seed), logger.Err(err))
			return err
		}
		tally.Succeed()
		reports[i] = rep
		return nil
	})
	if err := firstFatal(ctx, errs); err != nil {
		return nil, err
	}
	if err := settle(&tally, errs); err != nil {
		return nil, err
	}

	now := a.d.Clock.Now()
	var keywords []model.Keyword
	seen := make(map[string]bool)
	for i, rep := range reports {
		if rep == nil {
			continue
		}
		label := model.CompetitionFor(rep.avgViews)
		for _, term := range rep.terms {
			if len(keywords) == MaxKeywords {
				break
			}
			key := a.normalize(term)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			keywords = append(keywords, model.Keyword{
				ID:          uuid.New(),
				TaskID:      task.ID,
				Keyword:     strings.TrimSpace(norm.NFKC.String(term)),
				Seed:        seeds[i],
				Competition: label,
				AvgViews:    rep.avgViews,
				CreatedAt:   now,
			})
		}
	}

	keywords, err := a.embed(ctx, keywords, &tally)
	if err != nil {
		return nil, err
	}
	if len(keywords) > 0 {
		if err := a.d.Store.SaveKeywords(ctx, keywords); err != nil {
			return nil, err
		}
	}
	return tally.Result(map[string]any{
		KeyKeywordsFound: len(keywords),
		"seeds":          len(seeds),
	}), nil
}

// research gathers related terms and the average view count of one seed.
// The seed itself always comes first.
func (a *KeywordResearcher) research(ctx context.Context, cfg keywordConfig, seed string) (*seedReport, bool, error) {
	rep := &seedReport{terms: []string{seed}}
	degraded := false
	if a.d.Trends != nil && a.d.Trends.Configured() {
		t, err := a.d.Trends.Trends(ctx, seed, cfg.Geo)
		if err != nil {
			if fatal(ctx, err) {
				return nil, false, err
			}
			agent.Note(ctx, "warn", "related terms unavailable", logger.String("seed", seed), logger.Err(err))
			degraded = true
		} else {
			terms := t.Terms()
			rep.terms = append(rep.terms, terms[:min(len(terms), cfg.RelatedTerms)]...)
		}
	} else {
		degraded = true
	}

	results, err := a.d.Platform.SearchVideos(ctx, youtube.SearchParams{
		Query:      seed,
		MaxResults: cfg.SampleSize,
		Order:      "relevance",
		RegionCode: cfg.RegionCode,
	})
	if err != nil {
		return nil, degraded, err
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.VideoID != "" {
			ids = append(ids, r.VideoID)
		}
	}
	if len(ids) == 0 {
		return rep, degraded, nil
	}
	videos, err := a.d.Platform.ListVideos(ctx, ids)
	if err != nil {
		return nil, degraded, err
	}
	var total int64
	for _, v := range videos {
		total += v.Views
	}
	if len(videos) > 0 {
		rep.avgViews = total / int64(len(videos))
	}
	return rep, degraded, nil
}

// normalize folds width, compatibility forms and case so that "ＡＩ" and
// "ai" compare equal.
func (a *KeywordResearcher) normalize(term string) string {
	s := norm.NFKC.String(term)
	s = width.Fold.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// embed attaches embeddings and drops keywords already stored under a nearly
// identical vector. Without an embedding provider keywords pass unchanged.
func (a *KeywordResearcher) embed(ctx context.Context, keywords []model.Keyword, tally *agent.Tally) ([]model.Keyword, error) {
	if len(keywords) == 0 || a.d.Embedder == nil || !a.d.Embedder.Configured() {
		return keywords, nil
	}
	texts := make([]string, len(keywords))
	for i, k := range keywords {
		texts[i] = k.Keyword
	}
	vectors, err := a.d.Embedder.Embed(ctx, texts)
	if err != nil {
		if fatal(ctx, err) {
			return nil, err
		}
		agent.Note(ctx, "warn", "embedding failed, keywords stored without vectors", logger.Err(err))
		tally.Degraded()
		return keywords, nil
	}
	kept := keywords[:0]
	for i, k := range keywords {
		k.Embedding = vectors[i]
		_, dist, ok, err := a.d.Store.NearestKeyword(ctx, k.Embedding)
		if err != nil {
			return nil, err
		}
		if ok && dist < nearDuplicate {
			continue
		}
		kept = append(kept, k)
	}
	return kept, nil
}
