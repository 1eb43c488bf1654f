package quota

import (
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
)

// PlanEntry is the search-platform allowance of one scheduled agent mode.
type PlanEntry struct {
	Kind        model.AgentKind
	Mode        string
	UnitsPerRun int64
	// RunsPerDay counts fires on the busiest day; weekly jobs count once.
	RunsPerDay int64
}

// Plan is the daily allocation table of the search platform.
type Plan []PlanEntry

// DefaultPlan keeps the busiest day (Monday) at 2,956 units.
var DefaultPlan = Plan{
	{Kind: model.TrendMonitor, UnitsPerRun: 500, RunsPerDay: 3},
	{Kind: model.CommentResponder, UnitsPerRun: 300, RunsPerDay: 3},
	{Kind: model.CompetitorAnalyzer, Mode: "daily", UnitsPerRun: 1, RunsPerDay: 1},
	{Kind: model.CompetitorAnalyzer, Mode: "weekly", UnitsPerRun: 200, RunsPerDay: 1},
	{Kind: model.PerformanceTracker, UnitsPerRun: 5, RunsPerDay: 1},
	{Kind: model.KeywordResearcher, UnitsPerRun: 350, RunsPerDay: 1},
	{Kind: model.ContentScheduler, UnitsPerRun: 0, RunsPerDay: 1},
	{Kind: model.QAChecker, UnitsPerRun: 0, RunsPerDay: 0},
}

// Daily returns the projected units of the busiest day.
func (p Plan) Daily() int64 {
	var total int64
	for _, e := range p {
		total += e.UnitsPerRun * e.RunsPerDay
	}
	return total
}

// RunBudget returns the allowance of one run of kind in mode. An unknown mode
// falls back to the kind's first entry; unknown kinds get 0.
func (p Plan) RunBudget(kind model.AgentKind, mode string) int64 {
	var fallback int64 = -1
	for _, e := range p {
		if e.Kind != kind {
			continue
		}
		if e.Mode == mode {
			return e.UnitsPerRun
		}
		if fallback < 0 {
			fallback = e.UnitsPerRun
		}
	}
	if fallback < 0 {
		return 0
	}
	return fallback
}
