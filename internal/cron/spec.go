// Package cron holds the code-defined schedule table and the loop that
// turns it into agent runs.
package cron

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
)

// DailyReport names the system job that posts the per-kind run counts.
const DailyReport = "daily_report"

// parser accepts exactly the five standard fields.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Spec is one row of the schedule table. Kind is empty for system jobs.
type Spec struct {
	Name  string
	Expr  string
	Kind  model.AgentKind
	Input map[string]any

	schedule cron.Schedule
}

// ParseSpec parses a five-field cron expression evaluated on local wall time.
func ParseSpec(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if n := len(strings.Fields(expr)); n != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, n)
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("invalid cron expression %q: zone prefixes are not supported", expr)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NewSpec builds a parsed Spec.
func NewSpec(name, expr string, kind model.AgentKind, input map[string]any) (Spec, error) {
	if name == "" {
		return Spec{}, fmt.Errorf("schedule name is required")
	}
	if kind != "" && !kind.Valid() {
		return Spec{}, fmt.Errorf("schedule %s: unknown agent kind %q", name, kind)
	}
	sched, err := ParseSpec(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("schedule %s: %w", name, err)
	}
	return Spec{Name: name, Expr: strings.TrimSpace(expr), Kind: kind, Input: input, schedule: sched}, nil
}

// NextFire returns the first fire instant strictly after after, evaluated on
// the wall clock of loc. Wall times skipped by a zone transition are skipped;
// wall times repeated by one fire at their first occurrence only.
func (s Spec) NextFire(after time.Time, loc *time.Location) time.Time {
	sched := s.schedule
	if sched == nil {
		parsed, err := ParseSpec(s.Expr)
		if err != nil {
			return time.Time{}
		}
		sched = parsed
	}
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc)
	for {
		next := sched.Next(t)
		if next.IsZero() || !repeatedWallTime(next) {
			return next
		}
		t = next
	}
}

// repeatedWallTime reports whether the wall time of t already occurred
// earlier, as on the second pass through a fall-back hour.
func repeatedWallTime(t time.Time) bool {
	for _, d := range []time.Duration{30 * time.Minute, time.Hour, 2 * time.Hour} {
		if sameWallTime(t.Add(-d).In(t.Location()), t) {
			return true
		}
	}
	return false
}

func sameWallTime(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}

// System reports whether the spec runs a system job rather than an agent.
func (s Spec) System() bool {
	return s.Kind == ""
}

// InputCopy returns a copy of the spec's input payload.
func (s Spec) InputCopy() map[string]any {
	if s.Input == nil {
		return map[string]any{}
	}
	return maps.Clone(s.Input)
}

type row struct {
	name  string
	expr  string
	kind  model.AgentKind
	input map[string]any
}

var defaultRows = []row{
	{name: "trend_monitor", expr: "0 9,15,21 * * *", kind: model.TrendMonitor},
	{name: "competitor_analyzer", expr: "30 21 * * *", kind: model.CompetitorAnalyzer, input: map[string]any{"mode": "daily"}},
	{name: "competitor_analyzer_weekly", expr: "0 9 * * 1", kind: model.CompetitorAnalyzer, input: map[string]any{"mode": "weekly"}},
	{name: "comment_responder", expr: "30 9,15,21 * * *", kind: model.CommentResponder},
	{name: "content_scheduler", expr: "0 8 * * *", kind: model.ContentScheduler},
	{name: "performance_tracker", expr: "0 0 * * *", kind: model.PerformanceTracker},
	{name: "keyword_researcher", expr: "0 9 * * 1", kind: model.KeywordResearcher},
	{name: DailyReport, expr: "55 23 * * *"},
}

// DefaultTable returns the built-in schedule table. The QA checker runs only
// on demand and has no row.
func DefaultTable() []Spec {
	specs := make([]Spec, 0, len(defaultRows))
	for _, r := range defaultRows {
		var input map[string]any
		if r.input != nil {
			input = maps.Clone(r.input)
		}
		spec, err := NewSpec(r.name, r.expr, r.kind, input)
		if err != nil {
			panic(err)
		}
		specs = append(specs, spec)
	}
	return specs
}

// Override replaces expressions by schedule name. An empty expression or
// "off" removes the row. Unknown names are an error.
func Override(table []Spec, exprs map[string]string) ([]Spec, error) {
	if len(exprs) == 0 {
		return table, nil
	}
	known := make(map[string]bool, len(table))
	for _, s := range table {
		known[s.Name] = true
	}
	for name := range exprs {
		if !known[name] {
			return nil, fmt.Errorf("schedule override: unknown schedule %q", name)
		}
	}

	out := make([]Spec, 0, len(table))
	for _, s := range table {
		expr, ok := exprs[s.Name]
		if !ok {
			out = append(out, s)
			continue
		}
		if expr = strings.TrimSpace(expr); expr == "" || strings.EqualFold(expr, "off") {
			continue
		}
		spec, err := NewSpec(s.Name, expr, s.Kind, s.Input)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}
