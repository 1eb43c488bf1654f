package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/llm"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/sanitize"
)

const (
	KeyOverallScore = "overall_score"
	KeyPassed       = "passed"
	KeyScores       = "scores"
	KeyFeedback     = "feedback"

	DefaultPassThreshold = 70
	NeutralScore         = 50
	FeedbackUnavailable  = "AI unavailable"

	rubricMax = 25
)

const qaSystem = `You review scripts for Japanese YouTube videos.
Score each criterion from 0 to 25:
- hook: do the first 15 seconds give viewers a reason to stay
- structure: is the flow clear and well paced
- target: does it speak to the stated audience
- cta: is there a clear, natural call to action
Answer with JSON only:
{"hook":0,"structure":0,"target":0,"cta":0,"feedback":"one paragraph in Japanese"}
` + sanitize.Untrusted

type qaConfig struct {
	Threshold int `json:"threshold"`
}

type qaInput struct {
	Script         string `json:"script"`
	Title          string `json:"title"`
	TargetAudience string `json:"target_audience"`
}

type rubric struct {
	Hook      int    `json:"hook"`
	Structure int    `json:"structure"`
	Target    int    `json:"target"`
	CTA       int    `json:"cta"`
	Feedback  string `json:"feedback"`
}

func (r rubric) clamped() rubric {
	c := func(v int) int { return max(0, min(rubricMax, v)) }
	r.Hook, r.Structure, r.Target, r.CTA = c(r.Hook), c(r.Structure), c(r.Target), c(r.CTA)
	return r
}

func (r rubric) overall() int { return r.Hook + r.Structure + r.Target + r.CTA }

// QAChecker scores a video script against a four-part rubric. It runs on
// demand only.
type QAChecker struct {
	d Deps
}

func NewQAChecker(d Deps) *QAChecker {
	d.defaults()
	return &QAChecker{d: d}
}

func (a *QAChecker) Kind() model.AgentKind { return model.QAChecker }

func (a *QAChecker) Summarize(r agent.Result) string {
	verdict := "不合格"
	if r.Bool(KeyPassed) {
		verdict = "合格"
	}
	return fmt.Sprintf("スコア: %d点 (%s)", r.Int(KeyOverallScore), verdict)
}

func (a *QAChecker) Execute(ctx context.Context, cfgMap map[string]any, _ model.AgentTask, input map[string]any) (agent.Result, error) {
	var cfg qaConfig
	if err := agent.DecodeConfig(cfgMap, &cfg); err != nil {
		return nil, err
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 100 {
		cfg.Threshold = DefaultPassThreshold
	}
	var in qaInput
	if err := agent.DecodeInput(input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Script) == "" {
		return nil, apperr.New(apperr.InvalidInput, "", "qa_checker", "script is required")
	}

	score, err := a.score(ctx, in)
	if err != nil {
		if !a.degradable(ctx, err) {
			return nil, err
		}
		agent.Note(ctx, "warn", "scoring model unavailable, neutral score used", logger.Err(err))
		return a.result(cfg.Threshold, NeutralScore, nil, FeedbackUnavailable, true), nil
	}
	s := score.clamped()
	return a.result(cfg.Threshold, s.overall(), map[string]any{
		"hook":      s.Hook,
		"structure": s.Structure,
		"target":    s.Target,
		"cta":       s.CTA,
	}, s.Feedback, false), nil
}

func (a *QAChecker) result(threshold, overall int, scores map[string]any, feedback string, fallback bool) agent.Result {
	passed := overall >= threshold
	r := agent.Result{
		agent.KeyItemsProcessed: 1,
		agent.KeyItemsSucceeded: 1,
		agent.KeyItemsFailed:    0,
		agent.KeyIsFallback:     fallback,
		KeyOverallScore:         overall,
		KeyPassed:               passed,
		KeyFeedback:             feedback,
	}
	if scores != nil {
		r[KeyScores] = scores
	}
	return r
}

// degradable reports errors answered with the neutral score. Timeouts and
// rate limits are returned so the run is retried.
func (a *QAChecker) degradable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.Unavailable, apperr.Unauthorized, apperr.Misconfigured:
		return true
	}
	return false
}

func (a *QAChecker) score(ctx context.Context, in qaInput) (rubric, error) {
	if a.d.LLMA == nil {
		return rubric{}, apperr.New(apperr.Misconfigured, "", "qa_checker", "no scoring model")
	}
	resp, err := a.d.LLMA.Complete(ctx, a.request(in.Title, in.TargetAudience, in.Script))
	if apperr.Is(err, apperr.ContentFiltered) {
		agent.Note(ctx, "info", "script refused, retrying with cleaned text")
		resp, err = a.d.LLMA.Complete(ctx, a.request(in.Title, in.TargetAudience, a.d.Sanitizer.Clean(in.Script)))
	}
	if err != nil {
		return rubric{}, err
	}
	var r rubric
	if err := llm.ExtractJSON(resp.Content, &r); err != nil {
		return rubric{}, apperr.Wrap(apperr.Unavailable, a.d.LLMA.Name(), "complete", err)
	}
	return r, nil
}

func (a *QAChecker) request(title, audience, script string) llm.Request {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	if audience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", audience)
	}
	b.WriteString("\n")
	b.WriteString(sanitize.Wrap(script))
	return llm.Prompt(qaSystem, b.String())
}
