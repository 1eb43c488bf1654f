package agents

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/llm"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/sanitize"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/youtube"
)

const (
	KeyCommentsProcessed = "comments_processed"
	KeyRepliesDrafted    = "replies_drafted"
	KeyRepliesPosted     = "replies_posted"
)

const classifySystem = `You triage YouTube comments for a Japanese creator.
Answer with JSON only: {"sentiment":"positive|neutral|negative|question|spam","should_reply":true|false}.
Reply to questions and sincere feedback. Never reply to spam or abuse.
` + sanitize.Untrusted

const draftSystem = `You write short, warm replies in Japanese on behalf of a YouTube creator.
Keep replies under 200 characters, do not promise anything, do not include links.
` + sanitize.Untrusted

type commentConfig struct {
	MaxVideos           int    `json:"max_videos"`
	MaxCommentsPerVideo int    `json:"max_comments_per_video"`
	Persona             string `json:"persona"`
	PostApproved        *bool  `json:"post_approved"`
	MaxPostsPerRun      int    `json:"max_posts_per_run"`
}

type classification struct {
	Sentiment   string `json:"sentiment"`
	ShouldReply bool   `json:"should_reply"`
}

// CommentResponder drafts replies to new comments for human approval, and
// posts the replies an operator approved.
type CommentResponder struct {
	d Deps
}

func NewCommentResponder(d Deps) *CommentResponder {
	d.defaults()
	return &CommentResponder{d: d}
}

func (a *CommentResponder) Kind() model.AgentKind { return model.CommentResponder }

func (a *CommentResponder) Summarize(r agent.Result) string {
	return fmt.Sprintf("コメント: %d件 / 返信案: %d件 / 投稿: %d件",
		r.Int(KeyCommentsProcessed), r.Int(KeyRepliesDrafted), r.Int(KeyRepliesPosted))
}

func (a *CommentResponder) Execute(ctx context.Context, cfgMap map[string]any, task model.AgentTask, _ map[string]any) (agent.Result, error) {
	var cfg commentConfig
	if err := agent.DecodeConfig(cfgMap, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxVideos <= 0 {
		cfg.MaxVideos = 10
	}
	if cfg.MaxCommentsPerVideo <= 0 || cfg.MaxCommentsPerVideo > 100 {
		cfg.MaxCommentsPerVideo = 20
	}
	if cfg.MaxPostsPerRun <= 0 {
		cfg.MaxPostsPerRun = 5
	}

	videos, err := a.d.Store.RecentVideos(ctx, cfg.MaxVideos)
	if err != nil {
		return nil, err
	}

	var tally agent.Tally
	var drafted, processed atomic.Int64
	errs := agent.FanOut(ctx, videos, agent.MaxFanOut, func(ctx context.Context, _ int, v model.Video) error {
		threads, err := a.d.Platform.ListCommentThreads(ctx, v.VideoID, cfg.MaxCommentsPerVideo)
		if err != nil {
			if skippable(err) {
				agent.Note(ctx, "info", "comments unavailable, video skipped", logger.String("video_id", v.VideoID))
				return nil
			}
			tally.Fail()
			agent.Note(ctx, "warn", "listing comments failed", logger.String("video_id", v.VideoID), logger.Err(err))
			return err
		}
		var firstErr error
		for _, th := range threads {
			done, err := a.triage(ctx, task, cfg, th)
			if err != nil {
				if fatal(ctx, err) {
					return err
				}
				tally.Fail()
				agent.Note(ctx, "warn", "comment triage failed", logger.String("comment_id", th.ID), logger.Err(err))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if done.seen {
				tally.Skip()
				continue
			}
			processed.Add(1)
			if done.drafted {
				drafted.Add(1)
			}
			tally.Succeed()
		}
		return firstErr
	})
	if err := firstFatal(ctx, errs); err != nil {
		return nil, err
	}

	posted := 0
	if cfg.PostApproved == nil || *cfg.PostApproved {
		posted, err = a.postApproved(ctx, cfg.MaxPostsPerRun, &tally)
		if err != nil {
			return nil, err
		}
	}
	if err := settle(&tally, errs); err != nil {
		return nil, err
	}

	return tally.Result(map[string]any{
		KeyCommentsProcessed: processed.Load(),
		KeyRepliesDrafted:    drafted.Load(),
		KeyRepliesPosted:     posted,
	}), nil
}

type triageOutcome struct {
	seen    bool
	drafted bool
}

func (a *CommentResponder) triage(ctx context.Context, task model.AgentTask, cfg commentConfig, th youtube.CommentThread) (triageOutcome, error) {
	seen, err := a.d.Store.HasComment(ctx, th.ID)
	if err != nil {
		return triageOutcome{}, err
	}
	if seen {
		return triageOutcome{seen: true}, nil
	}

	text := PlainText(th.TextDisplay)
	if text == "" {
		text = th.Text
	}
	if report := a.d.Sanitizer.Inspect(text); !report.Safe {
		agent.Note(ctx, "info", "comment looks like prompt injection, cleaned",
			logger.String("comment_id", th.ID), logger.Any("detected", report.Detected))
		text = a.d.Sanitizer.Clean(text)
	}

	var cls classification
	if err := a.complete(ctx, a.d.LLMA, classifySystem, sanitize.Wrap(text), &cls, text); err != nil {
		return triageOutcome{}, err
	}
	reply := model.CommentReply{
		ID:        uuid.New(),
		TaskID:    task.ID,
		VideoID:   th.VideoID,
		CommentID: th.ID,
		Author:    th.Author,
		Text:      text,
		Sentiment: cls.Sentiment,
		Status:    model.CommentRejected,
		CreatedAt: a.d.Clock.Now(),
		UpdatedAt: a.d.Clock.Now(),
	}
	if cls.ShouldReply && cls.Sentiment != "spam" {
		prompt := sanitize.Wrap(text)
		if cfg.Persona != "" {
			prompt = "Persona: " + cfg.Persona + "\n\n" + prompt
		}
		draft, err := a.draft(ctx, prompt, text)
		if err != nil {
			return triageOutcome{}, err
		}
		reply.DraftReply = draft
		reply.Status = model.CommentPendingApproval
	}
	if _, err := a.d.Store.EnqueueReply(ctx, reply); err != nil {
		return triageOutcome{}, err
	}
	return triageOutcome{drafted: reply.Status == model.CommentPendingApproval}, nil
}

// complete asks c for JSON and decodes it into v. A content-filter refusal
// gets one repair attempt with the cleaned text.
func (a *CommentResponder) complete(ctx context.Context, c llm.Completer, system, prompt string, v any, raw string) error {
	resp, err := c.Complete(ctx, llm.Prompt(system, prompt))
	if apperr.Is(err, apperr.ContentFiltered) {
		resp, err = c.Complete(ctx, llm.Prompt(system, sanitize.Wrap(a.d.Sanitizer.Clean(raw))))
	}
	if err != nil {
		return err
	}
	if err := llm.ExtractJSON(resp.Content, v); err != nil {
		return apperr.Wrap(apperr.Unavailable, c.Name(), "complete", err)
	}
	return nil
}

func (a *CommentResponder) draft(ctx context.Context, prompt, raw string) (string, error) {
	resp, err := a.d.LLMB.Complete(ctx, llm.Prompt(draftSystem, prompt))
	if apperr.Is(err, apperr.ContentFiltered) {
		resp, err = a.d.LLMB.Complete(ctx, llm.Prompt(draftSystem, sanitize.Wrap(a.d.Sanitizer.Clean(raw))))
	}
	if err != nil {
		return "", err
	}
	draft := strings.TrimSpace(resp.Content)
	if draft == "" {
		return "", apperr.New(apperr.Unavailable, a.d.LLMB.Name(), "complete", "empty draft")
	}
	return draft, nil
}

// postApproved publishes approved replies until the run budget is spent.
func (a *CommentResponder) postApproved(ctx context.Context, limit int, tally *agent.Tally) (int, error) {
	approved, err := a.d.Store.RepliesByStatus(ctx, model.CommentApproved, limit)
	if err != nil {
		return 0, err
	}
	posted := 0
	for _, r := range approved {
		id, err := a.d.Platform.InsertComment(ctx, r.CommentID, r.DraftReply)
		if err != nil {
			if fatal(ctx, err) {
				return posted, err
			}
			if apperr.Is(err, apperr.QuotaExhausted) {
				agent.Note(ctx, "info", "posting stopped, quota spent", logger.Int("remaining", len(approved)-posted))
				break
			}
			tally.Fail()
			agent.Note(ctx, "warn", "posting reply failed", logger.String("comment_id", r.CommentID), logger.Err(err))
			if uerr := a.d.Store.UpdateReplyStatus(ctx, r.ID, model.CommentFailed, ""); uerr != nil {
				return posted, uerr
			}
			continue
		}
		if err := a.d.Store.UpdateReplyStatus(ctx, r.ID, model.CommentPosted, id); err != nil {
			return posted, err
		}
		tally.Succeed()
		posted++
	}
	return posted, nil
}

// PlainText reduces the platform's HTML comment rendering to text.
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.TrimSpace(html)
	}
	html = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n").Replace(html)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(doc.Text())
}
