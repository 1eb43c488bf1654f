// Package store defines the persistence contracts of the core. memstore keeps
// everything in process; pgstore persists to PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
)

// NotFound builds the error returned for missing rows.
func NotFound(what string) error {
	return apperr.New(apperr.NotFound, "store", what, "record not found")
}

// InvalidTransition builds the error returned when a task update would break
// the lifecycle.
func InvalidTransition(from, to model.TaskStatus) error {
	return apperr.Errorf(apperr.InvalidInput, "illegal task transition %s -> %s", from, to)
}

// RunFilter selects a window of runs. Zero values mean unbounded.
type RunFilter struct {
	Kind  model.AgentKind
	Since time.Time
	Until time.Time
	Limit int
}

// RunStore keeps every agent invocation.
type RunStore interface {
	CreateTask(ctx context.Context, t model.AgentTask) error
	// UpdateTask replaces the mutable fields of t; it fails when the stored
	// status may not transition to t.Status.
	UpdateTask(ctx context.Context, t model.AgentTask) error
	GetTask(ctx context.Context, id uuid.UUID) (model.AgentTask, error)
	LatestByKind(ctx context.Context, kind model.AgentKind) (model.AgentTask, error)
	// ListRuns returns matching runs, newest first.
	ListRuns(ctx context.Context, f RunFilter) ([]model.AgentTask, error)
	// CountFailures counts failed, timed out and cancelled runs since t; an
	// empty kind counts every kind.
	CountFailures(ctx context.Context, kind model.AgentKind, since time.Time) (int, error)
	AppendLog(ctx context.Context, l model.AgentLog) error
	ListLogs(ctx context.Context, taskID uuid.UUID) ([]model.AgentLog, error)
}

// AgentStore holds operator-managed agent definitions.
type AgentStore interface {
	ListAgents(ctx context.Context) ([]model.AgentDefinition, error)
	GetAgent(ctx context.Context, kind model.AgentKind) (model.AgentDefinition, error)
	// SeedAgent inserts def unless the kind already exists.
	SeedAgent(ctx context.Context, def model.AgentDefinition) error
}

type TrendStore interface {
	SaveTrendAlerts(ctx context.Context, alerts []model.TrendAlert) error
}

type CompetitorStore interface {
	LatestCompetitorRecord(ctx context.Context, channelID string) (model.CompetitorRecord, bool, error)
	SaveCompetitorRecord(ctx context.Context, r model.CompetitorRecord) error
}

type VideoStore interface {
	// RecentVideos returns published videos, most recent first.
	RecentVideos(ctx context.Context, limit int) ([]model.Video, error)
}

type CommentStore interface {
	// EnqueueReply stores r unless its comment is already queued and reports
	// whether it was added.
	EnqueueReply(ctx context.Context, r model.CommentReply) (bool, error)
	HasComment(ctx context.Context, commentID string) (bool, error)
	RepliesByStatus(ctx context.Context, status model.CommentStatus, limit int) ([]model.CommentReply, error)
	UpdateReplyStatus(ctx context.Context, id uuid.UUID, status model.CommentStatus, postedReplyID string) error
}

type ScheduleStore interface {
	PublishSchedulesBetween(ctx context.Context, from, to time.Time) ([]model.PublishSchedule, error)
	// RecordReminder stores l and reports false when the (schedule, day) pair exists.
	RecordReminder(ctx context.Context, l model.ContentLink) (bool, error)
}

type AnalyticsStore interface {
	UpsertVideoAnalytics(ctx context.Context, a model.VideoAnalytics) error
	GetVideoAnalytics(ctx context.Context, videoID string) (model.VideoAnalytics, bool, error)
}

type KeywordStore interface {
	SaveKeywords(ctx context.Context, keywords []model.Keyword) error
	// NearestKeyword returns the stored keyword closest to embedding by cosine
	// distance, with that distance.
	NearestKeyword(ctx context.Context, embedding []float32) (model.Keyword, float64, bool, error)
}

// Store is everything the application needs.
type Store interface {
	RunStore
	AgentStore
	TrendStore
	CompetitorStore
	VideoStore
	CommentStore
	ScheduleStore
	AnalyticsStore
	KeywordStore
	quota.CounterStore
	notify.AlertStateStore
	Ping(ctx context.Context) error
	Close()
}
