package model

import (
	"time"

	"github.com/google/uuid"
)

// AgentDefinition is the operator-managed registration of an agent kind.
type AgentDefinition struct {
	Kind        AgentKind      `json:"kind" yaml:"-"`
	DisplayName string         `json:"display_name" yaml:"display_name"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Config      map[string]any `json:"config" yaml:"config"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty" yaml:"-"`
}

// Active reports whether the agent may run.
func (d AgentDefinition) Active() bool {
	return d.Enabled && d.DeletedAt == nil
}

// AgentTask is one invocation of an agent.
type AgentTask struct {
	ID           uuid.UUID      `json:"id"`
	Kind         AgentKind      `json:"agent_kind"`
	Trigger      TriggerKind    `json:"trigger"`
	KnowledgeID  *uuid.UUID     `json:"knowledge_id,omitempty"`
	Input        map[string]any `json:"input_data,omitempty"`
	Status       TaskStatus     `json:"status"`
	Attempt      int            `json:"attempt_count"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Duration is finished-at minus started-at, or zero while the task runs.
func (t AgentTask) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// AgentLog is a task-scoped log line.
type AgentLog struct {
	ID        uuid.UUID      `json:"id"`
	TaskID    uuid.UUID      `json:"task_id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// QuotaCounter is the usage of one provider on one quota day.
type QuotaCounter struct {
	Provider string `json:"provider"`
	Day      string `json:"day"`
	Used     int64  `json:"used"`
	Reserved int64  `json:"reserved"`
	Limit    int64  `json:"limit"`
}

// TrendAlert is a novel trending item found by the trend monitor.
type TrendAlert struct {
	ID           uuid.UUID `json:"id"`
	TaskID       uuid.UUID `json:"task_id"`
	Category     string    `json:"category"`
	Query        string    `json:"query"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	PublishedAt  time.Time `json:"published_at"`
	IsFallback   bool      `json:"is_fallback"`
	DetectedAt   time.Time `json:"detected_at"`
}

// CompetitorRecord is one comparison snapshot of a tracked channel.
type CompetitorRecord struct {
	ID                   uuid.UUID `json:"id"`
	TaskID               uuid.UUID `json:"task_id"`
	ChannelID            string    `json:"channel_id"`
	Title                string    `json:"title"`
	Subscribers          int64     `json:"subscribers"`
	Views                int64     `json:"views"`
	Videos               int64     `json:"videos"`
	SubscriberDelta      int64     `json:"subscriber_delta"`
	ViewDelta            int64     `json:"view_delta"`
	VideoDelta           int64     `json:"video_delta"`
	Rank                 int       `json:"rank"`
	Grade                string    `json:"grade"`
	ProjectedSubscribers int64     `json:"projected_subscribers"`
	RecentUploads        []string  `json:"recent_uploads,omitempty"`
	IsFallback           bool      `json:"is_fallback"`
	RecordedAt           time.Time `json:"recorded_at"`
}

// CommentReply is a drafted reply waiting for, or past, human approval.
type CommentReply struct {
	ID            uuid.UUID     `json:"id"`
	TaskID        uuid.UUID     `json:"task_id"`
	VideoID       string        `json:"video_id"`
	CommentID     string        `json:"comment_id"`
	Author        string        `json:"author"`
	Text          string        `json:"text"`
	Sentiment     string        `json:"sentiment"`
	DraftReply    string        `json:"draft_reply"`
	Status        CommentStatus `json:"status"`
	PostedReplyID string        `json:"posted_reply_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Video is a published video owned by a client.
type Video struct {
	ID          uuid.UUID `json:"id"`
	ClientID    string    `json:"client_id"`
	VideoID     string    `json:"video_id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
}

// PublishSchedule is a planned publication.
type PublishSchedule struct {
	ID        uuid.UUID `json:"id"`
	ClientID  string    `json:"client_id"`
	Title     string    `json:"title"`
	PublishAt time.Time `json:"publish_at"`
	Status    string    `json:"status"`
}

// ContentLink records that a reminder for a schedule was sent on a local day.
type ContentLink struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	RemindDate string    `json:"remind_date"`
	TaskID     uuid.UUID `json:"task_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// VideoAnalytics is the single metrics row kept per video.
type VideoAnalytics struct {
	VideoID          string    `json:"video_id"`
	Views            int64     `json:"views"`
	Likes            int64     `json:"likes"`
	Comments         int64     `json:"comments"`
	WatchTimeMinutes float64   `json:"watch_time_minutes"`
	CTR              float64   `json:"ctr"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Keyword is one researched keyword.
type Keyword struct {
	ID          uuid.UUID   `json:"id"`
	TaskID      uuid.UUID   `json:"task_id"`
	Keyword     string      `json:"keyword"`
	Seed        string      `json:"seed"`
	Competition Competition `json:"competition"`
	AvgViews    int64       `json:"avg_views"`
	Embedding   []float32   `json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
}
