// Package model holds the plain data rows and tagged enums shared by the
// orchestrator, agents and stores.
package model

import "fmt"

// AgentKind selects which agent body runs.
type AgentKind string

const (
	TrendMonitor       AgentKind = "trend_monitor"
	CompetitorAnalyzer AgentKind = "competitor_analyzer"
	CommentResponder   AgentKind = "comment_responder"
	ContentScheduler   AgentKind = "content_scheduler"
	PerformanceTracker AgentKind = "performance_tracker"
	QAChecker          AgentKind = "qa_checker"
	KeywordResearcher  AgentKind = "keyword_researcher"
)

var agentKinds = []AgentKind{
	TrendMonitor,
	CompetitorAnalyzer,
	CommentResponder,
	ContentScheduler,
	PerformanceTracker,
	QAChecker,
	KeywordResearcher,
}

// AgentKinds returns every known kind in a stable order.
func AgentKinds() []AgentKind {
	return append([]AgentKind(nil), agentKinds...)
}

func (k AgentKind) String() string { return string(k) }

func (k AgentKind) Valid() bool {
	for _, known := range agentKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseAgentKind validates s against the closed set of kinds.
func ParseAgentKind(s string) (AgentKind, error) {
	k := AgentKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown agent kind %q", s)
	}
	return k, nil
}

// TriggerKind records what started a run.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
)

func (t TriggerKind) String() string { return string(t) }

func ParseTriggerKind(s string) (TriggerKind, error) {
	switch TriggerKind(s) {
	case TriggerScheduled, TriggerManual:
		return TriggerKind(s), nil
	}
	return "", fmt.Errorf("unknown trigger kind %q", s)
}

// TaskStatus is the lifecycle state of an AgentTask.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusRetrying  TaskStatus = "retrying"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusTimedOut  TaskStatus = "timed_out"
	StatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) String() string { return string(s) }

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusPending, StatusRunning, StatusRetrying, StatusSucceeded,
		StatusFailed, StatusTimedOut, StatusCancelled:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Retrying is a sub-state of running; terminal states never change.
func CanTransition(from, to TaskStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to == StatusRetrying || to.Terminal()
	case StatusRetrying:
		return to == StatusRunning || to.Terminal()
	}
	return false
}

// CommentStatus tracks a drafted reply through human approval.
type CommentStatus string

const (
	CommentPendingApproval CommentStatus = "pending_approval"
	CommentApproved        CommentStatus = "approved"
	CommentRejected        CommentStatus = "rejected"
	CommentPosted          CommentStatus = "posted"
	CommentFailed          CommentStatus = "failed"
)

// Competition labels a keyword by average view count.
type Competition string

const (
	CompetitionHigh   Competition = "high"
	CompetitionMedium Competition = "medium"
	CompetitionLow    Competition = "low"
)

// CompetitionFor maps an average view count to a label:
// above 100k is high, above 10k is medium, anything else low.
func CompetitionFor(avgViews int64) Competition {
	switch {
	case avgViews > 100_000:
		return CompetitionHigh
	case avgViews > 10_000:
		return CompetitionMedium
	default:
		return CompetitionLow
	}
}
