// Package memstore is an in-process implementation of store.Store used when
// no database is configured and in tests.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	tasks       map[uuid.UUID]model.AgentTask
	logs        map[uuid.UUID][]model.AgentLog
	agents      map[model.AgentKind]model.AgentDefinition
	trends      []model.TrendAlert
	competitors []model.CompetitorRecord
	videos      []model.Video
	replies     []model.CommentReply
	schedules   []model.PublishSchedule
	links       map[string]model.ContentLink
	analytics   map[string]model.VideoAnalytics
	keywords    []model.Keyword
	quota       map[string]int64
	alerts      map[string]time.Time
}

func New() *Store {
	return &Store{
		tasks:     make(map[uuid.UUID]model.AgentTask),
		logs:      make(map[uuid.UUID][]model.AgentLog),
		agents:    make(map[model.AgentKind]model.AgentDefinition),
		links:     make(map[string]model.ContentLink),
		analytics: make(map[string]model.VideoAnalytics),
		quota:     make(map[string]int64),
		alerts:    make(map[string]time.Time),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

// Runs

func (s *Store) CreateTask(_ context.Context, t model.AgentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *Store) UpdateTask(_ context.Context, t model.AgentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok {
		return store.NotFound("agent_task")
	}
	if cur.Status != t.Status && !model.CanTransition(cur.Status, t.Status) {
		return store.InvalidTransition(cur.Status, t.Status)
	}
	if cur.Status.Terminal() {
		return store.InvalidTransition(cur.Status, t.Status)
	}
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *Store) GetTask(_ context.Context, id uuid.UUID) (model.AgentTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return model.AgentTask{}, store.NotFound("agent_task")
	}
	return cloneTask(t), nil
}

func (s *Store) LatestByKind(ctx context.Context, kind model.AgentKind) (model.AgentTask, error) {
	runs, err := s.ListRuns(ctx, store.RunFilter{Kind: kind, Limit: 1})
	if err != nil {
		return model.AgentTask{}, err
	}
	if len(runs) == 0 {
		return model.AgentTask{}, store.NotFound("agent_task")
	}
	return runs[0], nil
}

func (s *Store) ListRuns(_ context.Context, f store.RunFilter) ([]model.AgentTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AgentTask
	for _, t := range s.tasks {
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if !f.Since.IsZero() && t.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !t.CreatedAt.Before(f.Until) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CountFailures(_ context.Context, kind model.AgentKind, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if kind != "" && t.Kind != kind {
			continue
		}
		if t.CreatedAt.Before(since) {
			continue
		}
		switch t.Status {
		case model.StatusFailed, model.StatusTimedOut, model.StatusCancelled:
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendLog(_ context.Context, l model.AgentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[l.TaskID] = append(s.logs[l.TaskID], l)
	return nil
}

func (s *Store) ListLogs(_ context.Context, taskID uuid.UUID) ([]model.AgentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AgentLog(nil), s.logs[taskID]...), nil
}

// Agents

func (s *Store) ListAgents(_ context.Context) ([]model.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AgentDefinition, 0, len(s.agents))
	for _, k := range model.AgentKinds() {
		if d, ok := s.agents[k]; ok && d.DeletedAt == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) GetAgent(_ context.Context, kind model.AgentKind) (model.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.agents[kind]
	if !ok || d.DeletedAt != nil {
		return model.AgentDefinition{}, store.NotFound("agent")
	}
	return d, nil
}

func (s *Store) SeedAgent(_ context.Context, def model.AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[def.Kind]; !ok {
		s.agents[def.Kind] = def
	}
	return nil
}

// Domain rows

func (s *Store) SaveTrendAlerts(_ context.Context, alerts []model.TrendAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trends = append(s.trends, alerts...)
	return nil
}

// TrendAlerts returns every stored alert.
func (s *Store) TrendAlerts() []model.TrendAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TrendAlert(nil), s.trends...)
}

func (s *Store) LatestCompetitorRecord(_ context.Context, channelID string) (model.CompetitorRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest model.CompetitorRecord
		found  bool
	)
	for _, r := range s.competitors {
		if r.ChannelID == channelID && (!found || r.RecordedAt.After(latest.RecordedAt)) {
			latest, found = r, true
		}
	}
	return latest, found, nil
}

func (s *Store) SaveCompetitorRecord(_ context.Context, r model.CompetitorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.competitors = append(s.competitors, r)
	return nil
}

// CompetitorRecords returns every stored comparison.
func (s *Store) CompetitorRecords() []model.CompetitorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CompetitorRecord(nil), s.competitors...)
}

// AddVideo registers a published video.
func (s *Store) AddVideo(v model.Video) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	s.videos = append(s.videos, v)
}

func (s *Store) RecentVideos(_ context.Context, limit int) ([]model.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]model.Video(nil), s.videos...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) EnqueueReply(_ context.Context, r model.CommentReply) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.replies {
		if existing.CommentID == r.CommentID {
			return false, nil
		}
	}
	s.replies = append(s.replies, r)
	return true, nil
}

func (s *Store) HasComment(_ context.Context, commentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.replies {
		if r.CommentID == commentID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) RepliesByStatus(_ context.Context, status model.CommentStatus, limit int) ([]model.CommentReply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CommentReply
	for _, r := range s.replies {
		if r.Status != status {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpdateReplyStatus(_ context.Context, id uuid.UUID, status model.CommentStatus, postedReplyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.replies {
		if s.replies[i].ID == id {
			s.replies[i].Status = status
			s.replies[i].PostedReplyID = postedReplyID
			s.replies[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return store.NotFound("comment_queue")
}

// AddPublishSchedule registers a planned publication.
func (s *Store) AddPublishSchedule(p model.PublishSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.schedules = append(s.schedules, p)
}

func (s *Store) PublishSchedulesBetween(_ context.Context, from, to time.Time) ([]model.PublishSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PublishSchedule
	for _, p := range s.schedules {
		if !p.PublishAt.Before(from) && p.PublishAt.Before(to) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishAt.Before(out[j].PublishAt) })
	return out, nil
}

func (s *Store) RecordReminder(_ context.Context, l model.ContentLink) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := l.ScheduleID.String() + "/" + l.RemindDate
	if _, ok := s.links[k]; ok {
		return false, nil
	}
	s.links[k] = l
	return true, nil
}

func (s *Store) UpsertVideoAnalytics(_ context.Context, a model.VideoAnalytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics[a.VideoID] = a
	return nil
}

func (s *Store) GetVideoAnalytics(_ context.Context, videoID string) (model.VideoAnalytics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analytics[videoID]
	return a, ok, nil
}

func (s *Store) SaveKeywords(_ context.Context, keywords []model.Keyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append(s.keywords, keywords...)
	return nil
}

// Keywords returns every stored keyword.
func (s *Store) Keywords() []model.Keyword {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Keyword(nil), s.keywords...)
}

func (s *Store) NearestKeyword(_ context.Context, embedding []float32) (model.Keyword, float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best     model.Keyword
		bestDist = math.Inf(1)
		found    bool
	)
	for _, k := range s.keywords {
		if len(k.Embedding) != len(embedding) || len(embedding) == 0 {
			continue
		}
		if d := cosineDistance(k.Embedding, embedding); d < bestDist {
			best, bestDist, found = k, d, true
		}
	}
	return best, bestDist, found, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Quota and alert state

func (s *Store) LoadUsage(_ context.Context, provider, day string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.quota[provider+"/"+day]
	return v, ok, nil
}

func (s *Store) SaveUsage(_ context.Context, provider, day string, used, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota[provider+"/"+day] = used
	return nil
}

func (s *Store) MarkFired(_ context.Context, ruleID, day string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ruleID + "/" + day
	if _, ok := s.alerts[k]; ok {
		return false, nil
	}
	s.alerts[k] = at
	return true, nil
}

func cloneTask(t model.AgentTask) model.AgentTask {
	if t.Input != nil {
		in := make(map[string]any, len(t.Input))
		for k, v := range t.Input {
			in[k] = v
		}
		t.Input = in
	}
	if t.Result != nil {
		out := make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			out[k] = v
		}
		t.Result = out
	}
	return t
}
