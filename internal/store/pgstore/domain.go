package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
)

func (s *Store) SaveTrendAlerts(ctx context.Context, alerts []model.TrendAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"trend_alerts"},
		[]string{"id", "task_id", "category", "query", "video_id", "title", "channel_id",
			"channel_title", "published_at", "is_fallback", "detected_at"},
		pgx.CopyFromSlice(len(alerts), func(i int) ([]any, error) {
			a := alerts[i]
			if a.ID == uuid.Nil {
				a.ID = uuid.New()
			}
			return []any{a.ID, a.TaskID, a.Category, a.Query, a.VideoID, a.Title, a.ChannelID,
				a.ChannelTitle, a.PublishedAt, a.IsFallback, a.DetectedAt}, nil
		}))
	return dbErr("save_trend_alerts", err)
}

const competitorColumns = `id, task_id, channel_id, title, subscribers, views, videos,
	subscriber_delta, view_delta, video_delta, rank, grade, projected_subscribers,
	recent_uploads, is_fallback, recorded_at`

func (s *Store) LatestCompetitorRecord(ctx context.Context, channelID string) (model.CompetitorRecord, bool, error) {
	var r model.CompetitorRecord
	err := s.pool.QueryRow(ctx, `SELECT `+competitorColumns+` FROM competitor_alerts
		WHERE channel_id = $1 ORDER BY recorded_at DESC LIMIT 1`, channelID).
		Scan(&r.ID, &r.TaskID, &r.ChannelID, &r.Title, &r.Subscribers, &r.Views, &r.Videos,
			&r.SubscriberDelta, &r.ViewDelta, &r.VideoDelta, &r.Rank, &r.Grade, &r.ProjectedSubscribers,
			&r.RecentUploads, &r.IsFallback, &r.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, dbErr("latest_competitor", err)
	}
	return r, true, nil
}

func (s *Store) SaveCompetitorRecord(ctx context.Context, r model.CompetitorRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	uploads := r.RecentUploads
	if uploads == nil {
		uploads = []string{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO competitor_alerts (`+competitorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.TaskID, r.ChannelID, r.Title, r.Subscribers, r.Views, r.Videos,
		r.SubscriberDelta, r.ViewDelta, r.VideoDelta, r.Rank, r.Grade, r.ProjectedSubscribers,
		uploads, r.IsFallback, r.RecordedAt)
	return dbErr("save_competitor", err)
}

// AddVideo registers a published video, ignoring a duplicate video id.
func (s *Store) AddVideo(ctx context.Context, v model.Video) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO videos (id, client_id, video_id, title, published_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (video_id) DO NOTHING`,
		v.ID, v.ClientID, v.VideoID, v.Title, v.PublishedAt)
	return dbErr("add_video", err)
}

func (s *Store) RecentVideos(ctx context.Context, limit int) ([]model.Video, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `SELECT id, client_id, video_id, title, published_at
		FROM videos ORDER BY published_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, dbErr("recent_videos", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Video, error) {
		var v model.Video
		err := row.Scan(&v.ID, &v.ClientID, &v.VideoID, &v.Title, &v.PublishedAt)
		return v, err
	})
	return out, dbErr("recent_videos", err)
}

func (s *Store) EnqueueReply(ctx context.Context, r model.CommentReply) (bool, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO comment_queue
			(id, task_id, video_id, comment_id, author, text, sentiment, draft_reply, status,
			 posted_reply_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (comment_id) DO NOTHING`,
		r.ID, r.TaskID, r.VideoID, r.CommentID, r.Author, r.Text, r.Sentiment, r.DraftReply,
		r.Status, r.PostedReplyID, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return false, dbErr("enqueue_reply", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) HasComment(ctx context.Context, commentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM comment_queue WHERE comment_id = $1)`,
		commentID).Scan(&exists)
	return exists, dbErr("has_comment", err)
}

func (s *Store) RepliesByStatus(ctx context.Context, status model.CommentStatus, limit int) ([]model.CommentReply, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `SELECT id, task_id, video_id, comment_id, author, text, sentiment,
			draft_reply, status, posted_reply_id, created_at, updated_at
		FROM comment_queue WHERE status = $1 ORDER BY created_at LIMIT $2`, status, limit)
	if err != nil {
		return nil, dbErr("replies_by_status", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CommentReply, error) {
		var r model.CommentReply
		err := row.Scan(&r.ID, &r.TaskID, &r.VideoID, &r.CommentID, &r.Author, &r.Text, &r.Sentiment,
			&r.DraftReply, &r.Status, &r.PostedReplyID, &r.CreatedAt, &r.UpdatedAt)
		return r, err
	})
	return out, dbErr("replies_by_status", err)
}

func (s *Store) UpdateReplyStatus(ctx context.Context, id uuid.UUID, status model.CommentStatus, postedReplyID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE comment_queue
		SET status = $2, posted_reply_id = $3, updated_at = now() WHERE id = $1`, id, status, postedReplyID)
	if err != nil {
		return dbErr("update_reply", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("comment_queue")
	}
	return nil
}

// AddPublishSchedule registers a planned publication.
func (s *Store) AddPublishSchedule(ctx context.Context, p model.PublishSchedule) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO publish_schedules (id, client_id, title, publish_at, status)
		VALUES ($1, $2, $3, $4, $5)`, p.ID, p.ClientID, p.Title, p.PublishAt, p.Status)
	return dbErr("add_schedule", err)
}

func (s *Store) PublishSchedulesBetween(ctx context.Context, from, to time.Time) ([]model.PublishSchedule, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, client_id, title, publish_at, status
		FROM publish_schedules WHERE publish_at >= $1 AND publish_at < $2 ORDER BY publish_at`, from, to)
	if err != nil {
		return nil, dbErr("schedules_between", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PublishSchedule, error) {
		var p model.PublishSchedule
		err := row.Scan(&p.ID, &p.ClientID, &p.Title, &p.PublishAt, &p.Status)
		return p, err
	})
	return out, dbErr("schedules_between", err)
}

func (s *Store) RecordReminder(ctx context.Context, l model.ContentLink) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO content_links (schedule_id, remind_date, task_id, created_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (schedule_id, remind_date) DO NOTHING`,
		l.ScheduleID, l.RemindDate, l.TaskID, l.CreatedAt)
	if err != nil {
		return false, dbErr("record_reminder", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpsertVideoAnalytics(ctx context.Context, a model.VideoAnalytics) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO video_analytics
			(video_id, views, likes, comments, watch_time_minutes, ctr, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (video_id) DO UPDATE SET
			views = EXCLUDED.views, likes = EXCLUDED.likes, comments = EXCLUDED.comments,
			watch_time_minutes = EXCLUDED.watch_time_minutes, ctr = EXCLUDED.ctr,
			updated_at = EXCLUDED.updated_at`,
		a.VideoID, a.Views, a.Likes, a.Comments, a.WatchTimeMinutes, a.CTR, a.UpdatedAt)
	return dbErr("upsert_analytics", err)
}

func (s *Store) GetVideoAnalytics(ctx context.Context, videoID string) (model.VideoAnalytics, bool, error) {
	var a model.VideoAnalytics
	err := s.pool.QueryRow(ctx, `SELECT video_id, views, likes, comments, watch_time_minutes, ctr, updated_at
		FROM video_analytics WHERE video_id = $1`, videoID).
		Scan(&a.VideoID, &a.Views, &a.Likes, &a.Comments, &a.WatchTimeMinutes, &a.CTR, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, dbErr("get_analytics", err)
	}
	return a, true, nil
}

func (s *Store) SaveKeywords(ctx context.Context, keywords []model.Keyword) error {
	if len(keywords) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, k := range keywords {
		if k.ID == uuid.Nil {
			k.ID = uuid.New()
		}
		var emb *pgvector.Vector
		if len(k.Embedding) > 0 {
			v := pgvector.NewVector(k.Embedding)
			emb = &v
		}
		batch.Queue(`INSERT INTO keywords (id, task_id, keyword, seed, competition, avg_views, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			k.ID, k.TaskID, k.Keyword, k.Seed, k.Competition, k.AvgViews, emb, k.CreatedAt)
	}
	return dbErr("save_keywords", s.pool.SendBatch(ctx, batch).Close())
}

func (s *Store) NearestKeyword(ctx context.Context, embedding []float32) (model.Keyword, float64, bool, error) {
	var (
		k    model.Keyword
		emb  pgvector.Vector
		dist float64
	)
	err := s.pool.QueryRow(ctx, `SELECT id, task_id, keyword, seed, competition, avg_views, embedding,
			created_at, embedding <=> $1 AS distance
		FROM keywords WHERE embedding IS NOT NULL ORDER BY distance LIMIT 1`, pgvector.NewVector(embedding)).
		Scan(&k.ID, &k.TaskID, &k.Keyword, &k.Seed, &k.Competition, &k.AvgViews, &emb, &k.CreatedAt, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return k, 0, false, nil
	}
	if err != nil {
		return k, 0, false, dbErr("nearest_keyword", err)
	}
	k.Embedding = emb.Slice()
	return k, dist, true, nil
}

func (s *Store) LoadUsage(ctx context.Context, provider, day string) (int64, bool, error) {
	var used int64
	err := s.pool.QueryRow(ctx, `SELECT used FROM quota_counters WHERE provider = $1 AND day = $2`,
		provider, day).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, dbErr("load_usage", err)
	}
	return used, true, nil
}

func (s *Store) SaveUsage(ctx context.Context, provider, day string, used, limit int64) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `INSERT INTO quota_counters (provider, day, used, quota_limit, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (provider, day) DO UPDATE SET
				used = EXCLUDED.used, quota_limit = EXCLUDED.quota_limit, updated_at = now()`,
			provider, day, used, limit)
		return err
	})
	return dbErr("save_usage", err)
}

func (s *Store) MarkFired(ctx context.Context, ruleID, day string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO alert_rule_states (rule_id, day, fired_at)
		VALUES ($1, $2, $3) ON CONFLICT (rule_id, day) DO NOTHING`, ruleID, day, at)
	if err != nil {
		return false, dbErr("mark_fired", err)
	}
	return tag.RowsAffected() == 1, nil
}
