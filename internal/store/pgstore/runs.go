package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
)

const taskColumns = `id, agent_kind, trigger_kind, knowledge_id, input_data, status, attempt_count,
	started_at, finished_at, duration_ms, result, error_kind, error_message, created_at, updated_at`

func scanTask(row pgx.Row) (model.AgentTask, error) {
	var t model.AgentTask
	err := row.Scan(&t.ID, &t.Kind, &t.Trigger, &t.KnowledgeID, &t.Input, &t.Status, &t.Attempt,
		&t.StartedAt, &t.FinishedAt, &t.DurationMS, &t.Result, &t.ErrorKind, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) CreateTask(ctx context.Context, t model.AgentTask) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO agent_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.Kind, t.Trigger, t.KnowledgeID, t.Input, t.Status, t.Attempt,
		t.StartedAt, t.FinishedAt, t.DurationMS, t.Result, t.ErrorKind, t.ErrorMessage,
		t.CreatedAt, t.UpdatedAt)
	return dbErr("create_task", err)
}

// UpdateTask locks the row, checks the status transition and writes t.
func (s *Store) UpdateTask(ctx context.Context, t model.AgentTask) error {
	return s.inTx(ctx, "update_task", func(tx pgx.Tx) error {
		var cur model.TaskStatus
		err := tx.QueryRow(ctx, `SELECT status FROM agent_tasks WHERE id = $1 FOR UPDATE`, t.ID).Scan(&cur)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.NotFound("agent_task")
		}
		if err != nil {
			return err
		}
		if cur.Terminal() || (cur != t.Status && !model.CanTransition(cur, t.Status)) {
			return store.InvalidTransition(cur, t.Status)
		}
		_, err = tx.Exec(ctx, `UPDATE agent_tasks SET
				status = $2, attempt_count = $3, started_at = $4, finished_at = $5, duration_ms = $6,
				result = $7, error_kind = $8, error_message = $9, updated_at = $10
			WHERE id = $1`,
			t.ID, t.Status, t.Attempt, t.StartedAt, t.FinishedAt, t.DurationMS,
			t.Result, t.ErrorKind, t.ErrorMessage, t.UpdatedAt)
		return err
	})
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (model.AgentTask, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AgentTask{}, store.NotFound("agent_task")
	}
	return t, dbErr("get_task", err)
}

func (s *Store) LatestByKind(ctx context.Context, kind model.AgentKind) (model.AgentTask, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM agent_tasks
		WHERE agent_kind = $1 ORDER BY created_at DESC LIMIT 1`, kind))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AgentTask{}, store.NotFound("agent_task")
	}
	return t, dbErr("latest_task", err)
}

func (s *Store) ListRuns(ctx context.Context, f store.RunFilter) ([]model.AgentTask, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Kind != "" {
		add("agent_kind = $%d", f.Kind)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until)
	}

	q := `SELECT ` + taskColumns + ` FROM agent_tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, dbErr("list_runs", err)
	}
	defer rows.Close()

	var out []model.AgentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, dbErr("list_runs", err)
		}
		out = append(out, t)
	}
	return out, dbErr("list_runs", rows.Err())
}

func (s *Store) CountFailures(ctx context.Context, kind model.AgentKind, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM agent_tasks
		WHERE ($1 = '' OR agent_kind = $1) AND created_at >= $2
		  AND status IN ('failed', 'timed_out', 'cancelled')`, string(kind), since).Scan(&n)
	return n, dbErr("count_failures", err)
}

func (s *Store) AppendLog(ctx context.Context, l model.AgentLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO agent_logs (id, task_id, level, message, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, l.ID, l.TaskID, l.Level, l.Message, l.Fields, l.CreatedAt)
	return dbErr("append_log", err)
}

func (s *Store) ListLogs(ctx context.Context, taskID uuid.UUID) ([]model.AgentLog, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, task_id, level, message, fields, created_at
		FROM agent_logs WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, dbErr("list_logs", err)
	}
	defer rows.Close()
	var out []model.AgentLog
	for rows.Next() {
		var l model.AgentLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Level, &l.Message, &l.Fields, &l.CreatedAt); err != nil {
			return nil, dbErr("list_logs", err)
		}
		out = append(out, l)
	}
	return out, dbErr("list_logs", rows.Err())
}

func (s *Store) ListAgents(ctx context.Context) ([]model.AgentDefinition, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, display_name, enabled, config, deleted_at
		FROM agents WHERE deleted_at IS NULL ORDER BY kind`)
	if err != nil {
		return nil, dbErr("list_agents", err)
	}
	defer rows.Close()
	var out []model.AgentDefinition
	for rows.Next() {
		var d model.AgentDefinition
		if err := rows.Scan(&d.Kind, &d.DisplayName, &d.Enabled, &d.Config, &d.DeletedAt); err != nil {
			return nil, dbErr("list_agents", err)
		}
		out = append(out, d)
	}
	return out, dbErr("list_agents", rows.Err())
}

func (s *Store) GetAgent(ctx context.Context, kind model.AgentKind) (model.AgentDefinition, error) {
	var d model.AgentDefinition
	err := s.pool.QueryRow(ctx, `SELECT kind, display_name, enabled, config, deleted_at
		FROM agents WHERE kind = $1 AND deleted_at IS NULL`, kind).
		Scan(&d.Kind, &d.DisplayName, &d.Enabled, &d.Config, &d.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, store.NotFound("agent")
	}
	return d, dbErr("get_agent", err)
}

func (s *Store) SeedAgent(ctx context.Context, def model.AgentDefinition) error {
	cfg := def.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO agents (kind, display_name, enabled, config)
		VALUES ($1, $2, $3, $4) ON CONFLICT (kind) DO NOTHING`,
		def.Kind, def.DisplayName, def.Enabled, cfg)
	return dbErr("seed_agent", err)
}
