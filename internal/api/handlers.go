package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/orchestrator"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/workers"
)

const (
	defaultRunLimit      = 20
	maxRunLimit          = 200
	defaultScheduleCount = 20
	maxScheduleCount     = 200
)

type createTaskRequest struct {
	AgentKind   string         `json:"agent_kind"`
	KnowledgeID *uuid.UUID     `json:"knowledge_id,omitempty"`
	InputData   map[string]any `json:"input_data,omitempty"`
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := model.ParseAgentKind(req.AgentKind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.orch.Prepare(r.Context(), orchestrator.Request{
		Kind:        kind,
		Trigger:     model.TriggerManual,
		KnowledgeID: req.KnowledgeID,
		Input:       req.InputData,
	})
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	wait := r.URL.Query().Get("wait") == "true"
	done := make(chan model.AgentTask, 1)
	submitErr := h.pool.Submit(workers.Task{
		ID:   task.ID.String(),
		Kind: kind.String(),
		Run: func(ctx context.Context) (err error) {
			finished := task
			defer func() { done <- finished }()
			finished, err = h.orch.Run(ctx, task)
			return err
		},
	})
	if submitErr != nil {
		if err := h.orch.Cancel(context.WithoutCancel(r.Context()), task.ID); err != nil {
			h.log.Warn("failed to cancel unqueued task", logger.String("task_id", task.ID.String()), logger.Err(err))
		}
		writeError(w, http.StatusServiceUnavailable, submitErr.Error())
		return
	}

	if !wait {
		writeJSON(w, http.StatusAccepted, task)
		return
	}
	select {
	case finished := <-done:
		writeJSON(w, http.StatusOK, finished)
	case <-r.Context().Done():
		// The run continues; the client can poll the task.
		writeJSON(w, http.StatusAccepted, task)
	}
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := h.runs.GetTask(r.Context(), id)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handler) taskLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if _, err := h.runs.GetTask(r.Context(), id); err != nil {
		h.writeAppError(w, err)
		return
	}
	logs, err := h.runs.ListLogs(r.Context(), id)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	if logs == nil {
		logs = []model.AgentLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := h.orch.Cancel(r.Context(), id); err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String(), "status": "cancelling"})
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	kind, ok := agentKind(w, r)
	if !ok {
		return
	}
	f := store.RunFilter{Kind: kind, Limit: defaultRunLimit}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = min(n, maxRunLimit)
	}
	for key, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+key+" (expected RFC 3339)")
				return
			}
			*dst = t
		}
	}

	runs, err := h.runs.ListRuns(r.Context(), f)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	if runs == nil {
		runs = []model.AgentTask{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) latestRun(w http.ResponseWriter, r *http.Request) {
	kind, ok := agentKind(w, r)
	if !ok {
		return
	}
	task, err := h.runs.LatestByKind(r.Context(), kind)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handler) resume(w http.ResponseWriter, r *http.Request) {
	kind, ok := agentKind(w, r)
	if !ok {
		return
	}
	resumed := h.orch.Resume(kind)
	writeJSON(w, http.StatusOK, map[string]any{"agent_kind": kind, "resumed": resumed})
}

func (h *handler) suspended(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.SuspendedKinds())
}

func (h *handler) quotaUsage(w http.ResponseWriter, r *http.Request) {
	if h.quota == nil {
		writeError(w, http.StatusNotFound, "quota is not tracked")
		return
	}
	usage, err := h.quota.Usage(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *handler) upcoming(w http.ResponseWriter, r *http.Request) {
	if h.schedules == nil {
		writeError(w, http.StatusNotFound, "scheduler is not running")
		return
	}
	n := defaultScheduleCount
	if v := r.URL.Query().Get("count"); v != "" {
		c, err := strconv.Atoi(v)
		if err != nil || c < 1 {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		n = min(c, maxScheduleCount)
	}
	writeJSON(w, http.StatusOK, h.schedules.Upcoming(n))
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return uuid.UUID{}, false
	}
	return id, true
}

func agentKind(w http.ResponseWriter, r *http.Request) (model.AgentKind, bool) {
	kind, err := model.ParseAgentKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, workers.ErrStopped):
		return http.StatusServiceUnavailable
	}
	switch apperr.KindOf(err) {
	case apperr.NotFound, apperr.UnknownAgent:
		return http.StatusNotFound
	case apperr.InvalidInput:
		return http.StatusConflict
	case apperr.QuotaExhausted, apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.Unavailable, apperr.Database:
		return http.StatusServiceUnavailable
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeAppError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "error_kind": apperr.KindOf(err).String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) providerStatus(w http.ResponseWriter, r *http.Request) {
	if h.providers == nil {
		writeError(w, http.StatusNotFound, "provider status is not available")
		return
	}
	writeJSON(w, http.StatusOK, h.providers())
}
