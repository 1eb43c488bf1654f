package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
)

const (
	KeySchedulesFound = "schedules_found"
	KeyRemindersSent  = "reminders_sent"
)

type contentConfig struct {
	LookaheadHours int `json:"lookahead_hours"`
	RemindHours    int `json:"remind_hours"`
}

// ContentScheduler reminds operators of publications due within a day.
// It reads only the database and spends no provider quota.
type ContentScheduler struct {
	d Deps
}

func NewContentScheduler(d Deps) *ContentScheduler {
	d.defaults()
	return &ContentScheduler{d: d}
}

func (a *ContentScheduler) Kind() model.AgentKind { return model.ContentScheduler }

func (a *ContentScheduler) Summarize(r agent.Result) string {
	return fmt.Sprintf("予定: %d件 / リマインド: %d件", r.Int(KeySchedulesFound), r.Int(KeyRemindersSent))
}

func (a *ContentScheduler) Execute(ctx context.Context, cfgMap map[string]any, task model.AgentTask, _ map[string]any) (agent.Result, error) {
	var cfg contentConfig
	if err := agent.DecodeConfig(cfgMap, &cfg); err != nil {
		return nil, err
	}
	if cfg.LookaheadHours <= 0 {
		cfg.LookaheadHours = 48
	}
	if cfg.RemindHours <= 0 || cfg.RemindHours > cfg.LookaheadHours {
		cfg.RemindHours = 24
	}

	now := a.d.Clock.Now()
	schedules, err := a.d.Store.PublishSchedulesBetween(ctx, now, now.Add(time.Duration(cfg.LookaheadHours)*time.Hour))
	if err != nil {
		return nil, err
	}

	var tally agent.Tally
	sent := 0
	day := now.In(a.d.Zone).Format(time.DateOnly)
	remindBefore := now.Add(time.Duration(cfg.RemindHours) * time.Hour)
	for _, s := range schedules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.PublishAt.After(remindBefore) {
			tally.Skip()
			continue
		}
		fresh, err := a.d.Store.RecordReminder(ctx, model.ContentLink{
			ScheduleID: s.ID,
			RemindDate: day,
			TaskID:     task.ID,
			CreatedAt:  now,
		})
		if err != nil {
			return nil, err
		}
		if !fresh {
			tally.Skip()
			continue
		}
		if a.d.Alerter != nil {
			local := s.PublishAt.In(a.d.Zone)
			a.d.Alerter.Alert(notify.LevelInfo, "公開予定: "+s.Title,
				fmt.Sprintf("%s に公開予定です", local.Format("01/02 15:04")),
				map[string]string{
					"schedule_id": s.ID.String(),
					"client_id":   s.ClientID,
					"publish_at":  local.Format(time.RFC3339),
				})
		}
		agent.Note(ctx, "info", "publish reminder sent", logger.String("schedule_id", s.ID.String()))
		tally.Succeed()
		sent++
	}

	return tally.Result(map[string]any{
		KeySchedulesFound: len(schedules),
		KeyRemindersSent:  sent,
	}), nil
}
