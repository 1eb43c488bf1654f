package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
)

type stubAgent struct{ kind model.AgentKind }

func (s stubAgent) Kind() model.AgentKind { return s.kind }

func (s stubAgent) Execute(context.Context, map[string]any, model.AgentTask, map[string]any) (Result, error) {
	return Result{}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAgent{model.TrendMonitor}))
	require.NoError(t, r.Register(stubAgent{model.QAChecker}))

	assert.Error(t, r.Register(stubAgent{model.TrendMonitor}), "duplicate kind")
	assert.Error(t, r.Register(stubAgent{"video_editor"}), "unknown kind")

	a, err := r.Get(model.QAChecker)
	require.NoError(t, err)
	assert.Equal(t, model.QAChecker, a.Kind())

	_, err = r.Get(model.KeywordResearcher)
	assert.True(t, apperr.Is(err, apperr.UnknownAgent))

	assert.Equal(t, []model.AgentKind{model.QAChecker, model.TrendMonitor}, r.Kinds())
	assert.Panics(t, func() { r.MustRegister(stubAgent{model.QAChecker}) })
}

func TestDecodeConfig(t *testing.T) {
	var cfg struct {
		Categories []string `json:"categories"`
		Threshold  int      `json:"threshold"`
	}
	err := DecodeConfig(map[string]any{"categories": []any{"料理", "旅行"}, "threshold": 70, "unknown": true}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"料理", "旅行"}, cfg.Categories)
	assert.Equal(t, 70, cfg.Threshold)

	err = DecodeConfig(map[string]any{"threshold": "high"}, &cfg)
	assert.True(t, apperr.Is(err, apperr.Misconfigured))

	var in struct {
		Script string `json:"script"`
	}
	err = DecodeInput(map[string]any{"script": 12}, &in)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestSummaryAndTally(t *testing.T) {
	var tally Tally
	tally.Succeed()
	tally.Succeed()
	tally.Fail()
	tally.Skip()
	tally.Degraded()

	r := tally.Result(map[string]any{"alerts_created": 2})
	assert.EqualValues(t, 4, r.Int(KeyItemsProcessed))
	assert.EqualValues(t, 2, r.Int(KeyItemsSucceeded))
	assert.EqualValues(t, 1, r.Int(KeyItemsFailed))
	assert.True(t, r.Fallback())
	assert.Equal(t, "処理: 4件 / 成功: 2件 / 失敗: 1件 / アラート: 2件", Summary(r, "アラート: 2件"))
	assert.Equal(t, "処理: 0件 / 成功: 0件 / 失敗: 0件", Summary(Result{}, ""))

	assert.EqualValues(t, 3, Result{"n": float64(3)}.Int("n"))
}

func TestFanOut_BoundedAndOrdered(t *testing.T) {
	items := make([]int, 40)
	for i := range items {
		items[i] = i
	}
	var inFlight, peak atomic.Int32
	errs := FanOut(context.Background(), items, 25, func(ctx context.Context, i int, item int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		if item%10 == 3 {
			return errors.New("item failed")
		}
		return nil
	})

	require.Len(t, errs, 40)
	assert.LessOrEqual(t, peak.Load(), int32(MaxFanOut))
	for i, err := range errs {
		if i%10 == 3 {
			assert.Error(t, err, "item %d", i)
		} else {
			assert.NoError(t, err, "item %d", i)
		}
	}
}

func TestFanOut_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	errs := FanOut(ctx, []string{"a", "b"}, 2, func(context.Context, int, string) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

type memJournal struct {
	mu    sync.Mutex
	lines []string
}

func (j *memJournal) Append(_ context.Context, level, msg string, _ map[string]any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, level+":"+msg)
}

func TestNote_WritesJournal(t *testing.T) {
	j := &memJournal{}
	ctx := WithRun(context.Background(), logger.Discard(), j)
	Note(ctx, "warn", "comment skipped", logger.String("comment_id", "c1"))
	Note(ctx, "", "done")
	assert.Equal(t, []string{"warn:comment skipped", "info:done"}, j.lines)

	assert.NotPanics(t, func() { Note(context.Background(), "info", "no run attached") })
	assert.NotNil(t, Logger(context.Background()))
}
