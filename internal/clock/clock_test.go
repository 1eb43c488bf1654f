package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadZone(t *testing.T) {
	loc, err := LoadZone("")
	require.NoError(t, err)
	assert.Equal(t, DefaultZone, loc.String())

	_, offset := time.Date(2026, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 9*3600, offset)

	_, err = LoadZone("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestFake_ManualAdvance(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 59, 59, 0, time.UTC)
	f := NewFake(start)

	ch := f.After(time.Second)
	assert.Equal(t, 1, f.Waiters())

	f.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	f.Advance(500 * time.Millisecond)
	select {
	case at := <-ch:
		assert.Equal(t, start.Add(time.Second), at)
	default:
		t.Fatal("did not fire")
	}
	assert.Zero(t, f.Waiters())
}

func TestFake_BlockUntil(t *testing.T) {
	f := NewFake(time.Now())
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.After(time.Minute)
	}()
	assert.True(t, f.BlockUntil(1, time.Second))
	assert.False(t, f.BlockUntil(2, 20*time.Millisecond))
}

func TestFake_AutoRecordsSleeps(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	f := NewAutoFake(start)

	require.NoError(t, Sleep(context.Background(), f, time.Second))
	require.NoError(t, Sleep(context.Background(), f, 2*time.Second))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.Sleeps())
	assert.Equal(t, start.Add(3*time.Second), f.Now())
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, NewFake(time.Now()), time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
