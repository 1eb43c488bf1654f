package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_StringRoundTrip(t *testing.T) {
	for k := Internal; k <= InvalidInput; k++ {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("exploded")
	assert.Error(t, err)
}

func TestKind_Policy(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
		critical  bool
	}{
		{RateLimited, true, false},
		{Timeout, true, false},
		{Unavailable, true, false},
		{Database, true, false},
		{QuotaExhausted, false, false},
		{NotFound, false, false},
		{ContentFiltered, false, false},
		{Unauthorized, false, true},
		{Misconfigured, false, true},
		{Cancelled, false, false},
		{Internal, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.kind.Retryable())
			assert.Equal(t, tt.critical, tt.kind.Critical())
		})
	}
}

func TestKindOf(t *testing.T) {
	typed := Wrap(RateLimited, "youtube", "search_videos", errors.New("429"))
	typed.RetryAfter = 3 * time.Second
	wrapped := fmt.Errorf("trend monitor: %w", typed)

	assert.Equal(t, RateLimited, KindOf(wrapped))
	assert.Equal(t, 3*time.Second, RetryAfterOf(wrapped))
	assert.True(t, IsRetryable(wrapped))

	assert.Equal(t, Cancelled, KindOf(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, Timeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestError_Message(t *testing.T) {
	err := New(QuotaExhausted, "youtube", "search_videos", "daily budget spent")
	assert.Equal(t, "quota_exhausted [youtube.search_videos]: daily budget spent", err.Error())
	assert.True(t, Is(err, QuotaExhausted))
}
