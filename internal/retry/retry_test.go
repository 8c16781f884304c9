package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer fires as soon as it is started and records each wait.
type instantTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Time{}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func recordWaits(t *testing.T) *instantTimer {
	t.Helper()
	timer := &instantTimer{c: make(chan time.Time, 1)}
	orig := newTimer
	newTimer = func() backoff.Timer { return timer }
	t.Cleanup(func() { newTimer = orig })
	return timer
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	timer := recordWaits(t)
	calls := 0

	err := Do(context.Background(), 3, time.Second, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("db unavailable")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.waits)
}

func TestDo_Exhausted(t *testing.T) {
	timer := recordWaits(t)
	cause := errors.New("connection reset")
	calls := 0

	err := Do(context.Background(), 3, time.Second, func(ctx context.Context) error {
		calls++
		return cause
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
	assert.Len(t, timer.waits, 2)
}

func TestDo_SingleAttempt(t *testing.T) {
	timer := recordWaits(t)
	cause := errors.New("boom")

	err := Do(context.Background(), 0, time.Second, func(ctx context.Context) error { return cause })

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Empty(t, timer.waits)
}

func TestDo_PermanentStops(t *testing.T) {
	timer := recordWaits(t)
	cause := errors.New("missing metadata")
	calls := 0

	err := Do(context.Background(), 5, time.Second, func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	})

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestDo_ContextCancelled(t *testing.T) {
	recordWaits(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0

	err := Do(ctx, 3, time.Second, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	assert.Equal(t, 1, calls)
}

func TestPolicy(t *testing.T) {
	b := Policy(context.Background(), 4, time.Second)
	b.Reset()

	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
