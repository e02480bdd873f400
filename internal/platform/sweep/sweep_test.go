package sweep

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(TargetFunc(func(context.Context) (Result, error) { return Result{}, nil }), "every minute", time.UTC, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every minute")
}

func TestRunOnce_RecordsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	target := TargetFunc(func(context.Context) (Result, error) {
		return Result{Reopened: 2, Counts: map[string]int{"overdue": 3}}, nil
	})
	s, err := New(target, "*/15 * * * *", time.UTC, zerolog.New(&buf))
	require.NoError(t, err)
	assert.Nil(t, s.Last())

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Reopened)
	assert.False(t, res.RanAt.IsZero())

	last := s.Last()
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Counts["overdue"])
	assert.Contains(t, buf.String(), `"reopened":2`)
	assert.Contains(t, buf.String(), `"overdue":3`)
	assert.Contains(t, buf.String(), `"component":"sweep"`)
}

func TestRunOnce_PropagatesError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("db down")
	s, err := New(TargetFunc(func(context.Context) (Result, error) { return Result{}, boom }), "@hourly", time.UTC, zerolog.New(&buf))
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, s.Last())
	assert.Contains(t, buf.String(), "sweep failed")
}

func TestStartStop_SchedulesNextRun(t *testing.T) {
	s, err := New(TargetFunc(func(context.Context) (Result, error) { return Result{}, nil }), "0 3 * * *", time.UTC, zerolog.Nop())
	require.NoError(t, err)

	s.Start(context.Background())
	next := s.Next()
	<-s.Stop().Done()

	require.False(t, next.IsZero())
	assert.Equal(t, 3, next.UTC().Hour())
	assert.True(t, next.After(time.Now()))
}

func TestTick_SkipsCancelledContext(t *testing.T) {
	var calls atomic.Int32
	s, err := New(TargetFunc(func(context.Context) (Result, error) {
		calls.Add(1)
		return Result{}, nil
	}), "@hourly", time.UTC, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.tick()
	assert.Equal(t, int32(0), calls.Load())

	s.mu.Lock()
	s.ctx = context.Background()
	s.mu.Unlock()
	s.tick()
	assert.Equal(t, int32(1), calls.Load())
}
