package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, Immediate: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	err := s.Run(ctx, func(context.Context, time.Time) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return errors.New("cycle errors are logged, not fatal")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSchedulerStartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("cycle must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNextTickAlignment(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)

	aligned := New(Options{Interval: time.Minute, AlignToBucket: true}, zerolog.Nop())
	assert.Equal(t, time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC), aligned.nextTick(now))
	assert.Equal(t, time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC), aligned.cycleStart(now.Add(30*time.Second+time.Millisecond)))

	free := New(Options{Interval: time.Minute}, zerolog.Nop())
	assert.Equal(t, now.Add(time.Minute), free.nextTick(now))
	assert.Equal(t, now, free.cycleStart(now))
}
