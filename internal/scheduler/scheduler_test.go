package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ompay/ompay/internal/logging"
)

type countingWarmer struct {
	calls atomic.Int32
	err   error
}

func (w *countingWarmer) Warmup(context.Context) (int, error) {
	w.calls.Add(1)
	return 3, w.err
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(&countingWarmer{}, "every now and then", logging.Discard())
	assert.Error(t, s.Start())
}

func TestScheduledWarmupRuns(t *testing.T) {
	w := &countingWarmer{}
	s := New(w, "@every 1s", logging.Discard())
	require.NoError(t, s.Start())
	t.Cleanup(func() { <-s.Stop().Done() })

	require.Eventually(t, func() bool { return w.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestWarmBalancesSurvivesErrors(t *testing.T) {
	w := &countingWarmer{err: errors.New("redis down")}
	s := New(w, "@every 1h", logging.Discard())

	s.WarmBalances()
	assert.EqualValues(t, 1, w.calls.Load())
}
