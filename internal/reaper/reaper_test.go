package reaper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepStale(ctx context.Context) (int, error) {
	s.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("sweep without deadline")
	}
	return 2, s.err
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New("every minute please", &countingSweeper{}, time.Second, zap.NewNop())
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	s := &countingSweeper{}
	r, err := New("@every 1m", s, time.Second, zap.NewNop())
	require.NoError(t, err)

	r.RunOnce(context.Background())
	assert.Equal(t, int32(1), s.calls.Load())

	s.err = errors.New("db down")
	r.RunOnce(context.Background())
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestStartStop(t *testing.T) {
	s := &countingSweeper{}
	r, err := New("@every 1s", s, time.Second, zap.NewNop())
	require.NoError(t, err)

	r.Start()
	require.Eventually(t, func() bool { return s.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
	n := s.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, n, s.calls.Load())
}
