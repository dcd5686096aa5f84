// Package reaper periodically removes participants that never attached a socket and closes
// presence rows left open in sessions that are no longer active.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper is implemented by live.Registry.
type Sweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// Reaper runs the sweep on a cron schedule. A run still in progress makes the next one skip.
type Reaper struct {
	cron    *cron.Cron
	sweeper Sweeper
	timeout time.Duration
	log     *zap.Logger
}

// New parses schedule (cron spec or "@every 1m") and registers the sweep.
func New(schedule string, s Sweeper, timeout time.Duration, log *zap.Logger) (*Reaper, error) {
	r := &Reaper{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		sweeper: s,
		timeout: timeout,
		log:     log,
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("reaper schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the schedule in the background.
func (r *Reaper) Start() {
	r.cron.Start()
	r.log.Info("reaper started", zap.Int("jobs", len(r.cron.Entries())))
}

// Stop halts the schedule and waits for a running sweep, up to ctx.
func (r *Reaper) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		r.log.Warn("reaper stop timed out")
	}
}

// RunOnce performs a single sweep.
func (r *Reaper) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.sweeper.SweepStale(ctx)
	if err != nil {
		r.log.Error("stale sweep failed", zap.Int("removed", n), zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("stale sweep", zap.Int("removed", n))
	}
}
