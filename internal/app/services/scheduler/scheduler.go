// Package scheduler drives tier settlement on cron schedules. Threshold
// misses are routine (the engine never retries on its own, the schedule
// does); anything else is surfaced in the log.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
	"github.com/R3E-Network/lottery_engine/internal/app/system"
	"github.com/R3E-Network/lottery_engine/pkg/logger"
)

// Settler is the engine surface the scheduler drives.
type Settler interface {
	FinishTier(ctx context.Context, kind lottery.TierKind) (lottery.PendingDraw, error)
	ResetStalledDraws(ctx context.Context) []lottery.TierKind
}

// Runner schedules FinishTier per tier and, when a draw timeout is
// configured, periodically resets stalled randomness requests.
type Runner struct {
	engine    Settler
	log       *logger.Logger
	cron      *cron.Cron
	schedules map[lottery.TierKind]string
	withReset bool
}

var _ system.Service = (*Runner)(nil)

// New creates a runner. schedules maps each tier to a cron expression
// (robfig/cron syntax, descriptors like "@hourly" included).
func New(engine Settler, schedules map[lottery.TierKind]string, withReset bool, log *logger.Logger) (*Runner, error) {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	r := &Runner{
		engine:    engine,
		log:       log,
		cron:      cron.New(),
		schedules: schedules,
		withReset: withReset,
	}

	for kind, spec := range schedules {
		kind := kind
		if _, err := r.cron.AddFunc(spec, func() { r.settle(kind) }); err != nil {
			return nil, fmt.Errorf("schedule tier %s (%q): %w", kind, spec, err)
		}
	}
	if withReset {
		if _, err := r.cron.AddFunc("@every 1m", r.reset); err != nil {
			return nil, fmt.Errorf("schedule stalled-draw reset: %w", err)
		}
	}
	return r, nil
}

func (r *Runner) settle(kind lottery.TierKind) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	draw, err := r.engine.FinishTier(ctx, kind)
	switch {
	case err == nil:
		r.log.WithField("tier", kind).WithField("token", draw.Token).Info("settlement requested")
	case errors.Is(err, lottery.ErrThresholdNotMet), errors.Is(err, lottery.ErrAlreadyAwaitingRandomness):
		r.log.WithField("tier", kind).WithError(err).Debug("settlement skipped")
	default:
		r.log.WithField("tier", kind).WithError(err).Error("settlement request failed")
	}
}

func (r *Runner) reset() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, kind := range r.engine.ResetStalledDraws(ctx) {
		r.log.WithField("tier", kind).Warn("stalled draw reset by scheduler")
	}
}

// Name implements system.Service.
func (r *Runner) Name() string { return "scheduler" }

// Start begins running schedules.
func (r *Runner) Start(_ context.Context) error {
	r.cron.Start()
	r.log.WithField("tiers", len(r.schedules)).Info("settlement scheduler started")
	return nil
}

// Stop halts the schedules and waits for running jobs to finish.
func (r *Runner) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
