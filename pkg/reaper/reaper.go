package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cradlehq/cradle/pkg/log"
	"github.com/cradlehq/cradle/pkg/manager"
)

const (
	// DefaultInterval is how often expired instances are reaped
	DefaultInterval = 10 * time.Second

	// sweepEvery runs the orphan sweep on every Nth reap cycle. The sweep
	// talks to the engine for all managed containers, so it runs slower
	// than the expiry scan.
	sweepEvery = 6
)

// Reaper drives the periodic maintenance loop: destroying instances past
// their expiry, and reclaiming engine containers the registry lost track of
type Reaper struct {
	manager  *manager.Manager
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReaper creates a reaper over the given manager. A non-positive
// interval falls back to DefaultInterval.
func NewReaper(mgr *manager.Manager, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		manager:  mgr,
		interval: interval,
		logger:   log.WithComponent("reaper"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the maintenance loop
func (r *Reaper) Start() {
	go r.run()
}

// Stop stops the loop and waits for the in-flight cycle to finish
func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reaper) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ticker.C:
			cycle++
			r.reap()
			if cycle%sweepEvery == 0 {
				r.sweep()
			}
		case <-r.stopCh:
			return
		}
	}
}

// reap performs one expiry cycle
func (r *Reaper) reap() {
	ctx := context.Background()
	reaped, err := r.manager.ReapExpired(ctx, time.Now())
	if err != nil {
		r.logger.Error().Err(err).Msg("reap cycle failed")
		return
	}
	if reaped > 0 {
		r.logger.Info().Int("reaped", reaped).Msg("destroyed expired instances")
	}
}

// sweep reclaims untracked engine containers
func (r *Reaper) sweep() {
	ctx := context.Background()
	reclaimed, err := r.manager.SweepOrphans(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("orphan sweep failed")
		return
	}
	if reclaimed > 0 {
		r.logger.Info().Int("reclaimed", reclaimed).Msg("reclaimed orphaned containers")
	}
}
