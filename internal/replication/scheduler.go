package replication

import (
	"context"
	"time"

	"powerbot/internal/logging"
)

// Scheduler drives two background loops: a fast loop that
// fires a full autosave once every interval, and a slower loop that pings
// the remote mirror's health.
type Scheduler struct {
	engine             *Engine
	autosaveInterval   time.Duration
	healthcheckInterval time.Duration
	tickInterval       time.Duration
}

// NewScheduler returns a Scheduler. tickInterval controls how often the
// fast loop wakes to check elapsed time against autosaveInterval: a
// repeated short check rather than a single sleep of the full interval.
// Elapsed time is measured from this loop's own last run only; autosaves
// triggered elsewhere do not reset it.
func NewScheduler(engine *Engine, autosaveInterval, healthcheckInterval, tickInterval time.Duration) *Scheduler {
	return &Scheduler{
		engine:               engine,
		autosaveInterval:     autosaveInterval,
		healthcheckInterval:  healthcheckInterval,
		tickInterval:         tickInterval,
	}
}

// Run blocks until ctx is cancelled, driving both loops concurrently.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { s.runAutosaveLoop(ctx); done <- struct{}{} }()
	go func() { s.runHealthcheckLoop(ctx); done <- struct{}{} }()
	<-done
	<-done
}

func (s *Scheduler) runAutosaveLoop(ctx context.Context) {
	log := logging.For("replication")
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	lastRun := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !lastRun.IsZero() && time.Since(lastRun) < s.autosaveInterval {
				continue
			}
			if _, err := s.engine.Autosave(ctx, "autosave"); err != nil {
				log.Error().Err(err).Msg("autosave failed")
			}
			lastRun = time.Now()
		}
	}
}

func (s *Scheduler) runHealthcheckLoop(ctx context.Context) {
	log := logging.For("replication")
	ticker := time.NewTicker(s.healthcheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.engine.HealthPing(ctx); err != nil {
				log.Warn().Err(err).Msg("remote mirror health ping failed")
			}
		}
	}
}
