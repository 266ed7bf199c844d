package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// DefaultCleanupAge is how long idle session histories are retained.
	DefaultCleanupAge = 7 * 24 * time.Hour

	// DefaultCleanupSchedule sweeps nightly.
	DefaultCleanupSchedule = "0 3 * * *"
)

// Janitor periodically deletes session histories that have not been touched
// within the retention window. Sessions currently registered are never
// swept, only their files age out after teardown.
type Janitor struct {
	store    *HistoryStore
	registry *Registry
	maxAge   time.Duration
	schedule string
	logger   zerolog.Logger
	cron     *cron.Cron
}

// NewJanitor creates a janitor over the given store. registry may be nil
// when sweeping offline, for example from the CLI.
func NewJanitor(store *HistoryStore, registry *Registry, maxAge time.Duration, schedule string, logger zerolog.Logger) *Janitor {
	if maxAge <= 0 {
		maxAge = DefaultCleanupAge
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	return &Janitor{
		store:    store,
		registry: registry,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger,
	}
}

// Start schedules the sweep. The first run happens at the next schedule
// boundary, not immediately.
func (j *Janitor) Start() error {
	if j.cron != nil {
		return fmt.Errorf("janitor is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() {
		if _, err := j.SweepNow(context.Background()); err != nil {
			j.logger.Error().Err(err).Msg("Session sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", j.schedule, err)
	}

	c.Start()
	j.cron = c

	j.logger.Info().
		Str("schedule", j.schedule).
		Dur("max_age", j.maxAge).
		Msg("Session janitor started")

	return nil
}

// Stop halts the scheduled sweeps.
func (j *Janitor) Stop() {
	if j.cron != nil {
		j.cron.Stop()
		j.cron = nil
		j.logger.Info().Msg("Session janitor stopped")
	}
}

// SweepNow deletes stale histories immediately and returns how many were
// removed.
func (j *Janitor) SweepNow(ctx context.Context) (int, error) {
	ids, err := j.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, id := range ids {
		if j.registry != nil {
			if _, registered := j.registry.Get(id); registered {
				continue
			}
		}

		info, err := j.store.Info(ctx, id)
		if err != nil {
			j.logger.Warn().Str("session_id", id).Err(err).Msg("Failed to stat session history")
			continue
		}

		age := now.Sub(info.LastModified)
		if age < j.maxAge {
			continue
		}

		if err := j.store.Delete(ctx, id); err != nil {
			j.logger.Error().Str("session_id", id).Err(err).Msg("Failed to delete session history")
			continue
		}
		deleted++

		j.logger.Debug().
			Str("session_id", id).
			Dur("age", age).
			Msg("Stale session history deleted")
	}

	if deleted > 0 {
		j.logger.Info().Int("deleted", deleted).Msg("Swept stale session histories")
	}

	return deleted, nil
}
