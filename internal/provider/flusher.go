package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultFlushSchedule is the default cron schedule for score persistence.
const DefaultFlushSchedule = "@every 30s"

// Flusher periodically persists the registry's score table on a cron
// schedule, and once more on Stop so no updates are lost at shutdown.
type Flusher struct {
	registry *Registry
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewFlusher creates a flusher for the given registry.
func NewFlusher(registry *Registry, schedule string, logger *slog.Logger) *Flusher {
	if schedule == "" {
		schedule = DefaultFlushSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		registry: registry,
		schedule: schedule,
		logger:   logger,
	}
}

// Start begins the periodic flush.
func (f *Flusher) Start() error {
	f.cron = cron.New()
	if _, err := f.cron.AddFunc(f.schedule, f.flush); err != nil {
		return err
	}
	f.cron.Start()
	f.logger.Debug("score flusher started", slog.String("schedule", f.schedule))
	return nil
}

// Stop halts the schedule and performs a final flush.
func (f *Flusher) Stop() {
	if f.cron != nil {
		ctx := f.cron.Stop()
		// Wait for any in-progress flush to finish.
		<-ctx.Done()
	}
	f.flush()
}

func (f *Flusher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := f.registry.SaveScores(ctx); err != nil {
		f.logger.Warn("score flush failed", slog.String("error", err.Error()))
	}
}
