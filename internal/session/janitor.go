package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Janitor periodically sweeps expired sessions and notifies a callback so
// their conversation memory can be evicted too.
type Janitor struct {
	store   Store
	cron    *cron.Cron
	logger  *slog.Logger
	onEvict func(ctx context.Context, sessionID string)
}

// NewJanitor creates a janitor sweeping on the given cron schedule
// (e.g. "@every 5m"). onEvict may be nil.
func NewJanitor(store Store, schedule string, logger *slog.Logger, onEvict func(ctx context.Context, sessionID string)) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		store:   store,
		cron:    cron.New(),
		logger:  logger,
		onEvict: onEvict,
	}
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins sweeping in the background.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts sweeping; a sweep in progress completes first.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep() {
	ctx := context.Background()
	expired, err := j.store.Sweep(ctx)
	if err != nil {
		j.logger.Error("session sweep failed", "error", err)
		return
	}
	for _, id := range expired {
		if j.onEvict != nil {
			j.onEvict(ctx, id)
		}
	}
	if len(expired) > 0 {
		j.logger.Info("swept expired sessions", "count", len(expired))
	}
}
