package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"codecollab/internal/presence"
	"codecollab/internal/session"
	"codecollab/internal/utils"
)

// PresenceRefreshJob keeps the presence entries of this instance's live rooms
// from expiring. Entries of rooms that died with a crashed instance lapse
// after the presence TTL.
type PresenceRefreshJob struct {
	registry *session.Registry
	tracker  presence.Tracker
	schedule string
	log      *utils.Logger
	cron     *cron.Cron
}

func NewPresenceRefreshJob(registry *session.Registry, tracker presence.Tracker, schedule string, log *utils.Logger) *PresenceRefreshJob {
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &PresenceRefreshJob{
		registry: registry,
		tracker:  tracker,
		schedule: schedule,
		log:      log,
		cron:     cron.New(),
	}
}

// Start schedules the refresh; an empty schedule disables it.
func (j *PresenceRefreshJob) Start() error {
	if j.schedule == "" {
		j.log.Info("presence refresh disabled")
		return nil
	}
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.RunOnce(ctx); err != nil {
			j.log.Warn("presence refresh failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule presence refresh: %w", err)
	}
	j.cron.Start()
	j.log.Info("presence refresh started", "schedule", j.schedule)
	return nil
}

// Stop waits for a running refresh to finish.
func (j *PresenceRefreshJob) Stop() {
	<-j.cron.Stop().Done()
}

func (j *PresenceRefreshJob) RunOnce(ctx context.Context) error {
	if j.tracker == nil {
		return nil
	}
	if err := j.tracker.Refresh(ctx, j.registry.RoomIDs()); err != nil {
		return fmt.Errorf("refresh presence: %w", err)
	}
	return nil
}
