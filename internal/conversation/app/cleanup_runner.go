package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// CleanupRunner drives the recurring retention cleanup. The job runs in
// singleton mode so a tick is skipped while the previous run is still in
// flight, and the schedule survives individual run failures.
type CleanupRunner struct {
	service       *Service
	logger        *slog.Logger
	scheduler     gocron.Scheduler
	retentionDays int
	interval      time.Duration
}

// NewCleanupRunner builds a runner that deletes messages older than
// retentionDays across all tenants every intervalHours hours.
func NewCleanupRunner(service *Service, retentionDays, intervalHours int, logger *slog.Logger) (*CleanupRunner, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	if intervalHours <= 0 {
		return nil, fmt.Errorf("cleanup interval must be positive, got %d", intervalHours)
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create cleanup scheduler: %w", err)
	}

	return &CleanupRunner{
		service:       service,
		logger:        logger.With("component", "cleanup_runner"),
		scheduler:     scheduler,
		retentionDays: retentionDays,
		interval:      time.Duration(intervalHours) * time.Hour,
	}, nil
}

// Start schedules the cleanup job and begins execution. Run failures are
// logged and never stop the schedule.
func (r *CleanupRunner) Start() error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(r.runOnce),
		gocron.WithName("conversation-retention-cleanup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule retention cleanup: %w", err)
	}

	r.scheduler.Start()
	r.logger.Info("retention cleanup scheduled",
		"retention_days", r.retentionDays,
		"interval", r.interval.String())
	return nil
}

func (r *CleanupRunner) runOnce() {
	ctx := context.Background()
	if _, err := r.service.CleanupOldConversations(ctx, uuid.Nil, r.retentionDays); err != nil {
		// Already counted and logged by the service; the schedule continues.
		r.logger.WarnContext(ctx, "scheduled retention cleanup run failed", "error", err)
	}
}

// Stop cancels the schedule and waits for a running job to finish.
func (r *CleanupRunner) Stop() error {
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down cleanup scheduler: %w", err)
	}
	r.logger.Info("retention cleanup stopped")
	return nil
}
