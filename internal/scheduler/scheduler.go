// Package scheduler triggers purge runs on a fixed cadence per
// category class. Short-TTL categories run on the hourly schedule,
// long-TTL categories on the daily one; a class whose schedule or
// category list is empty is simply not scheduled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"lifecycle/internal/domain/job"
	"lifecycle/internal/domain/purge"
)

type Runner interface {
	Run(ctx context.Context, opts purge.Options) (job.PurgeJob, error)
}

// Class is one schedule entry: a cron expression and the categories it
// covers.
type Class struct {
	Name       string
	Schedule   string
	Categories []string
}

type Scheduler struct {
	runner  Runner
	classes []Class
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

func New(runner Runner, classes []Class) *Scheduler {
	return &Scheduler{
		runner:  runner,
		classes: classes,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheduled := 0
	for _, class := range s.classes {
		if class.Schedule == "" || len(class.Categories) == 0 {
			s.logger.Info("schedule class not configured, skipping", "class", class.Name)
			continue
		}
		if _, err := cron.ParseStandard(class.Schedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q for class %s: %w", class.Schedule, class.Name, err)
		}
		class := class
		if _, err := s.cron.AddFunc(class.Schedule, func() {
			s.runClass(ctx, class)
		}); err != nil {
			return fmt.Errorf("schedule class %s: %w", class.Name, err)
		}
		s.logger.Info("purge class scheduled",
			"class", class.Name,
			"schedule", class.Schedule,
			"categories", class.Categories,
		)
		scheduled++
	}
	if scheduled == 0 {
		s.logger.Info("no purge classes configured, scheduler idle")
		return nil
	}

	s.cron.Start()
	s.running = true

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runClass(ctx context.Context, class Class) {
	s.logger.Info("starting scheduled purge run", "class", class.Name)

	result, err := s.runner.Run(ctx, purge.Options{
		Categories: class.Categories,
		Trigger:    job.TriggerScheduled,
	})
	if errors.Is(err, job.ErrConflict) {
		// A run is still in flight for one of the categories. The next
		// tick covers the window; nothing is queued.
		s.logger.Warn("scheduled run skipped, category busy", "class", class.Name, "err", err)
		return
	}
	if err != nil {
		s.logger.Error("scheduled purge run failed", "class", class.Name, "err", err)
		return
	}
	s.logger.Info("scheduled purge run completed",
		"class", class.Name,
		"jobId", result.ID,
		"status", result.Status,
		"deleted", result.RecordsDeleted,
	)
}

// Stop halts the cron loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}
