package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"broadcaster/internal/metrics"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
)

// CampaignDispatcher runs one pass over a campaign
type CampaignDispatcher interface {
	Dispatch(ctx context.Context, family models.Family, id int64) error
}

// FamilySchedule configures the polling loop of one campaign family
type FamilySchedule struct {
	Family   models.Family
	Enabled  bool
	Interval time.Duration
}

// Scheduler supervises one polling loop per campaign family. Loops run
// independently; a failing tick is logged and never stops its loop.
type Scheduler struct {
	dispatcher CampaignDispatcher
	stores     map[models.Family]repository.StatusStore
	schedules  []FamilySchedule
	logger     *slog.Logger
	now        func() time.Time
}

// NewScheduler creates a scheduler. stores must hold a status store for every enabled family.
func NewScheduler(dispatcher CampaignDispatcher, stores map[models.Family]repository.StatusStore, schedules []FamilySchedule, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		dispatcher: dispatcher,
		stores:     stores,
		schedules:  schedules,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run starts every enabled loop and blocks until ctx is canceled
func (s *Scheduler) Run(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)

	for _, sched := range s.schedules {
		if !sched.Enabled || sched.Interval <= 0 {
			s.logger.Info("scheduler loop disabled", "family", sched.Family)
			continue
		}
		if _, ok := s.stores[sched.Family]; !ok {
			return fmt.Errorf("no status store for family %s", sched.Family)
		}

		sched := sched
		g.Go(func() error {
			s.loop(groupCtx, sched)
			return nil
		})
	}

	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, sched FamilySchedule) {
	s.logger.Info("scheduler loop started", "family", sched.Family, "interval", sched.Interval)
	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx, sched.Family)
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop stopped", "family", sched.Family)
			return
		case <-ticker.C:
		}
	}
}

// Tick promotes due scheduled campaigns, then runs a pass over every campaign
// still in progress. Errors and panics are logged and swallowed.
func (s *Scheduler) Tick(ctx context.Context, family models.Family) {
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			s.logger.Error("scheduler tick panicked", "family", family, "panic", r)
		}
		metrics.SchedulerTicks.WithLabelValues(string(family), outcome).Inc()
	}()

	if err := s.tick(ctx, family); err != nil {
		outcome = "error"
		s.logger.Error("scheduler tick failed", "family", family, "error", err)
	}
}

func (s *Scheduler) tick(ctx context.Context, family models.Family) error {
	store, ok := s.stores[family]
	if !ok {
		return fmt.Errorf("no status store for family %s", family)
	}

	promoted, err := store.PromoteDue(ctx, s.now())
	if err != nil {
		return err
	}
	for _, id := range promoted {
		metrics.CampaignTransitions.WithLabelValues(string(family), string(models.CampaignStatusRunning)).Inc()
		s.logger.Info("scheduled campaign promoted", "family", family, "campaign_id", id)
	}

	active := []models.CampaignStatus{models.CampaignStatusRunning}
	if family == models.FamilyEmail {
		active = append(active, models.CampaignStatusFollowup)
	}

	for _, status := range active {
		ids, err := store.ListIDsByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.dispatch(ctx, family, id); err != nil {
				s.logger.Error("dispatch failed", "family", family, "campaign_id", id, "error", err)
			}
		}
	}
	return nil
}

// dispatch isolates one campaign so its panic cannot skip the rest of the tick
func (s *Scheduler) dispatch(ctx context.Context, family models.Family, id int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	return s.dispatcher.Dispatch(ctx, family, id)
}
