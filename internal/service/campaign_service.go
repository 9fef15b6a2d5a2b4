package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"broadcaster/internal/metrics"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
)

// DispatchTrigger asks a worker to run a dispatch pass now instead of
// waiting for the next scheduler tick.
type DispatchTrigger interface {
	TriggerDispatch(ctx context.Context, family models.Family, id int64) error
}

// CampaignService owns campaign-level status changes requested by operators
type CampaignService struct {
	smsCampaigns   repository.SMSCampaignRepository
	emailCampaigns repository.EmailCampaignRepository
	marketing      repository.MarketingRepository
	messages       repository.MessageRepository
	trigger        DispatchTrigger
	logger         *slog.Logger
}

// NewCampaignService creates a new campaign service. trigger may be nil, in
// which case started campaigns are picked up by the scheduler.
func NewCampaignService(
	smsCampaigns repository.SMSCampaignRepository,
	emailCampaigns repository.EmailCampaignRepository,
	marketing repository.MarketingRepository,
	messages repository.MessageRepository,
	trigger DispatchTrigger,
	logger *slog.Logger,
) *CampaignService {
	return &CampaignService{
		smsCampaigns:   smsCampaigns,
		emailCampaigns: emailCampaigns,
		marketing:      marketing,
		messages:       messages,
		trigger:        trigger,
		logger:         logger,
	}
}

// Start moves a draft or scheduled campaign to running and triggers a pass
func (s *CampaignService) Start(ctx context.Context, family models.Family, id int64) error {
	from := []models.CampaignStatus{models.CampaignStatusDraft, models.CampaignStatusScheduled}
	if err := s.transition(ctx, family, id, from, models.CampaignStatusRunning); err != nil {
		return err
	}
	s.triggerDispatch(ctx, family, id)
	return nil
}

// Pause stops a campaign between sends; a pass in progress observes it before its next send
func (s *CampaignService) Pause(ctx context.Context, family models.Family, id int64) error {
	return s.transition(ctx, family, id, models.CampaignStatusPaused.Sources(), models.CampaignStatusPaused)
}

// Resume moves a paused campaign back to running and triggers a pass
func (s *CampaignService) Resume(ctx context.Context, family models.Family, id int64) error {
	from := []models.CampaignStatus{models.CampaignStatusPaused}
	if err := s.transition(ctx, family, id, from, models.CampaignStatusRunning); err != nil {
		return err
	}
	s.triggerDispatch(ctx, family, id)
	return nil
}

// Cancel terminates a campaign that has not finished
func (s *CampaignService) Cancel(ctx context.Context, family models.Family, id int64) error {
	return s.transition(ctx, family, id, models.CampaignStatusCanceled.Sources(), models.CampaignStatusCanceled)
}

// GetStats aggregates the ledger rows of a campaign
func (s *CampaignService) GetStats(ctx context.Context, family models.Family, id int64) (*models.CampaignStats, error) {
	scope := repository.MessageScope{FollowupStep: -1}

	switch family {
	case models.FamilySMS:
		campaign, err := s.smsCampaigns.GetByID(ctx, id)
		if err != nil {
			return nil, s.lookupError(family, id, err)
		}
		scope.Channel = campaign.Channel
		if scope.Channel == "" {
			scope.Channel = models.ChannelSMS
		}
		scope.CampaignID = &campaign.ID
	case models.FamilyEmail:
		if _, err := s.emailCampaigns.GetByID(ctx, id); err != nil {
			return nil, s.lookupError(family, id, err)
		}
		scope.Channel = models.ChannelEmail
		scope.CampaignID = &id
	case models.FamilyMarketing:
		if _, err := s.marketing.GetByID(ctx, id); err != nil {
			return nil, s.lookupError(family, id, err)
		}
		scope.MarketingCampaignID = &id
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("unknown campaign family: %s", family)}
	}

	stats, err := s.messages.GetStats(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}
	return stats, nil
}

func (s *CampaignService) transition(ctx context.Context, family models.Family, id int64, from []models.CampaignStatus, to models.CampaignStatus) error {
	store, err := s.store(family)
	if err != nil {
		return err
	}

	ok, err := store.Transition(ctx, id, from, to, nil)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	if !ok {
		current, err := store.GetStatus(ctx, id)
		if err != nil {
			return s.lookupError(family, id, err)
		}
		return &ConflictError{
			Resource: string(family) + " campaign",
			Message:  fmt.Sprintf("cannot move from %s to %s", current, to),
		}
	}

	metrics.CampaignTransitions.WithLabelValues(string(family), string(to)).Inc()
	s.logger.Info("campaign status changed", "family", family, "campaign_id", id, "status", to)
	return nil
}

func (s *CampaignService) triggerDispatch(ctx context.Context, family models.Family, id int64) {
	if s.trigger == nil {
		return
	}
	if err := s.trigger.TriggerDispatch(ctx, family, id); err != nil {
		s.logger.Warn("failed to trigger dispatch, scheduler will pick it up",
			"family", family, "campaign_id", id, "error", err)
	}
}

func (s *CampaignService) store(family models.Family) (repository.StatusStore, error) {
	switch family {
	case models.FamilySMS:
		return s.smsCampaigns, nil
	case models.FamilyEmail:
		return s.emailCampaigns, nil
	case models.FamilyMarketing:
		return s.marketing, nil
	}
	return nil, &ValidationError{Message: fmt.Sprintf("unknown campaign family: %s", family)}
}

func (s *CampaignService) lookupError(family models.Family, id int64, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: string(family) + " campaign", ID: id}
	}
	return err
}
