package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"broadcaster/internal/lock"
	"broadcaster/internal/metrics"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
)

// MarketingService drives multi-step drip sequences. Each pass advances every
// active customer by at most one step; the step execution record is the cursor.
type MarketingService struct {
	campaigns  repository.MarketingRepository
	customers  repository.CustomerRepository
	templates  repository.TemplateRepository
	messages   repository.MessageRepository
	senders    map[models.Channel]ChannelSender
	normalizer *AddressNormalizer
	logger     *slog.Logger
	now        func() time.Time
}

// NewMarketingService creates a new marketing service. senders maps each
// step channel onto the send path for it.
func NewMarketingService(
	campaigns repository.MarketingRepository,
	customers repository.CustomerRepository,
	templates repository.TemplateRepository,
	messages repository.MessageRepository,
	senders map[models.Channel]ChannelSender,
	normalizer *AddressNormalizer,
	logger *slog.Logger,
) *MarketingService {
	return &MarketingService{
		campaigns:  campaigns,
		customers:  customers,
		templates:  templates,
		messages:   messages,
		senders:    senders,
		normalizer: normalizer,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// customerProgress is where a customer stands in the sequence
type customerProgress struct {
	done   map[int64]bool
	lastAt time.Time
}

// RunPass processes the next due step for every active target customer and
// completes the campaign once every customer has run out of steps.
func (s *MarketingService) RunPass(ctx context.Context, id int64) error {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "marketing campaign", ID: id}
	}
	if err != nil {
		return err
	}
	if campaign.Status != models.CampaignStatusRunning {
		return nil
	}
	log := s.logger.With("family", models.FamilyMarketing, "campaign_id", id)

	steps, err := s.campaigns.ListSteps(ctx, id)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return s.transition(ctx, id, models.CampaignStatusFailed, ErrMissingContent, log)
	}
	for _, step := range steps {
		sender, ok := s.senders[step.Channel]
		if !ok {
			return s.transition(ctx, id, models.CampaignStatusFailed, fmt.Errorf("%w: no sender for %s", ErrMissingCredentials, step.Channel), log)
		}
		if err := sender.Ready(SendOptions{}); err != nil {
			return s.transition(ctx, id, models.CampaignStatusFailed, err, log)
		}
	}

	targets, err := s.targets(ctx, campaign)
	if err != nil {
		return err
	}
	progress, err := s.progress(ctx, id)
	if err != nil {
		return err
	}
	states, err := s.campaigns.ListCustomerStates(ctx, id)
	if err != nil {
		return err
	}

	start := s.now()
	if campaign.StartedAt != nil {
		start = *campaign.StartedAt
	}
	batchID := newBatchID("marketing_campaign", id)
	finished := true

	for i, customer := range targets {
		if i > 0 {
			status, err := s.campaigns.GetStatus(ctx, id)
			if err != nil {
				return err
			}
			if status != models.CampaignStatusRunning {
				log.Info("campaign interrupted", "status", status)
				return nil
			}
		}

		p := progress[customer.ID]
		next, remaining := nextStep(steps, p)
		if next == nil {
			continue
		}
		if states[customer.ID] == models.CustomerStatePaused {
			finished = false
			continue
		}

		ref := start
		if p != nil && !p.lastAt.IsZero() {
			ref = p.lastAt
		}
		if s.now().Before(ref.Add(next.Delay())) {
			finished = false
			continue
		}

		if err := lock.Refresh(ctx); err != nil {
			log.Warn("dispatch lease lost, stopping pass", "customer_id", customer.ID, "error", err)
			return err
		}
		if err := s.runStep(ctx, campaign, next, customer, batchID); err != nil {
			return err
		}
		if remaining > 1 {
			finished = false
		}
	}

	if !finished {
		return nil
	}
	return s.transition(ctx, id, models.CampaignStatusCompleted, nil, log)
}

// runStep sends one step to one customer and records the execution. A filter
// mismatch or a missing address records a skipped execution so the cursor moves on.
// A ledger row left by an earlier pass that stopped before recording the
// execution is recorded instead of sending the step again.
func (s *MarketingService) runStep(ctx context.Context, campaign *models.MarketingCampaign, step *models.CampaignStep, customer *models.Customer, batchID string) error {
	execution := &models.StepExecution{
		CampaignID: campaign.ID,
		StepID:     step.ID,
		CustomerID: customer.ID,
		Channel:    step.Channel,
	}

	previous, err := s.messages.GetStepMessage(ctx, step.ID, customer.ID)
	switch {
	case err == nil:
		s.logger.Info("step already sent, recording execution",
			"campaign_id", campaign.ID, "step_id", step.ID, "customer_id", customer.ID, "message_id", previous.ID)
		return s.recordExecution(ctx, executionFor(execution, previous))
	case !errors.Is(err, repository.ErrNotFound):
		return err
	}

	recipient, skipReason := s.recipientFor(step, customer)
	if skipReason != "" {
		execution.Status = models.ExecutionSkipped
		execution.Note = &skipReason
		return s.recordExecution(ctx, execution)
	}

	content, err := s.contentFor(ctx, step)
	if err != nil {
		return err
	}
	opts := SendOptions{
		BatchID:             batchID,
		MarketingCampaignID: &campaign.ID,
		CampaignStepID:      &step.ID,
		TemplateID:          step.TemplateID,
	}

	message, err := s.senders[step.Channel].Send(ctx, recipient, content, opts)
	if err != nil {
		return err
	}
	return s.recordExecution(ctx, executionFor(execution, message))
}

// executionFor maps the ledger row of a step send onto its execution record
func executionFor(execution *models.StepExecution, message *models.Message) *models.StepExecution {
	execution.MessageID = &message.ID
	switch message.Status {
	case models.MessageStatusBlocked:
		execution.Status = models.ExecutionBlocked
	case models.MessageStatusFailed:
		execution.Status = models.ExecutionFailed
	default:
		execution.Status = models.ExecutionSent
	}
	execution.Note = message.Error
	return execution
}

func (s *MarketingService) recipientFor(step *models.CampaignStep, customer *models.Customer) (Recipient, string) {
	if !step.FilterRules.Match(customer) {
		return Recipient{}, "step filter did not match"
	}
	raw := customer.Address(step.Channel)
	if raw == "" {
		return Recipient{}, fmt.Sprintf("no %s address", step.Channel)
	}
	address, err := s.normalizer.Normalize(step.Channel, raw)
	if err != nil {
		return Recipient{}, err.Error()
	}
	id := customer.ID
	return Recipient{
		Address:    address,
		Name:       customer.DisplayName(),
		CustomerID: &id,
		Variables:  customer.Context(),
	}, ""
}

func (s *MarketingService) contentFor(ctx context.Context, step *models.CampaignStep) (Content, error) {
	content := Content{
		Subject:          step.Subject,
		Body:             step.Content,
		ContentSID:       step.ContentSID,
		ContentVariables: step.ContentVariables,
		AppendOptOut:     true,
	}
	if step.TemplateID == nil || step.Content != "" {
		return content, nil
	}

	template, err := s.templates.GetByID(ctx, *step.TemplateID)
	if err != nil {
		return Content{}, fmt.Errorf("failed to load step template: %w", err)
	}
	content.Body = template.Content
	if content.Subject == "" && template.Subject != nil {
		content.Subject = *template.Subject
	}
	if template.HTML != nil {
		content.HTML = *template.HTML
	}
	return content, nil
}

func (s *MarketingService) recordExecution(ctx context.Context, execution *models.StepExecution) error {
	err := s.campaigns.CreateExecution(ctx, execution)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}

// targets returns the explicit customer list, or every customer matching the
// campaign filter when none is given.
func (s *MarketingService) targets(ctx context.Context, campaign *models.MarketingCampaign) ([]*models.Customer, error) {
	if len(campaign.TargetCustomerIDs) > 0 {
		return s.customers.ListByIDs(ctx, campaign.TargetCustomerIDs)
	}

	var (
		candidates []*models.Customer
		err        error
	)
	if campaign.FilterRules != nil && len(campaign.FilterRules.GroupIDs) > 0 {
		candidates, err = s.customers.ListByGroupIDs(ctx, campaign.FilterRules.GroupIDs)
	} else {
		candidates, err = s.customers.ListAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Customer, 0, len(candidates))
	for _, c := range candidates {
		if campaign.FilterRules.Match(c) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (s *MarketingService) progress(ctx context.Context, id int64) (map[int64]*customerProgress, error) {
	executions, err := s.campaigns.ListExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	progress := make(map[int64]*customerProgress)
	for _, e := range executions {
		p, ok := progress[e.CustomerID]
		if !ok {
			p = &customerProgress{done: make(map[int64]bool)}
			progress[e.CustomerID] = p
		}
		p.done[e.StepID] = true
		if e.CreatedAt.After(p.lastAt) {
			p.lastAt = e.CreatedAt
		}
	}
	return progress, nil
}

// nextStep returns the first step without an execution and how many steps,
// including it, are still open.
func nextStep(steps []*models.CampaignStep, p *customerProgress) (*models.CampaignStep, int) {
	var (
		next      *models.CampaignStep
		remaining int
	)
	for _, step := range steps {
		if p != nil && p.done[step.ID] {
			continue
		}
		if next == nil {
			next = step
		}
		remaining++
	}
	return next, remaining
}

// PauseCustomer stops further steps for one customer without touching the campaign
func (s *MarketingService) PauseCustomer(ctx context.Context, campaignID, customerID int64) error {
	return s.setCustomerState(ctx, campaignID, customerID, models.CustomerStatePaused)
}

// ResumeCustomer lets a paused customer continue from where they stopped
func (s *MarketingService) ResumeCustomer(ctx context.Context, campaignID, customerID int64) error {
	return s.setCustomerState(ctx, campaignID, customerID, models.CustomerStateActive)
}

func (s *MarketingService) setCustomerState(ctx context.Context, campaignID, customerID int64, state string) error {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "marketing campaign", ID: campaignID}
	}
	if err != nil {
		return err
	}
	if campaign.Status.IsTerminal() {
		return &ConflictError{Resource: "marketing campaign", Message: fmt.Sprintf("campaign is %s", campaign.Status)}
	}
	if _, err := s.customers.GetByID(ctx, customerID); errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "customer", ID: customerID}
	} else if err != nil {
		return err
	}

	if err := s.campaigns.SetCustomerState(ctx, campaignID, customerID, state); err != nil {
		return fmt.Errorf("failed to set customer state: %w", err)
	}
	s.logger.Info("customer campaign state changed",
		"campaign_id", campaignID, "customer_id", customerID, "state", state)
	return nil
}

func (s *MarketingService) transition(ctx context.Context, id int64, to models.CampaignStatus, cause error, log *slog.Logger) error {
	var errText *string
	if cause != nil {
		text := cause.Error()
		errText = &text
	}
	ok, err := s.campaigns.Transition(ctx, id, []models.CampaignStatus{models.CampaignStatusRunning}, to, errText)
	if err != nil {
		return fmt.Errorf("failed to mark campaign %s: %w", to, err)
	}
	if ok {
		metrics.CampaignTransitions.WithLabelValues(string(models.FamilyMarketing), string(to)).Inc()
		if cause != nil {
			log.Error("campaign failed", "error", cause)
		} else {
			log.Info("campaign pass finished", "status", to)
		}
	}
	return nil
}
