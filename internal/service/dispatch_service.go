package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"broadcaster/internal/lock"
	"broadcaster/internal/metrics"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
)

const defaultABSplit = 50

// DispatchDefaults apply when a campaign leaves a throttle field unset
type DispatchDefaults struct {
	BatchSize int
}

// Dispatcher runs one dispatch pass over a campaign. A pass is idempotent per
// (campaign, address): recipients that already have a ledger row are skipped,
// so calling it again on a running campaign only sends what is left.
type Dispatcher struct {
	smsCampaigns   repository.SMSCampaignRepository
	emailCampaigns repository.EmailCampaignRepository
	templates      repository.TemplateRepository
	messages       repository.MessageRepository
	customers      repository.CustomerRepository
	resolver       *RecipientResolver
	outbound       *Outbound
	marketing      *MarketingService
	locker         lock.Locker
	defaults       DispatchDefaults
	logger         *slog.Logger

	// draw returns a number in [1, 100] for A/B selection
	draw func() int
	now  func() time.Time
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	smsCampaigns repository.SMSCampaignRepository,
	emailCampaigns repository.EmailCampaignRepository,
	templates repository.TemplateRepository,
	messages repository.MessageRepository,
	customers repository.CustomerRepository,
	resolver *RecipientResolver,
	outbound *Outbound,
	marketing *MarketingService,
	locker lock.Locker,
	defaults DispatchDefaults,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		smsCampaigns:   smsCampaigns,
		emailCampaigns: emailCampaigns,
		templates:      templates,
		messages:       messages,
		customers:      customers,
		resolver:       resolver,
		outbound:       outbound,
		marketing:      marketing,
		locker:         locker,
		defaults:       defaults,
		logger:         logger,
		draw:           func() int { return rand.Intn(100) + 1 },
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs a pass for any campaign family under a lease. A pass already
// in progress elsewhere makes this a no-op. The lease is refreshed before each
// send and the pass stops with lock.ErrLost once it is gone.
func (d *Dispatcher) Dispatch(ctx context.Context, family models.Family, id int64) error {
	lease, err := d.locker.Acquire(ctx, lock.Key(string(family), id))
	if errors.Is(err, lock.ErrHeld) {
		d.logger.Debug("dispatch already in progress", "family", family, "campaign_id", id)
		return nil
	}
	if err != nil {
		return err
	}
	defer lease.Release()
	ctx = lock.WithLease(ctx, lease)

	switch family {
	case models.FamilySMS:
		return d.DispatchSMS(ctx, id)
	case models.FamilyEmail:
		return d.DispatchEmail(ctx, id)
	case models.FamilyMarketing:
		if d.marketing == nil {
			return fmt.Errorf("marketing dispatch not configured")
		}
		return d.marketing.RunPass(ctx, id)
	}
	return fmt.Errorf("unknown campaign family: %s", family)
}

// DispatchSMS sends the next batch of an SMS or WhatsApp campaign
func (d *Dispatcher) DispatchSMS(ctx context.Context, id int64) error {
	campaign, err := d.smsCampaigns.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "sms campaign", ID: id}
	}
	if err != nil {
		return err
	}
	if campaign.Status != models.CampaignStatusRunning {
		return nil
	}

	channel := campaign.Channel
	if channel == "" {
		channel = models.ChannelSMS
	}
	log := d.logger.With("family", models.FamilySMS, "campaign_id", id, "channel", channel)

	if !campaign.HasContent() {
		return d.fail(ctx, d.smsCampaigns, models.FamilySMS, id, ErrMissingContent, log)
	}
	// The template also backs an empty A/B variant, so it loads whenever set
	var template *models.Template
	if campaign.TemplateID != nil {
		template, err = d.templates.GetByID(ctx, *campaign.TemplateID)
		if errors.Is(err, repository.ErrNotFound) {
			if campaign.Message == "" && !campaign.HasVariants() {
				return d.fail(ctx, d.smsCampaigns, models.FamilySMS, id, fmt.Errorf("%w: template %d not found", ErrMissingContent, *campaign.TemplateID), log)
			}
			log.Warn("campaign template not found", "template_id", *campaign.TemplateID)
			template, err = nil, nil
		}
		if err != nil {
			return err
		}
	}

	base := SendOptions{
		BatchID:             newBatchID("sms_campaign", id),
		From:                campaign.FromAddress,
		MessagingServiceSID: campaign.MessagingServiceSID,
		CampaignID:          &campaign.ID,
		TemplateID:          campaign.TemplateID,
	}
	if err := d.outbound.Ready(channel, base); err != nil {
		return d.fail(ctx, d.smsCampaigns, models.FamilySMS, id, err, log)
	}

	pending, more, err := d.pending(ctx, channel, campaign.ID, campaign.Targeting, campaign.BatchSize)
	if err != nil {
		return err
	}

	sender := d.outbound.Sender(channel)
	completed, err := d.runPass(ctx, d.smsCampaigns, id, models.CampaignStatusRunning, campaign.RatePerMinute, len(pending), func(i int) error {
		content := Content{Variables: campaign.TemplateVariables, AppendOptOut: campaign.AppendOptOut}
		opts := base
		switch {
		case campaign.HasVariants():
			label, body := d.pickVariant(campaign, template)
			content.Body = body
			opts.Variant = &label
		case campaign.Message != "":
			content.Body = campaign.Message
		case template != nil:
			content.Body = template.Content
		}
		_, err := sender.Send(ctx, pending[i], content, opts)
		return err
	})
	if err != nil || !completed {
		return err
	}
	if more {
		log.Info("batch finished, recipients remain", "sent", len(pending))
		return nil
	}
	return d.complete(ctx, d.smsCampaigns, models.FamilySMS, id, models.CampaignStatusRunning, models.CampaignStatusCompleted, log)
}

// DispatchEmail runs the initial pass of a running email campaign, or the
// follow-up pass once it has moved to the followup phase.
func (d *Dispatcher) DispatchEmail(ctx context.Context, id int64) error {
	campaign, err := d.emailCampaigns.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "email campaign", ID: id}
	}
	if err != nil {
		return err
	}

	switch campaign.Status {
	case models.CampaignStatusRunning:
		return d.emailInitialPass(ctx, campaign)
	case models.CampaignStatusFollowup:
		return d.emailFollowupPass(ctx, campaign)
	}
	return nil
}

func (d *Dispatcher) emailInitialPass(ctx context.Context, campaign *models.EmailCampaign) error {
	log := d.logger.With("family", models.FamilyEmail, "campaign_id", campaign.ID)

	if campaign.Text == "" && campaign.HTML == "" {
		return d.fail(ctx, d.emailCampaigns, models.FamilyEmail, campaign.ID, ErrMissingContent, log)
	}
	if strings.TrimSpace(campaign.Subject) == "" {
		return d.fail(ctx, d.emailCampaigns, models.FamilyEmail, campaign.ID, fmt.Errorf("%w: subject is required", ErrMissingContent), log)
	}
	base := SendOptions{
		BatchID:    newBatchID("email_campaign", campaign.ID),
		From:       campaign.FromEmail,
		FromName:   campaign.FromName,
		CampaignID: &campaign.ID,
	}
	if err := d.outbound.Ready(models.ChannelEmail, base); err != nil {
		return d.fail(ctx, d.emailCampaigns, models.FamilyEmail, campaign.ID, err, log)
	}

	pending, more, err := d.pending(ctx, models.ChannelEmail, campaign.ID, campaign.Targeting, campaign.BatchSize)
	if err != nil {
		return err
	}

	sender := d.outbound.Sender(models.ChannelEmail)
	content := Content{Subject: campaign.Subject, Body: campaign.Text, HTML: campaign.HTML}
	completed, err := d.runPass(ctx, d.emailCampaigns, campaign.ID, models.CampaignStatusRunning, campaign.RatePerMinute, len(pending), func(i int) error {
		_, err := sender.Send(ctx, pending[i], content, base)
		return err
	})
	if err != nil || !completed || more {
		return err
	}

	next := models.CampaignStatusCompleted
	if campaign.FollowupEnabled {
		next = models.CampaignStatusFollowup
	}
	return d.complete(ctx, d.emailCampaigns, models.FamilyEmail, campaign.ID, models.CampaignStatusRunning, next, log)
}

// emailFollowupPass sends follow-ups that are due and completes the campaign
// once no initial message can still become due.
func (d *Dispatcher) emailFollowupPass(ctx context.Context, campaign *models.EmailCampaign) error {
	log := d.logger.With("family", models.FamilyEmail, "campaign_id", campaign.ID, "phase", "followup")

	base := SendOptions{
		BatchID:      newBatchID("email_followup", campaign.ID),
		From:         campaign.FromEmail,
		FromName:     campaign.FromName,
		CampaignID:   &campaign.ID,
		FollowupStep: 1,
	}
	if err := d.outbound.Ready(models.ChannelEmail, base); err != nil {
		return d.fail(ctx, d.emailCampaigns, models.FamilyEmail, campaign.ID, err, log)
	}

	cutoff := d.now().Add(-campaign.FollowupDelay())
	candidates, err := d.messages.ListFollowupCandidates(ctx, campaign.ID, cutoff)
	if err != nil {
		return err
	}

	due := make([]*models.Message, 0, len(candidates))
	for _, m := range candidates {
		if campaign.FollowupCondition == models.FollowupUnread && m.ReadAt != nil {
			continue
		}
		due = append(due, m)
	}

	content := Content{Subject: campaign.FollowupSubjectLine(), Body: campaign.FollowupText, HTML: campaign.FollowupHTML}
	if content.Body == "" && content.HTML == "" {
		content.Body, content.HTML = campaign.Text, campaign.HTML
	}

	sender := d.outbound.Sender(models.ChannelEmail)
	completed, err := d.runPass(ctx, d.emailCampaigns, campaign.ID, models.CampaignStatusFollowup, campaign.RatePerMinute, len(due), func(i int) error {
		parent := due[i]
		recipient := Recipient{Address: parent.ToAddress, CustomerID: parent.CustomerID}
		if parent.CustomerID != nil {
			if customer, err := d.customers.GetByID(ctx, *parent.CustomerID); err == nil {
				recipient.Name = customer.DisplayName()
				recipient.Variables = customer.Context()
			}
		}
		opts := base
		opts.ParentMessageID = &parent.ID
		_, err := sender.Send(ctx, recipient, content, opts)
		return err
	})
	if err != nil || !completed {
		return err
	}

	remaining, err := d.messages.CountPendingFollowups(ctx, campaign.ID, cutoff)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return d.complete(ctx, d.emailCampaigns, models.FamilyEmail, campaign.ID, models.CampaignStatusFollowup, models.CampaignStatusCompleted, log)
}

// pending resolves the target set and drops addresses that already have a
// ledger row for this campaign. more reports whether the batch limit cut it short.
func (d *Dispatcher) pending(ctx context.Context, channel models.Channel, campaignID int64, targeting models.Targeting, batchSize *int) ([]Recipient, bool, error) {
	recipients, err := d.resolver.Resolve(ctx, channel, targeting)
	if err != nil {
		return nil, false, err
	}
	attempted, err := d.messages.AttemptedAddresses(ctx, repository.MessageScope{
		Channel:    channel,
		CampaignID: &campaignID,
	})
	if err != nil {
		return nil, false, err
	}

	pending := make([]Recipient, 0, len(recipients))
	for _, r := range recipients {
		if !attempted[r.Address] {
			pending = append(pending, r)
		}
	}

	limit := d.defaults.BatchSize
	if batchSize != nil && *batchSize > 0 {
		limit = *batchSize
	}
	if limit > 0 && len(pending) > limit {
		return pending[:limit], true, nil
	}
	return pending, false, nil
}

// runPass sends n items sequentially. Between sends it waits for the pacer,
// refreshes the lease and re-reads the campaign status; it returns
// completed=false when the campaign left the active status mid-pass.
func (d *Dispatcher) runPass(ctx context.Context, store repository.StatusStore, id int64, active models.CampaignStatus, ratePerMinute *int, n int, send func(i int) error) (bool, error) {
	limiter := newPacer(ratePerMinute)

	for i := 0; i < n; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return false, err
			}
		}
		if err := lock.Refresh(ctx); err != nil {
			d.logger.Warn("dispatch lease lost, stopping pass", "campaign_id", id, "sent", i, "error", err)
			return false, err
		}
		if i > 0 {
			status, err := store.GetStatus(ctx, id)
			if err != nil {
				return false, err
			}
			if status != active {
				d.logger.Info("campaign interrupted", "campaign_id", id, "status", status, "sent", i)
				return false, nil
			}
		}
		if err := send(i); err != nil {
			return false, err
		}
	}
	return true, nil
}

// pickVariant draws A or B. An empty variant falls back to the other variant,
// then to the message, then to the template body. The label records the draw.
func (d *Dispatcher) pickVariant(campaign *models.SMSCampaign, template *models.Template) (string, string) {
	split := defaultABSplit
	if campaign.ABSplit != nil {
		split = *campaign.ABSplit
	}
	label, body, other := "A", campaign.VariantA, campaign.VariantB
	if d.draw() > split {
		label, body, other = "B", campaign.VariantB, campaign.VariantA
	}
	if body == "" {
		body = other
	}
	if body == "" {
		body = campaign.Message
	}
	if body == "" && template != nil {
		body = template.Content
	}
	return label, body
}

func (d *Dispatcher) fail(ctx context.Context, store repository.StatusStore, family models.Family, id int64, cause error, log *slog.Logger) error {
	text := cause.Error()
	from := []models.CampaignStatus{models.CampaignStatusRunning, models.CampaignStatusFollowup}
	ok, err := store.Transition(ctx, id, from, models.CampaignStatusFailed, &text)
	if err != nil {
		return fmt.Errorf("failed to mark campaign failed: %w", err)
	}
	if ok {
		metrics.CampaignTransitions.WithLabelValues(string(family), string(models.CampaignStatusFailed)).Inc()
		log.Error("campaign failed", "error", cause)
	}
	return nil
}

func (d *Dispatcher) complete(ctx context.Context, store repository.StatusStore, family models.Family, id int64, from, to models.CampaignStatus, log *slog.Logger) error {
	ok, err := store.Transition(ctx, id, []models.CampaignStatus{from}, to, nil)
	if err != nil {
		return fmt.Errorf("failed to mark campaign %s: %w", to, err)
	}
	if ok {
		metrics.CampaignTransitions.WithLabelValues(string(family), string(to)).Inc()
		log.Info("campaign pass finished", "status", to)
	}
	return nil
}

// newPacer spaces sends 60/rpm seconds apart; nil means no pacing
func newPacer(ratePerMinute *int) *rate.Limiter {
	if ratePerMinute == nil || *ratePerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(*ratePerMinute)), 1)
}

func newBatchID(prefix string, id int64) string {
	return fmt.Sprintf("%s_%d_%s", prefix, id, uuid.NewString()[:8])
}
