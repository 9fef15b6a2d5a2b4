package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"broadcaster/internal/metrics"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
)

const maxStatusWriteAttempts = 3

var (
	optOutKeywords = map[string]bool{"stop": true, "unsubscribe": true, "cancel": true, "end": true, "quit": true, "t": true}
	optInKeywords  = map[string]bool{"start": true, "unstop": true, "yes": true}
)

// StatusCallback is a normalized delivery-status callback
type StatusCallback struct {
	// LocalID is the ledger id embedded in the callback URL or custom args
	LocalID           string
	ProviderMessageID string
	Update            models.StatusUpdate
}

// InboundMessage is a normalized inbound message callback
type InboundMessage struct {
	ProviderMessageID string
	From              string
	To                string
	Subject           string
	Body              string
}

// Callback carries exactly one of a status update or an inbound message
type Callback struct {
	Status  *StatusCallback
	Inbound *InboundMessage
}

// ReconciliationService applies provider callbacks to the ledger. Every
// callback is safe to apply more than once and in any order.
type ReconciliationService struct {
	messages    repository.MessageRepository
	customers   repository.CustomerRepository
	suppression repository.SuppressionRepository
	rules       repository.KeywordRuleRepository
	normalizer  *AddressNormalizer
	outbound    *Outbound
	autoReply   bool
	logger      *slog.Logger
	now         func() time.Time
}

// NewReconciliationService creates a new reconciliation service. autoReply
// enables keyword-rule replies to inbound SMS.
func NewReconciliationService(
	messages repository.MessageRepository,
	customers repository.CustomerRepository,
	suppression repository.SuppressionRepository,
	rules repository.KeywordRuleRepository,
	normalizer *AddressNormalizer,
	outbound *Outbound,
	autoReply bool,
	logger *slog.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		messages:    messages,
		customers:   customers,
		suppression: suppression,
		rules:       rules,
		normalizer:  normalizer,
		outbound:    outbound,
		autoReply:   autoReply,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ApplyCallback routes a callback to status reconciliation or inbound handling
func (s *ReconciliationService) ApplyCallback(ctx context.Context, channel models.Channel, cb Callback) error {
	switch {
	case cb.Status != nil:
		_, err := s.ApplyStatus(ctx, channel, *cb.Status)
		return err
	case cb.Inbound != nil:
		_, err := s.ReceiveInbound(ctx, channel, *cb.Inbound)
		return err
	}
	return &ValidationError{Message: "callback carries no status or message"}
}

// ApplyStatus correlates a status callback and folds it into the ledger row.
// It returns the outcome recorded in metrics; an uncorrelated callback is not an error.
func (s *ReconciliationService) ApplyStatus(ctx context.Context, channel models.Channel, cb StatusCallback) (string, error) {
	outcome, err := s.applyStatus(ctx, channel, cb)
	if err == nil {
		metrics.CallbacksProcessed.WithLabelValues(string(channel), outcome).Inc()
	}
	return outcome, err
}

func (s *ReconciliationService) applyStatus(ctx context.Context, channel models.Channel, cb StatusCallback) (string, error) {
	message, err := s.correlate(ctx, cb)
	if err != nil {
		return "", err
	}
	if message == nil || message.Direction != models.DirectionOutbound {
		s.logger.Debug("callback not correlated",
			"channel", channel, "local_id", cb.LocalID, "provider_message_id", cb.ProviderMessageID)
		return metrics.OutcomeUncorrelated, nil
	}

	update := cb.Update
	if update.OccurredAt.IsZero() {
		update.OccurredAt = s.now()
	}
	previous, changed, err := s.foldStatus(ctx, message, update)
	if err != nil {
		return "", err
	}
	appended, err := s.messages.AppendEvent(ctx, message.ID, update.Status, update.OccurredAt)
	if err != nil {
		return "", err
	}
	if !changed && !appended {
		return metrics.OutcomeDuplicate, nil
	}

	if changed && message.Status != previous && message.CustomerID != nil {
		if err := s.customers.UpdateLastStatus(ctx, *message.CustomerID, message.Channel, message.Status); err != nil {
			s.logger.Warn("failed to update customer last status",
				"customer_id", *message.CustomerID, "error", err)
		}
	}

	s.logger.Debug("callback applied",
		"message_id", message.ID, "channel", message.Channel, "from", previous, "to", message.Status)
	return metrics.OutcomeApplied, nil
}

// foldStatus applies the update and writes it with a compare-and-set on the
// stored status. When another callback commits first the row is re-read and
// the update re-applied, so a lower-rank status never overwrites a higher one.
func (s *ReconciliationService) foldStatus(ctx context.Context, message *models.Message, update models.StatusUpdate) (models.MessageStatus, bool, error) {
	for attempt := 0; attempt < maxStatusWriteAttempts; attempt++ {
		if attempt > 0 {
			fresh, err := s.messages.GetByID(ctx, message.ID)
			if err != nil {
				return "", false, err
			}
			*message = *fresh
		}

		previous := message.Status
		if !message.ApplyStatus(update) {
			return previous, false, nil
		}
		ok, err := s.messages.UpdateReconciled(ctx, message, previous)
		if err != nil {
			return "", false, err
		}
		if ok {
			return previous, true, nil
		}
		s.logger.Debug("message status changed concurrently, retrying",
			"message_id", message.ID, "attempt", attempt+1)
	}
	return "", false, fmt.Errorf("message %d: status kept changing under concurrent callbacks", message.ID)
}

// correlate tries the local id first and falls back to the provider id.
// SendGrid event ids extend the X-Message-Id with ".filter..." so the prefix is tried too.
func (s *ReconciliationService) correlate(ctx context.Context, cb StatusCallback) (*models.Message, error) {
	if cb.LocalID != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(cb.LocalID), 10, 64); err == nil {
			message, err := s.messages.GetByID(ctx, id)
			if err == nil {
				return message, nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
		}
	}

	candidates := []string{}
	if pid := strings.TrimSpace(cb.ProviderMessageID); pid != "" {
		candidates = append(candidates, pid)
		if prefix, _, ok := strings.Cut(pid, "."); ok && prefix != "" {
			candidates = append(candidates, prefix)
		}
	}
	for _, pid := range candidates {
		message, err := s.messages.GetByProviderMessageID(ctx, pid)
		if err == nil {
			return message, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// ReceiveInbound stores an inbound message once and runs keyword handling for SMS
func (s *ReconciliationService) ReceiveInbound(ctx context.Context, channel models.Channel, in InboundMessage) (string, error) {
	outcome, err := s.receiveInbound(ctx, channel, in)
	if err == nil {
		metrics.CallbacksProcessed.WithLabelValues(string(channel), outcome).Inc()
	}
	return outcome, err
}

func (s *ReconciliationService) receiveInbound(ctx context.Context, channel models.Channel, in InboundMessage) (string, error) {
	from, err := s.normalizer.Normalize(channel, in.From)
	if err != nil {
		return "", &ValidationError{Message: err.Error()}
	}
	to := strings.TrimSpace(in.To)
	if normalized, err := s.normalizer.Normalize(channel, to); err == nil {
		to = normalized
	}

	if in.ProviderMessageID != "" {
		existing, err := s.messages.GetByProviderMessageID(ctx, in.ProviderMessageID)
		if err == nil && existing.Direction == models.DirectionInbound {
			return metrics.OutcomeDropped, nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", err
		}
	}

	message := &models.Message{
		Channel:     channel,
		Direction:   models.DirectionInbound,
		ToAddress:   to,
		FromAddress: from,
		Body:        in.Body,
		Status:      models.MessageStatusReceived,
	}
	if in.ProviderMessageID != "" {
		pid := in.ProviderMessageID
		message.ProviderMessageID = &pid
	}
	if in.Subject != "" {
		subject := in.Subject
		message.Subject = &subject
	}

	if err := s.messages.Create(ctx, message); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return metrics.OutcomeDropped, nil
		}
		return "", err
	}
	s.logger.Info("inbound message stored", "message_id", message.ID, "channel", channel)

	if channel == models.ChannelSMS {
		if err := s.handleKeywords(ctx, message); err != nil {
			s.logger.Warn("keyword handling failed", "message_id", message.ID, "error", err)
		}
	}
	return metrics.OutcomeInbound, nil
}

// handleKeywords applies opt-out and opt-in keywords, otherwise fires the
// newest matching auto-reply rule.
func (s *ReconciliationService) handleKeywords(ctx context.Context, inbound *models.Message) error {
	keyword := strings.ToLower(strings.TrimSpace(inbound.Body))
	address := suppressionKey(inbound.Channel, inbound.FromAddress)

	if optOutKeywords[keyword] {
		if err := s.suppression.AddOptOut(ctx, address, "keyword:"+keyword, "sms_inbound"); err != nil {
			return fmt.Errorf("failed to record opt-out: %w", err)
		}
		s.logger.Info("recipient opted out", "message_id", inbound.ID, "keyword", keyword)
		return nil
	}
	if optInKeywords[keyword] {
		if err := s.suppression.RemoveOptOut(ctx, address); err != nil {
			return fmt.Errorf("failed to remove opt-out: %w", err)
		}
		s.logger.Info("recipient opted in", "message_id", inbound.ID, "keyword", keyword)
		return nil
	}

	if !s.autoReply || s.outbound == nil {
		return nil
	}
	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if !rule.Matches(inbound.Body) {
			continue
		}
		opts := SendOptions{
			BatchID:       fmt.Sprintf("auto_reply_%d", inbound.ID),
			Transactional: true,
		}
		if err := s.outbound.Ready(models.ChannelSMS, opts); err != nil {
			return err
		}
		reply, err := s.outbound.Send(ctx, models.ChannelSMS, Recipient{Address: inbound.FromAddress}, Content{Body: rule.ResponseText}, opts)
		if err != nil {
			return err
		}
		s.logger.Info("auto-reply sent", "rule_id", rule.ID, "message_id", reply.ID, "status", reply.Status)
		return nil
	}
	return nil
}

// MapSendGridEvent translates a SendGrid event type into a ledger status.
// Unknown events report false and are ignored.
func MapSendGridEvent(event string) (models.MessageStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "processed":
		return models.MessageStatusProcessed, true
	case "dropped":
		return models.MessageStatusFailed, true
	case "deferred":
		return models.MessageStatusDeferred, true
	case "bounce":
		return models.MessageStatusBounced, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "open":
		return models.MessageStatusOpened, true
	case "click":
		return models.MessageStatusClicked, true
	case "spamreport":
		return models.MessageStatusSpam, true
	case "unsubscribe":
		return models.MessageStatusUnsub, true
	}
	return "", false
}
