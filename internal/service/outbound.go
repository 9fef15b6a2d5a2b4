package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"broadcaster/internal/metrics"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
	"broadcaster/internal/transport"
)

// SenderIdentity is the default "from" side of every channel
type SenderIdentity struct {
	SMSFrom             string
	WhatsAppFrom        string
	MessagingServiceSID string
	EmailFrom           string
	EmailFromName       string
}

// Content is what gets rendered and sent to one recipient
type Content struct {
	Subject          string
	Body             string
	HTML             string
	Variables        map[string]string
	ContentSID       string
	ContentVariables map[string]string
	// AppendOptOut requests the SMS opt-out suffix; the global setting still applies
	AppendOptOut bool
}

// SendOptions attributes a send in the ledger and overrides the default identity
type SendOptions struct {
	BatchID             string
	From                string
	FromName            string
	MessagingServiceSID string
	CampaignID          *int64
	MarketingCampaignID *int64
	CampaignStepID      *int64
	TemplateID          *int64
	Variant             *string
	FollowupStep        int
	ParentMessageID     *int64
	// Transactional sends ignore opt-outs; the blacklist still applies
	Transactional bool
}

// ChannelSender sends one message on a fixed channel. Every send leaves a
// ledger row, including blocked and failed attempts.
type ChannelSender interface {
	Channel() models.Channel
	// Ready reports ErrMissingCredentials when the channel cannot send with these options
	Ready(opts SendOptions) error
	Send(ctx context.Context, recipient Recipient, content Content, opts SendOptions) (*models.Message, error)
}

// Outbound is the single-send path shared by campaigns, drip steps and auto-replies
type Outbound struct {
	resolver      *RecipientResolver
	templates     *TemplateService
	messages      repository.MessageRepository
	customers     repository.CustomerRepository
	messaging     transport.MessagingTransport
	email         transport.EmailTransport
	identity      SenderIdentity
	publicBaseURL string
	logger        *slog.Logger
	now           func() time.Time
}

// NewOutbound creates the send path. messaging and email may be nil when a
// channel is not configured; sends on it then fail with ErrMissingCredentials.
// Sender numbers are normalized the same way recipient numbers are.
func NewOutbound(
	resolver *RecipientResolver,
	templates *TemplateService,
	messages repository.MessageRepository,
	customers repository.CustomerRepository,
	messaging transport.MessagingTransport,
	email transport.EmailTransport,
	identity SenderIdentity,
	publicBaseURL string,
	logger *slog.Logger,
) *Outbound {
	normalizer := resolver.Normalizer()
	identity.SMSFrom = senderNumber(normalizer, models.ChannelSMS, identity.SMSFrom, logger)
	identity.WhatsAppFrom = senderNumber(normalizer, models.ChannelWhatsApp, identity.WhatsAppFrom, logger)

	return &Outbound{
		resolver:      resolver,
		templates:     templates,
		messages:      messages,
		customers:     customers,
		messaging:     messaging,
		email:         email,
		identity:      identity,
		publicBaseURL: publicBaseURL,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Sender returns the ChannelSender for a channel
func (o *Outbound) Sender(channel models.Channel) ChannelSender {
	return &channelSender{channel: channel, out: o}
}

// Senders returns one sender per supported channel
func (o *Outbound) Senders() map[models.Channel]ChannelSender {
	return map[models.Channel]ChannelSender{
		models.ChannelSMS:      o.Sender(models.ChannelSMS),
		models.ChannelWhatsApp: o.Sender(models.ChannelWhatsApp),
		models.ChannelEmail:    o.Sender(models.ChannelEmail),
	}
}

// Ready checks that the channel has a transport and a sender identity
func (o *Outbound) Ready(channel models.Channel, opts SendOptions) error {
	switch channel {
	case models.ChannelSMS, models.ChannelWhatsApp:
		if o.messaging == nil {
			return fmt.Errorf("%w: no messaging transport for %s", ErrMissingCredentials, channel)
		}
		if o.fromFor(channel, opts) == "" && o.serviceSIDFor(opts) == "" {
			return fmt.Errorf("%w: no sender number or messaging service for %s", ErrMissingCredentials, channel)
		}
	case models.ChannelEmail:
		if o.email == nil {
			return fmt.Errorf("%w: no email transport", ErrMissingCredentials)
		}
		if o.fromFor(channel, opts) == "" {
			return fmt.Errorf("%w: no sender email", ErrMissingCredentials)
		}
	default:
		return fmt.Errorf("unsupported channel: %s", channel)
	}
	return nil
}

// SendSMS sends a single SMS outside any campaign
func (o *Outbound) SendSMS(ctx context.Context, to, body string, opts SendOptions) (*models.Message, error) {
	return o.sendTo(ctx, models.ChannelSMS, to, Content{Body: body}, opts)
}

// SendWhatsApp sends a single WhatsApp message outside any campaign
func (o *Outbound) SendWhatsApp(ctx context.Context, to, body string, opts SendOptions) (*models.Message, error) {
	return o.sendTo(ctx, models.ChannelWhatsApp, to, Content{Body: body}, opts)
}

// SendEmail sends a single email outside any campaign
func (o *Outbound) SendEmail(ctx context.Context, to, subject, text, html string, opts SendOptions) (*models.Message, error) {
	return o.sendTo(ctx, models.ChannelEmail, to, Content{Subject: subject, Body: text, HTML: html}, opts)
}

func (o *Outbound) sendTo(ctx context.Context, channel models.Channel, to string, content Content, opts SendOptions) (*models.Message, error) {
	address, err := o.resolver.Normalizer().Normalize(channel, to)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if err := o.Ready(channel, opts); err != nil {
		return nil, err
	}
	return o.Send(ctx, channel, Recipient{Address: address}, content, opts)
}

// Send runs suppression, renders, writes the queued ledger row, calls the
// transport and records the outcome. The returned error is only set when the
// ledger itself could not be written; transport failures land on the row.
func (o *Outbound) Send(ctx context.Context, channel models.Channel, recipient Recipient, content Content, opts SendOptions) (*models.Message, error) {
	vars := mergeVariables(content.Variables, recipient.Variables)
	body := o.templates.Render(content.Body, vars)
	html := o.templates.Render(content.HTML, vars)
	subject := o.templates.Render(content.Subject, vars)
	if channel == models.ChannelSMS {
		body = o.templates.AppendOptOut(body, content.AppendOptOut)
	}

	message := &models.Message{
		BatchID:             opts.BatchID,
		Channel:             channel,
		Direction:           models.DirectionOutbound,
		ToAddress:           recipient.Address,
		FromAddress:         o.fromFor(channel, opts),
		Body:                body,
		Status:              models.MessageStatusQueued,
		Variant:             opts.Variant,
		FollowupStep:        opts.FollowupStep,
		ParentMessageID:     opts.ParentMessageID,
		CampaignID:          opts.CampaignID,
		MarketingCampaignID: opts.MarketingCampaignID,
		CampaignStepID:      opts.CampaignStepID,
		TemplateID:          opts.TemplateID,
		CustomerID:          recipient.CustomerID,
	}
	if channel == models.ChannelEmail {
		message.Subject = &subject
	}

	reason, err := o.resolver.Suppressed(ctx, channel, recipient.Address, opts.Transactional)
	if err != nil {
		return nil, fmt.Errorf("failed to check suppression: %w", err)
	}
	if reason != models.SuppressionNone {
		text := "suppressed: " + string(reason)
		message.Status = models.MessageStatusBlocked
		message.Error = &text
		if err := o.messages.Create(ctx, message); err != nil {
			return nil, fmt.Errorf("failed to record blocked message: %w", err)
		}
		metrics.MessagesDispatched.WithLabelValues(string(channel), string(message.Status)).Inc()
		o.logger.Info("recipient suppressed",
			"channel", channel, "message_id", message.ID, "reason", reason)
		return message, nil
	}

	if err := o.messages.Create(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	start := time.Now()
	result, sendErr := o.deliver(ctx, message, html, content, opts)
	metrics.SendDuration.WithLabelValues(string(channel)).Observe(time.Since(start).Seconds())

	var providerID, errText *string
	if sendErr != nil {
		text := sendErr.Error()
		errText = &text
		message.Status = models.MessageStatusFailed
		message.Error = errText
		o.logger.Warn("send failed",
			"channel", channel, "message_id", message.ID, "error", sendErr)
	} else {
		message.Status = models.MessageStatusSent
		if result.ProviderMessageID != "" {
			id := result.ProviderMessageID
			providerID = &id
			message.ProviderMessageID = providerID
		}
	}

	if err := o.messages.RecordSendResult(ctx, message.ID, message.Status, providerID, errText); err != nil {
		return message, fmt.Errorf("failed to record send result: %w", err)
	}
	if _, err := o.messages.AppendEvent(ctx, message.ID, message.Status, o.now()); err != nil {
		o.logger.Warn("failed to append message event", "message_id", message.ID, "error", err)
	}
	metrics.MessagesDispatched.WithLabelValues(string(channel), string(message.Status)).Inc()

	if recipient.CustomerID != nil {
		counted := message.Status == models.MessageStatusSent
		if err := o.customers.RecordSend(ctx, *recipient.CustomerID, channel, message.Status, counted, opts.MarketingCampaignID, o.now()); err != nil {
			o.logger.Warn("failed to update customer aggregates",
				"customer_id", *recipient.CustomerID, "error", err)
		}
	}

	return message, nil
}

func (o *Outbound) deliver(ctx context.Context, message *models.Message, html string, content Content, opts SendOptions) (*transport.SendResult, error) {
	switch message.Channel {
	case models.ChannelSMS, models.ChannelWhatsApp:
		if o.messaging == nil {
			return nil, transport.ErrNotConfigured
		}
		req := transport.MessageRequest{
			To:                  message.ToAddress,
			From:                message.FromAddress,
			MessagingServiceSID: o.serviceSIDFor(opts),
			Body:                message.Body,
			StatusCallback:      o.statusCallback(message),
		}
		if message.Channel == models.ChannelWhatsApp && content.ContentSID != "" {
			req.ContentSID = content.ContentSID
			req.ContentVariables = content.ContentVariables
		}
		return o.messaging.SendMessage(ctx, req)
	case models.ChannelEmail:
		if o.email == nil {
			return nil, transport.ErrNotConfigured
		}
		customArgs := map[string]string{"local_message_id": strconv.FormatInt(message.ID, 10)}
		if message.BatchID != "" {
			customArgs["batch_id"] = message.BatchID
		}
		fromName := opts.FromName
		if fromName == "" {
			fromName = o.identity.EmailFromName
		}
		return o.email.SendEmail(ctx, transport.EmailRequest{
			To:         message.ToAddress,
			From:       message.FromAddress,
			FromName:   fromName,
			Subject:    *message.Subject,
			Text:       message.Body,
			HTML:       html,
			CustomArgs: customArgs,
		})
	}
	return nil, errors.New("unsupported channel")
}

// statusCallback embeds the ledger id so callbacks correlate without the provider id
func (o *Outbound) statusCallback(message *models.Message) string {
	if o.publicBaseURL == "" {
		return ""
	}
	path := "/webhooks/twilio/sms/status"
	if message.Channel == models.ChannelWhatsApp {
		path = "/webhooks/twilio/whatsapp/status"
	}
	q := url.Values{"local_id": {strconv.FormatInt(message.ID, 10)}}
	return o.publicBaseURL + path + "?" + q.Encode()
}

func (o *Outbound) fromFor(channel models.Channel, opts SendOptions) string {
	switch channel {
	case models.ChannelSMS:
		if opts.From == "" {
			return o.identity.SMSFrom
		}
		return senderNumber(o.resolver.Normalizer(), channel, opts.From, o.logger)
	case models.ChannelWhatsApp:
		if opts.From == "" {
			return o.identity.WhatsAppFrom
		}
		return senderNumber(o.resolver.Normalizer(), channel, opts.From, o.logger)
	case models.ChannelEmail:
		if opts.From != "" {
			return opts.From
		}
		return o.identity.EmailFrom
	}
	return ""
}

// senderNumber normalizes a configured sender number. Alphanumeric sender ids
// and values that do not parse are kept as given.
func senderNumber(normalizer *AddressNormalizer, channel models.Channel, raw string, logger *slog.Logger) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !phoneLike.MatchString(strings.TrimPrefix(trimmed, whatsappPrefix)) {
		if trimmed != "" && channel == models.ChannelWhatsApp && !strings.HasPrefix(trimmed, whatsappPrefix) {
			return whatsappPrefix + trimmed
		}
		return trimmed
	}
	address, err := normalizer.Normalize(channel, trimmed)
	if err != nil {
		logger.Warn("sender number not normalized", "channel", channel, "from", raw, "error", err)
		return trimmed
	}
	return address
}

func (o *Outbound) serviceSIDFor(opts SendOptions) string {
	if opts.MessagingServiceSID != "" {
		return opts.MessagingServiceSID
	}
	return o.identity.MessagingServiceSID
}

type channelSender struct {
	channel models.Channel
	out     *Outbound
}

func (s *channelSender) Channel() models.Channel {
	return s.channel
}

func (s *channelSender) Ready(opts SendOptions) error {
	return s.out.Ready(s.channel, opts)
}

func (s *channelSender) Send(ctx context.Context, recipient Recipient, content Content, opts SendOptions) (*models.Message, error) {
	return s.out.Send(ctx, s.channel, recipient, content, opts)
}
