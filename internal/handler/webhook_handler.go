package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"broadcaster/internal/models"
	"broadcaster/internal/service"
)

const maxWebhookBody = 1 << 20

var messageIDHeader = regexp.MustCompile(`(?im)^message-id:\s*(\S+)\s*$`)

// CallbackApplier is the reconciliation surface the webhooks feed
type CallbackApplier interface {
	ApplyStatus(ctx context.Context, channel models.Channel, cb service.StatusCallback) (string, error)
	ReceiveInbound(ctx context.Context, channel models.Channel, in service.InboundMessage) (string, error)
}

// SignatureValidator checks Twilio request signatures
type SignatureValidator interface {
	ValidateSignature(fullURL string, params url.Values, signature string) bool
}

// EventVerifier checks SendGrid signed event webhooks
type EventVerifier interface {
	VerifyEventSignature(payload []byte, signature, timestamp string) bool
}

// WebhookConfig selects which provider signatures are enforced
type WebhookConfig struct {
	PublicBaseURL       string
	ValidateTwilio      bool
	VerifySendGridEvent bool
}

// WebhookHandler receives provider callbacks. Malformed payloads get 400 and
// bad signatures 403; everything else answers 200 so providers stop retrying,
// including callbacks that match no ledger row.
type WebhookHandler struct {
	applier  CallbackApplier
	twilio   SignatureValidator
	sendgrid EventVerifier
	cfg      WebhookConfig
	validate *validator.Validate
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(applier CallbackApplier, twilio SignatureValidator, sendgrid EventVerifier, cfg WebhookConfig, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		applier:  applier,
		twilio:   twilio,
		sendgrid: sendgrid,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}
}

type twilioStatusPayload struct {
	LocalID     string
	MessageSID  string `validate:"required_without=LocalID"`
	Status      string `validate:"required"`
	ErrorCode   string
	ErrorText   string
	Price       string
	PriceUnit   string
	NumSegments string
}

type twilioInboundPayload struct {
	MessageSID string `validate:"required"`
	From       string `validate:"required"`
	To         string
	Body       string
}

// TwilioSMSStatus handles POST /webhooks/twilio/sms/status
func (h *WebhookHandler) TwilioSMSStatus(w http.ResponseWriter, r *http.Request) {
	h.twilioStatus(w, r, models.ChannelSMS)
}

// TwilioWhatsAppStatus handles POST /webhooks/twilio/whatsapp/status
func (h *WebhookHandler) TwilioWhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	h.twilioStatus(w, r, models.ChannelWhatsApp)
}

// TwilioSMSInbound handles POST /webhooks/twilio/sms/inbound
func (h *WebhookHandler) TwilioSMSInbound(w http.ResponseWriter, r *http.Request) {
	h.twilioInbound(w, r, models.ChannelSMS)
}

// TwilioWhatsAppInbound handles POST /webhooks/twilio/whatsapp/inbound
func (h *WebhookHandler) TwilioWhatsAppInbound(w http.ResponseWriter, r *http.Request) {
	h.twilioInbound(w, r, models.ChannelWhatsApp)
}

func (h *WebhookHandler) twilioStatus(w http.ResponseWriter, r *http.Request, channel models.Channel) {
	form, ok := h.twilioForm(w, r)
	if !ok {
		return
	}

	payload := twilioStatusPayload{
		LocalID:     r.URL.Query().Get("local_id"),
		MessageSID:  firstOf(form, "MessageSid", "SmsSid"),
		Status:      strings.ToLower(firstOf(form, "MessageStatus", "SmsStatus")),
		ErrorCode:   form.Get("ErrorCode"),
		ErrorText:   form.Get("ErrorMessage"),
		Price:       form.Get("Price"),
		PriceUnit:   form.Get("PriceUnit"),
		NumSegments: form.Get("NumSegments"),
	}
	if err := h.validate.Struct(payload); err != nil {
		WriteValidationError(w, err.Error())
		return
	}

	_, err := h.applier.ApplyStatus(r.Context(), channel, service.StatusCallback{
		LocalID:           payload.LocalID,
		ProviderMessageID: payload.MessageSID,
		Update: models.StatusUpdate{
			Status:       models.MessageStatus(payload.Status),
			ErrorCode:    payload.ErrorCode,
			ErrorMessage: payload.ErrorText,
			Price:        payload.Price,
			PriceUnit:    payload.PriceUnit,
			NumSegments:  payload.NumSegments,
		},
	})
	h.ack(w, channel, err)
}

func (h *WebhookHandler) twilioInbound(w http.ResponseWriter, r *http.Request, channel models.Channel) {
	form, ok := h.twilioForm(w, r)
	if !ok {
		return
	}

	payload := twilioInboundPayload{
		MessageSID: firstOf(form, "MessageSid", "SmsMessageSid", "SmsSid"),
		From:       form.Get("From"),
		To:         form.Get("To"),
		Body:       form.Get("Body"),
	}
	if err := h.validate.Struct(payload); err != nil {
		WriteValidationError(w, err.Error())
		return
	}

	_, err := h.applier.ReceiveInbound(r.Context(), channel, service.InboundMessage{
		ProviderMessageID: payload.MessageSID,
		From:              payload.From,
		To:                payload.To,
		Body:              payload.Body,
	})
	if _, invalid := err.(*service.ValidationError); invalid {
		WriteValidationError(w, err.Error())
		return
	}
	h.ack(w, channel, err)
}

// twilioForm parses the form body and enforces the request signature
func (h *WebhookHandler) twilioForm(w http.ResponseWriter, r *http.Request) (url.Values, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		WriteValidationError(w, "malformed form body")
		return nil, false
	}

	if h.cfg.ValidateTwilio {
		signature := r.Header.Get("X-Twilio-Signature")
		if h.twilio == nil || !h.twilio.ValidateSignature(h.fullURL(r), r.PostForm, signature) {
			h.logger.Warn("rejected webhook with invalid signature", "path", r.URL.Path)
			WriteError(w, http.StatusForbidden, "INVALID_SIGNATURE", "invalid signature")
			return nil, false
		}
	}
	return r.PostForm, true
}

// fullURL rebuilds the URL Twilio signed. Behind a proxy the public base URL is authoritative.
func (h *WebhookHandler) fullURL(r *http.Request) string {
	if h.cfg.PublicBaseURL != "" {
		return h.cfg.PublicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

type sendGridEvent struct {
	Event          string          `json:"event" validate:"required"`
	SGMessageID    string          `json:"sg_message_id"`
	LocalMessageID json.RawMessage `json:"local_message_id,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	Reason         string          `json:"reason"`
	Response       string          `json:"response"`
	Status         string          `json:"status"`
}

// SendGridEvents handles POST /webhooks/sendgrid/events, a JSON array of events
func (h *WebhookHandler) SendGridEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		WriteValidationError(w, "unreadable body")
		return
	}

	if h.cfg.VerifySendGridEvent {
		signature := r.Header.Get("X-Twilio-Email-Event-Webhook-Signature")
		timestamp := r.Header.Get("X-Twilio-Email-Event-Webhook-Timestamp")
		if h.sendgrid == nil || !h.sendgrid.VerifyEventSignature(body, signature, timestamp) {
			h.logger.Warn("rejected event webhook with invalid signature")
			WriteError(w, http.StatusForbidden, "INVALID_SIGNATURE", "invalid signature")
			return
		}
	}

	var events []sendGridEvent
	if err := json.Unmarshal(body, &events); err != nil {
		WriteValidationError(w, "payload must be a JSON array of events")
		return
	}
	for _, event := range events {
		if err := h.validate.Struct(event); err != nil {
			WriteValidationError(w, err.Error())
			return
		}
	}

	for _, event := range events {
		status, known := service.MapSendGridEvent(event.Event)
		if !known {
			continue
		}
		update := models.StatusUpdate{Status: status}
		if event.Timestamp > 0 {
			update.OccurredAt = time.Unix(event.Timestamp, 0).UTC()
		}
		if status == models.MessageStatusFailed || status == models.MessageStatusBounced || status == models.MessageStatusDeferred {
			update.ErrorMessage = firstNonEmpty(event.Reason, event.Response)
			update.ErrorCode = event.Status
		}

		_, err := h.applier.ApplyStatus(r.Context(), models.ChannelEmail, service.StatusCallback{
			LocalID:           rawString(event.LocalMessageID),
			ProviderMessageID: event.SGMessageID,
			Update:            update,
		})
		if err != nil {
			h.logger.Error("failed to apply email event", "event", event.Event, "sg_message_id", event.SGMessageID, "error", err)
		}
	}
	WriteText(w, http.StatusOK, "OK")
}

// SendGridInbound handles POST /webhooks/sendgrid/inbound (Inbound Parse, multipart form)
func (h *WebhookHandler) SendGridInbound(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10*maxWebhookBody)
	if err := r.ParseMultipartForm(10 * maxWebhookBody); err != nil && err != http.ErrNotMultipart {
		WriteValidationError(w, "malformed form body")
		return
	}

	from := r.FormValue("from")
	if addr, err := mail.ParseAddress(from); err == nil {
		from = addr.Address
	}
	to := r.FormValue("to")
	if addr, err := mail.ParseAddress(to); err == nil {
		to = addr.Address
	}
	if strings.TrimSpace(from) == "" {
		WriteValidationError(w, "from is required")
		return
	}

	in := service.InboundMessage{
		From:    from,
		To:      to,
		Subject: r.FormValue("subject"),
		Body:    r.FormValue("text"),
	}
	if m := messageIDHeader.FindStringSubmatch(r.FormValue("headers")); m != nil {
		in.ProviderMessageID = m[1]
	}

	_, err := h.applier.ReceiveInbound(r.Context(), models.ChannelEmail, in)
	if _, invalid := err.(*service.ValidationError); invalid {
		WriteValidationError(w, err.Error())
		return
	}
	h.ack(w, models.ChannelEmail, err)
}

// ack answers 200 even when applying failed so the provider does not retry forever
func (h *WebhookHandler) ack(w http.ResponseWriter, channel models.Channel, err error) {
	if err != nil {
		h.logger.Error("failed to apply callback", "channel", channel, "error", err)
	}
	WriteText(w, http.StatusOK, "OK")
}

func firstOf(form url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(form.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// rawString accepts custom args sent either as JSON strings or numbers
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}
