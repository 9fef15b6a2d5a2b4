package handler

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcaster/internal/logger"
	"broadcaster/internal/models"
	"broadcaster/internal/service"
)

type mockApplier struct {
	ApplyStatusFunc    func(ctx context.Context, channel models.Channel, cb service.StatusCallback) (string, error)
	ReceiveInboundFunc func(ctx context.Context, channel models.Channel, in service.InboundMessage) (string, error)

	statuses []service.StatusCallback
	inbound  []service.InboundMessage
	channels []models.Channel
}

func (m *mockApplier) ApplyStatus(ctx context.Context, channel models.Channel, cb service.StatusCallback) (string, error) {
	m.statuses = append(m.statuses, cb)
	m.channels = append(m.channels, channel)
	if m.ApplyStatusFunc != nil {
		return m.ApplyStatusFunc(ctx, channel, cb)
	}
	return "applied", nil
}

func (m *mockApplier) ReceiveInbound(ctx context.Context, channel models.Channel, in service.InboundMessage) (string, error) {
	m.inbound = append(m.inbound, in)
	m.channels = append(m.channels, channel)
	if m.ReceiveInboundFunc != nil {
		return m.ReceiveInboundFunc(ctx, channel, in)
	}
	return "inbound", nil
}

type mockSignatures struct {
	valid   bool
	gotURL  string
	gotSig  string
	payload []byte
}

func (m *mockSignatures) ValidateSignature(fullURL string, _ url.Values, signature string) bool {
	m.gotURL, m.gotSig = fullURL, signature
	return m.valid
}

func (m *mockSignatures) VerifyEventSignature(payload []byte, signature, _ string) bool {
	m.payload, m.gotSig = payload, signature
	return m.valid
}

func setupWebhookRouter(applier CallbackApplier, sigs *mockSignatures, cfg WebhookConfig) *mux.Router {
	h := NewWebhookHandler(applier, sigs, sigs, cfg, logger.Discard())
	return NewRouter(Handlers{Webhook: h}, logger.Discard())
}

func postForm(router http.Handler, target string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestTwilioStatus_Applied(t *testing.T) {
	applier := &mockApplier{}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	rr := postForm(router, "/webhooks/twilio/sms/status?local_id=5", url.Values{
		"MessageSid":    {"SM123"},
		"MessageStatus": {"Undelivered"},
		"ErrorCode":     {"30003"},
		"ErrorMessage":  {"Unreachable"},
		"Price":         {"-0.0075"},
		"PriceUnit":     {"USD"},
		"NumSegments":   {"1"},
	}, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
	require.Len(t, applier.statuses, 1)
	cb := applier.statuses[0]
	assert.Equal(t, models.ChannelSMS, applier.channels[0])
	assert.Equal(t, "5", cb.LocalID)
	assert.Equal(t, "SM123", cb.ProviderMessageID)
	assert.Equal(t, models.MessageStatusUndelivered, cb.Update.Status)
	assert.Equal(t, "30003", cb.Update.ErrorCode)
	assert.Equal(t, "-0.0075", cb.Update.Price)
}

func TestTwilioStatus_WhatsAppUsesLegacyFieldNames(t *testing.T) {
	applier := &mockApplier{}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	rr := postForm(router, "/webhooks/twilio/whatsapp/status", url.Values{
		"SmsSid":    {"SM9"},
		"SmsStatus": {"read"},
	}, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, applier.statuses, 1)
	assert.Equal(t, models.ChannelWhatsApp, applier.channels[0])
	assert.Equal(t, models.MessageStatusRead, applier.statuses[0].Update.Status)
}

func TestTwilioStatus_Malformed(t *testing.T) {
	applier := &mockApplier{}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	rr := postForm(router, "/webhooks/twilio/sms/status", url.Values{"MessageSid": {"SM1"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postForm(router, "/webhooks/twilio/sms/status", url.Values{"MessageStatus": {"sent"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Empty(t, applier.statuses)
}

func TestTwilioStatus_ApplyFailureStillAcknowledged(t *testing.T) {
	applier := &mockApplier{ApplyStatusFunc: func(context.Context, models.Channel, service.StatusCallback) (string, error) {
		return "", errors.New("database unavailable")
	}}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	rr := postForm(router, "/webhooks/twilio/sms/status", url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"sent"}}, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTwilioSignature(t *testing.T) {
	applier := &mockApplier{}
	sigs := &mockSignatures{valid: false}
	router := setupWebhookRouter(applier, sigs, WebhookConfig{ValidateTwilio: true, PublicBaseURL: "https://hooks.example.com"})
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	headers := map[string]string{"X-Twilio-Signature": "c2lnbmF0dXJl"}

	rr := postForm(router, "/webhooks/twilio/sms/status?local_id=3", form, headers)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, applier.statuses)
	assert.Equal(t, "https://hooks.example.com/webhooks/twilio/sms/status?local_id=3", sigs.gotURL)
	assert.Equal(t, "c2lnbmF0dXJl", sigs.gotSig)

	sigs.valid = true
	rr = postForm(router, "/webhooks/twilio/sms/status?local_id=3", form, headers)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, applier.statuses, 1)
}

func TestTwilioSignature_MissingValidator(t *testing.T) {
	h := NewWebhookHandler(&mockApplier{}, nil, nil, WebhookConfig{ValidateTwilio: true}, logger.Discard())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/sms/inbound",
		strings.NewReader(url.Values{"MessageSid": {"SM1"}, "From": {"+8613800000000"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	h.TwilioSMSInbound(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestTwilioInbound(t *testing.T) {
	applier := &mockApplier{}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	rr := postForm(router, "/webhooks/twilio/sms/inbound", url.Values{
		"MessageSid": {"SMin1"},
		"From":       {"+8613800000000"},
		"To":         {"+15550001111"},
		"Body":       {"STOP"},
	}, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, applier.inbound, 1)
	assert.Equal(t, service.InboundMessage{ProviderMessageID: "SMin1", From: "+8613800000000", To: "+15550001111", Body: "STOP"}, applier.inbound[0])
}

func TestTwilioInbound_Rejected(t *testing.T) {
	applier := &mockApplier{ReceiveInboundFunc: func(context.Context, models.Channel, service.InboundMessage) (string, error) {
		return "", &service.ValidationError{Message: "invalid sender"}
	}}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	rr := postForm(router, "/webhooks/twilio/whatsapp/inbound", url.Values{"MessageSid": {"SM1"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, applier.inbound)

	rr = postForm(router, "/webhooks/twilio/whatsapp/inbound", url.Values{"MessageSid": {"SM1"}, "From": {"garbage"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Len(t, applier.inbound, 1)
}

func postJSON(router http.Handler, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestSendGridEvents(t *testing.T) {
	applier := &mockApplier{}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	rr := postJSON(router, "/webhooks/sendgrid/events", `[
		{"event": "delivered", "sg_message_id": "abc.filter1", "local_message_id": 7, "timestamp": 1767225600},
		{"event": "group_unsubscribe", "sg_message_id": "abc.filter2"},
		{"event": "bounce", "sg_message_id": "def.filter3", "local_message_id": "8", "reason": "550 mailbox unavailable", "status": "5.1.1"}
	]`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, applier.statuses, 2)
	assert.Equal(t, models.ChannelEmail, applier.channels[0])

	delivered := applier.statuses[0]
	assert.Equal(t, "7", delivered.LocalID)
	assert.Equal(t, "abc.filter1", delivered.ProviderMessageID)
	assert.Equal(t, models.MessageStatusDelivered, delivered.Update.Status)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), delivered.Update.OccurredAt)
	assert.Empty(t, delivered.Update.ErrorMessage)

	bounced := applier.statuses[1]
	assert.Equal(t, "8", bounced.LocalID)
	assert.Equal(t, models.MessageStatusBounced, bounced.Update.Status)
	assert.Equal(t, "550 mailbox unavailable", bounced.Update.ErrorMessage)
	assert.Equal(t, "5.1.1", bounced.Update.ErrorCode)
}

func TestSendGridEvents_Malformed(t *testing.T) {
	applier := &mockApplier{}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	rr := postJSON(router, "/webhooks/sendgrid/events", `{"event": "delivered"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postJSON(router, "/webhooks/sendgrid/events", `[{"event": "delivered"}, {"sg_message_id": "x"}]`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Empty(t, applier.statuses)
}

func TestSendGridEvents_Signature(t *testing.T) {
	applier := &mockApplier{}
	sigs := &mockSignatures{valid: false}
	router := setupWebhookRouter(applier, sigs, WebhookConfig{VerifySendGridEvent: true})
	body := `[{"event": "open", "sg_message_id": "abc"}]`
	headers := map[string]string{
		"X-Twilio-Email-Event-Webhook-Signature": "MEUCIQ==",
		"X-Twilio-Email-Event-Webhook-Timestamp": "1767225600",
	}

	rr := postJSON(router, "/webhooks/sendgrid/events", body, headers)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, body, string(sigs.payload))
	assert.Empty(t, applier.statuses)

	sigs.valid = true
	rr = postJSON(router, "/webhooks/sendgrid/events", body, headers)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, applier.statuses, 1)
}

func TestSendGridInbound_Multipart(t *testing.T) {
	applier := &mockApplier{}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("from", "Ann Reader <Ann@Example.com>"))
	require.NoError(t, mw.WriteField("to", "news@example.com"))
	require.NoError(t, mw.WriteField("subject", "Re: Launch"))
	require.NoError(t, mw.WriteField("text", "Count me in"))
	require.NoError(t, mw.WriteField("headers", "Received: by mx.example.com\nMessage-ID: <CAF123@mail.example.com>\nSubject: Re: Launch"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid/inbound", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, applier.inbound, 1)
	in := applier.inbound[0]
	assert.Equal(t, "Ann@Example.com", in.From)
	assert.Equal(t, "news@example.com", in.To)
	assert.Equal(t, "Re: Launch", in.Subject)
	assert.Equal(t, "Count me in", in.Body)
	assert.Equal(t, "<CAF123@mail.example.com>", in.ProviderMessageID)
	assert.Equal(t, models.ChannelEmail, applier.channels[0])
}

func TestSendGridInbound_MissingFrom(t *testing.T) {
	applier := &mockApplier{}
	router := setupWebhookRouter(applier, &mockSignatures{}, WebhookConfig{})

	rr := postForm(router, "/webhooks/sendgrid/inbound", url.Values{"to": {"news@example.com"}, "text": {"hi"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, applier.inbound)
}

func TestRawString(t *testing.T) {
	assert.Equal(t, "12", rawString([]byte(`12`)))
	assert.Equal(t, "12", rawString([]byte(`"12"`)))
	assert.Equal(t, "", rawString(nil))
	assert.Equal(t, "", rawString([]byte(`{"a":1}`)))
}
