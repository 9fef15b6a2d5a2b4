// Package transport adapts external messaging providers. Adapters only talk
// to the provider; suppression, rendering and ledger writes happen upstream.
package transport

import (
	"context"
	"errors"
	"net/url"
)

// ErrNotConfigured is returned when a transport has no credentials
var ErrNotConfigured = errors.New("transport not configured")

// MessageRequest is one SMS or WhatsApp send. To and From are already
// normalized; WhatsApp addresses carry the "whatsapp:" prefix.
type MessageRequest struct {
	To                  string
	From                string
	MessagingServiceSID string
	Body                string
	StatusCallback      string
	ContentSID          string
	ContentVariables    map[string]string
}

// EmailRequest is one email send
type EmailRequest struct {
	To         string
	From       string
	FromName   string
	Subject    string
	Text       string
	HTML       string
	CustomArgs map[string]string
}

// SendResult is the provider's acknowledgement of a send
type SendResult struct {
	ProviderMessageID string
	Status            string
}

// StatusResult is a polled delivery status
type StatusResult struct {
	ProviderMessageID string
	Status            string
	ErrorCode         string
	ErrorMessage      string
	Price             string
	PriceUnit         string
	NumSegments       string
}

// MessagingTransport sends SMS and WhatsApp messages
type MessagingTransport interface {
	SendMessage(ctx context.Context, req MessageRequest) (*SendResult, error)
	FetchStatus(ctx context.Context, providerMessageID string) (*StatusResult, error)
	// ValidateSignature checks a webhook signature against the full request URL and form params
	ValidateSignature(fullURL string, params url.Values, signature string) bool
}

// EmailTransport sends email
type EmailTransport interface {
	SendEmail(ctx context.Context, req EmailRequest) (*SendResult, error)
	// VerifyEventSignature checks an event webhook signature over timestamp+payload
	VerifyEventSignature(payload []byte, signature, timestamp string) bool
}
