package transport

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// SendGridTransport talks to the SendGrid v3 mail API
type SendGridTransport struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	eventKey   *ecdsa.PublicKey
}

// NewSendGridTransport creates a SendGrid client. eventPublicKey is the base64
// DER key used to verify signed event webhooks and may be empty.
func NewSendGridTransport(logger *slog.Logger, baseURL, apiKey, eventPublicKey string, httpClient *http.Client) (*SendGridTransport, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	t := &SendGridTransport{
		logger:     logger.With("provider", "sendgrid"),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
	if eventPublicKey != "" {
		key, err := parseECDSAPublicKey(eventPublicKey)
		if err != nil {
			return nil, err
		}
		t.eventKey = key
	}
	return t, nil
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPersonalization struct {
	To         []sendGridAddress `json:"to"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type sendGridMail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

type sendGridErrors struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// SendEmail submits a single message. SendGrid answers 202 with the id in X-Message-Id.
func (t *SendGridTransport) SendEmail(ctx context.Context, req EmailRequest) (*SendResult, error) {
	if t.apiKey == "" {
		return nil, ErrNotConfigured
	}

	mail := sendGridMail{
		Personalizations: []sendGridPersonalization{{
			To:         []sendGridAddress{{Email: req.To}},
			CustomArgs: req.CustomArgs,
		}},
		From:    sendGridAddress{Email: req.From, Name: req.FromName},
		Subject: req.Subject,
	}
	if req.Text != "" {
		mail.Content = append(mail.Content, sendGridContent{Type: "text/plain", Value: req.Text})
	}
	if req.HTML != "" {
		mail.Content = append(mail.Content, sendGridContent{Type: "text/html", Value: req.HTML})
	}

	payload, err := json.Marshal(mail)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sendgrid mail: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create sendgrid request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call sendgrid: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr sendGridErrors
		if json.Unmarshal(body, &apiErr) == nil && len(apiErr.Errors) > 0 {
			return nil, fmt.Errorf("sendgrid error: status %d: %s", resp.StatusCode, apiErr.Errors[0].Message)
		}
		return nil, fmt.Errorf("sendgrid error: status %d", resp.StatusCode)
	}

	id := resp.Header.Get("X-Message-Id")
	t.logger.DebugContext(ctx, "sendgrid accepted message", "x_message_id", id, "to", req.To)
	return &SendResult{ProviderMessageID: id, Status: "accepted"}, nil
}

// VerifyEventSignature checks the ECDSA signature SendGrid puts on signed event webhooks
func (t *SendGridTransport) VerifyEventSignature(payload []byte, signature, timestamp string) bool {
	if t.eventKey == nil || signature == "" || timestamp == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(append([]byte(timestamp), payload...))
	return ecdsa.VerifyASN1(t.eventKey, digest[:], sig)
}

func parseECDSAPublicKey(encoded string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sendgrid public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sendgrid public key: %w", err)
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("sendgrid public key is not ECDSA")
	}
	return key, nil
}
