package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// TwilioTransport talks to the Twilio Messages REST API
type TwilioTransport struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	accountSID string
	authToken  string
}

// NewTwilioTransport creates a Twilio client. A nil httpClient gets a 10s timeout client.
func NewTwilioTransport(logger *slog.Logger, baseURL, accountSID, authToken string, httpClient *http.Client) *TwilioTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwilioTransport{
		logger:     logger.With("provider", "twilio"),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
	}
}

type twilioMessage struct {
	SID          string      `json:"sid"`
	Status       string      `json:"status"`
	ErrorCode    json.Number `json:"error_code"`
	ErrorMessage string      `json:"error_message"`
	Price        string      `json:"price"`
	PriceUnit    string      `json:"price_unit"`
	NumSegments  string      `json:"num_segments"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (t *TwilioTransport) messagesURL() string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages", t.baseURL, t.accountSID)
}

// SendMessage creates a message
func (t *TwilioTransport) SendMessage(ctx context.Context, req MessageRequest) (*SendResult, error) {
	if t.accountSID == "" || t.authToken == "" {
		return nil, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("To", req.To)
	if req.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", req.MessagingServiceSID)
	} else {
		form.Set("From", req.From)
	}
	if req.ContentSID != "" {
		form.Set("ContentSid", req.ContentSID)
		if len(req.ContentVariables) > 0 {
			vars, err := json.Marshal(req.ContentVariables)
			if err != nil {
				return nil, fmt.Errorf("failed to encode content variables: %w", err)
			}
			form.Set("ContentVariables", string(vars))
		}
	} else {
		form.Set("Body", req.Body)
	}
	if req.StatusCallback != "" {
		form.Set("StatusCallback", req.StatusCallback)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.messagesURL()+".json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create twilio request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var msg twilioMessage
	if err := t.do(httpReq, &msg); err != nil {
		t.logger.WarnContext(ctx, "twilio send failed", "to", req.To, "error", err)
		return nil, err
	}

	t.logger.DebugContext(ctx, "twilio message created", "sid", msg.SID, "status", msg.Status)
	return &SendResult{ProviderMessageID: msg.SID, Status: msg.Status}, nil
}

// FetchStatus polls a message's current status
func (t *TwilioTransport) FetchStatus(ctx context.Context, providerMessageID string) (*StatusResult, error) {
	if t.accountSID == "" || t.authToken == "" {
		return nil, ErrNotConfigured
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.messagesURL()+"/"+url.PathEscape(providerMessageID)+".json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create twilio request: %w", err)
	}

	var msg twilioMessage
	if err := t.do(httpReq, &msg); err != nil {
		return nil, err
	}

	return &StatusResult{
		ProviderMessageID: msg.SID,
		Status:            msg.Status,
		ErrorCode:         msg.ErrorCode.String(),
		ErrorMessage:      msg.ErrorMessage,
		Price:             msg.Price,
		PriceUnit:         msg.PriceUnit,
		NumSegments:       msg.NumSegments,
	}, nil
}

func (t *TwilioTransport) do(req *http.Request, out interface{}) error {
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call twilio: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read twilio response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr twilioError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("twilio error %d: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("twilio error: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode twilio response: %w", err)
	}
	return nil
}

// ValidateSignature implements Twilio's X-Twilio-Signature scheme:
// base64(HMAC-SHA1(authToken, url + sorted key/value pairs)).
func (t *TwilioTransport) ValidateSignature(fullURL string, params url.Values, signature string) bool {
	if t.authToken == "" || signature == "" {
		return false
	}
	expected := TwilioSignature(t.authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// TwilioSignature computes the expected X-Twilio-Signature value
func TwilioSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
