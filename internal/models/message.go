package models

import (
	"strconv"
	"strings"
	"time"
)

// MessageStatus represents a ledger row status. Values after "sent" are provider
// vocabulary and vary by channel, so the type is open-ended.
type MessageStatus string

const (
	MessageStatusQueued      MessageStatus = "queued"
	MessageStatusAccepted    MessageStatus = "accepted"
	MessageStatusSending     MessageStatus = "sending"
	MessageStatusSent        MessageStatus = "sent"
	MessageStatusProcessed   MessageStatus = "processed"
	MessageStatusDeferred    MessageStatus = "deferred"
	MessageStatusDelivered   MessageStatus = "delivered"
	MessageStatusUndelivered MessageStatus = "undelivered"
	MessageStatusFailed      MessageStatus = "failed"
	MessageStatusBounced     MessageStatus = "bounced"
	MessageStatusRead        MessageStatus = "read"
	MessageStatusOpened      MessageStatus = "opened"
	MessageStatusClicked     MessageStatus = "clicked"
	MessageStatusSpam        MessageStatus = "spam"
	MessageStatusUnsub       MessageStatus = "unsubscribed"
	MessageStatusBlocked     MessageStatus = "blocked"
	MessageStatusReceived    MessageStatus = "received"
)

// Direction of a ledger row
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// rank orders statuses along the delivery lifecycle. A callback never moves a
// row to a lower rank, so a late "sent" cannot overwrite "delivered".
func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusQueued:
		return 0
	case MessageStatusAccepted, MessageStatusSending:
		return 1
	case MessageStatusDelivered, MessageStatusUndelivered, MessageStatusFailed, MessageStatusBounced:
		return 3
	case MessageStatusRead, MessageStatusOpened, MessageStatusClicked, MessageStatusSpam, MessageStatusUnsub:
		return 4
	default:
		return 2
	}
}

// IsFinal reports statuses that callbacks never touch
func (s MessageStatus) IsFinal() bool {
	return s == MessageStatusBlocked || s == MessageStatusReceived
}

// MarksRead reports statuses that set read_at
func (s MessageStatus) MarksRead() bool {
	return s == MessageStatusRead || s == MessageStatusOpened
}

// Message is one row of the message ledger
type Message struct {
	ID                  int64         `json:"id"`
	BatchID             string        `json:"batch_id,omitempty"`
	Channel             Channel       `json:"channel"`
	Direction           Direction     `json:"direction"`
	ToAddress           string        `json:"to_address"`
	FromAddress         string        `json:"from_address,omitempty"`
	Subject             *string       `json:"subject,omitempty"`
	Body                string        `json:"body"`
	Status              MessageStatus `json:"status"`
	ProviderMessageID   *string       `json:"provider_message_id,omitempty"`
	Error               *string       `json:"error,omitempty"`
	Price               *float64      `json:"price,omitempty"`
	PriceUnit           *string       `json:"price_unit,omitempty"`
	NumSegments         *int          `json:"num_segments,omitempty"`
	ReadAt              *time.Time    `json:"read_at,omitempty"`
	Variant             *string       `json:"variant,omitempty"`
	FollowupStep        int           `json:"followup_step"`
	ParentMessageID     *int64        `json:"parent_message_id,omitempty"`
	CampaignID          *int64        `json:"campaign_id,omitempty"`
	MarketingCampaignID *int64        `json:"marketing_campaign_id,omitempty"`
	CampaignStepID      *int64        `json:"campaign_step_id,omitempty"`
	TemplateID          *int64        `json:"template_id,omitempty"`
	CustomerID          *int64        `json:"customer_id,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// StatusUpdate is a normalized delivery callback
type StatusUpdate struct {
	Status       MessageStatus
	ErrorCode    string
	ErrorMessage string
	Price        string
	PriceUnit    string
	NumSegments  string
	OccurredAt   time.Time
}

// ErrorText joins code and message the way providers report them ("30003: Unreachable")
func (u StatusUpdate) ErrorText() string {
	switch {
	case u.ErrorCode != "" && u.ErrorMessage != "":
		return u.ErrorCode + ": " + u.ErrorMessage
	case u.ErrorCode != "":
		return u.ErrorCode
	default:
		return u.ErrorMessage
	}
}

// ApplyStatus folds a callback into the message. It returns false when the
// update carries nothing new, which makes repeated callbacks no-ops.
func (m *Message) ApplyStatus(u StatusUpdate) bool {
	if m.Status.IsFinal() || u.Status == "" {
		return false
	}
	changed := false

	if u.Status != m.Status && u.Status.rank() >= m.Status.rank() {
		m.Status = u.Status
		changed = true
	}
	if u.Status.MarksRead() && m.ReadAt == nil {
		at := u.OccurredAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		m.ReadAt = &at
		changed = true
	}
	if text := u.ErrorText(); text != "" && (m.Error == nil || *m.Error != text) {
		m.Error = &text
		changed = true
	}
	if u.Price != "" {
		if p, err := strconv.ParseFloat(strings.TrimSpace(u.Price), 64); err == nil && (m.Price == nil || *m.Price != p) {
			m.Price = &p
			changed = true
		}
	}
	if u.PriceUnit != "" && (m.PriceUnit == nil || *m.PriceUnit != u.PriceUnit) {
		unit := u.PriceUnit
		m.PriceUnit = &unit
		changed = true
	}
	if u.NumSegments != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(u.NumSegments)); err == nil && (m.NumSegments == nil || *m.NumSegments != n) {
			m.NumSegments = &n
			changed = true
		}
	}
	return changed
}
