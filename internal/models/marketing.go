package models

import (
	"strings"
	"time"
)

// FilterRules narrows a customer set. Empty fields match everything; string
// comparisons ignore case and surrounding whitespace.
type FilterRules struct {
	GroupIDs           []int64  `json:"group_ids,omitempty"`
	Country            string   `json:"country,omitempty"`
	CountryCode        string   `json:"country_code,omitempty"`
	HasMarketed        *bool    `json:"has_marketed,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	LastEmailStatus    string   `json:"last_email_status,omitempty"`
	LastWhatsAppStatus string   `json:"last_whatsapp_status,omitempty"`
	LastSMSStatus      string   `json:"last_sms_status,omitempty"`
	Email              string   `json:"email,omitempty"`
	WhatsApp           string   `json:"whatsapp,omitempty"`
	Mobile             string   `json:"mobile,omitempty"`
}

// Match reports whether the customer satisfies every configured rule.
// GroupIDs are resolved by the repository and ignored here.
func (r *FilterRules) Match(c *Customer) bool {
	if r == nil {
		return true
	}
	eq := func(want string, got *string) bool {
		if lower(want) == "" {
			return true
		}
		return got != nil && lower(*got) == lower(want)
	}
	if !eq(r.Country, c.Country) || !eq(r.CountryCode, c.CountryCode) {
		return false
	}
	if r.HasMarketed != nil && *r.HasMarketed != c.HasMarketed {
		return false
	}
	if !eq(r.LastEmailStatus, c.LastEmailStatus) || !eq(r.LastWhatsAppStatus, c.LastWhatsAppStatus) || !eq(r.LastSMSStatus, c.LastSMSStatus) {
		return false
	}
	if !eq(r.Email, c.Email) || !eq(r.WhatsApp, c.WhatsApp) || !eq(r.Mobile, c.Mobile) {
		return false
	}
	if len(r.Tags) > 0 {
		for _, tag := range r.Tags {
			if containsFold(c.Tags, tag) {
				return true
			}
		}
		return false
	}
	return true
}

// IsEmpty reports whether no rule is set
func (r *FilterRules) IsEmpty() bool {
	if r == nil {
		return true
	}
	return len(r.GroupIDs) == 0 && strings.TrimSpace(r.Country+r.CountryCode+r.LastEmailStatus+
		r.LastWhatsAppStatus+r.LastSMSStatus+r.Email+r.WhatsApp+r.Mobile) == "" &&
		r.HasMarketed == nil && len(r.Tags) == 0
}

// MarketingCampaign is a multi-step, multi-channel drip sequence
type MarketingCampaign struct {
	ID                int64          `json:"id"`
	Name              string         `json:"name"`
	Status            CampaignStatus `json:"status"`
	Error             *string        `json:"error,omitempty"`
	ScheduleAt        *time.Time     `json:"schedule_at,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	TargetCustomerIDs []int64        `json:"target_customer_ids,omitempty"`
	FilterRules       *FilterRules   `json:"filter_rules,omitempty"`
	CreatedBy         *string        `json:"created_by,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// CampaignStep is one ordered step of a marketing campaign
type CampaignStep struct {
	ID               int64             `json:"id"`
	CampaignID       int64             `json:"campaign_id"`
	OrderNo          int               `json:"order_no"`
	Channel          Channel           `json:"channel"`
	DelayDays        int               `json:"delay_days"`
	FilterRules      *FilterRules      `json:"filter_rules,omitempty"`
	TemplateID       *int64            `json:"template_id,omitempty"`
	Subject          string            `json:"subject,omitempty"`
	Content          string            `json:"content,omitempty"`
	ContentSID       string            `json:"content_sid,omitempty"`
	ContentVariables map[string]string `json:"content_variables,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Delay returns the step's delay relative to the previous step
func (s *CampaignStep) Delay() time.Duration {
	if s.DelayDays <= 0 {
		return 0
	}
	return time.Duration(s.DelayDays) * 24 * time.Hour
}

// ExecutionStatus is the outcome recorded for a (step, customer) pair
type ExecutionStatus string

const (
	ExecutionSent    ExecutionStatus = "sent"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionBlocked ExecutionStatus = "blocked"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// StepExecution records that a step was processed for a customer. Its
// existence advances the customer's cursor whatever the outcome.
type StepExecution struct {
	ID         int64           `json:"id"`
	CampaignID int64           `json:"campaign_id"`
	StepID     int64           `json:"step_id"`
	CustomerID int64           `json:"customer_id"`
	Channel    Channel         `json:"channel"`
	Status     ExecutionStatus `json:"status"`
	MessageID  *int64          `json:"message_id,omitempty"`
	Note       *string         `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CustomerState values for a customer within one marketing campaign
const (
	CustomerStateActive = "active"
	CustomerStatePaused = "paused"
)

// CustomerCampaignState records a per-customer pause inside a marketing campaign
type CustomerCampaignState struct {
	CampaignID int64     `json:"campaign_id"`
	CustomerID int64     `json:"customer_id"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}
