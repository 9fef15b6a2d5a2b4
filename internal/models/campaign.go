package models

import (
	"fmt"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCanceled  CampaignStatus = "canceled"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
	// CampaignStatusFollowup is the email-only phase between the initial pass and completion
	// while follow-up messages are still due.
	CampaignStatusFollowup CampaignStatus = "followup"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusScheduled, CampaignStatusRunning, CampaignStatusCanceled, CampaignStatusFailed},
	CampaignStatusScheduled: {CampaignStatusDraft, CampaignStatusRunning, CampaignStatusPaused, CampaignStatusCanceled, CampaignStatusFailed},
	CampaignStatusRunning:   {CampaignStatusPaused, CampaignStatusCanceled, CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusFollowup},
	CampaignStatusFollowup:  {CampaignStatusPaused, CampaignStatusCanceled, CampaignStatusCompleted, CampaignStatusFailed},
	CampaignStatusPaused:    {CampaignStatusRunning, CampaignStatusCanceled},
}

// IsTerminal reports whether no further transition is possible
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCanceled || s == CampaignStatusFailed
}

// CanTransition checks if the campaign may move from s to next
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Sources returns every status that may transition into s
func (s CampaignStatus) Sources() []CampaignStatus {
	var from []CampaignStatus
	for status, nexts := range campaignTransitions {
		for _, n := range nexts {
			if n == s {
				from = append(from, status)
			}
		}
	}
	return from
}

// Valid checks the status is one of the known values
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning, CampaignStatusPaused,
		CampaignStatusCanceled, CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusFollowup:
		return true
	}
	return false
}

// Channel represents valid messaging channels
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// ParseChannel accepts any casing ("EMAIL", "sms")
func ParseChannel(raw string) (Channel, error) {
	switch Channel(lower(raw)) {
	case ChannelSMS:
		return ChannelSMS, nil
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	case ChannelEmail:
		return ChannelEmail, nil
	}
	return "", fmt.Errorf("invalid channel: %q", raw)
}

// Family groups campaigns that are scheduled by the same loop
type Family string

const (
	FamilySMS       Family = "sms"
	FamilyEmail     Family = "email"
	FamilyMarketing Family = "marketing"
)

// ParseFamily validates a family name from a URL or job payload
func ParseFamily(raw string) (Family, error) {
	switch Family(lower(raw)) {
	case FamilySMS:
		return FamilySMS, nil
	case FamilyEmail:
		return FamilyEmail, nil
	case FamilyMarketing:
		return FamilyMarketing, nil
	}
	return "", fmt.Errorf("invalid campaign family: %q", raw)
}

// Targeting describes who a campaign is sent to. The resolved set is the union
// of every source, deduplicated in the order listed here.
type Targeting struct {
	Recipients []string     `json:"recipients,omitempty"`
	GroupIDs   []int64      `json:"group_ids,omitempty"`
	Tags       []string     `json:"tags,omitempty"`
	Rules      *FilterRules `json:"rules,omitempty"`
}

// IsEmpty reports whether no source is configured
func (t Targeting) IsEmpty() bool {
	return len(t.Recipients) == 0 && len(t.GroupIDs) == 0 && len(t.Tags) == 0 && t.Rules == nil
}

// SMSCampaign is a single-step campaign delivered over a Twilio messaging channel (sms or whatsapp)
type SMSCampaign struct {
	ID                  int64             `json:"id"`
	Name                string            `json:"name"`
	Channel             Channel           `json:"channel"`
	TemplateID          *int64            `json:"template_id,omitempty"`
	TemplateVariables   map[string]string `json:"template_variables,omitempty"`
	Message             string            `json:"message,omitempty"`
	VariantA            string            `json:"variant_a,omitempty"`
	VariantB            string            `json:"variant_b,omitempty"`
	ABSplit             *int              `json:"ab_split,omitempty"`
	Status              CampaignStatus    `json:"status"`
	Error               *string           `json:"error,omitempty"`
	ScheduleAt          *time.Time        `json:"schedule_at,omitempty"`
	StartedAt           *time.Time        `json:"started_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	FromAddress         string            `json:"from_address,omitempty"`
	MessagingServiceSID string            `json:"messaging_service_sid,omitempty"`
	RatePerMinute       *int              `json:"rate_per_minute,omitempty"`
	BatchSize           *int              `json:"batch_size,omitempty"`
	AppendOptOut        bool              `json:"append_opt_out"`
	Targeting           Targeting         `json:"targeting"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// HasVariants reports whether an A/B split is configured
func (c *SMSCampaign) HasVariants() bool {
	return c.VariantA != "" || c.VariantB != ""
}

// HasContent reports whether anything renderable is configured
func (c *SMSCampaign) HasContent() bool {
	return c.Message != "" || c.TemplateID != nil || c.HasVariants()
}

// FollowupCondition controls when an email follow-up fires
type FollowupCondition string

const (
	FollowupAlways FollowupCondition = "always"
	FollowupUnread FollowupCondition = "unread"
)

// EmailCampaign is a single-step email campaign with an optional follow-up
type EmailCampaign struct {
	ID                   int64             `json:"id"`
	Name                 string            `json:"name"`
	FromEmail            string            `json:"from_email,omitempty"`
	FromName             string            `json:"from_name,omitempty"`
	Subject              string            `json:"subject"`
	Text                 string            `json:"text,omitempty"`
	HTML                 string            `json:"html,omitempty"`
	Status               CampaignStatus    `json:"status"`
	Error                *string           `json:"error,omitempty"`
	ScheduleAt           *time.Time        `json:"schedule_at,omitempty"`
	StartedAt            *time.Time        `json:"started_at,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	RatePerMinute        *int              `json:"rate_per_minute,omitempty"`
	BatchSize            *int              `json:"batch_size,omitempty"`
	Targeting            Targeting         `json:"targeting"`
	FollowupEnabled      bool              `json:"followup_enabled"`
	FollowupDelayMinutes int               `json:"followup_delay_minutes"`
	FollowupCondition    FollowupCondition `json:"followup_condition"`
	FollowupSubject      string            `json:"followup_subject,omitempty"`
	FollowupText         string            `json:"followup_text,omitempty"`
	FollowupHTML         string            `json:"followup_html,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// FollowupDelay returns the configured delay, defaulting to one hour
func (c *EmailCampaign) FollowupDelay() time.Duration {
	if c.FollowupDelayMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.FollowupDelayMinutes) * time.Minute
}

// FollowupSubjectLine falls back to "Re: <subject>"
func (c *EmailCampaign) FollowupSubjectLine() string {
	if c.FollowupSubject != "" {
		return c.FollowupSubject
	}
	return "Re: " + c.Subject
}

// CampaignStats represents campaign ledger statistics
type CampaignStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Read      int `json:"read"`
}
