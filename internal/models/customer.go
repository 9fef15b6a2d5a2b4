package models

import (
	"strings"
	"time"
)

// Customer represents a marketing customer with per-channel addresses
type Customer struct {
	ID                 int64      `json:"id"`
	Name               *string    `json:"name,omitempty"`
	Email              *string    `json:"email,omitempty"`
	WhatsApp           *string    `json:"whatsapp,omitempty"`
	Mobile             *string    `json:"mobile,omitempty"`
	Country            *string    `json:"country,omitempty"`
	CountryCode        *string    `json:"country_code,omitempty"`
	Tags               []string   `json:"tags"`
	HasMarketed        bool       `json:"has_marketed"`
	LastCampaignID     *int64     `json:"last_campaign_id,omitempty"`
	LastMarketedAt     *time.Time `json:"last_marketed_at,omitempty"`
	SMSSentCount       int        `json:"sms_sent_count"`
	WhatsAppSentCount  int        `json:"whatsapp_sent_count"`
	EmailSentCount     int        `json:"email_sent_count"`
	LastSMSStatus      *string    `json:"last_sms_status,omitempty"`
	LastWhatsAppStatus *string    `json:"last_whatsapp_status,omitempty"`
	LastEmailStatus    *string    `json:"last_email_status,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// DisplayName returns the customer's name or a neutral fallback
func (c *Customer) DisplayName() string {
	if c.Name != nil && strings.TrimSpace(*c.Name) != "" {
		return strings.TrimSpace(*c.Name)
	}
	return "Customer"
}

// Address returns the raw address the customer has for a channel
func (c *Customer) Address(channel Channel) string {
	var p *string
	switch channel {
	case ChannelEmail:
		p = c.Email
	case ChannelWhatsApp:
		p = c.WhatsApp
		if p == nil || *p == "" {
			p = c.Mobile
		}
	case ChannelSMS:
		p = c.Mobile
	}
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// LastStatus returns the last delivery status recorded for the channel
func (c *Customer) LastStatus(channel Channel) string {
	var p *string
	switch channel {
	case ChannelEmail:
		p = c.LastEmailStatus
	case ChannelWhatsApp:
		p = c.LastWhatsAppStatus
	case ChannelSMS:
		p = c.LastSMSStatus
	}
	if p == nil {
		return ""
	}
	return *p
}

// Context builds the render variables for a customer. Absent fields become empty strings.
func (c *Customer) Context() map[string]string {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return map[string]string{
		"id":           formatInt(c.ID),
		"name":         deref(c.Name),
		"email":        deref(c.Email),
		"whatsapp":     deref(c.WhatsApp),
		"mobile":       deref(c.Mobile),
		"country":      deref(c.Country),
		"country_code": deref(c.CountryCode),
		"tags":         strings.Join(c.Tags, ", "),
	}
}

// Contact is an SMS audience entry, grouped and tagged independently of customers
type Contact struct {
	ID         int64      `json:"id"`
	Phone      string     `json:"phone"`
	Name       *string    `json:"name,omitempty"`
	Tags       []string   `json:"tags"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Variables returns the render variables a contact contributes
func (c *Contact) Variables() map[string]string {
	vars := map[string]string{"phone": c.Phone}
	if c.Name != nil {
		vars["name"] = *c.Name
	}
	return vars
}
