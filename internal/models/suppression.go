package models

import (
	"regexp"
	"strings"
	"time"
)

// SuppressionReason explains why a recipient was blocked
type SuppressionReason string

const (
	SuppressionNone      SuppressionReason = ""
	SuppressionBlacklist SuppressionReason = "blacklist"
	SuppressionOptOut    SuppressionReason = "opt_out"
)

// OptOut is a recipient-initiated suppression
type OptOut struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	Reason    *string   `json:"reason,omitempty"`
	Source    *string   `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BlacklistEntry is an operator-imposed suppression
type BlacklistEntry struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Keyword match types
const (
	MatchExact    = "exact"
	MatchContains = "contains"
	MatchRegex    = "regex"
)

// KeywordRule is an inbound auto-reply rule
type KeywordRule struct {
	ID           int64     `json:"id"`
	Keyword      string    `json:"keyword"`
	MatchType    string    `json:"match_type"`
	ResponseText string    `json:"response_text"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// Matches applies the rule to an inbound body. Matching ignores case; an
// invalid regex never matches.
func (k *KeywordRule) Matches(body string) bool {
	keyword := strings.TrimSpace(k.Keyword)
	if keyword == "" {
		return false
	}
	text := strings.TrimSpace(body)
	switch lower(k.MatchType) {
	case MatchExact:
		return strings.EqualFold(text, keyword)
	case MatchRegex:
		re, err := regexp.Compile("(?i)" + keyword)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	default:
		return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
	}
}

// Template is reusable message content
type Template struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Channel   Channel   `json:"channel"`
	Subject   *string   `json:"subject,omitempty"`
	Content   string    `json:"content"`
	HTML      *string   `json:"html,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
