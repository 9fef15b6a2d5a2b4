package service

import (
	"fmt"
	"regexp"
	"strings"

	"broadcaster/internal/models"
)

var placeholderPattern = regexp.MustCompile(`{{\s*([a-zA-Z0-9_.-]+)\s*}}`)

// TemplateService handles message template rendering
type TemplateService struct {
	optOutEnabled bool
	optOutText    string
}

// NewTemplateService creates a new template service. optOutEnabled and
// optOutText are the global opt-out suffix settings for SMS.
func NewTemplateService(optOutEnabled bool, optOutText string) *TemplateService {
	return &TemplateService{
		optOutEnabled: optOutEnabled,
		optOutText:    strings.TrimSpace(optOutText),
	}
}

// Render replaces {{ key }} placeholders with values from vars.
// Placeholders without a value are left verbatim.
func (s *TemplateService) Render(template string, vars map[string]string) string {
	if template == "" || len(vars) == 0 {
		return template
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[key]; ok {
			return value
		}
		return match
	})
}

// ValidateTemplate checks if template has valid syntax
func (s *TemplateService) ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("template cannot be empty")
	}

	openCount := strings.Count(template, "{{")
	closeCount := strings.Count(template, "}}")
	if openCount != closeCount {
		return fmt.Errorf("template has unbalanced braces: %d open, %d close", openCount, closeCount)
	}

	if len(placeholderPattern.FindAllString(template, -1)) != openCount {
		return fmt.Errorf("template has malformed placeholders")
	}

	return nil
}

// GetPlaceholders extracts the distinct placeholder keys from a template
func (s *TemplateService) GetPlaceholders(template string) []string {
	seen := make(map[string]bool)
	keys := []string{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

// Preview renders a template against a customer without sending anything
func (s *TemplateService) Preview(template string, customer *models.Customer) (string, error) {
	if err := s.ValidateTemplate(template); err != nil {
		return "", err
	}
	if customer == nil {
		return "", fmt.Errorf("customer cannot be nil")
	}
	return s.Render(template, customer.Context()), nil
}

// AppendOptOut adds the configured opt-out suffix on its own line. It is a
// no-op when disabled globally or per send, when the suffix is blank, or when
// the body already contains it.
func (s *TemplateService) AppendOptOut(body string, enabled bool) string {
	if !enabled || !s.optOutEnabled || s.optOutText == "" {
		return body
	}
	if strings.Contains(body, s.optOutText) {
		return body
	}
	return strings.TrimSpace(body + "\n" + s.optOutText)
}

// mergeVariables layers maps left to right; later maps win
func mergeVariables(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
