package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcaster/internal/models"
)

func TestTemplateService_Render(t *testing.T) {
	svc := NewTemplateService(true, "Reply STOP to unsubscribe.")

	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{"simple", "Hello {{name}}", map[string]string{"name": "Ann"}, "Hello Ann"},
		{"spaces inside braces", "Hello {{ name }}!", map[string]string{"name": "Ann"}, "Hello Ann!"},
		{"unknown key left verbatim", "Hi {{name}}, code {{code}}", map[string]string{"code": "42"}, "Hi {{name}}, code 42"},
		{"no vars", "Hi {{name}}", nil, "Hi {{name}}"},
		{"repeated key", "{{a}}-{{a}}", map[string]string{"a": "x"}, "x-x"},
		{"empty value", "[{{a}}]", map[string]string{"a": ""}, "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.Render(tt.template, tt.vars))
		})
	}
}

func TestTemplateService_AppendOptOut(t *testing.T) {
	enabled := NewTemplateService(true, " Reply STOP to unsubscribe. ")
	disabled := NewTemplateService(false, "Reply STOP to unsubscribe.")

	assert.Equal(t, "Sale\nReply STOP to unsubscribe.", enabled.AppendOptOut("Sale", true))
	assert.Equal(t, "Sale", enabled.AppendOptOut("Sale", false))
	assert.Equal(t, "Sale", disabled.AppendOptOut("Sale", true))

	already := "Sale\nReply STOP to unsubscribe."
	assert.Equal(t, already, enabled.AppendOptOut(already, true))
}

func TestTemplateService_ValidateTemplate(t *testing.T) {
	svc := NewTemplateService(false, "")

	assert.NoError(t, svc.ValidateTemplate("Hi {{name}}"))
	assert.Error(t, svc.ValidateTemplate("  "))
	assert.Error(t, svc.ValidateTemplate("Hi {{name}"))
	assert.Error(t, svc.ValidateTemplate("Hi {{first name}}"))
}

func TestTemplateService_GetPlaceholders(t *testing.T) {
	svc := NewTemplateService(false, "")
	assert.Equal(t, []string{"name", "code"}, svc.GetPlaceholders("{{name}} {{ code }} {{name}}"))
	assert.Empty(t, svc.GetPlaceholders("plain"))
}

func TestTemplateService_Preview(t *testing.T) {
	svc := NewTemplateService(false, "")
	customer := newCustomer(3, "Ann", "ann@example.com", "", "vip", "beta")

	got, err := svc.Preview("{{name}} <{{email}}> #{{id}} [{{tags}}] {{country}}.", customer)
	require.NoError(t, err)
	assert.Equal(t, "Ann <ann@example.com> #3 [vip, beta] .", got)

	_, err = svc.Preview("Hi {{name}}", nil)
	assert.Error(t, err)

	_, err = svc.Preview("", &models.Customer{})
	assert.Error(t, err)
}

func TestMergeVariables(t *testing.T) {
	merged := mergeVariables(
		map[string]string{"name": "campaign default", "code": "A1"},
		nil,
		map[string]string{"name": "Ann"},
	)
	assert.Equal(t, map[string]string{"name": "Ann", "code": "A1"}, merged)
}
