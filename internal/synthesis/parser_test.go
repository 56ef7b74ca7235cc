package synthesis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-service/internal/model"
)

func testParseRegistry() *model.FieldRegistry {
	return model.NewFieldRegistry([]model.FieldDefinition{
		{Key: "company_name", Type: model.FieldTypeString},
		{Key: "employee_count", Type: model.FieldTypeNumber},
		{Key: "is_public", Type: model.FieldTypeBoolean},
		{Key: "website", Type: model.FieldTypeURL},
		{Key: "contact_email", Type: model.FieldTypeEmail},
		{Key: "phone", Type: model.FieldTypePhone},
	})
}

func TestParseToolPayload(t *testing.T) {
	raw := json.RawMessage(`{"fields":[
		{"key":"company_name","value":"Acme Corp","confidence":0.9,"snippet":"About Acme Corp"},
		{"key":"employee_count","value":250,"confidence":0.8}
	]}`)

	got, err := ParseToolPayload(testParseRegistry(), raw, "https://acme.test/about")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "company_name", got[0].FieldKey)
	assert.Equal(t, "Acme Corp", got[0].Value)
	assert.Equal(t, 0.9, got[0].Confidence)
	assert.Equal(t, "About Acme Corp", got[0].Snippet)

	assert.Equal(t, float64(250), got[1].Value)
}

func TestParseToolPayload_DropsUnknownKeysAndNulls(t *testing.T) {
	raw := json.RawMessage(`{"fields":[
		{"key":"founded_year","value":1999,"confidence":0.9},
		{"key":"company_name","value":null,"confidence":0.9},
		{"key":"company_name","value":"Acme Corp","confidence":0.9}
	]}`)

	got, err := ParseToolPayload(testParseRegistry(), raw, "https://acme.test/")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme Corp", got[0].Value)
}

func TestParseToolPayload_ClampsConfidence(t *testing.T) {
	raw := json.RawMessage(`{"fields":[
		{"key":"company_name","value":"Acme","confidence":1.7},
		{"key":"employee_count","value":10,"confidence":-0.2}
	]}`)

	got, err := ParseToolPayload(testParseRegistry(), raw, "https://acme.test/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Confidence)
	assert.Equal(t, 0.0, got[1].Confidence)
}

func TestParseToolPayload_MalformedJSON(t *testing.T) {
	_, err := ParseToolPayload(testParseRegistry(), json.RawMessage(`{"fields":`), "https://acme.test/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode extraction payload")
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		typ   model.FieldType
		want  any
		ok    bool
	}{
		{"string passthrough", "Acme", model.FieldTypeString, "Acme", true},
		{"string trims", "  Acme  ", model.FieldTypeString, "Acme", true},
		{"empty string dropped", "   ", model.FieldTypeString, nil, false},
		{"number from float", float64(42), model.FieldTypeNumber, float64(42), true},
		{"number from string", "1,250", model.FieldTypeNumber, float64(1250), true},
		{"number from dollar string", "$99.5", model.FieldTypeNumber, 99.5, true},
		{"number garbage", "many", model.FieldTypeNumber, nil, false},
		{"bool native", true, model.FieldTypeBoolean, true, true},
		{"bool from yes", "Yes", model.FieldTypeBoolean, true, true},
		{"bool from no", "no", model.FieldTypeBoolean, false, true},
		{"bool garbage", "maybe", model.FieldTypeBoolean, nil, false},
		{"url valid", "https://acme.test/about", model.FieldTypeURL, "https://acme.test/about", true},
		{"url missing scheme", "acme.test", model.FieldTypeURL, nil, false},
		{"url bad scheme", "ftp://acme.test", model.FieldTypeURL, nil, false},
		{"email valid", "info@acme.test", model.FieldTypeEmail, "info@acme.test", true},
		{"email invalid", "not-an-email", model.FieldTypeEmail, nil, false},
		{"phone keeps digits", "+1 (555) 010-2000 ext", model.FieldTypePhone, "+1 (555) 010-2000 ", true},
		{"phone too short", "123", model.FieldTypePhone, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerceValue(tt.value, tt.typ)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
