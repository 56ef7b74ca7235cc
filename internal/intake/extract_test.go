package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-service/internal/model"
)

func TestBuildExtractPrompt(t *testing.T) {
	fields := []model.FieldDefinition{
		{Key: "company_name", Type: model.FieldTypeString, Description: "Legal company name"},
		{Key: "employee_count", Type: model.FieldTypeNumber},
	}
	page := model.CrawledPage{
		URL:      "https://acme.example/about",
		Title:    "About Acme",
		BodyText: "Acme Corp was founded in 1999.",
	}

	prompt := buildExtractPrompt(fields, page)
	assert.Contains(t, prompt, "- company_name (string): Legal company name")
	assert.Contains(t, prompt, "- employee_count (number)")
	assert.Contains(t, prompt, "https://acme.example/about")
	assert.Contains(t, prompt, "About Acme")
	assert.Contains(t, prompt, "founded in 1999")
}

func TestBuildExtractTool(t *testing.T) {
	fields := []model.FieldDefinition{
		{Key: "company_name", Type: model.FieldTypeString},
		{Key: "contact_email", Type: model.FieldTypeEmail},
	}

	tool := buildExtractTool(fields)
	assert.Equal(t, extractToolName, tool.Name)
	assert.Equal(t, []string{"fields"}, tool.InputSchema["required"])

	props, ok := tool.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	fieldsSchema, ok := props["fields"].(map[string]any)
	require.True(t, ok)
	items, ok := fieldsSchema["items"].(map[string]any)
	require.True(t, ok)
	itemProps, ok := items["properties"].(map[string]any)
	require.True(t, ok)
	keySchema, ok := itemProps["key"].(map[string]any)
	require.True(t, ok)

	assert.Equal(t, []any{"company_name", "contact_email"}, keySchema["enum"])
}
