package registry

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/pkg/notion"
)

// LoadNotionSchema queries a Notion schema database for all active field
// definitions and returns an indexed FieldRegistry. Teams that manage their
// intake schema in Notion use this instead of a YAML file.
func LoadNotionSchema(ctx context.Context, client notion.Client, dbID string) (*model.FieldRegistry, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Active",
			},
		},
	}

	pages, err := notion.QueryAll(ctx, client, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load notion schema")
	}

	var fields []model.FieldDefinition
	for _, p := range pages {
		f, err := parseFieldPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed field page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		fields = append(fields, f)
	}

	if len(fields) == 0 {
		return nil, eris.Errorf("registry: notion database %s has no active fields", dbID)
	}
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	return model.NewFieldRegistry(fields), nil
}

func parseFieldPage(p notionapi.Page) (model.FieldDefinition, error) {
	var f model.FieldDefinition

	// Key (title)
	if prop, ok := p.Properties["Key"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			f.Key = plainText(tp.Title)
		}
	}

	// Label (rich_text)
	if prop, ok := p.Properties["Label"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			f.Label = plainText(rtp.RichText)
		}
	}

	// Type (select)
	if prop, ok := p.Properties["Type"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			f.Type = model.FieldType(strings.ToLower(sp.Select.Name))
		}
	}

	// Required (checkbox)
	if prop, ok := p.Properties["Required"]; ok {
		if cp, ok := prop.(*notionapi.CheckboxProperty); ok {
			f.Required = cp.Checkbox
		}
	}

	// Threshold (number)
	if prop, ok := p.Properties["Threshold"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			f.ConfidenceThreshold = np.Number
		}
	}

	// SourceHints (rich_text, comma separated)
	if prop, ok := p.Properties["SourceHints"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			for _, hint := range strings.Split(plainText(rtp.RichText), ",") {
				if h := strings.TrimSpace(hint); h != "" {
					f.SourceHints = append(f.SourceHints, h)
				}
			}
		}
	}

	// Description (rich_text)
	if prop, ok := p.Properties["Description"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			f.Description = plainText(rtp.RichText)
		}
	}

	if f.Key == "" {
		return f, eris.New("missing Key property")
	}

	return f, nil
}

func plainText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		b.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(b.String())
}
