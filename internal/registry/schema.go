// Package registry loads tenant field schemas from YAML files or a
// Notion schema database.
package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/intake-service/internal/model"
)

// schemaFile is the on-disk YAML shape of a tenant schema.
type schemaFile struct {
	Version string                  `yaml:"version"`
	Tenant  string                  `yaml:"tenant,omitempty"`
	Fields  []model.FieldDefinition `yaml:"fields"`
}

var validFieldTypes = map[model.FieldType]bool{
	model.FieldTypeString:  true,
	model.FieldTypeNumber:  true,
	model.FieldTypeBoolean: true,
	model.FieldTypeURL:     true,
	model.FieldTypeEmail:   true,
	model.FieldTypePhone:   true,
}

// LoadSchemaFile reads a tenant field schema from a YAML file.
func LoadSchemaFile(path string) (*model.FieldRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read schema %s", path)
	}
	return ParseSchema(data)
}

// ParseSchema decodes and validates a YAML schema document.
func ParseSchema(data []byte) (*model.FieldRegistry, error) {
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, eris.Wrap(err, "registry: parse schema yaml")
	}
	if len(sf.Fields) == 0 {
		return nil, eris.New("registry: schema declares no fields")
	}
	if err := validateFields(sf.Fields); err != nil {
		return nil, err
	}
	return model.NewFieldRegistry(sf.Fields), nil
}

func validateFields(fields []model.FieldDefinition) error {
	seen := make(map[string]bool, len(fields))
	var problems []string

	for i, f := range fields {
		switch {
		case f.Key == "":
			problems = append(problems, fmt.Sprintf("field %d: missing key", i))
		case seen[f.Key]:
			problems = append(problems, fmt.Sprintf("field %q: duplicate key", f.Key))
		default:
			seen[f.Key] = true
		}

		if f.Type != "" && !validFieldTypes[f.Type] {
			problems = append(problems, fmt.Sprintf("field %q: unknown type %q", f.Key, f.Type))
		}
		if f.ConfidenceThreshold < 0 || f.ConfidenceThreshold > 1 {
			problems = append(problems, fmt.Sprintf("field %q: confidence_threshold %v outside [0,1]", f.Key, f.ConfidenceThreshold))
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("registry: invalid schema: %s", strings.Join(problems, "; "))
	}
	return nil
}
