package model

// FieldType enumerates the value types a schema field may declare.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeURL     FieldType = "url"
	FieldTypeEmail   FieldType = "email"
	FieldTypePhone   FieldType = "phone"
)

// DefaultConfidenceThreshold is applied when a field does not declare its own.
const DefaultConfidenceThreshold = 0.7

// FieldDefinition describes one field of a tenant's intake schema.
type FieldDefinition struct {
	Key                 string    `json:"key" yaml:"key"`
	Label               string    `json:"label,omitempty" yaml:"label,omitempty"`
	Type                FieldType `json:"type" yaml:"type"`
	Required            bool      `json:"required" yaml:"required"`
	ConfidenceThreshold float64   `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty"`
	SourceHints         []string  `json:"source_hints,omitempty" yaml:"source_hints,omitempty"`
	Description         string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// Threshold returns the field's confidence threshold, falling back to the
// global default when unset.
func (f FieldDefinition) Threshold() float64 {
	if f.ConfidenceThreshold > 0 {
		return f.ConfidenceThreshold
	}
	return DefaultConfidenceThreshold
}

// FieldRegistry is an indexed collection of field definitions for one
// tenant schema version.
type FieldRegistry struct {
	Fields   []FieldDefinition
	byKey    map[string]*FieldDefinition
	required []*FieldDefinition
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups.
func NewFieldRegistry(fields []FieldDefinition) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byKey:  make(map[string]*FieldDefinition, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		r.byKey[f.Key] = f
		if f.Required {
			r.required = append(r.required, f)
		}
	}
	return r
}

// ByKey returns the field definition for the given key, or nil if not found.
func (r *FieldRegistry) ByKey(key string) *FieldDefinition {
	return r.byKey[key]
}

// Required returns all required field definitions.
func (r *FieldRegistry) Required() []*FieldDefinition {
	return r.required
}
