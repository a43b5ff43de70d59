package model

import "time"

// FieldType is the input type of a template field.
type FieldType string

// Supported field types.
const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldRadio    FieldType = "radio"
	FieldCheckbox FieldType = "checkbox"
	FieldFile     FieldType = "file"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldEmail, FieldPhone, FieldNumber, FieldDate,
		FieldTextarea, FieldSelect, FieldRadio, FieldCheckbox, FieldFile:
		return true
	}
	return false
}

// HasOptions reports whether the type picks from a fixed option list.
func (t FieldType) HasOptions() bool {
	return t == FieldSelect || t == FieldRadio || t == FieldCheckbox
}

// ApprovalTemplate defines a request type: its form and its approval chain.
type ApprovalTemplate struct {
	ID              string          `yaml:"id"                json:"id"`
	Name            string          `yaml:"name"              json:"name"`
	DisplayName     string          `yaml:"display_name"      json:"display_name"`
	Description     string          `yaml:"description"       json:"description,omitempty"`
	NumberPrefix    string          `yaml:"number_prefix"     json:"number_prefix,omitempty"`
	Inactive        bool            `yaml:"inactive"          json:"inactive,omitempty"`
	DefaultSLAHours int             `yaml:"default_sla_hours" json:"default_sla_hours"`
	Fields          []FormField     `yaml:"fields"            json:"fields"`
	Levels          []ApprovalLevel `yaml:"levels"            json:"levels"`

	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}

// FormField describes one input of a template form.
type FormField struct {
	Name           string    `yaml:"name"             json:"name"`
	Label          string    `yaml:"label"            json:"label"`
	Type           FieldType `yaml:"type"             json:"type"`
	Required       bool      `yaml:"required"         json:"required,omitempty"`
	Options        []string  `yaml:"options"          json:"options,omitempty"`
	DependsOnField string    `yaml:"depends_on_field" json:"depends_on_field,omitempty"`
	DependsOnValue string    `yaml:"depends_on_value" json:"depends_on_value,omitempty"`
}

// ApprovalLevel is one stage of the approval chain. Exactly one of Role or
// ApproverID is set.
type ApprovalLevel struct {
	Index      int    `yaml:"index"       json:"index"`
	Name       string `yaml:"name"        json:"name"`
	Role       string `yaml:"role"        json:"role,omitempty"`
	ApproverID string `yaml:"approver_id" json:"approver_id,omitempty"`
	SLAHours   int    `yaml:"sla_hours"   json:"sla_hours,omitempty"`
}

// IsActive reports whether new requests may be created from t.
func (t ApprovalTemplate) IsActive() bool { return !t.Inactive }

// Field returns the field named name.
func (t ApprovalTemplate) Field(name string) (FormField, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FormField{}, false
}

// Level returns the level with the given 1-based index.
func (t ApprovalTemplate) Level(index int) (ApprovalLevel, bool) {
	return LevelAt(t.Levels, index)
}

// LevelAt returns the level with the given 1-based index from chain.
func LevelAt(chain []ApprovalLevel, index int) (ApprovalLevel, bool) {
	for _, l := range chain {
		if l.Index == index {
			return l, true
		}
	}
	return ApprovalLevel{}, false
}

// LevelSLA returns the SLA window for a level: its own override, else the
// template default. Zero means no deadline.
func LevelSLA(level ApprovalLevel, defaultHours int) time.Duration {
	hours := level.SLAHours
	if hours <= 0 {
		hours = defaultHours
	}
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours) * time.Hour
}

// TemplateSummary is the list-view representation of a template.
type TemplateSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Levels      int    `json:"levels"`
	DefaultSLA  int    `json:"default_sla_hours"`
}
