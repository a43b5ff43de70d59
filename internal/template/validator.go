package template

import (
	"fmt"
	"regexp"

	"github.com/sahidur/ams-sub001/model"
)

// VError describes a single problem in a template definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

var (
	idPattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
	prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)
)

// Validator checks templates structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every template and reports duplicate IDs across them.
func (v *Validator) Validate(templates []model.ApprovalTemplate) []VError {
	var errs []VError
	seen := make(map[string]string)
	for i, t := range templates {
		prefix := fmt.Sprintf("templates[%d]", i)
		if t.ID != "" {
			if first, dup := seen[t.ID]; dup {
				errs = append(errs, VError{
					Path:    prefix + ".id",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("template %q already declared in %s", t.ID, first),
				})
			} else {
				seen[t.ID] = t.SourceFile
			}
		}
		errs = append(errs, v.validateTemplate(prefix, t)...)
	}
	return errs
}

func (v *Validator) validateTemplate(prefix string, t model.ApprovalTemplate) []VError {
	var errs []VError

	if t.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	} else if !idPattern.MatchString(t.ID) {
		errs = append(errs, VError{Path: prefix + ".id", Code: "INVALID_FORMAT", Message: fmt.Sprintf("id %q must be lower-case alphanumeric", t.ID)})
	}
	if t.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if t.NumberPrefix != "" && !prefixPattern.MatchString(t.NumberPrefix) {
		errs = append(errs, VError{Path: prefix + ".number_prefix", Code: "INVALID_FORMAT", Message: "number_prefix must be 1-10 upper-case letters or digits"})
	}
	if t.DefaultSLAHours < 0 {
		errs = append(errs, VError{Path: prefix + ".default_sla_hours", Code: "OUT_OF_RANGE", Message: "default_sla_hours must not be negative"})
	}

	errs = append(errs, v.validateLevels(prefix, t.Levels)...)
	errs = append(errs, v.validateFields(prefix, t.Fields)...)
	return errs
}

func (v *Validator) validateLevels(prefix string, levels []model.ApprovalLevel) []VError {
	var errs []VError

	if len(levels) == 0 {
		return append(errs, VError{Path: prefix + ".levels", Code: "REQUIRED", Message: "at least one approval level is required"})
	}

	for i, l := range levels {
		lp := fmt.Sprintf("%s.levels[%d]", prefix, i)
		if l.Index != i+1 {
			errs = append(errs, VError{Path: lp + ".index", Code: "INVALID_ORDER", Message: fmt.Sprintf("level index %d, want %d", l.Index, i+1)})
		}
		if l.Name == "" {
			errs = append(errs, VError{Path: lp + ".name", Code: "REQUIRED", Message: "level name is required"})
		}
		switch {
		case l.Role == "" && l.ApproverID == "":
			errs = append(errs, VError{Path: lp, Code: "REQUIRED", Message: "one of role or approver_id is required"})
		case l.Role != "" && l.ApproverID != "":
			errs = append(errs, VError{Path: lp, Code: "AMBIGUOUS", Message: "role and approver_id are mutually exclusive"})
		}
		if l.SLAHours < 0 {
			errs = append(errs, VError{Path: lp + ".sla_hours", Code: "OUT_OF_RANGE", Message: "sla_hours must not be negative"})
		}
	}
	return errs
}

func (v *Validator) validateFields(prefix string, fields []model.FormField) []VError {
	var errs []VError

	types := make(map[string]model.FieldType, len(fields))
	for _, f := range fields {
		types[f.Name] = f.Type
	}

	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		fp := fmt.Sprintf("%s.fields[%d]", prefix, i)
		if f.Name == "" {
			errs = append(errs, VError{Path: fp + ".name", Code: "REQUIRED", Message: "field name is required"})
		} else if seen[f.Name] {
			errs = append(errs, VError{Path: fp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("field %q declared twice", f.Name)})
		}
		seen[f.Name] = true

		if f.Label == "" {
			errs = append(errs, VError{Path: fp + ".label", Code: "REQUIRED", Message: "field label is required"})
		}
		if !f.Type.Valid() {
			errs = append(errs, VError{Path: fp + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid field type %q", f.Type)})
		}
		if (f.Type == model.FieldSelect || f.Type == model.FieldRadio) && len(f.Options) == 0 {
			errs = append(errs, VError{Path: fp + ".options", Code: "REQUIRED", Message: fmt.Sprintf("%s field needs options", f.Type)})
		}
		if len(f.Options) > 0 && !f.Type.HasOptions() {
			errs = append(errs, VError{Path: fp + ".options", Code: "UNEXPECTED", Message: fmt.Sprintf("%s field does not take options", f.Type)})
		}

		if f.DependsOnField != "" {
			switch {
			case f.DependsOnField == f.Name:
				errs = append(errs, VError{Path: fp + ".depends_on_field", Code: "SELF_REFERENCE", Message: "field cannot depend on itself"})
			case types[f.DependsOnField] == "":
				errs = append(errs, VError{Path: fp + ".depends_on_field", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("field %q not found", f.DependsOnField)})
			case types[f.DependsOnField] == model.FieldNumber || types[f.DependsOnField] == model.FieldCheckbox:
				// Visibility compares text answers only.
				errs = append(errs, VError{Path: fp + ".depends_on_field", Code: "TYPE_MISMATCH", Message: fmt.Sprintf("%s field %q cannot control visibility", types[f.DependsOnField], f.DependsOnField)})
			}
		} else if f.DependsOnValue != "" {
			errs = append(errs, VError{Path: fp + ".depends_on_value", Code: "UNEXPECTED", Message: "depends_on_value requires depends_on_field"})
		}
	}
	return errs
}
