package template

import (
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/sahidur/ams-sub001/model"
)

// DateLayout is the accepted format of date answers.
const DateLayout = "2006-01-02"

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)

// IsFieldVisible reports whether f is shown for the given answers. A field
// without a dependency is always visible; otherwise it is visible only while
// the dependency's answer is the text DependsOnValue. Number, boolean and
// multi-select answers never match.
func IsFieldVisible(f model.FormField, data model.FormData) bool {
	if f.DependsOnField == "" {
		return true
	}
	v, ok := data.Get(f.DependsOnField)
	if !ok {
		return false
	}
	text, isText := v.AsText()
	return isText && text == f.DependsOnValue
}

// VisibleFields returns the names of the fields of t visible for data, in
// template order.
func VisibleFields(t model.ApprovalTemplate, data model.FormData) []string {
	var out []string
	for _, f := range t.Fields {
		if IsFieldVisible(f, data) {
			out = append(out, f.Name)
		}
	}
	return out
}

// Answers projects data onto the visible fields of t, in template order.
// Answers to hidden fields stay on the request but are not authoritative.
func Answers(t model.ApprovalTemplate, data model.FormData) model.FormData {
	var out model.FormData
	for _, f := range t.Fields {
		if !IsFieldVisible(f, data) {
			continue
		}
		if v, ok := data.Get(f.Name); ok {
			out.Set(f.Name, v)
		}
	}
	return out
}

// CheckForm validates data against the fields of t. Unknown fields and
// answers of the wrong shape are always reported. With requireComplete set,
// every required visible field must also have a non-empty answer.
func CheckForm(t model.ApprovalTemplate, data model.FormData, requireComplete bool) []model.FieldError {
	var errs []model.FieldError

	for _, name := range data.Keys() {
		if _, ok := t.Field(name); !ok {
			errs = append(errs, model.FieldError{
				Field:   name,
				Code:    model.FieldUnknown,
				Message: fmt.Sprintf("%q is not a field of %s", name, t.DisplayName),
			})
		}
	}

	for _, f := range t.Fields {
		v, present := data.Get(f.Name)
		if present {
			if fe, bad := checkValue(f, v); bad {
				errs = append(errs, fe)
				continue
			}
		}
		if !requireComplete || !f.Required || !IsFieldVisible(f, data) {
			continue
		}
		if !present || v.IsEmpty() {
			errs = append(errs, model.FieldError{
				Field:   f.Name,
				Code:    model.FieldRequired,
				Message: fmt.Sprintf("%s is required", label(f)),
			})
		}
	}

	return errs
}

func checkValue(f model.FormField, v model.FieldValue) (model.FieldError, bool) {
	wrongType := func(want string) (model.FieldError, bool) {
		return model.FieldError{
			Field:   f.Name,
			Code:    model.FieldInvalidType,
			Message: fmt.Sprintf("%s must be %s", label(f), want),
		}, true
	}
	badFormat := func(msg string) (model.FieldError, bool) {
		return model.FieldError{Field: f.Name, Code: model.FieldInvalidFormat, Message: msg}, true
	}
	badOption := func(opt string) (model.FieldError, bool) {
		return model.FieldError{
			Field:   f.Name,
			Code:    model.FieldInvalidOption,
			Message: fmt.Sprintf("%q is not an option of %s", opt, label(f)),
		}, true
	}

	switch f.Type {
	case model.FieldNumber:
		if v.Kind() != model.KindNumber {
			return wrongType("a number")
		}

	case model.FieldCheckbox:
		if len(f.Options) == 0 {
			if v.Kind() != model.KindBool {
				return wrongType("true or false")
			}
			return model.FieldError{}, false
		}
		items, ok := v.AsMultiSelect()
		if !ok {
			return wrongType("a list of options")
		}
		for _, it := range items {
			if !slices.Contains(f.Options, it) {
				return badOption(it)
			}
		}

	default:
		s, ok := v.AsText()
		if !ok {
			return wrongType("text")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return model.FieldError{}, false
		}
		switch f.Type {
		case model.FieldEmail:
			if addr, err := mail.ParseAddress(s); err != nil || addr.Address != s {
				return badFormat(fmt.Sprintf("%s must be a valid email address", label(f)))
			}
		case model.FieldPhone:
			if !phonePattern.MatchString(s) {
				return badFormat(fmt.Sprintf("%s must be a valid phone number", label(f)))
			}
		case model.FieldDate:
			if _, err := time.Parse(DateLayout, s); err != nil {
				return badFormat(fmt.Sprintf("%s must be a date in YYYY-MM-DD form", label(f)))
			}
		case model.FieldSelect, model.FieldRadio:
			if !slices.Contains(f.Options, s) {
				return badOption(s)
			}
		}
	}

	return model.FieldError{}, false
}

func label(f model.FormField) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}
