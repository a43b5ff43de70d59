package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ValueKind identifies which variant a FieldValue holds.
type ValueKind int

// FieldValue variants.
const (
	KindText ValueKind = iota
	KindNumber
	KindBool
	KindMultiSelect
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMultiSelect:
		return "multi_select"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FieldValue is a single form answer. Exactly one variant is populated; the
// zero value is an empty Text.
type FieldValue struct {
	kind   ValueKind
	text   string
	number float64
	flag   bool
	items  []string
}

// Text returns a text FieldValue.
func Text(s string) FieldValue { return FieldValue{kind: KindText, text: s} }

// Number returns a numeric FieldValue.
func Number(n float64) FieldValue { return FieldValue{kind: KindNumber, number: n} }

// Bool returns a boolean FieldValue.
func Bool(b bool) FieldValue { return FieldValue{kind: KindBool, flag: b} }

// MultiSelect returns a FieldValue holding a list of selected options.
func MultiSelect(items ...string) FieldValue {
	return FieldValue{kind: KindMultiSelect, items: slices.Clone(items)}
}

// Kind reports the variant held by v.
func (v FieldValue) Kind() ValueKind { return v.kind }

// AsText returns the text and true if v is a Text.
func (v FieldValue) AsText() (string, bool) { return v.text, v.kind == KindText }

// AsNumber returns the number and true if v is a Number.
func (v FieldValue) AsNumber() (float64, bool) { return v.number, v.kind == KindNumber }

// AsBool returns the flag and true if v is a Bool.
func (v FieldValue) AsBool() (bool, bool) { return v.flag, v.kind == KindBool }

// AsMultiSelect returns a copy of the selections and true if v is a
// MultiSelect.
func (v FieldValue) AsMultiSelect() ([]string, bool) {
	return slices.Clone(v.items), v.kind == KindMultiSelect
}

// IsEmpty reports whether v counts as "no answer" for a required field:
// blank text, an unticked box, or no selections. Numbers are never empty.
func (v FieldValue) IsEmpty() bool {
	switch v.kind {
	case KindText:
		return strings.TrimSpace(v.text) == ""
	case KindBool:
		return !v.flag
	case KindMultiSelect:
		return len(v.items) == 0
	default:
		return false
	}
}

// String returns the canonical textual form used for dependency matching.
// Selections are joined with ",".
func (v FieldValue) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindMultiSelect:
		return strings.Join(v.items, ",")
	default:
		return v.text
	}
}

// Equal reports whether two values hold the same variant and content.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.number == o.number
	case KindBool:
		return v.flag == o.flag
	case KindMultiSelect:
		return slices.Equal(v.items, o.items)
	default:
		return v.text == o.text
	}
}

// MarshalJSON encodes v as its natural JSON form.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.number)
	case KindBool:
		return json.Marshal(v.flag)
	case KindMultiSelect:
		if v.items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.items)
	default:
		return json.Marshal(v.text)
	}
}

// UnmarshalJSON decodes a JSON string, number, boolean or array of strings.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("field value: empty input")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("field value: selections must be strings: %w", err)
		}
		*v = MultiSelect(items...)
	case 'n':
		return fmt.Errorf("field value: null is not a valid answer")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("field value: unsupported JSON value %s", string(data))
		}
		*v = Number(n)
	}
	return nil
}
