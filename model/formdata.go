package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// FormData maps field names to answers and remembers insertion order. The
// zero value is an empty, usable FormData.
type FormData struct {
	keys   []string
	values map[string]FieldValue
}

// NewFormData builds a FormData from the given entries, in order.
func NewFormData(pairs ...FormEntry) FormData {
	var fd FormData
	for _, p := range pairs {
		fd.Set(p.Name, p.Value)
	}
	return fd
}

// FormEntry is a single name/value pair.
type FormEntry struct {
	Name  string
	Value FieldValue
}

// Entry is shorthand for building a FormEntry.
func Entry(name string, v FieldValue) FormEntry {
	return FormEntry{Name: name, Value: v}
}

// Set stores v under name, keeping the original position when name exists.
func (fd *FormData) Set(name string, v FieldValue) {
	if fd.values == nil {
		fd.values = make(map[string]FieldValue)
	}
	if _, exists := fd.values[name]; !exists {
		fd.keys = append(fd.keys, name)
	}
	fd.values[name] = v
}

// Get returns the value stored under name.
func (fd FormData) Get(name string) (FieldValue, bool) {
	v, ok := fd.values[name]
	return v, ok
}

// Delete removes name.
func (fd *FormData) Delete(name string) {
	if _, ok := fd.values[name]; !ok {
		return
	}
	delete(fd.values, name)
	fd.keys = slices.DeleteFunc(fd.keys, func(k string) bool { return k == name })
}

// Keys returns the field names in insertion order.
func (fd FormData) Keys() []string { return slices.Clone(fd.keys) }

// Len returns the number of entries.
func (fd FormData) Len() int { return len(fd.keys) }

// Entries returns the pairs in insertion order.
func (fd FormData) Entries() []FormEntry {
	out := make([]FormEntry, 0, len(fd.keys))
	for _, k := range fd.keys {
		out = append(out, FormEntry{Name: k, Value: fd.values[k]})
	}
	return out
}

// Clone returns a deep copy.
func (fd FormData) Clone() FormData {
	var out FormData
	for _, k := range fd.keys {
		v := fd.values[k]
		if items, ok := v.AsMultiSelect(); ok {
			v = MultiSelect(items...)
		}
		out.Set(k, v)
	}
	return out
}

// MarshalJSON encodes the answers as a JSON object in insertion order.
func (fd FormData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range fd.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := fd.values[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("form data %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order. A JSON null
// yields an empty FormData.
func (fd *FormData) UnmarshalJSON(data []byte) error {
	*fd = FormData{}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("form data: expected object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("form data: expected field name")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v FieldValue
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("form data %q: %w", name, err)
		}
		fd.Set(name, v)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
