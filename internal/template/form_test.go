package template

import (
	"slices"
	"testing"

	"github.com/sahidur/ams-sub001/model"
)

func leaveTemplate() model.ApprovalTemplate {
	return model.ApprovalTemplate{
		ID:          "leave",
		DisplayName: "Leave Request",
		Fields: []model.FormField{
			{Name: "leave_type", Label: "Leave type", Type: model.FieldSelect, Required: true, Options: []string{"annual", "sick"}},
			{Name: "start_date", Label: "Start date", Type: model.FieldDate, Required: true},
			{Name: "days", Label: "Days", Type: model.FieldNumber, Required: true},
			{Name: "certificate", Label: "Certificate", Type: model.FieldFile, Required: true, DependsOnField: "leave_type", DependsOnValue: "sick"},
			{Name: "contact", Label: "Contact email", Type: model.FieldEmail},
			{Name: "phone", Label: "Phone", Type: model.FieldPhone},
			{Name: "ack", Label: "Acknowledged", Type: model.FieldCheckbox},
			{Name: "tags", Label: "Tags", Type: model.FieldCheckbox, Options: []string{"urgent", "travel"}},
		},
	}
}

func TestIsFieldVisible(t *testing.T) {
	f := model.FormField{Name: "certificate", DependsOnField: "leave_type", DependsOnValue: "sick"}

	tests := []struct {
		name string
		data model.FormData
		want bool
	}{
		{"dependency matches", model.NewFormData(model.Entry("leave_type", model.Text("sick"))), true},
		{"dependency differs", model.NewFormData(model.Entry("leave_type", model.Text("annual"))), false},
		{"dependency missing", model.FormData{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFieldVisible(f, tt.data); got != tt.want {
				t.Errorf("IsFieldVisible() = %v, want %v", got, tt.want)
			}
		})
	}

	if !IsFieldVisible(model.FormField{Name: "free"}, model.FormData{}) {
		t.Error("field without dependency should be visible")
	}
}

func TestIsFieldVisible_onlyTextMatches(t *testing.T) {
	tests := []struct {
		name  string
		value string
		data  model.FieldValue
	}{
		{"number", "5", model.Number(5)},
		{"bool", "true", model.Bool(true)},
		{"multi-select", "urgent", model.MultiSelect("urgent")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := model.FormField{Name: "detail", DependsOnField: "answer", DependsOnValue: tt.value}
			if IsFieldVisible(f, model.NewFormData(model.Entry("answer", tt.data))) {
				t.Errorf("%s answer %s matched %q", tt.name, tt.data, tt.value)
			}
		})
	}
}

func TestVisibleFields(t *testing.T) {
	tpl := leaveTemplate()
	got := VisibleFields(tpl, model.NewFormData(model.Entry("leave_type", model.Text("annual"))))
	if slices.Contains(got, "certificate") {
		t.Errorf("certificate should be hidden: %v", got)
	}
	if len(got) != len(tpl.Fields)-1 {
		t.Errorf("VisibleFields() = %v", got)
	}
}

func TestCheckForm_draft_allows_missing_required(t *testing.T) {
	errs := CheckForm(leaveTemplate(), model.FormData{}, false)
	if len(errs) != 0 {
		t.Errorf("CheckForm(draft) = %v, want none", errs)
	}
}

func TestCheckForm_submit_reports_each_missing_required(t *testing.T) {
	data := model.NewFormData(model.Entry("leave_type", model.Text("annual")))
	errs := CheckForm(leaveTemplate(), data, true)
	got := fieldsOf(errs)
	if !slices.Equal(got, []string{"start_date", "days"}) {
		t.Errorf("missing fields = %v, want [start_date days]", got)
	}
	for _, e := range errs {
		if e.Code != model.FieldRequired {
			t.Errorf("%s code = %s, want REQUIRED", e.Field, e.Code)
		}
	}
}

func TestCheckForm_hidden_required_field_exempt(t *testing.T) {
	data := model.NewFormData(
		model.Entry("leave_type", model.Text("annual")),
		model.Entry("start_date", model.Text("2025-04-01")),
		model.Entry("days", model.Number(2)),
	)
	if errs := CheckForm(leaveTemplate(), data, true); len(errs) != 0 {
		t.Errorf("CheckForm() = %v, want none", errs)
	}

	data.Set("leave_type", model.Text("sick"))
	errs := CheckForm(leaveTemplate(), data, true)
	if !slices.Equal(fieldsOf(errs), []string{"certificate"}) {
		t.Errorf("CheckForm() = %v, want certificate required once visible", errs)
	}
}

func TestCheckForm_blank_text_counts_as_missing(t *testing.T) {
	data := model.NewFormData(
		model.Entry("leave_type", model.Text("annual")),
		model.Entry("start_date", model.Text("  ")),
		model.Entry("days", model.Number(1)),
	)
	errs := CheckForm(leaveTemplate(), data, true)
	if !slices.Equal(fieldsOf(errs), []string{"start_date"}) {
		t.Errorf("CheckForm() = %v", errs)
	}
}

func TestCheckForm_type_checks_apply_to_drafts(t *testing.T) {
	tests := []struct {
		name  string
		entry model.FormEntry
		code  string
	}{
		{"unknown field", model.Entry("colour", model.Text("red")), model.FieldUnknown},
		{"number as text", model.Entry("days", model.Text("two")), model.FieldInvalidType},
		{"bad option", model.Entry("leave_type", model.Text("maternity")), model.FieldInvalidOption},
		{"bad date", model.Entry("start_date", model.Text("01/04/2025")), model.FieldInvalidFormat},
		{"bad email", model.Entry("contact", model.Text("not-an-email")), model.FieldInvalidFormat},
		{"display-name email", model.Entry("contact", model.Text("Ann <ann@example.com>")), model.FieldInvalidFormat},
		{"bad phone", model.Entry("phone", model.Text("call me")), model.FieldInvalidFormat},
		{"checkbox without options wants bool", model.Entry("ack", model.Text("yes")), model.FieldInvalidType},
		{"checkbox with options wants list", model.Entry("tags", model.Bool(true)), model.FieldInvalidType},
		{"checkbox option outside list", model.Entry("tags", model.MultiSelect("urgent", "other")), model.FieldInvalidOption},
		{"text field given list", model.Entry("certificate", model.MultiSelect("a")), model.FieldInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := CheckForm(leaveTemplate(), model.NewFormData(tt.entry), false)
			if len(errs) != 1 {
				t.Fatalf("CheckForm() = %v, want one error", errs)
			}
			if errs[0].Code != tt.code || errs[0].Field != tt.entry.Name {
				t.Errorf("error = %+v, want %s on %s", errs[0], tt.code, tt.entry.Name)
			}
		})
	}
}

func TestCheckForm_accepts_well_formed_answers(t *testing.T) {
	data := model.NewFormData(
		model.Entry("leave_type", model.Text("sick")),
		model.Entry("start_date", model.Text("2025-04-01")),
		model.Entry("days", model.Number(0.5)),
		model.Entry("certificate", model.Text("https://files.example.com/cert.pdf")),
		model.Entry("contact", model.Text("ann@example.com")),
		model.Entry("phone", model.Text("+44 (20) 7946-0958")),
		model.Entry("ack", model.Bool(true)),
		model.Entry("tags", model.MultiSelect("urgent", "travel")),
	)
	if errs := CheckForm(leaveTemplate(), data, true); len(errs) != 0 {
		t.Errorf("CheckForm() = %v, want none", errs)
	}
}

func TestAnswers_excludes_hidden_and_follows_template_order(t *testing.T) {
	data := model.NewFormData(
		model.Entry("days", model.Number(3)),
		model.Entry("certificate", model.Text("left over")),
		model.Entry("leave_type", model.Text("annual")),
	)
	got := Answers(leaveTemplate(), data)
	if !slices.Equal(got.Keys(), []string{"leave_type", "days"}) {
		t.Errorf("Answers().Keys() = %v", got.Keys())
	}
	if _, ok := data.Get("certificate"); !ok {
		t.Error("Answers must not modify the stored form data")
	}
}

func fieldsOf(errs []model.FieldError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}
