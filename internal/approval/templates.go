package approval

import (
	"context"
	"fmt"

	"github.com/sahidur/ams-sub001/internal/template"
	"github.com/sahidur/ams-sub001/model"
)

// Templates lists the active templates.
func (e *Engine) Templates(rctx *model.RequestContext) ([]model.TemplateSummary, error) {
	if err := e.require(rctx, model.CapTemplateRead); err != nil {
		return nil, err
	}
	out := e.templates.Summaries()
	if out == nil {
		out = []model.TemplateSummary{}
	}
	return out, nil
}

// Template returns an active template with its form and chain.
func (e *Engine) Template(rctx *model.RequestContext, templateID string) (model.ApprovalTemplate, error) {
	if err := e.require(rctx, model.CapTemplateRead); err != nil {
		return model.ApprovalTemplate{}, err
	}
	t, ok := e.templates.Active(templateID)
	if !ok {
		return model.ApprovalTemplate{}, model.NewNotFoundError(fmt.Sprintf("template %q not found", templateID))
	}
	return t, nil
}

// Visibility reports which fields of a template are visible for the given
// answers, and any problems with those answers so far.
type Visibility struct {
	Visible []string           `json:"visible"`
	Errors  []model.FieldError `json:"errors"`
}

// VisibleFields evaluates field dependencies for in-progress answers.
func (e *Engine) VisibleFields(_ context.Context, rctx *model.RequestContext, templateID string, data model.FormData) (Visibility, error) {
	t, err := e.Template(rctx, templateID)
	if err != nil {
		return Visibility{}, err
	}
	v := Visibility{
		Visible: template.VisibleFields(t, data),
		Errors:  template.CheckForm(t, data, false),
	}
	if v.Visible == nil {
		v.Visible = []string{}
	}
	if v.Errors == nil {
		v.Errors = []model.FieldError{}
	}
	return v, nil
}
