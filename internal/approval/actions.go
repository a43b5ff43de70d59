package approval

import (
	"context"
	"fmt"
	"slices"

	"github.com/sahidur/ams-sub001/internal/notify"
	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/internal/template"
	"github.com/sahidur/ams-sub001/model"
)

// ApplyAction records an approver decision (APPROVE, DECLINE or SEND_BACK)
// on a PENDING request at its current level.
func (e *Engine) ApplyAction(ctx context.Context, rctx *model.RequestContext, requestID string, action model.ActionType, comment string) (model.ApprovalRequest, error) {
	attrs := append(requestAttrs(rctx, requestID), observability.AttrAction.String(string(action)))
	return observe(e, ctx, "apply_action", attrs, func(ctx context.Context) (model.ApprovalRequest, error) {
		if !action.IsDecision() {
			return model.ApprovalRequest{}, model.NewBadRequestError(
				fmt.Sprintf("action must be APPROVE, DECLINE or SEND_BACK, got %q", action),
			)
		}

		req, err := e.store.Get(ctx, rctx.TenantID, requestID)
		if err != nil {
			return model.ApprovalRequest{}, err
		}

		// 1. State.
		if req.Status != model.StatusPending {
			return model.ApprovalRequest{}, invalidState(StateOf(req), action)
		}

		// 2. Authorization.
		caps, err := e.capabilities(rctx)
		if err != nil {
			return model.ApprovalRequest{}, err
		}
		if !caps.Has(model.CapRequestAct) || rctx.SubjectID != req.CurrentApproverID {
			return model.ApprovalRequest{}, model.NewPermissionError(
				fmt.Sprintf("only the current approver of level %d may act on this request", req.CurrentLevel),
			)
		}

		// 3. Comment and transition through the reducer.
		now := e.now().UTC()
		a := e.newAction(req.ID, action, req.CurrentLevel, rctx.SubjectID, comment, now)
		state, err := Apply(StateOf(req), a)
		if err != nil {
			return model.ApprovalRequest{}, err
		}

		next := req.Clone()
		next.Status = state.Status
		next.UpdatedAt = now
		advanced := state.Status == model.StatusPending
		switch {
		case advanced:
			if err := e.enterLevel(ctx, &next, state.Level, now); err != nil {
				return model.ApprovalRequest{}, err
			}
		case state.Status.IsTerminal():
			next.CompletedAt = &now
			leavePending(&next)
		default: // SENT_BACK
			leavePending(&next)
		}

		saved, err := e.store.Transition(ctx, next, model.StatusPending, &a)
		if err != nil {
			return model.ApprovalRequest{}, err
		}

		e.metrics.RecordAction(saved.TemplateID, string(action))
		if !advanced {
			e.metrics.RecordLeftPending(saved.TemplateID)
		}
		if saved.Status.IsTerminal() {
			e.metrics.RecordCompletion(saved.TemplateID, string(saved.Status))
		}
		e.logTransition(ctx, saved, a)

		switch saved.Status {
		case model.StatusPending:
			e.publish(ctx, notify.EventAdvanced, saved, &a, saved.CurrentApproverID)
		case model.StatusApproved:
			e.publish(ctx, notify.EventApproved, saved, &a, saved.RequesterID)
		case model.StatusDeclined:
			e.publish(ctx, notify.EventDeclined, saved, &a, saved.RequesterID)
		case model.StatusSentBack:
			e.publish(ctx, notify.EventSentBack, saved, &a, saved.RequesterID)
		}
		return saved, nil
	})
}

// Resubmit returns a SENT_BACK request to PENDING at level 1, optionally
// with updated answers. The chain snapshotted on first submission is kept.
func (e *Engine) Resubmit(ctx context.Context, rctx *model.RequestContext, requestID string, ch Changes) (model.ApprovalRequest, error) {
	return observe(e, ctx, "resubmit", requestAttrs(rctx, requestID),
		func(ctx context.Context) (model.ApprovalRequest, error) {
			req, err := e.store.Get(ctx, rctx.TenantID, requestID)
			if err != nil {
				return model.ApprovalRequest{}, err
			}
			if req.Status != model.StatusSentBack {
				return model.ApprovalRequest{}, model.NewInvalidStateError(
					fmt.Sprintf("only SENT_BACK requests can be resubmitted; request is %s", req.Status),
				)
			}
			if err := e.requireRequester(rctx, req, "resubmit"); err != nil {
				return model.ApprovalRequest{}, err
			}

			t, err := e.templateOf(req)
			if err != nil {
				return model.ApprovalRequest{}, err
			}

			next := req.Clone()
			applyChanges(&next, ch)
			if errs := template.CheckForm(t, next.FormData, true); len(errs) > 0 {
				e.metrics.RecordValidationFailure(t.ID)
				return model.ApprovalRequest{}, model.NewValidationError(errs)
			}

			action, err := e.submitInto(ctx, &next, t, rctx.SubjectID, e.now().UTC())
			if err != nil {
				return model.ApprovalRequest{}, err
			}
			saved, err := e.store.Transition(ctx, next, model.StatusSentBack, &action)
			if err != nil {
				return model.ApprovalRequest{}, err
			}

			e.metrics.RecordAction(saved.TemplateID, string(action.Type))
			e.metrics.RecordEnteredPending(saved.TemplateID)
			e.logTransition(ctx, saved, action)
			e.publish(ctx, notify.EventSubmitted, saved, &action, saved.CurrentApproverID)
			return saved, nil
		})
}

// Cancel withdraws a PENDING or SENT_BACK request. Only the requester may
// cancel.
func (e *Engine) Cancel(ctx context.Context, rctx *model.RequestContext, requestID, comment string) (model.ApprovalRequest, error) {
	return observe(e, ctx, "cancel", requestAttrs(rctx, requestID),
		func(ctx context.Context) (model.ApprovalRequest, error) {
			req, err := e.store.Get(ctx, rctx.TenantID, requestID)
			if err != nil {
				return model.ApprovalRequest{}, err
			}
			if req.Status != model.StatusPending && req.Status != model.StatusSentBack {
				if req.Status == model.StatusDraft {
					return model.ApprovalRequest{}, model.NewInvalidStateError(
						"drafts cannot be cancelled; discard the draft instead",
					)
				}
				return model.ApprovalRequest{}, invalidState(StateOf(req), model.ActionCancel)
			}
			if err := e.requireRequester(rctx, req, "cancel"); err != nil {
				return model.ApprovalRequest{}, err
			}

			now := e.now().UTC()
			a := e.newAction(req.ID, model.ActionCancel, req.CurrentLevel, rctx.SubjectID, comment, now)
			state, err := Apply(StateOf(req), a)
			if err != nil {
				return model.ApprovalRequest{}, err
			}

			previousApprover := req.CurrentApproverID
			next := req.Clone()
			next.Status = state.Status
			next.UpdatedAt = now
			next.CompletedAt = &now
			leavePending(&next)

			saved, err := e.store.Transition(ctx, next, req.Status, &a)
			if err != nil {
				return model.ApprovalRequest{}, err
			}

			e.metrics.RecordAction(saved.TemplateID, string(a.Type))
			if req.Status == model.StatusPending {
				e.metrics.RecordLeftPending(saved.TemplateID)
			}
			e.metrics.RecordCompletion(saved.TemplateID, string(saved.Status))
			e.logTransition(ctx, saved, a)
			if previousApprover != "" {
				e.publish(ctx, notify.EventCancelled, saved, &a, previousApprover)
			}
			return saved, nil
		})
}

// Comment appends a COMMENT action to a PENDING or SENT_BACK request. Only
// participants (the requester, the current approver, or anyone who already
// acted on the request) may comment. Status and level are unchanged.
func (e *Engine) Comment(ctx context.Context, rctx *model.RequestContext, requestID, comment string) (model.ApprovalAction, error) {
	return observe(e, ctx, "comment", requestAttrs(rctx, requestID),
		func(ctx context.Context) (model.ApprovalAction, error) {
			req, err := e.store.Get(ctx, rctx.TenantID, requestID)
			if err != nil {
				return model.ApprovalAction{}, err
			}
			if req.Status != model.StatusPending && req.Status != model.StatusSentBack {
				return model.ApprovalAction{}, invalidState(StateOf(req), model.ActionComment)
			}

			history, err := e.store.Actions(ctx, rctx.TenantID, requestID)
			if err != nil {
				return model.ApprovalAction{}, err
			}
			if !isParticipant(rctx.SubjectID, req, history) {
				return model.ApprovalAction{}, model.NewPermissionError("only participants may comment on this request")
			}
			if err := e.require(rctx, model.CapRequestRead); err != nil {
				return model.ApprovalAction{}, err
			}

			now := e.now().UTC()
			a := e.newAction(req.ID, model.ActionComment, req.CurrentLevel, rctx.SubjectID, comment, now)
			if _, err := Apply(StateOf(req), a); err != nil {
				return model.ApprovalAction{}, err
			}

			next := req.Clone()
			next.UpdatedAt = now
			saved, err := e.store.Transition(ctx, next, req.Status, &a)
			if err != nil {
				return model.ApprovalAction{}, err
			}

			e.metrics.RecordAction(saved.TemplateID, string(a.Type))
			e.logTransition(ctx, saved, a)

			recipient := saved.RequesterID
			if rctx.SubjectID == saved.RequesterID {
				recipient = saved.CurrentApproverID
			}
			if recipient != "" && recipient != rctx.SubjectID {
				e.publish(ctx, notify.EventCommented, saved, &a, recipient)
			}
			return a, nil
		})
}

// leavePending clears the fields that only a PENDING request carries.
func leavePending(r *model.ApprovalRequest) {
	r.CurrentApproverID = ""
	r.SLADeadline = nil
}

// isParticipant reports whether subjectID is the requester, the current
// approver, or an actor in history.
func isParticipant(subjectID string, req model.ApprovalRequest, history []model.ApprovalAction) bool {
	if subjectID == req.RequesterID || (subjectID != "" && subjectID == req.CurrentApproverID) {
		return true
	}
	return slices.ContainsFunc(history, func(a model.ApprovalAction) bool {
		return a.ActorID == subjectID
	})
}
