// Package approval runs the approval request lifecycle: creation from a
// template, submission, level-by-level decisions, resubmission after a
// send-back, and the append-only action log that backs every transition.
package approval

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sahidur/ams-sub001/internal/notify"
	"github.com/sahidur/ams-sub001/internal/numbering"
	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/internal/template"
	"github.com/sahidur/ams-sub001/model"
)

const defaultNumberPrefix = "REQ"

// Directory resolves level approvers and looks up users.
type Directory interface {
	ResolveApprover(ctx context.Context, tenantID string, level model.ApprovalLevel, scope model.RequestScope) (model.User, error)
	User(ctx context.Context, tenantID, userID string) (model.User, bool)
}

// NumberAllocator hands out human-readable request numbers.
type NumberAllocator interface {
	Next(ctx context.Context, tenantID, prefix string, at time.Time) (string, error)
}

// Engine manages the lifecycle of approval requests.
type Engine struct {
	templates     *template.Registry
	store         Store
	directory     Directory
	capResolver   model.CapabilityResolver
	numbers       NumberAllocator
	notifier      notify.Notifier
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
	defaultPrefix string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records engine metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNotifier publishes lifecycle events through n.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithNumbers allocates request numbers through a, using prefix for
// templates that declare none.
func WithNumbers(a NumberAllocator, prefix string) Option {
	return func(e *Engine) {
		e.numbers = a
		if prefix != "" {
			e.defaultPrefix = prefix
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a new approval engine. A nil capResolver grants every
// capability.
func NewEngine(
	templates *template.Registry,
	store Store,
	directory Directory,
	capResolver model.CapabilityResolver,
	opts ...Option,
) *Engine {
	e := &Engine{
		templates:     templates,
		store:         store,
		directory:     directory,
		capResolver:   capResolver,
		numbers:       numbering.NewAllocator(numbering.NewMemorySequencer()),
		notifier:      notify.Nop{},
		logger:        zap.NewNop(),
		now:           time.Now,
		defaultPrefix: defaultNumberPrefix,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateInput describes a new request.
type CreateInput struct {
	TemplateID  string
	Scope       model.RequestScope
	FormData    model.FormData
	Attachments []model.Attachment
	SubmitNow   bool
}

// Changes are edits to a DRAFT or SENT_BACK request. Nil fields are left
// unchanged; a non-nil FormData replaces the answers wholesale.
type Changes struct {
	FormData    *model.FormData
	Attachments *[]model.Attachment
	Scope       *model.RequestScope
}

// CreateRequest creates a request from a template, either as a DRAFT or,
// with SubmitNow, directly PENDING at level 1.
func (e *Engine) CreateRequest(ctx context.Context, rctx *model.RequestContext, in CreateInput) (model.ApprovalRequest, error) {
	return observe(e, ctx, "create_request", []attribute.KeyValue{
		observability.AttrTemplateID.String(in.TemplateID),
		observability.AttrTenantID.String(rctx.TenantID),
	}, func(ctx context.Context) (model.ApprovalRequest, error) {
		return e.createRequest(ctx, rctx, in)
	})
}

func (e *Engine) createRequest(ctx context.Context, rctx *model.RequestContext, in CreateInput) (model.ApprovalRequest, error) {
	// 1. Check capability.
	if err := e.require(rctx, model.CapRequestCreate); err != nil {
		return model.ApprovalRequest{}, err
	}

	// 2. Look up an active template.
	t, ok := e.templates.Active(in.TemplateID)
	if !ok {
		return model.ApprovalRequest{}, model.NewNotFoundError(
			fmt.Sprintf("template %q not found", in.TemplateID),
		)
	}

	// 3. Type-check the answers; completeness only when submitting.
	data := in.FormData.Clone()
	if errs := template.CheckForm(t, data, in.SubmitNow); len(errs) > 0 {
		e.metrics.RecordValidationFailure(t.ID)
		return model.ApprovalRequest{}, model.NewValidationError(errs)
	}

	// 4. Build the draft.
	now := e.now().UTC()
	req := model.ApprovalRequest{
		ID:            uuid.New().String(),
		TenantID:      rctx.TenantID,
		TemplateID:    t.ID,
		RequesterID:   rctx.SubjectID,
		Scope:         in.Scope,
		Status:        model.StatusDraft,
		FormData:      data,
		Attachments:   slices.Clone(in.Attachments),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}

	// 5. Submit in the same write when asked.
	var actions []model.ApprovalAction
	if in.SubmitNow {
		action, err := e.submitInto(ctx, &req, t, rctx.SubjectID, now)
		if err != nil {
			return model.ApprovalRequest{}, err
		}
		actions = append(actions, action)
	}

	// 6. Allocate a number once nothing but the write can fail.
	prefix := t.NumberPrefix
	if prefix == "" {
		prefix = e.defaultPrefix
	}
	number, err := e.numbers.Next(ctx, rctx.TenantID, prefix, now)
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("allocate request number: %w", err)
	}
	req.RequestNumber = number

	// 7. Persist request and action atomically.
	if err := e.store.Create(ctx, req, actions...); err != nil {
		return model.ApprovalRequest{}, err
	}

	e.metrics.RecordRequestCreated(t.ID, string(req.Status))
	for _, a := range actions {
		e.metrics.RecordAction(t.ID, string(a.Type))
	}
	observability.RequestLogger(ctx, e.logger).Info("request created",
		zap.String("request_id", req.ID),
		zap.String("request_number", req.RequestNumber),
		zap.String("template_id", req.TemplateID),
		zap.String("status", string(req.Status)),
	)
	if req.Status == model.StatusPending {
		e.publish(ctx, notify.EventSubmitted, req, &actions[0], req.CurrentApproverID)
	}
	return req, nil
}

// UpdateDraft edits a DRAFT or SENT_BACK request. Answers are type-checked
// but need not be complete.
func (e *Engine) UpdateDraft(ctx context.Context, rctx *model.RequestContext, requestID string, ch Changes) (model.ApprovalRequest, error) {
	return observe(e, ctx, "update_draft", requestAttrs(rctx, requestID),
		func(ctx context.Context) (model.ApprovalRequest, error) {
			req, err := e.store.Get(ctx, rctx.TenantID, requestID)
			if err != nil {
				return model.ApprovalRequest{}, err
			}
			if req.Status != model.StatusDraft && req.Status != model.StatusSentBack {
				return model.ApprovalRequest{}, model.NewInvalidStateError(
					fmt.Sprintf("only DRAFT or SENT_BACK requests can be edited; request is %s", req.Status),
				)
			}
			if err := e.requireRequester(rctx, req, "edit"); err != nil {
				return model.ApprovalRequest{}, err
			}

			t, err := e.templateOf(req)
			if err != nil {
				return model.ApprovalRequest{}, err
			}

			next := req.Clone()
			applyChanges(&next, ch)
			if errs := template.CheckForm(t, next.FormData, false); len(errs) > 0 {
				e.metrics.RecordValidationFailure(t.ID)
				return model.ApprovalRequest{}, model.NewValidationError(errs)
			}
			next.UpdatedAt = e.now().UTC()

			return e.store.Transition(ctx, next, req.Status, nil)
		})
}

// Submit moves a DRAFT to PENDING at level 1, snapshotting the template's
// level chain.
func (e *Engine) Submit(ctx context.Context, rctx *model.RequestContext, requestID string) (model.ApprovalRequest, error) {
	return observe(e, ctx, "submit", requestAttrs(rctx, requestID),
		func(ctx context.Context) (model.ApprovalRequest, error) {
			req, err := e.store.Get(ctx, rctx.TenantID, requestID)
			if err != nil {
				return model.ApprovalRequest{}, err
			}
			if req.Status != model.StatusDraft {
				return model.ApprovalRequest{}, invalidState(StateOf(req), model.ActionSubmit)
			}
			if err := e.requireRequester(rctx, req, "submit"); err != nil {
				return model.ApprovalRequest{}, err
			}

			t, ok := e.templates.Active(req.TemplateID)
			if !ok {
				return model.ApprovalRequest{}, model.NewNotFoundError(
					fmt.Sprintf("template %q not found", req.TemplateID),
				)
			}
			if errs := template.CheckForm(t, req.FormData, true); len(errs) > 0 {
				e.metrics.RecordValidationFailure(t.ID)
				return model.ApprovalRequest{}, model.NewValidationError(errs)
			}

			next := req.Clone()
			action, err := e.submitInto(ctx, &next, t, rctx.SubjectID, e.now().UTC())
			if err != nil {
				return model.ApprovalRequest{}, err
			}
			saved, err := e.store.Transition(ctx, next, model.StatusDraft, &action)
			if err != nil {
				return model.ApprovalRequest{}, err
			}

			e.metrics.RecordAction(t.ID, string(action.Type))
			e.metrics.RecordEnteredPending(t.ID)
			e.logTransition(ctx, saved, action)
			e.publish(ctx, notify.EventSubmitted, saved, &action, saved.CurrentApproverID)
			return saved, nil
		})
}

// DiscardDraft deletes a DRAFT. Submitted requests are cancelled instead.
func (e *Engine) DiscardDraft(ctx context.Context, rctx *model.RequestContext, requestID string) error {
	_, err := observe(e, ctx, "discard_draft", requestAttrs(rctx, requestID),
		func(ctx context.Context) (struct{}, error) {
			req, err := e.store.Get(ctx, rctx.TenantID, requestID)
			if err != nil {
				return struct{}{}, err
			}
			if req.Status != model.StatusDraft {
				return struct{}{}, model.NewInvalidStateError(
					fmt.Sprintf("only DRAFT requests can be discarded; request is %s", req.Status),
				)
			}
			if err := e.requireRequester(rctx, req, "discard"); err != nil {
				return struct{}{}, err
			}
			if err := e.store.Delete(ctx, rctx.TenantID, requestID, req.Version); err != nil {
				return struct{}{}, err
			}
			observability.RequestLogger(ctx, e.logger).Info("draft discarded",
				zap.String("request_id", requestID))
			return struct{}{}, nil
		})
	return err
}

// submitInto turns req into a PENDING request at level 1 and returns the
// SUBMIT action. The level chain is snapshotted on the first submission
// only; a resubmission keeps the chain it was created with.
func (e *Engine) submitInto(ctx context.Context, req *model.ApprovalRequest, t model.ApprovalTemplate, actorID string, now time.Time) (model.ApprovalAction, error) {
	if req.Status == model.StatusDraft {
		req.Chain = snapshotChain(t)
		req.TotalLevels = len(req.Chain)
	}

	action := e.newAction(req.ID, model.ActionSubmit, 1, actorID, "", now)
	state, err := Apply(StateOf(*req), action)
	if err != nil {
		return model.ApprovalAction{}, err
	}
	if err := e.enterLevel(ctx, req, state.Level, now); err != nil {
		return model.ApprovalAction{}, err
	}

	req.Status = state.Status
	req.SubmittedAt = &now
	req.CompletedAt = nil
	req.UpdatedAt = now
	return action, nil
}

// enterLevel resolves and records the approver and deadline of level. The
// approver is persisted so later resolution for the same level is stable.
func (e *Engine) enterLevel(ctx context.Context, req *model.ApprovalRequest, level int, now time.Time) error {
	lvl, ok := model.LevelAt(req.Chain, level)
	if !ok {
		return fmt.Errorf("request %q has no level %d in its chain", req.ID, level)
	}

	ctx, span := observability.StartSpan(ctx, "directory.resolve_approver",
		observability.AttrRequestID.String(req.ID),
		observability.AttrLevel.Int(level),
	)
	user, err := e.directory.ResolveApprover(ctx, req.TenantID, lvl, req.Scope)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return err
	}

	req.CurrentLevel = level
	req.CurrentApproverID = user.ID
	req.SLADeadline = nil
	if d := model.LevelSLA(lvl, 0); d > 0 {
		deadline := now.Add(d)
		req.SLADeadline = &deadline
	}
	return nil
}

// snapshotChain copies the levels of t with each level's effective SLA
// resolved, so later template edits cannot affect in-flight requests.
func snapshotChain(t model.ApprovalTemplate) []model.ApprovalLevel {
	chain := make([]model.ApprovalLevel, len(t.Levels))
	for i, l := range t.Levels {
		if l.SLAHours <= 0 {
			l.SLAHours = t.DefaultSLAHours
		}
		chain[i] = l
	}
	slices.SortFunc(chain, func(a, b model.ApprovalLevel) int { return a.Index - b.Index })
	return chain
}

func applyChanges(req *model.ApprovalRequest, ch Changes) {
	if ch.FormData != nil {
		req.FormData = ch.FormData.Clone()
	}
	if ch.Attachments != nil {
		req.Attachments = slices.Clone(*ch.Attachments)
	}
	if ch.Scope != nil {
		req.Scope = *ch.Scope
	}
}

// templateOf returns the template a request was created from, active or not.
func (e *Engine) templateOf(req model.ApprovalRequest) (model.ApprovalTemplate, error) {
	t, ok := e.templates.Get(req.TemplateID)
	if !ok {
		return model.ApprovalTemplate{}, model.NewNotFoundError(
			fmt.Sprintf("template %q not found", req.TemplateID),
		)
	}
	return t, nil
}

func (e *Engine) newAction(requestID string, typ model.ActionType, level int, actorID, comment string, now time.Time) model.ApprovalAction {
	return model.ApprovalAction{
		ID:        uuid.New().String(),
		RequestID: requestID,
		Type:      typ,
		Level:     level,
		ActorID:   actorID,
		Comment:   comment,
		CreatedAt: now,
	}
}

// --- Authorization helpers ---

func (e *Engine) capabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	if e.capResolver == nil {
		return model.CapabilitySet{"*": true}, nil
	}
	caps, err := e.capResolver.Resolve(rctx)
	if err != nil {
		return nil, fmt.Errorf("resolve capabilities: %w", err)
	}
	return caps, nil
}

func (e *Engine) require(rctx *model.RequestContext, capability string) error {
	caps, err := e.capabilities(rctx)
	if err != nil {
		return err
	}
	if !caps.Has(capability) {
		return model.NewForbiddenError(fmt.Sprintf("missing capability %q", capability))
	}
	return nil
}

func (e *Engine) requireRequester(rctx *model.RequestContext, req model.ApprovalRequest, verb string) error {
	if rctx.SubjectID != req.RequesterID {
		return model.NewPermissionError(fmt.Sprintf("only the requester may %s this request", verb))
	}
	return e.require(rctx, model.CapRequestCreate)
}

// --- Instrumentation helpers ---

// observe wraps an engine operation in a span and records its duration,
// outcome and lost compare-and-swaps.
func observe[T any](e *Engine, ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := observability.StartSpan(ctx, "approval."+op, attrs...)
	start := time.Now()

	out, err := fn(ctx)

	outcome := "ok"
	if err != nil {
		outcome = model.CodeOf(err)
		if outcome == "" {
			outcome = model.ErrInternalError
		}
	}
	e.metrics.RecordOperation(op, outcome, time.Since(start))
	if outcome == model.ErrConflict {
		e.metrics.RecordConflict(op)
		observability.RequestLogger(ctx, e.logger).Warn("transition conflict",
			zap.String("operation", op), zap.Error(err))
	}
	observability.EndSpanWithError(span, err)
	return out, err
}

func requestAttrs(rctx *model.RequestContext, requestID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		observability.AttrRequestID.String(requestID),
		observability.AttrTenantID.String(rctx.TenantID),
		observability.AttrSubjectID.String(rctx.SubjectID),
	}
}

func (e *Engine) logTransition(ctx context.Context, req model.ApprovalRequest, action model.ApprovalAction) {
	observability.RequestLogger(ctx, e.logger).Info("request transitioned",
		zap.String("request_id", req.ID),
		zap.String("action", string(action.Type)),
		zap.Int("action_level", action.Level),
		zap.String("status", string(req.Status)),
		zap.Int("current_level", req.CurrentLevel),
		zap.String("current_approver_id", req.CurrentApproverID),
	)
}

// publish delivers a lifecycle event after commit. Failures are logged and
// counted, never returned.
func (e *Engine) publish(ctx context.Context, typ notify.EventType, req model.ApprovalRequest, action *model.ApprovalAction, recipientID string) {
	evt := notify.Event{
		ID:            uuid.New().String(),
		Type:          typ,
		TenantID:      req.TenantID,
		RequestID:     req.ID,
		RequestNumber: req.RequestNumber,
		TemplateID:    req.TemplateID,
		Status:        string(req.Status),
		Level:         req.CurrentLevel,
		RequesterID:   req.RequesterID,
		RecipientID:   recipientID,
		Deadline:      req.SLADeadline,
		OccurredAt:    e.now().UTC(),
		Trace:         observability.TraceCarrier(ctx),
	}
	if action != nil {
		evt.ActorID = action.ActorID
		evt.Comment = action.Comment
	}

	ctx, span := observability.StartSpan(ctx, "notify.publish",
		observability.AttrRequestID.String(req.ID),
	)
	err := e.notifier.Publish(ctx, evt)
	observability.EndSpanWithError(span, err)
	if err != nil {
		e.metrics.RecordNotificationFailure(string(typ))
		observability.RequestLogger(ctx, e.logger).Warn("notification failed",
			zap.String("event", string(typ)),
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}
}
