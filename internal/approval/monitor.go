package approval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sahidur/ams-sub001/internal/notify"
	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/model"
)

// Monitor watches SLA deadlines. A breach is advisory: it is logged,
// counted and announced once, and never changes the request.
type Monitor struct {
	engine *Engine

	mu       sync.Mutex
	notified map[breachKey]struct{}
}

type breachKey struct {
	requestID string
	level     int
	deadline  time.Time
}

// NewMonitor creates a Monitor over e's store and notifier.
func NewMonitor(e *Engine) *Monitor {
	return &Monitor{engine: e, notified: make(map[breachKey]struct{})}
}

// Sweep finds the requests that are overdue now, updates the overdue gauge
// and publishes a breach event for each (request, level, deadline) not yet
// announced. It returns the overdue requests.
func (m *Monitor) Sweep(ctx context.Context) ([]model.ApprovalRequest, error) {
	e := m.engine
	ctx, span := observability.StartSpan(ctx, "approval.sweep_overdue")
	now := e.now().UTC()

	overdue, err := e.store.FindOverdue(ctx, now)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}
	e.metrics.SetOverdueRequests(len(overdue))

	current := make(map[breachKey]struct{}, len(overdue))
	var fresh []model.ApprovalRequest
	m.mu.Lock()
	for _, req := range overdue {
		key := breachKey{requestID: req.ID, level: req.CurrentLevel, deadline: req.SLADeadline.UTC()}
		current[key] = struct{}{}
		if _, seen := m.notified[key]; !seen {
			fresh = append(fresh, req)
		}
	}
	// Forget breaches that are no longer overdue so the map stays bounded.
	m.notified = current
	m.mu.Unlock()

	for _, req := range fresh {
		e.metrics.RecordSLABreach(req.TemplateID)
		e.logger.Warn("sla breached",
			zap.String("request_id", req.ID),
			zap.String("tenant_id", req.TenantID),
			zap.String("request_number", req.RequestNumber),
			zap.Int("level", req.CurrentLevel),
			zap.String("current_approver_id", req.CurrentApproverID),
			zap.Time("sla_deadline", *req.SLADeadline),
		)
		e.publish(ctx, notify.EventSLABreached, req, nil, req.CurrentApproverID)
	}
	if len(overdue) > 0 {
		e.logger.Info("overdue sweep",
			zap.Int("overdue", len(overdue)),
			zap.Int("new_breaches", len(fresh)),
		)
	}
	return overdue, nil
}

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.engine.logger.Error("overdue sweep failed", zap.Error(err))
			}
		}
	}
}
