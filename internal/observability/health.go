package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the readiness body.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks lists what /ready verifies. The template check always
// runs; the others only when set.
type ReadinessChecks struct {
	TemplatesLoaded func() bool

	Store       HealthChecker
	Redis       HealthChecker
	Idempotency HealthChecker
}

const checkTimeout = 2 * time.Second

var errNoTemplates = errors.New("no templates loaded")

type namedCheck struct {
	name string
	run  func(context.Context) error
}

func (c ReadinessChecks) list() []namedCheck {
	checks := []namedCheck{{
		name: "templates",
		run: func(context.Context) error {
			if c.TemplatesLoaded == nil || !c.TemplatesLoaded() {
				return errNoTemplates
			}
			return nil
		},
	}}
	for _, opt := range []struct {
		name    string
		checker HealthChecker
	}{
		{"request_store", c.Store},
		{"redis", c.Redis},
		{"idempotency_store", c.Idempotency},
	} {
		if opt.checker != nil {
			checks = append(checks, namedCheck{name: opt.name, run: opt.checker.HealthCheck})
		}
	}
	return checks
}

// HandleHealth serves the liveness endpoint. It never touches dependencies.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: ServiceName,
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady serves the readiness endpoint. Checks run concurrently with a
// per-check timeout; any failure makes the service not ready.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := checks.list()
		results := make([]CheckResult, len(list))

		var wg sync.WaitGroup
		for i, c := range list {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = runCheck(r.Context(), c.run)
			}()
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(list))}
		status := http.StatusOK
		for i, c := range list {
			resp.Checks[c.name] = results[i]
			if results[i].Status != "ok" {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
			}
		}
		writeHealthJSON(w, status, resp)
	}
}

func runCheck(parent context.Context, check func(context.Context) error) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
