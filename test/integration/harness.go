// Package integration provides a reusable test harness for end-to-end
// testing of the approvals API. It starts the full HTTP stack with in-memory
// or miniredis-backed stores and a test JWT issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/sahidur/ams-sub001/internal/access"
	"github.com/sahidur/ams-sub001/internal/approval"
	"github.com/sahidur/ams-sub001/internal/config"
	"github.com/sahidur/ams-sub001/internal/idempotency"
	"github.com/sahidur/ams-sub001/internal/notify"
	"github.com/sahidur/ams-sub001/internal/numbering"
	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/internal/openapi"
	"github.com/sahidur/ams-sub001/internal/template"
	"github.com/sahidur/ams-sub001/internal/transport"
	"github.com/sahidur/ams-sub001/model"
)

// TestHarness encapsulates a fully wired approvals instance.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Engine   *approval.Engine
	Monitor  *approval.Monitor
	Store    *approval.MemoryStore
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Events   *EventRecorder
	Clock    *Clock
	Redis    *miniredis.Miniredis

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	templateDirs   []string
	policyFile     string
	useRedis       bool
	handlerTimeout time.Duration
	start          time.Time
}

// WithTemplates sets the template directories to load.
func WithTemplates(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.templateDirs = dirs
	}
}

// WithPolicyFile sets the access policy file.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithRedis backs numbering, idempotency and event publishing with a
// miniredis instance.
func WithRedis() HarnessOption {
	return func(c *harnessConfig) {
		c.useRedis = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithStartTime sets the engine clock's initial time.
func WithStartTime(at time.Time) HarnessOption {
	return func(c *harnessConfig) {
		c.start = at
	}
}

// NewTestHarness creates and starts a full test instance. The server is
// cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		start:          time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.templateDirs) == 0 {
		hc.templateDirs = []string{filepath.Join(testdataDir(), "templates")}
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(testdataDir(), "policy.yaml")
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
	h := &TestHarness{
		t:        t,
		Registry: prometheus.NewRegistry(),
		Events:   &EventRecorder{},
		Clock:    &Clock{now: hc.start},
		Store:    approval.NewMemoryStore(),
	}
	h.Metrics = observability.InitMetrics(h.Registry)

	// Step 1: Load templates and policy.
	templates, err := template.NewLoader().LoadAll(hc.templateDirs)
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	if verrs := template.NewValidator().Validate(templates); len(verrs) > 0 {
		t.Fatalf("template validation: %v", verrs)
	}
	registry := template.NewRegistry(templates)

	policy, err := access.NewStaticPolicy(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	resolver := access.NewResolver(policy, 0, 0, h.Metrics) // no caching in tests

	// Step 2: Stores, sequencer and notifier.
	var seq numbering.Sequencer = numbering.NewMemorySequencer()
	var idemp idempotency.Store = idempotency.NewMemoryStore()
	var notifier notify.Notifier = h.Events
	checks := observability.ReadinessChecks{TemplatesLoaded: registry.Loaded, Store: h.Store}
	if hc.useRedis {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		seq = numbering.NewRedisSequencer(client)
		idemp = idempotency.NewRedisStore(client)
		notifier = notify.Multi{h.Events, notify.NewRedisNotifier(client, eventsChannel)}
		checks.Redis = redisPing{client}
	}

	h.Engine = approval.NewEngine(registry, h.Store, policy, resolver,
		approval.WithMetrics(h.Metrics),
		approval.WithLogger(logger),
		approval.WithNotifier(notifier),
		approval.WithNumbers(numbering.NewAllocator(seq), "REQ"),
		approval.WithClock(h.Clock.Now),
	)
	h.Monitor = approval.NewMonitor(h.Engine)

	// Step 3: JWT issuer and config.
	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Templates.Directories = hc.templateDirs
	h.cfg.Access.PolicyFile = hc.policyFile
	h.cfg.Idempotency.Enabled = true

	doc, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatalf("load OpenAPI document: %v", err)
	}

	// Step 4: Router with the full middleware chain.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour, logger)
	writeError := transport.ErrorWriter(logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Engine:       h.Engine,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Idempotency:  idempotency.NewMiddleware(idemp, time.Hour, h.Metrics, logger, writeError),
		Metrics:      h.Metrics,
		Gatherer:     h.Registry,
		Readiness:    checks,
		OpenAPI:      doc.Handler(),
		Logger:       logger,
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

const eventsChannel = "approvals.events"

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT for claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodGet, path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodPost, path, body, token, nil)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodPatch, path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodDelete, path, nil, token, nil)
}

// Do performs a request. A nil body sends no body; headers are added last.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	data := h.ReadBody(resp)
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks the response status and closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expected {
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the response status and parses the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and error code of an error response.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
	return body.Error
}

// --- Request helpers ---

// CreateLeave creates a leave request as the holder of token.
func (h *TestHarness) CreateLeave(t *testing.T, token string, submit bool) model.ApprovalRequest {
	t.Helper()
	var req model.ApprovalRequest
	h.AssertJSON(t, h.POST("/api/requests", LeaveBody(submit), token), http.StatusCreated, &req)
	return req
}

// Act applies a decision and returns the response.
func (h *TestHarness) Act(requestID, action, comment, token string) *http.Response {
	h.t.Helper()
	return h.POST("/api/requests/"+requestID+"/actions",
		map[string]any{"action": action, "comment": comment}, token)
}

// LeaveBody is a valid annual leave creation body.
func LeaveBody(submit bool) map[string]any {
	return map[string]any{
		"template_id": "leave",
		"form_data": map[string]any{
			"leave_type": "annual",
			"start_date": "2026-03-16",
			"days":       5,
		},
		"submit": submit,
	}
}

// --- Default test claims ---

// AliceClaims is an employee of acme.
func AliceClaims() TestClaims {
	return TestClaims{SubjectID: "u-alice", TenantID: "acme", Email: "alice@acme.example.com"}
}

// BobClaims is another employee of acme.
func BobClaims() TestClaims {
	return TestClaims{SubjectID: "u-bob", TenantID: "acme"}
}

// ManagerClaims is acme's line manager.
func ManagerClaims() TestClaims {
	return TestClaims{SubjectID: "u-mgr", TenantID: "acme"}
}

// HRClaims is acme's HR officer.
func HRClaims() TestClaims {
	return TestClaims{SubjectID: "u-hr", TenantID: "acme"}
}

// FinanceClaims is the fixed purchase approver.
func FinanceClaims() TestClaims {
	return TestClaims{SubjectID: "u-finance", TenantID: "acme"}
}

// AuditorClaims may read and replay every acme request.
func AuditorClaims() TestClaims {
	return TestClaims{SubjectID: "u-audit", TenantID: "acme"}
}

// GlobexManagerClaims is a manager in another tenant.
func GlobexManagerClaims() TestClaims {
	return TestClaims{SubjectID: "u-gmgr", TenantID: "globex"}
}

// --- Supporting types ---

// Clock is a settable engine clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// EventRecorder keeps every published event.
type EventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

// Publish records evt.
func (r *EventRecorder) Publish(_ context.Context, evt notify.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

// Types returns the recorded event types for requestID, oldest first.
func (r *EventRecorder) Types(requestID string) []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.EventType
	for _, e := range r.events {
		if e.RequestID == requestID {
			out = append(out, e.Type)
		}
	}
	return out
}

// Last returns the most recent event of type typ.
func (r *EventRecorder) Last(typ notify.EventType) (notify.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return notify.Event{}, false
}

type redisPing struct {
	client redis.Cmdable
}

func (p redisPing) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
