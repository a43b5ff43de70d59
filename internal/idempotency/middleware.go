package idempotency

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/model"
)

// HeaderKey is the request header carrying the client's idempotency key.
const HeaderKey = "X-Idempotency-Key"

// ReplayHeader is set on responses served from the store.
const ReplayHeader = "Idempotent-Replay"

// ErrorWriter renders an error envelope.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware deduplicates POST requests that carry an idempotency key.
type Middleware struct {
	store      Store
	ttl        time.Duration
	metrics    *observability.Metrics
	logger     *zap.Logger
	writeError ErrorWriter
}

// NewMiddleware creates the middleware. Requests without a RequestContext
// (unauthenticated routes) pass straight through.
func NewMiddleware(store Store, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger, writeError ErrorWriter) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{store: store, ttl: ttl, metrics: metrics, logger: logger, writeError: writeError}
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderKey)
		rctx := model.RequestContextFrom(r.Context())
		if r.Method != http.MethodPost || key == "" || rctx == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > 255 {
			m.writeError(w, r, model.NewBadRequestError(HeaderKey+" must be at most 255 characters"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			m.writeError(w, r, model.NewBadRequestError("failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		storeKey := FormatKey(rctx.TenantID, rctx.SubjectID, r.Method+" "+r.URL.Path, key)
		hash := HashBody(body)
		logger := observability.RequestLogger(r.Context(), m.logger)

		entry, token, err := m.store.Reserve(r.Context(), storeKey, hash, m.ttl)
		if err != nil {
			if model.CodeOf(err) == model.ErrConflict {
				m.writeError(w, r, err)
				return
			}
			// An unavailable store degrades to executing the request.
			logger.Warn("idempotency reserve failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if entry != nil {
			m.metrics.RecordIdempotentReplay()
			logger.Debug("idempotent replay", zap.String("idempotency_key", key))
			if entry.ContentType != "" {
				w.Header().Set("Content-Type", entry.ContentType)
			}
			w.Header().Set(ReplayHeader, "true")
			w.WriteHeader(entry.Status)
			_, _ = w.Write(entry.Body)
			return
		}

		// The reservation outlives a cancelled request context.
		storeCtx := context.WithoutCancel(r.Context())
		completed := false
		defer func() {
			if completed {
				return
			}
			if err := m.store.Release(storeCtx, storeKey, token); err != nil {
				logger.Warn("idempotency release failed", zap.Error(err))
			}
		}()

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Only successful responses are kept; anything else can be retried.
		if rec.status < 200 || rec.status >= 300 {
			return
		}
		saved := Entry{
			BodyHash:    hash,
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.buf.Bytes(),
		}
		if err := m.store.Complete(storeCtx, storeKey, token, saved, m.ttl); err != nil {
			logger.Warn("idempotency save failed", zap.Error(err))
			return
		}
		completed = true
	})
}

type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}
