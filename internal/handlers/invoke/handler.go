// Package invoke implements the gateway's request pipeline: credential
// verification, payload normalization, dispatch against the inference
// backend, and usage telemetry emission.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"inference-gateway/internal/auth"
	"inference-gateway/internal/ratelimit"
	"inference-gateway/internal/setup"
	"inference-gateway/internal/shared"
	"inference-gateway/internal/telemetry"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Backend is the inference backend collaborator.
type Backend interface {
	Invoke(ctx context.Context, modelID string, payload map[string]any) (map[string]any, error)
	InvokeStream(ctx context.Context, modelID string, payload map[string]any, onChunk func(map[string]any) error) error
}

type Manager struct {
	validator *auth.Validator
	backend   Backend
	emitter   *telemetry.Emitter
	limiter   ratelimit.Limiter
	log       *zap.SugaredLogger
}

func NewManager(validator *auth.Validator, backend Backend, emitter *telemetry.Emitter, limiter ratelimit.Limiter, log *zap.SugaredLogger) *Manager {
	return &Manager{
		validator: validator,
		backend:   backend,
		emitter:   emitter,
		limiter:   limiter,
		log:       log,
	}
}

// Invoke is the orchestrator for one inbound call: authenticate, normalize,
// dispatch, account. Every terminal outcome after authentication produces
// exactly one usage record; failures before the customer is known skip
// telemetry since there is nobody to attribute them to.
func (m *Manager) Invoke(cc echo.Context) error {
	c := cc.(*setup.Context)
	start := time.Now()
	ctx := c.Request().Context()

	identity, reqErr := m.validator.Validate(ctx, c.Request().Header.Get("Authorization"))
	if reqErr != nil {
		return respondError(c, reqErr)
	}
	c.Log = c.Log.With("customer_id", identity.CustomerID)

	m.limiter.Allow(ctx, identity.CustomerID)

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.Log.Warnw("Failed to read request body", "error", err)
		m.emitFailure(ctx, identity, c.Reqid, start, shared.ErrMalformedBody)
		return respondError(c, shared.ErrMalformedBody)
	}

	req, reqErr := Normalize(body)
	if reqErr != nil {
		c.Log.Infow("Rejected request body", "error", reqErr.Error())
		m.emitFailure(ctx, identity, c.Reqid, start, reqErr)
		return respondError(c, reqErr)
	}
	c.Log = c.Log.With("model_id", req.ModelID, "stream", req.Stream)

	inv := &Invocation{
		Ctx:        ctx,
		CustomerID: identity.CustomerID,
		RequestID:  c.Reqid,
		Deprecated: identity.Deprecated,
		Req:        req,
		StartTime:  start,
		Log:        c.Log,
	}

	if !req.Stream {
		response, reqErr := m.DispatchSync(inv)
		if reqErr != nil {
			return respondError(c, reqErr)
		}
		return c.JSON(http.StatusOK, response)
	}

	// The transport decides the delivery mode: live incremental frames when
	// it can flush, one buffered collection otherwise.
	if _, canFlush := c.Response().Writer.(http.Flusher); !canFlush {
		sequence, reqErr := m.DispatchStream(inv, nil)
		if reqErr != nil {
			return respondError(c, reqErr)
		}
		return c.JSON(http.StatusOK, sequence)
	}

	sse := &sseWriter{c: c}
	_, reqErr = m.DispatchStream(inv, sse.write)
	if reqErr != nil {
		// Nothing on the wire yet means the fault can still be a plain error
		// response. Once frames have gone out the status is committed, so the
		// fault is signaled in-stream instead of the normal end marker.
		if !sse.opened {
			return respondError(c, reqErr)
		}
		_, _ = fmt.Fprint(c.Response(), "data: [ERROR]\n\n")
		c.Response().Flush()
		return nil
	}
	sse.open()
	_, _ = fmt.Fprint(c.Response(), "data: [END]\n\n")
	c.Response().Flush()
	return nil
}

// emitFailure accounts a post-auth caller fault that never reached dispatch.
func (m *Manager) emitFailure(ctx context.Context, identity *auth.Identity, requestID string, start time.Time, reqErr *shared.RequestError) {
	m.emitter.Emit(ctx, &telemetry.Record{
		EventType:  telemetry.EventError,
		CustomerID: identity.CustomerID,
		RequestID:  requestID,
		DurationMS: time.Since(start).Milliseconds(),
		Error:      reqErr.Error(),
		Deprecated: identity.Deprecated,
	})
}

func respondError(c *setup.Context, reqErr *shared.RequestError) error {
	return c.JSON(reqErr.StatusCode, map[string]string{"error": reqErr.Error()})
}

// sseWriter frames fragments as SSE data events and flushes each one
// immediately. The response header is written lazily with the first frame, so
// a fault before any output still gets a plain error response. A disconnected
// caller stops fragment production promptly.
type sseWriter struct {
	c      *setup.Context
	opened bool
}

func (w *sseWriter) open() {
	if w.opened {
		return
	}
	w.opened = true
	h := w.c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.c.Response().WriteHeader(http.StatusOK)
}

func (w *sseWriter) write(text string) error {
	if err := w.c.Request().Context().Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return err
	}
	w.open()
	if _, err := fmt.Fprintf(w.c.Response(), "data: %s\n\n", payload); err != nil {
		return err
	}
	w.c.Response().Flush()
	return nil
}
