package invoke

import (
	"context"
	"strings"
	"time"

	"inference-gateway/internal/estimate"
	"inference-gateway/internal/extract"
	"inference-gateway/internal/shared"
	"inference-gateway/internal/telemetry"

	"go.uber.org/zap"
)

// Invocation carries one authenticated, normalized call through dispatch.
type Invocation struct {
	Ctx        context.Context
	CustomerID string
	RequestID  string
	Deprecated bool
	Req        *NormalizedRequest
	StartTime  time.Time
	Log        *zap.SugaredLogger
}

// FragmentWriter delivers one extracted fragment to the caller. Live mode
// passes a writer that flushes immediately; buffered mode collects instead.
type FragmentWriter func(text string) error

// DispatchSync runs the single-shot path: one backend round trip, output
// tokens computed from the response body's content, exactly one invoke
// record emitted before returning.
func (m *Manager) DispatchSync(inv *Invocation) (map[string]any, *shared.RequestError) {
	response, err := m.backend.Invoke(inv.Ctx, inv.Req.ModelID, inv.Req.Payload)
	if err != nil {
		inv.Log.Errorw("Backend invoke failed", "error", err)
		m.emit(inv, telemetry.EventError, 0, err.Error())
		return nil, shared.NewBackendError("%s", err.Error())
	}

	outputTokens := estimate.Tokens(extract.ResponseText(response), inv.Req.ModelID)
	m.emit(inv, telemetry.EventInvoke, outputTokens, "")
	return response, nil
}

// DispatchStream runs the streaming path. In live mode write delivers each
// fragment as it arrives; pass nil for buffered mode and the full fragment
// sequence (with its done sentinel) is returned instead. Both modes share the
// same extraction, concatenation, and telemetry logic.
//
// A mid-stream fault emits an error record whose output tokens cover the
// fragments already produced, not zero.
func (m *Manager) DispatchStream(inv *Invocation, write FragmentWriter) ([]map[string]any, *shared.RequestError) {
	live := write != nil
	var collected []map[string]any
	if !live {
		write = func(text string) error {
			collected = append(collected, map[string]any{"content": text})
			return nil
		}
	}

	var sb strings.Builder
	fragments := 0
	err := m.backend.InvokeStream(inv.Ctx, inv.Req.ModelID, inv.Req.Payload, func(chunk map[string]any) error {
		text := extract.ChunkText(chunk)
		if text == "" {
			return nil
		}
		if err := write(text); err != nil {
			return err
		}
		sb.WriteString(text)
		fragments++
		return nil
	})

	outputTokens := estimate.Tokens(sb.String(), inv.Req.ModelID)
	if err != nil {
		inv.Log.Errorw("Backend stream failed", "error", err, "fragments_forwarded", fragments)
		m.emit(inv, telemetry.EventError, outputTokens, err.Error())
		return nil, shared.NewBackendError("%s", err.Error())
	}

	m.emit(inv, telemetry.EventStream, outputTokens, "")
	if !live {
		collected = append(collected, map[string]any{"done": true})
	}
	return collected, nil
}

// emit writes the call's single usage record. Input tokens are estimated from
// the caller-supplied messages with the same aggregation rule used for output.
func (m *Manager) emit(inv *Invocation, eventType string, outputTokens int, errMsg string) {
	inputTokens := estimate.Tokens(extract.MessagesText(inv.Req.Payload), inv.Req.ModelID)
	m.emitter.Emit(inv.Ctx, &telemetry.Record{
		EventType:    eventType,
		CustomerID:   inv.CustomerID,
		RequestID:    inv.RequestID,
		ModelID:      inv.Req.ModelID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		DurationMS:   time.Since(inv.StartTime).Milliseconds(),
		Error:        errMsg,
		Deprecated:   inv.Deprecated,
	})
}
