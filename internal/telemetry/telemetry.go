// Package telemetry builds and emits one structured usage record per
// completed or failed call.
package telemetry

import (
	"context"
	"time"

	"inference-gateway/internal/metrics"

	"go.uber.org/zap"
)

const (
	EventInvoke = "invoke"
	EventStream = "stream"
	EventError  = "error"
)

// Record is created once per call at its terminal point and is immutable
// after emission. The gateway never persists records itself; they are written
// through to the external sink.
type Record struct {
	EventType    string    `json:"event_type"`
	CustomerID   string    `json:"customer_id"`
	RequestID    string    `json:"request_id"`
	ModelID      string    `json:"model_id"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TokenCount   int       `json:"token_count"`
	DurationMS   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
	Deprecated   bool      `json:"deprecated_token,omitempty"`
}

// Sink is the external append-only destination for usage records.
type Sink interface {
	Append(ctx context.Context, record *Record) error
}

type Emitter struct {
	sink Sink
	log  *zap.SugaredLogger
}

func NewEmitter(sink Sink, log *zap.SugaredLogger) *Emitter {
	return &Emitter{sink: sink, log: log}
}

// Emit finalizes the record and writes it through to the sink before
// returning, so no served call is left unaccounted. It never raises back to
// the caller: a sink fault is logged locally and swallowed.
func (e *Emitter) Emit(ctx context.Context, record *Record) {
	record.TokenCount = record.InputTokens + record.OutputTokens
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	e.log.Infow("usage_event",
		"event_type", record.EventType,
		"customer_id", record.CustomerID,
		"request_id", record.RequestID,
		"model_id", record.ModelID,
		"input_tokens", record.InputTokens,
		"output_tokens", record.OutputTokens,
		"token_count", record.TokenCount,
		"duration_ms", record.DurationMS,
		"error", record.Error,
	)

	metrics.RequestCount.WithLabelValues(record.ModelID, record.EventType).Inc()
	metrics.RequestDuration.WithLabelValues(record.ModelID, record.EventType).Observe(float64(record.DurationMS) / 1000)
	metrics.InputTokens.WithLabelValues(record.ModelID).Add(float64(record.InputTokens))
	metrics.OutputTokens.WithLabelValues(record.ModelID).Add(float64(record.OutputTokens))
	metrics.TotalTokens.WithLabelValues(record.ModelID).Add(float64(record.TokenCount))
	if record.EventType == EventError {
		metrics.ErrorCount.WithLabelValues(record.ModelID, "dispatch").Inc()
	}

	// The record must land even when the caller disconnected and the request
	// context is already canceled.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.sink.Append(appendCtx, record); err != nil {
		e.log.Errorw("Failed to append usage record", "error", err, "request_id", record.RequestID)
		metrics.ErrorCount.WithLabelValues(record.ModelID, "telemetry_sink").Inc()
	}
}
