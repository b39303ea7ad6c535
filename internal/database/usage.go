// Package database defines the insertions to the usage event table
package database

import (
	"context"
	"database/sql"
	"fmt"

	"inference-gateway/internal/telemetry"
)

// SQLSink appends usage records to the external usage_event table through the
// write DSN. The table is append-only from the gateway's point of view;
// aggregation and billing live in the administration tool.
type SQLSink struct {
	db *sql.DB
}

func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

func (s *SQLSink) Append(ctx context.Context, record *telemetry.Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO usage_event (
            event_type, customer_id, request_id, model_id,
            input_tokens, output_tokens, token_count,
            duration_ms, error, deprecated_token, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.EventType, record.CustomerID, record.RequestID, record.ModelID,
		record.InputTokens, record.OutputTokens, record.TokenCount,
		record.DurationMS, record.Error, record.Deprecated, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save usage event: %w", err)
	}
	return nil
}
