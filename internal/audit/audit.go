// Package audit provides fire-and-forget audit trail sinks. Audit failures
// are logged by the engine and never surface to callers.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mapvet/api/internal/engine"
)

// PostgresLog writes audit entries to the audit_events table.
type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Record(ctx context.Context, eventType, userID string, payload map[string]any, auditCtx engine.AuditContext) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, user_id, mission_id, entity_type, entity_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, eventType, userID, auditCtx.MissionID, auditCtx.EntityType, auditCtx.EntityID, payloadJSON)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
