package store

import (
	"context"
	"database/sql"
	"fmt"

	"mapvet/api/internal/engine"
)

// PostgresStore persists the engine's decision log and conflict set. The
// engine hands over a full snapshot on every mutation; Save upserts it so
// replays and restarts converge on the same rows. Decisions are immutable,
// so their upsert is insert-or-skip; conflicts mutate until resolved, so
// theirs replaces.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Load(ctx context.Context) ([]engine.DecisionRecord, []engine.Conflict, error) {
	records, err := s.loadDecisions(ctx)
	if err != nil {
		return nil, nil, err
	}
	conflicts, err := s.loadConflicts(ctx)
	if err != nil {
		return nil, nil, err
	}
	return records, conflicts, nil
}

func (s *PostgresStore) loadDecisions(ctx context.Context) ([]engine.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suggestion_id, feature_id, mission_id, user_id, action, comment, metadata, created_at
		FROM decisions
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	defer rows.Close()

	items := make([]engine.DecisionRecord, 0)
	for rows.Next() {
		var row decisionRow
		if err := rows.Scan(
			&row.ID,
			&row.SuggestionID,
			&row.FeatureID,
			&row.MissionID,
			&row.UserID,
			&row.Action,
			&row.Comment,
			&row.Metadata,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) loadConflicts(ctx context.Context) ([]engine.Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suggestion_id, feature_id, mission_id, status, resolution, resolved_by, resolved_at,
			conflicting_actions, discussion, votes, created_at
		FROM conflicts
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load conflicts: %w", err)
	}
	defer rows.Close()

	items := make([]engine.Conflict, 0)
	for rows.Next() {
		var row conflictRow
		if err := rows.Scan(
			&row.ID,
			&row.SuggestionID,
			&row.FeatureID,
			&row.MissionID,
			&row.Status,
			&row.Resolution,
			&row.ResolvedBy,
			&row.ResolvedAt,
			&row.ConflictingActions,
			&row.Discussion,
			&row.Votes,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflict, err := row.toConflict()
		if err != nil {
			return nil, err
		}
		items = append(items, conflict)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Save(ctx context.Context, records []engine.DecisionRecord, conflicts []engine.Conflict) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, record := range records {
		row, err := decisionToRow(record)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO decisions (id, suggestion_id, feature_id, mission_id, user_id, action, comment, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, row.ID, row.SuggestionID, row.FeatureID, row.MissionID, row.UserID, row.Action, row.Comment, row.Metadata, row.CreatedAt); err != nil {
			return fmt.Errorf("upsert decision %s: %w", row.ID, err)
		}
	}

	for _, conflict := range conflicts {
		row, err := conflictToRow(conflict)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conflicts (id, suggestion_id, feature_id, mission_id, status, resolution, resolved_by, resolved_at,
				conflicting_actions, discussion, votes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				status=EXCLUDED.status,
				resolution=EXCLUDED.resolution,
				resolved_by=EXCLUDED.resolved_by,
				resolved_at=EXCLUDED.resolved_at,
				conflicting_actions=EXCLUDED.conflicting_actions,
				discussion=EXCLUDED.discussion,
				votes=EXCLUDED.votes
		`, row.ID, row.SuggestionID, row.FeatureID, row.MissionID, row.Status, row.Resolution, row.ResolvedBy, row.ResolvedAt,
			row.ConflictingActions, row.Discussion, row.Votes, row.CreatedAt); err != nil {
			return fmt.Errorf("upsert conflict %s: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
