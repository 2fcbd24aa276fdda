package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the decisions table using plainto_tsquery and ts_rank,
// with ts_headline for comment snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "d.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	if q.MissionID != "" {
		where += fmt.Sprintf(" AND d.mission_id = $%d", argN)
		args = append(args, q.MissionID)
		argN++
	}
	if q.Action != "" {
		where += fmt.Sprintf(" AND d.action = $%d", argN)
		args = append(args, q.Action)
		argN++
	}
	if q.UserID != "" {
		where += fmt.Sprintf(" AND d.user_id = $%d", argN)
		args = append(args, q.UserID)
		argN++
	}

	ctx := context.Background()

	countSQL := fmt.Sprintf(`SELECT count(*) FROM decisions d WHERE %s`, where)
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.suggestion_id, d.feature_id, d.mission_id, d.user_id, d.action,
			ts_headline('english', coalesce(d.comment, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM decisions d
		WHERE %s
		ORDER BY ts_rank(d.fts, plainto_tsquery('english', $1)) DESC, d.created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.SuggestionID, &r.FeatureID, &r.MissionID, &r.UserID, &r.Action, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllDecisions returns all decisions for full reindexing.
func (p *PgFTS) LoadAllDecisions(ctx context.Context) ([]DecisionDoc, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, suggestion_id, feature_id, mission_id, user_id, action, comment
		FROM decisions
	`)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	defer rows.Close()

	docs := make([]DecisionDoc, 0)
	for rows.Next() {
		var d DecisionDoc
		if err := rows.Scan(&d.ID, &d.SuggestionID, &d.FeatureID, &d.MissionID, &d.UserID, &d.Action, &d.Comment); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return docs, nil
}
