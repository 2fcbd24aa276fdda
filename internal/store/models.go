package store

import (
	"encoding/json"
	"fmt"
	"time"

	"mapvet/api/internal/engine"
)

// Row types mirror the decisions and conflicts tables. Nested structures
// (metadata, conflicting actions, discussion, votes) travel as JSONB; the
// engine owns their shape, the store only round-trips them.

type decisionRow struct {
	ID           string
	SuggestionID string
	FeatureID    string
	MissionID    string
	UserID       string
	Action       string
	Comment      string
	Metadata     []byte
	CreatedAt    time.Time
}

func decisionToRow(record engine.DecisionRecord) (decisionRow, error) {
	var metadata []byte
	if record.Metadata != nil {
		encoded, err := json.Marshal(record.Metadata)
		if err != nil {
			return decisionRow{}, fmt.Errorf("marshal decision metadata: %w", err)
		}
		metadata = encoded
	}
	return decisionRow{
		ID:           record.ID,
		SuggestionID: record.SuggestionID,
		FeatureID:    record.FeatureID,
		MissionID:    record.MissionID,
		UserID:       record.UserID,
		Action:       string(record.Action),
		Comment:      record.Comment,
		Metadata:     metadata,
		CreatedAt:    record.CreatedAt,
	}, nil
}

func (r decisionRow) toRecord() (engine.DecisionRecord, error) {
	record := engine.DecisionRecord{
		ID:           r.ID,
		SuggestionID: r.SuggestionID,
		FeatureID:    r.FeatureID,
		MissionID:    r.MissionID,
		UserID:       r.UserID,
		Action:       engine.Action(r.Action),
		Comment:      r.Comment,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		var metadata engine.Metadata
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return engine.DecisionRecord{}, fmt.Errorf("decode decision metadata for %s: %w", r.ID, err)
		}
		record.Metadata = &metadata
	}
	return record, nil
}

type conflictRow struct {
	ID                 string
	SuggestionID       string
	FeatureID          string
	MissionID          string
	Status             string
	Resolution         string
	ResolvedBy         string
	ResolvedAt         *time.Time
	ConflictingActions []byte
	Discussion         []byte
	Votes              []byte
	CreatedAt          time.Time
}

func conflictToRow(conflict engine.Conflict) (conflictRow, error) {
	actions, err := json.Marshal(conflict.ConflictingActions)
	if err != nil {
		return conflictRow{}, fmt.Errorf("marshal conflicting actions: %w", err)
	}
	discussion, err := json.Marshal(conflict.Discussion)
	if err != nil {
		return conflictRow{}, fmt.Errorf("marshal discussion: %w", err)
	}
	votes, err := json.Marshal(conflict.Votes)
	if err != nil {
		return conflictRow{}, fmt.Errorf("marshal votes: %w", err)
	}
	return conflictRow{
		ID:                 conflict.ID,
		SuggestionID:       conflict.SuggestionID,
		FeatureID:          conflict.FeatureID,
		MissionID:          conflict.MissionID,
		Status:             string(conflict.Status),
		Resolution:         string(conflict.Resolution),
		ResolvedBy:         conflict.ResolvedBy,
		ResolvedAt:         conflict.ResolvedAt,
		ConflictingActions: actions,
		Discussion:         discussion,
		Votes:              votes,
		CreatedAt:          conflict.CreatedAt,
	}, nil
}

func (r conflictRow) toConflict() (engine.Conflict, error) {
	conflict := engine.Conflict{
		ID:           r.ID,
		SuggestionID: r.SuggestionID,
		FeatureID:    r.FeatureID,
		MissionID:    r.MissionID,
		Status:       engine.ConflictStatus(r.Status),
		Resolution:   engine.Resolution(r.Resolution),
		ResolvedBy:   r.ResolvedBy,
		ResolvedAt:   r.ResolvedAt,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.ConflictingActions) > 0 {
		if err := json.Unmarshal(r.ConflictingActions, &conflict.ConflictingActions); err != nil {
			return engine.Conflict{}, fmt.Errorf("decode conflicting actions for %s: %w", r.ID, err)
		}
	}
	if len(r.Discussion) > 0 {
		if err := json.Unmarshal(r.Discussion, &conflict.Discussion); err != nil {
			return engine.Conflict{}, fmt.Errorf("decode discussion for %s: %w", r.ID, err)
		}
	}
	if len(r.Votes) > 0 {
		if err := json.Unmarshal(r.Votes, &conflict.Votes); err != nil {
			return engine.Conflict{}, fmt.Errorf("decode votes for %s: %w", r.ID, err)
		}
	}
	if conflict.Votes == nil {
		conflict.Votes = make(map[string]engine.ConflictVote)
	}
	return conflict, nil
}
