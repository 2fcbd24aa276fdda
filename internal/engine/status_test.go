package engine

import (
	"testing"
	"time"
)

func record(featureID, suggestionID string, action Action, at time.Time) DecisionRecord {
	return DecisionRecord{
		ID:           "dec_" + suggestionID + "_" + string(action) + at.Format("150405"),
		SuggestionID: suggestionID,
		FeatureID:    featureID,
		MissionID:    "m1",
		UserID:       "u1",
		Action:       action,
		CreatedAt:    at,
	}
}

func TestDeriveFeatureStatus(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	t.Run("pending without decisions", func(t *testing.T) {
		if got := DeriveFeatureStatus("f1", nil, nil); got != StatusPending {
			t.Fatalf("status = %q, want pending", got)
		}
	})

	t.Run("latest approve wins", func(t *testing.T) {
		records := []DecisionRecord{
			record("f1", "s1", ActionReject, t0),
			record("f1", "s1", ActionApprove, t1),
		}
		if got := DeriveFeatureStatus("f1", records, nil); got != StatusApproved {
			t.Fatalf("status = %q, want approved", got)
		}
	})

	t.Run("modify and comment alone stay pending", func(t *testing.T) {
		records := []DecisionRecord{
			record("f1", "s1", ActionModify, t0),
			record("f1", "s1", ActionComment, t1),
		}
		if got := DeriveFeatureStatus("f1", records, nil); got != StatusPending {
			t.Fatalf("status = %q, want pending", got)
		}
	})

	t.Run("open conflict overrides decisions", func(t *testing.T) {
		records := []DecisionRecord{
			record("f1", "s1", ActionApprove, t0),
			record("f1", "s1", ActionReject, t1),
		}
		conflicts := []Conflict{{ID: "c1", SuggestionID: "s1", Status: ConflictOpen}}
		if got := DeriveFeatureStatus("f1", records, conflicts); got != StatusConflict {
			t.Fatalf("status = %q, want conflict", got)
		}
	})

	t.Run("majority resolution counts as approval", func(t *testing.T) {
		records := []DecisionRecord{
			record("f1", "s1", ActionApprove, t0),
			record("f1", "s1", ActionReject, t1),
		}
		conflicts := []Conflict{{
			ID:           "c1",
			SuggestionID: "s1",
			Status:       ConflictResolved,
			Resolution:   ResolutionMajority,
			ResolvedAt:   &t2,
		}}
		if got := DeriveFeatureStatus("f1", records, conflicts); got != StatusApproved {
			t.Fatalf("status = %q, want approved", got)
		}
	})

	t.Run("withdrawn resolution counts as rejection", func(t *testing.T) {
		records := []DecisionRecord{
			record("f1", "s1", ActionReject, t0),
			record("f1", "s1", ActionApprove, t1),
		}
		conflicts := []Conflict{{
			ID:           "c1",
			SuggestionID: "s1",
			Status:       ConflictResolved,
			Resolution:   ResolutionWithdrawn,
			ResolvedAt:   &t2,
		}}
		if got := DeriveFeatureStatus("f1", records, conflicts); got != StatusRejected {
			t.Fatalf("status = %q, want rejected", got)
		}
	})

	t.Run("resolved without verdict", func(t *testing.T) {
		records := []DecisionRecord{record("f1", "s1", ActionModify, t0)}
		conflicts := []Conflict{{
			ID:           "c1",
			SuggestionID: "s1",
			Status:       ConflictResolved,
			Resolution:   ResolutionDiscussion,
			ResolvedAt:   &t1,
		}}
		if got := DeriveFeatureStatus("f1", records, conflicts); got != StatusResolvedState {
			t.Fatalf("status = %q, want resolved", got)
		}
	})

	t.Run("unrelated conflicts are ignored", func(t *testing.T) {
		records := []DecisionRecord{record("f1", "s1", ActionApprove, t0)}
		conflicts := []Conflict{{ID: "c9", SuggestionID: "s-other", Status: ConflictOpen}}
		if got := DeriveFeatureStatus("f1", records, conflicts); got != StatusApproved {
			t.Fatalf("status = %q, want approved", got)
		}
	})
}
