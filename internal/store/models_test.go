package store

import (
	"reflect"
	"testing"
	"time"

	"mapvet/api/internal/engine"
)

func TestDecisionRowRoundTrip(t *testing.T) {
	original := engine.DecisionRecord{
		ID:           "dec_1",
		SuggestionID: "s1",
		FeatureID:    "f1",
		MissionID:    "m1",
		UserID:       "usr_avery",
		Action:       engine.ActionModify,
		Comment:      "moved to the surveyed position",
		Metadata: &engine.Metadata{
			Coordinates:    &engine.Coordinates{Lat: 52.52, Lon: 13.405},
			AccuracyMeters: 3.5,
			ModifiedProperties: map[string]string{
				"highway": "residential",
			},
		},
		CreatedAt: time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC),
	}

	row, err := decisionToRow(original)
	if err != nil {
		t.Fatalf("decisionToRow failed: %v", err)
	}
	restored, err := row.toRecord()
	if err != nil {
		t.Fatalf("toRecord failed: %v", err)
	}
	if !reflect.DeepEqual(original, restored) {
		t.Fatalf("round trip changed the record:\n got %+v\nwant %+v", restored, original)
	}
}

func TestDecisionRowWithoutMetadata(t *testing.T) {
	original := engine.DecisionRecord{
		ID:           "dec_2",
		SuggestionID: "s2",
		FeatureID:    "f1",
		MissionID:    "m1",
		UserID:       "usr_blair",
		Action:       engine.ActionApprove,
		CreatedAt:    time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC),
	}

	row, err := decisionToRow(original)
	if err != nil {
		t.Fatalf("decisionToRow failed: %v", err)
	}
	if row.Metadata != nil {
		t.Fatalf("expected nil metadata column, got %s", row.Metadata)
	}
	restored, err := row.toRecord()
	if err != nil {
		t.Fatalf("toRecord failed: %v", err)
	}
	if restored.Metadata != nil {
		t.Fatalf("expected nil metadata after round trip, got %+v", restored.Metadata)
	}
}

func TestConflictRowRoundTrip(t *testing.T) {
	created := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	resolvedAt := created.Add(time.Hour)
	original := engine.Conflict{
		ID:           "cfl_1",
		SuggestionID: "s1",
		FeatureID:    "f1",
		MissionID:    "m1",
		Status:       engine.ConflictResolved,
		Resolution:   engine.ResolutionMajority,
		ResolvedBy:   "system",
		ResolvedAt:   &resolvedAt,
		ConflictingActions: []engine.ConflictingAction{
			{UserID: "usr_avery", Action: engine.ActionApprove, DecidedAt: created},
			{UserID: "usr_blair", Action: engine.ActionReject, Comment: "demolished", DecidedAt: created.Add(time.Minute)},
		},
		Discussion: []engine.DiscussionComment{
			{ID: "cmt_1", UserID: "usr_casey", Message: "recent imagery shows the building", CreatedAt: created.Add(2 * time.Minute)},
		},
		Votes: map[string]engine.ConflictVote{
			"usr_casey": {Vote: engine.VoteApprove, Weight: 0.5, CastAt: created.Add(3 * time.Minute)},
		},
		CreatedAt: created,
	}

	row, err := conflictToRow(original)
	if err != nil {
		t.Fatalf("conflictToRow failed: %v", err)
	}
	restored, err := row.toConflict()
	if err != nil {
		t.Fatalf("toConflict failed: %v", err)
	}
	if !reflect.DeepEqual(original, restored) {
		t.Fatalf("round trip changed the conflict:\n got %+v\nwant %+v", restored, original)
	}
}

func TestConflictRowNilVotesBecomeEmptyMap(t *testing.T) {
	row := conflictRow{
		ID:        "cfl_2",
		Status:    string(engine.ConflictOpen),
		CreatedAt: time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC),
	}
	conflict, err := row.toConflict()
	if err != nil {
		t.Fatalf("toConflict failed: %v", err)
	}
	if conflict.Votes == nil {
		t.Fatal("expected an initialized votes map")
	}
}
