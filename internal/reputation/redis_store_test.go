package reputation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestUnknownUserStartsAtLevelOne(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	rep, err := store.UserReputation(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("UserReputation failed: %v", err)
	}
	if rep.Level != 1 || rep.Score != 0 {
		t.Errorf("expected level 1 score 0, got level %d score %.1f", rep.Level, rep.Score)
	}
}

func TestRecordEventAccumulatesScore(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := store.RecordEvent(ctx, "user-1", "user:validation_action", 1, nil); err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
	}

	rep, err := store.UserReputation(ctx, "user-1")
	if err != nil {
		t.Fatalf("UserReputation failed: %v", err)
	}
	if rep.Score != 3 {
		t.Errorf("expected score 3, got %.1f", rep.Score)
	}
	if rep.Level != 1 {
		t.Errorf("expected level 1, got %d", rep.Level)
	}
}

func TestScoreCrossesLevelBoundary(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.RecordEvent(ctx, "user-2", "user:constructive_comment", 120, nil); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	rep, err := store.UserReputation(ctx, "user-2")
	if err != nil {
		t.Fatalf("UserReputation failed: %v", err)
	}
	if rep.Level != 3 {
		t.Errorf("expected level 3 at score 120, got %d", rep.Level)
	}
}

func TestEventTrailIsTrimmed(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 110; i++ {
		if err := store.RecordEvent(ctx, "user-3", "user:validation_action", 1, nil); err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
	}

	events, err := s.List("reputation:user-3:events")
	if err != nil {
		t.Fatalf("reading event list failed: %v", err)
	}
	if len(events) != 100 {
		t.Errorf("expected trail capped at 100 events, got %d", len(events))
	}
}

func TestReputationIsolatedPerUser(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.RecordEvent(ctx, "user-a", "user:validation_action", 10, nil); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	repB, err := store.UserReputation(ctx, "user-b")
	if err != nil {
		t.Fatalf("UserReputation failed: %v", err)
	}
	if repB.Score != 0 {
		t.Errorf("user-b score = %.1f, want 0", repB.Score)
	}
}

func TestLevelForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  int
	}{
		{0, 1},
		{49, 1},
		{50, 2},
		{120, 3},
		{450, 10},
		{10000, 10},
		{-5, 1},
	}
	for _, c := range cases {
		if got := LevelForScore(c.score); got != c.want {
			t.Errorf("LevelForScore(%.0f) = %d, want %d", c.score, got, c.want)
		}
	}
}
