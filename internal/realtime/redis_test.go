package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mapvet/api/internal/engine"
)

func setupBuses(t *testing.T) (*RedisBus, *RedisBus) {
	s := miniredis.RunT(t)

	publisher, err := NewRedisBus("redis://"+s.Addr(), "mapvet:test")
	if err != nil {
		t.Fatalf("failed to create publisher bus: %v", err)
	}
	t.Cleanup(func() { publisher.Close() })

	subscriber, err := NewRedisBus("redis://"+s.Addr(), "mapvet:test")
	if err != nil {
		t.Fatalf("failed to create subscriber bus: %v", err)
	}
	t.Cleanup(func() { subscriber.Close() })

	return publisher, subscriber
}

func waitFor(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBroadcastReachesOtherInstances(t *testing.T) {
	publisher, subscriber := setupBuses(t)
	ctx := context.Background()

	received := make(chan Event, 1)
	err := subscriber.Subscribe(ctx, func(_ context.Context, event Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	err = publisher.Broadcast(ctx, "decision.recorded", map[string]any{"hello": "world"}, "m1", "userA")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	select {
	case event := <-received:
		if event.Type != "decision.recorded" {
			t.Errorf("event type = %q, want decision.recorded", event.Type)
		}
		if event.MissionID != "m1" || event.UserID != "userA" {
			t.Errorf("event routing = %s/%s, want m1/userA", event.MissionID, event.UserID)
		}
		if event.Origin != publisher.Origin() {
			t.Errorf("event origin = %q, want publisher's", event.Origin)
		}
		if event.Payload["hello"] != "world" {
			t.Errorf("payload = %v", event.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriberSkipsOwnEvents(t *testing.T) {
	publisher, subscriber := setupBuses(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []Event
	err := subscriber.Subscribe(ctx, func(_ context.Context, event Event) error {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// The subscriber's own event must be dropped; the foreign sentinel
	// published afterwards proves the loop has caught up past it.
	if err := subscriber.Broadcast(ctx, "conflict.vote", nil, "m1", "userA"); err != nil {
		t.Fatalf("Broadcast own event failed: %v", err)
	}
	if err := publisher.Broadcast(ctx, "sentinel", nil, "m1", "userA"); err != nil {
		t.Fatalf("Broadcast sentinel failed: %v", err)
	}

	waitFor(t, "sentinel event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	})
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Type != "sentinel" {
		t.Fatalf("received %d events (%v), want only the sentinel", len(got), got)
	}
}

func TestEnginesConvergeThroughBus(t *testing.T) {
	s := miniredis.RunT(t)
	ctx := context.Background()

	busA, err := NewRedisBus("redis://"+s.Addr(), "mapvet:test")
	if err != nil {
		t.Fatalf("failed to create bus A: %v", err)
	}
	defer busA.Close()
	busB, err := NewRedisBus("redis://"+s.Addr(), "mapvet:test")
	if err != nil {
		t.Fatalf("failed to create bus B: %v", err)
	}
	defer busB.Close()

	engineA := engine.New(engine.DefaultPolicy(), nil, nil, busA, nil)
	engineB := engine.New(engine.DefaultPolicy(), nil, nil, busB, nil)

	if err := busB.Subscribe(ctx, NewEngineMergeHandler(engineB)); err != nil {
		t.Fatalf("Subscribe B failed: %v", err)
	}

	_, _, err = engineA.RecordAction(ctx, engine.RecordInput{
		SuggestionID: "s1",
		FeatureID:    "f1",
		MissionID:    "m1",
		UserID:       "userA",
		Action:       engine.ActionApprove,
	})
	if err != nil {
		t.Fatalf("RecordAction approve failed: %v", err)
	}
	_, conflict, err := engineA.RecordAction(ctx, engine.RecordInput{
		SuggestionID: "s1",
		FeatureID:    "f1",
		MissionID:    "m1",
		UserID:       "userB",
		Action:       engine.ActionReject,
	})
	if err != nil {
		t.Fatalf("RecordAction reject failed: %v", err)
	}
	if conflict == nil {
		t.Fatal("expected a conflict on A")
	}

	waitFor(t, "records on B", func() bool {
		return len(engineB.FeatureHistory("f1")) == 2
	})
	waitFor(t, "conflict on B", func() bool {
		_, err := engineB.Conflict(conflict.ID)
		return err == nil
	})

	remote, err := engineB.Conflict(conflict.ID)
	if err != nil {
		t.Fatalf("Conflict on B failed: %v", err)
	}
	if remote.Status != engine.ConflictOpen {
		t.Errorf("remote conflict status = %q, want open", remote.Status)
	}
	if len(remote.ConflictingActions) != 2 {
		t.Errorf("remote conflict actions = %d, want 2", len(remote.ConflictingActions))
	}
}

func TestMergeHandlerIgnoresUnknownEvents(t *testing.T) {
	eng := engine.New(engine.DefaultPolicy(), nil, nil, nil, nil)
	handler := NewEngineMergeHandler(eng)

	err := handler(context.Background(), Event{
		ID:   "evt_1",
		Type: "something.else",
	})
	if err != nil {
		t.Fatalf("unknown event type should be ignored, got %v", err)
	}
}

func TestMergeHandlerSwallowsVoteForUnknownConflict(t *testing.T) {
	eng := engine.New(engine.DefaultPolicy(), nil, nil, nil, nil)
	handler := NewEngineMergeHandler(eng)

	err := handler(context.Background(), Event{
		ID:     "evt_2",
		Type:   "conflict.vote",
		UserID: "userA",
		Payload: map[string]any{
			"conflictId": "cfl_missing",
			"vote":       "approve",
			"weight":     0.3,
			"castAt":     time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		t.Fatalf("vote for unknown conflict should be swallowed, got %v", err)
	}
}
