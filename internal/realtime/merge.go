package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mapvet/api/internal/engine"
)

// NewEngineMergeHandler returns a Handler that folds remote events into the
// local engine via its idempotent Apply* operations. Events the handler does
// not recognize are ignored; a missing conflict is also ignored, since the
// full snapshot arrives with the next conflict.* event for it.
func NewEngineMergeHandler(eng *engine.Engine) Handler {
	return func(ctx context.Context, event Event) error {
		switch event.Type {
		case "decision.recorded":
			var record engine.DecisionRecord
			if err := decodeField(event.Payload, "record", &record); err != nil {
				return err
			}
			_, err := eng.ApplyDecision(ctx, record)
			return err

		case "conflict.opened", "conflict.extended", "conflict.resolved":
			var conflict engine.Conflict
			if err := decodeField(event.Payload, "conflict", &conflict); err != nil {
				return err
			}
			_, err := eng.ApplyConflict(ctx, conflict)
			return err

		case "conflict.vote":
			conflictID, _ := event.Payload["conflictId"].(string)
			voteValue, _ := event.Payload["vote"].(string)
			weight, _ := event.Payload["weight"].(float64)
			castAtRaw, _ := event.Payload["castAt"].(string)
			castAt, err := time.Parse(time.RFC3339Nano, castAtRaw)
			if err != nil {
				return fmt.Errorf("parse vote castAt %q: %w", castAtRaw, err)
			}
			_, err = eng.ApplyVote(ctx, conflictID, event.UserID, engine.ConflictVote{
				Vote:   engine.Vote(voteValue),
				Weight: weight,
				CastAt: castAt,
			})
			if engine.IsNotFound(err) {
				return nil
			}
			return err

		case "conflict.comment":
			conflictID, _ := event.Payload["conflictId"].(string)
			var comment engine.DiscussionComment
			if err := decodeField(event.Payload, "comment", &comment); err != nil {
				return err
			}
			_, err := eng.ApplyComment(ctx, conflictID, comment)
			if engine.IsNotFound(err) {
				return nil
			}
			return err
		}
		return nil
	}
}

// decodeField re-marshals a payload field through JSON into a typed value.
// Payloads arrive as map[string]any off the wire.
func decodeField(payload map[string]any, field string, out any) error {
	raw, ok := payload[field]
	if !ok {
		return fmt.Errorf("payload field %q is missing", field)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal payload field %q: %w", field, err)
	}
	if err := json.Unmarshal(jsonData, out); err != nil {
		return fmt.Errorf("decode payload field %q: %w", field, err)
	}
	return nil
}
