package engine

import (
	"context"
	"strings"
	"time"
)

// Replica merge operations. When several engine instances mirror each other
// over the realtime bus, delivery is at-least-once and unordered, so every
// Apply* call is idempotent keyed by record/conflict id: replaying a seen
// event is a no-op, never a duplicate. Apply* does not re-run conflict
// detection or re-broadcast; the originating instance already did both.

// ApplyDecision merges a decision recorded on another instance.
// Returns false when the record id has been seen before.
func (e *Engine) ApplyDecision(ctx context.Context, record DecisionRecord) (bool, error) {
	if strings.TrimSpace(record.ID) == "" {
		return false, invalidActionError("record id is required")
	}
	if err := validateRecordInput(RecordInput{
		SuggestionID: record.SuggestionID,
		FeatureID:    record.FeatureID,
		MissionID:    record.MissionID,
		UserID:       record.UserID,
		Action:       record.Action,
	}); err != nil {
		return false, err
	}

	e.mu.Lock()
	if _, seen := e.recordIDs[record.ID]; seen {
		e.mu.Unlock()
		return false, nil
	}
	e.appendLocked(record.clone())
	records, conflicts := e.snapshotLocked()
	e.mu.Unlock()

	e.invalidateStats(record.MissionID)
	e.persist(ctx, records, conflicts)
	return true, nil
}

// ApplyConflict upserts a conflict snapshot from another instance. Merging
// is monotonic: a resolved status is never reopened, conflicting actions
// and discussion only grow, and each user's vote keeps the latest cast.
func (e *Engine) ApplyConflict(ctx context.Context, remote Conflict) (bool, error) {
	if strings.TrimSpace(remote.ID) == "" || strings.TrimSpace(remote.SuggestionID) == "" {
		return false, invalidActionError("conflict id and suggestionId are required")
	}

	e.mu.Lock()
	local, ok := e.conflicts[remote.ID]
	changed := false
	if !ok {
		merged := remote.clone()
		if merged.Votes == nil {
			merged.Votes = make(map[string]ConflictVote)
		}
		e.conflicts[merged.ID] = &merged
		e.conflictOrder = append(e.conflictOrder, merged.ID)
		if merged.Status == ConflictOpen {
			e.openBySuggestion[merged.SuggestionID] = merged.ID
		}
		changed = true
	} else {
		if len(remote.ConflictingActions) > len(local.ConflictingActions) {
			local.ConflictingActions = append([]ConflictingAction(nil), remote.ConflictingActions...)
			changed = true
		}
		if len(remote.Discussion) > len(local.Discussion) {
			local.Discussion = append([]DiscussionComment(nil), remote.Discussion...)
			changed = true
		}
		for userID, vote := range remote.Votes {
			existing, has := local.Votes[userID]
			if !has || vote.CastAt.After(existing.CastAt) {
				local.Votes[userID] = vote
				changed = true
			}
		}
		if remote.Status == ConflictResolved && local.Status == ConflictOpen {
			local.Status = ConflictResolved
			local.Resolution = remote.Resolution
			local.ResolvedBy = remote.ResolvedBy
			if remote.ResolvedAt != nil {
				resolvedAt := *remote.ResolvedAt
				local.ResolvedAt = &resolvedAt
			}
			delete(e.openBySuggestion, local.SuggestionID)
			changed = true
		}
	}
	var records []DecisionRecord
	var conflicts []Conflict
	if changed {
		records, conflicts = e.snapshotLocked()
	}
	e.mu.Unlock()

	if !changed {
		return false, nil
	}
	e.invalidateStats(remote.MissionID)
	e.persist(ctx, records, conflicts)
	return true, nil
}

// ApplyVote merges a single remote vote. A replayed vote (same user, same
// cast time or older) is a no-op, as is a vote arriving after the conflict
// resolved: resolved conflicts are immutable, and the conflict.resolved
// snapshot already carries the final vote map.
func (e *Engine) ApplyVote(ctx context.Context, conflictID, userID string, vote ConflictVote) (bool, error) {
	if !vote.Vote.Valid() {
		return false, invalidActionError("vote must be approve or reject")
	}

	e.mu.Lock()
	conflict, ok := e.conflicts[conflictID]
	if !ok {
		e.mu.Unlock()
		return false, notFoundError(conflictID)
	}
	if conflict.Status != ConflictOpen {
		e.mu.Unlock()
		return false, nil
	}
	existing, has := conflict.Votes[userID]
	if has && !vote.CastAt.After(existing.CastAt) {
		e.mu.Unlock()
		return false, nil
	}
	conflict.Votes[userID] = vote
	missionID := conflict.MissionID
	records, conflicts := e.snapshotLocked()
	e.mu.Unlock()

	e.invalidateStats(missionID)
	e.persist(ctx, records, conflicts)
	return true, nil
}

// ApplyComment merges a single remote discussion comment, keyed by comment id.
func (e *Engine) ApplyComment(ctx context.Context, conflictID string, comment DiscussionComment) (bool, error) {
	if strings.TrimSpace(comment.ID) == "" || strings.TrimSpace(comment.Message) == "" {
		return false, invalidActionError("comment id and message are required")
	}

	e.mu.Lock()
	conflict, ok := e.conflicts[conflictID]
	if !ok {
		e.mu.Unlock()
		return false, notFoundError(conflictID)
	}
	for i := range conflict.Discussion {
		if conflict.Discussion[i].ID == comment.ID {
			e.mu.Unlock()
			return false, nil
		}
	}
	conflict.Discussion = append(conflict.Discussion, comment)
	records, conflicts := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, records, conflicts)
	return true, nil
}

// ApplyResolution merges a remote terminal transition; replaying it against
// an already-resolved conflict is a no-op, not an error.
func (e *Engine) ApplyResolution(ctx context.Context, conflictID string, resolution Resolution, resolvedBy string, resolvedAt time.Time) (bool, error) {
	if !resolution.Valid() {
		return false, invalidActionError("resolution must be one of majority, admin, discussion, withdrawn")
	}

	e.mu.Lock()
	conflict, ok := e.conflicts[conflictID]
	if !ok {
		e.mu.Unlock()
		return false, notFoundError(conflictID)
	}
	if conflict.Status != ConflictOpen {
		e.mu.Unlock()
		return false, nil
	}
	at := resolvedAt.UTC()
	conflict.Status = ConflictResolved
	conflict.Resolution = resolution
	conflict.ResolvedBy = resolvedBy
	conflict.ResolvedAt = &at
	delete(e.openBySuggestion, conflict.SuggestionID)
	missionID := conflict.MissionID
	records, conflicts := e.snapshotLocked()
	e.mu.Unlock()

	e.invalidateStats(missionID)
	e.persist(ctx, records, conflicts)
	return true, nil
}
