package engine

import "time"

// DeriveFeatureStatus maps a feature's decision and conflict history to its
// current status. It is a pure function recomputed on demand, never stored,
// so derived status cannot drift from the log.
//
// Order of precedence: any open conflict touching the feature wins; then the
// most recent verdict, where a verdict is either an approve/reject decision
// or the outcome of a resolved conflict (majority counts as an approve at
// resolution time, withdrawn as a reject); then a resolved conflict that
// produced no verdict at all; otherwise the feature is still pending.
func DeriveFeatureStatus(featureID string, records []DecisionRecord, conflicts []Conflict) FeatureStatus {
	suggestions := make(map[string]struct{})
	var latest FeatureStatus
	var latestAt time.Time
	for i := range records {
		record := &records[i]
		if record.FeatureID != featureID {
			continue
		}
		suggestions[record.SuggestionID] = struct{}{}
		if record.Action != ActionApprove && record.Action != ActionReject {
			continue
		}
		if latest == "" || record.CreatedAt.After(latestAt) {
			latestAt = record.CreatedAt
			if record.Action == ActionApprove {
				latest = StatusApproved
			} else {
				latest = StatusRejected
			}
		}
	}

	hasResolved := false
	for i := range conflicts {
		conflict := &conflicts[i]
		if _, ok := suggestions[conflict.SuggestionID]; !ok {
			continue
		}
		if conflict.Status == ConflictOpen {
			return StatusConflict
		}
		hasResolved = true
		verdict := FeatureStatus("")
		switch conflict.Resolution {
		case ResolutionMajority:
			verdict = StatusApproved
		case ResolutionWithdrawn:
			verdict = StatusRejected
		}
		if verdict == "" || conflict.ResolvedAt == nil {
			continue
		}
		if latest == "" || conflict.ResolvedAt.After(latestAt) {
			latestAt = *conflict.ResolvedAt
			latest = verdict
		}
	}

	if latest != "" {
		return latest
	}
	if hasResolved {
		return StatusResolvedState
	}
	return StatusPending
}
