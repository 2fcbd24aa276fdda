package engine

import (
	"strings"
	"time"
)

type UserBreakdown struct {
	Total     int `json:"total"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Conflicts int `json:"conflicts"`
}

type FeatureBreakdown struct {
	Total       int           `json:"total"`
	Status      FeatureStatus `json:"status"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

type DailyStats struct {
	Date       string `json:"date"`
	Actions    int    `json:"actions"`
	Approvals  int    `json:"approvals"`
	Rejections int    `json:"rejections"`
	Conflicts  int    `json:"conflicts"`
}

// ValidationStats is derived from the log and conflict set, never stored
// independently. Treat it as read-only: cache hits return the same object.
type ValidationStats struct {
	MissionID         string                      `json:"missionId"`
	Window            time.Duration               `json:"-"`
	Total             int                         `json:"total"`
	ByAction          map[Action]int              `json:"byAction"`
	ByStatus          map[FeatureStatus]int       `json:"byStatus"`
	OpenConflicts     int                         `json:"openConflicts"`
	ResolvedConflicts int                         `json:"resolvedConflicts"`
	ByUser            map[string]UserBreakdown    `json:"byUser"`
	ByFeature         map[string]FeatureBreakdown `json:"byFeature"`
	Daily             []DailyStats                `json:"daily"`
	ComputedAt        time.Time                   `json:"computedAt"`
}

type statsCacheEntry struct {
	stats     ValidationStats
	expiresAt time.Time
}

// Stats returns mission statistics, optionally limited to a trailing time
// window (0 means the whole log). Results are cached per (mission, window)
// for the configured TTL; any mutation for the mission evicts its entries
// eagerly and bumps the mission's invalidation generation, so a hit is
// always consistent with the log.
func (e *Engine) Stats(missionID string, window time.Duration) ValidationStats {
	key := statsKey(missionID, window)
	now := e.now()

	e.statsMu.RLock()
	entry, ok := e.statsCache[key]
	gen := e.statsGen[missionID]
	e.statsMu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.stats
	}

	stats := e.recomputeStats(missionID, window, now)
	e.cacheStats(key, missionID, gen, stats, now)
	return stats
}

// recomputeStats snapshots the mission's records and conflicts and derives
// fresh statistics from them.
func (e *Engine) recomputeStats(missionID string, window time.Duration, now time.Time) ValidationStats {
	e.mu.Lock()
	records := make([]DecisionRecord, 0)
	for i := range e.records {
		if e.records[i].MissionID == missionID {
			records = append(records, e.records[i].clone())
		}
	}
	conflicts := make([]Conflict, 0)
	for _, id := range e.conflictOrder {
		if e.conflicts[id].MissionID == missionID {
			conflicts = append(conflicts, e.conflicts[id].clone())
		}
	}
	e.mu.Unlock()

	return e.computeStats(missionID, window, records, conflicts, now)
}

// cacheStats inserts a recomputed entry unless the mission mutated while it
// was being computed. gen is the invalidation generation read before the
// snapshot; a moved generation means a mutation's eviction already ran, and
// caching the result would resurrect pre-mutation data for a full TTL. The
// caller still returns the result, it just is not cached.
func (e *Engine) cacheStats(key, missionID string, gen uint64, stats ValidationStats, now time.Time) {
	e.statsMu.Lock()
	if e.statsGen[missionID] == gen {
		e.statsCache[key] = statsCacheEntry{stats: stats, expiresAt: now.Add(e.policy.StatsTTL)}
	}
	e.statsMu.Unlock()
}

func (e *Engine) computeStats(missionID string, window time.Duration, records []DecisionRecord, conflicts []Conflict, now time.Time) ValidationStats {
	stats := ValidationStats{
		MissionID:  missionID,
		Window:     window,
		ByAction:   make(map[Action]int),
		ByStatus:   make(map[FeatureStatus]int),
		ByUser:     make(map[string]UserBreakdown),
		ByFeature:  make(map[string]FeatureBreakdown),
		ComputedAt: now.UTC(),
	}

	var cutoff time.Time
	if window > 0 {
		cutoff = now.Add(-window)
	}

	for i := range records {
		record := &records[i]
		if window > 0 && record.CreatedAt.Before(cutoff) {
			continue
		}
		stats.Total++
		stats.ByAction[record.Action]++

		user := stats.ByUser[record.UserID]
		user.Total++
		switch record.Action {
		case ActionApprove:
			user.Approved++
		case ActionReject:
			user.Rejected++
		}
		stats.ByUser[record.UserID] = user

		feature := stats.ByFeature[record.FeatureID]
		feature.Total++
		if record.CreatedAt.After(feature.LastUpdated) {
			feature.LastUpdated = record.CreatedAt
		}
		stats.ByFeature[record.FeatureID] = feature
	}

	// Feature status derives from the full mission history, not the window:
	// an open conflict keeps the feature in conflict no matter how old.
	for featureID, feature := range stats.ByFeature {
		feature.Status = DeriveFeatureStatus(featureID, records, conflicts)
		stats.ByFeature[featureID] = feature
		stats.ByStatus[feature.Status]++
	}

	for i := range conflicts {
		conflict := &conflicts[i]
		if conflict.Status == ConflictOpen {
			stats.OpenConflicts++
		} else {
			stats.ResolvedConflicts++
		}
		seen := make(map[string]struct{})
		for _, action := range conflict.ConflictingActions {
			if _, ok := seen[action.UserID]; ok {
				continue
			}
			seen[action.UserID] = struct{}{}
			user := stats.ByUser[action.UserID]
			user.Conflicts++
			stats.ByUser[action.UserID] = user
		}
	}

	stats.Daily = e.computeDaily(records, conflicts, now)
	return stats
}

// computeDaily builds the fixed trailing daily series (default 30 days),
// oldest day first.
func (e *Engine) computeDaily(records []DecisionRecord, conflicts []Conflict, now time.Time) []DailyStats {
	days := e.policy.TimeSeriesDays
	daily := make([]DailyStats, days)
	index := make(map[string]int, days)
	start := now.UTC().AddDate(0, 0, -(days - 1))
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		daily[i] = DailyStats{Date: date}
		index[date] = i
	}

	for i := range records {
		day, ok := index[records[i].CreatedAt.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		daily[day].Actions++
		switch records[i].Action {
		case ActionApprove:
			daily[day].Approvals++
		case ActionReject:
			daily[day].Rejections++
		}
	}
	for i := range conflicts {
		day, ok := index[conflicts[i].CreatedAt.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		daily[day].Conflicts++
	}
	return daily
}

func statsKey(missionID string, window time.Duration) string {
	return missionID + "|" + window.String()
}

// invalidateStats eagerly drops every cached entry for the mission and bumps
// its generation so an in-flight recompute that snapshotted older state
// cannot re-insert itself after this eviction.
func (e *Engine) invalidateStats(missionID string) {
	prefix := missionID + "|"
	e.statsMu.Lock()
	e.statsGen[missionID]++
	for key := range e.statsCache {
		if strings.HasPrefix(key, prefix) {
			delete(e.statsCache, key)
		}
	}
	e.statsMu.Unlock()
}
