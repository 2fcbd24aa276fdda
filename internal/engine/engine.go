// Package engine implements the validation and conflict-resolution core:
// an append-only decision log, synchronous conflict detection, weighted
// vote resolution, and cached per-mission statistics.
package engine

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"mapvet/api/internal/util"
)

type Reputation struct {
	Level int
	Score float64
}

type ReputationProvider interface {
	UserReputation(ctx context.Context, userID string) (Reputation, error)
	RecordEvent(ctx context.Context, userID, eventType string, weight float64, metadata map[string]any) error
}

type AuditContext struct {
	MissionID  string
	EntityType string
	EntityID   string
}

type AuditSink interface {
	Record(ctx context.Context, eventType, userID string, payload map[string]any, auditCtx AuditContext) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, payload map[string]any, missionID, userID string) error
}

type Persistence interface {
	Load(ctx context.Context) ([]DecisionRecord, []Conflict, error)
	Save(ctx context.Context, records []DecisionRecord, conflicts []Conflict) error
}

// Policy bundles the resolution heuristics inherited from the original
// validation flow. They are deliberate configuration, not constants: the
// 0.6 threshold and level-based weighting are product decisions.
type Policy struct {
	VoteThreshold       float64
	WeightPerLevel      float64
	MinRewardCommentLen int
	StatsTTL            time.Duration
	TimeSeriesDays      int
}

func DefaultPolicy() Policy {
	return Policy{
		VoteThreshold:       0.6,
		WeightPerLevel:      0.1,
		MinRewardCommentLen: 20,
		StatsTTL:            5 * time.Minute,
		TimeSeriesDays:      30,
	}
}

// Engine owns the decision log and conflict set. All four mutating
// operations run under a single mutex; collaborator side effects happen
// after the authoritative state is updated and never fail the caller.
type Engine struct {
	policy      Policy
	reputation  ReputationProvider
	audit       AuditSink
	broadcaster Broadcaster
	persistence Persistence
	now         func() time.Time

	mu               sync.Mutex
	records          []DecisionRecord
	recordIDs        map[string]struct{}
	bySuggestion     map[string][]int
	conflicts        map[string]*Conflict
	conflictOrder    []string
	openBySuggestion map[string]string

	statsMu    sync.RWMutex
	statsCache map[string]statsCacheEntry
	statsGen   map[string]uint64
}

// New constructs an engine. Any collaborator may be nil, in which case its
// side effects are skipped.
func New(policy Policy, reputation ReputationProvider, audit AuditSink, broadcaster Broadcaster, persistence Persistence) *Engine {
	if policy.VoteThreshold <= 0 {
		policy.VoteThreshold = DefaultPolicy().VoteThreshold
	}
	if policy.WeightPerLevel <= 0 {
		policy.WeightPerLevel = DefaultPolicy().WeightPerLevel
	}
	if policy.MinRewardCommentLen <= 0 {
		policy.MinRewardCommentLen = DefaultPolicy().MinRewardCommentLen
	}
	if policy.StatsTTL <= 0 {
		policy.StatsTTL = DefaultPolicy().StatsTTL
	}
	if policy.TimeSeriesDays <= 0 {
		policy.TimeSeriesDays = DefaultPolicy().TimeSeriesDays
	}
	return &Engine{
		policy:           policy,
		reputation:       reputation,
		audit:            audit,
		broadcaster:      broadcaster,
		persistence:      persistence,
		now:              time.Now,
		recordIDs:        make(map[string]struct{}),
		bySuggestion:     make(map[string][]int),
		conflicts:        make(map[string]*Conflict),
		openBySuggestion: make(map[string]string),
		statsCache:       make(map[string]statsCacheEntry),
		statsGen:         make(map[string]uint64),
	}
}

// Restore loads the decision log and conflict set from the persistence
// store. Called once at startup, before the engine serves callers.
func (e *Engine) Restore(ctx context.Context) error {
	if e.persistence == nil {
		return nil
	}
	records, conflicts, err := e.persistence.Load(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, record := range records {
		if _, seen := e.recordIDs[record.ID]; seen {
			continue
		}
		e.appendLocked(record.clone())
	}
	for i := range conflicts {
		conflict := conflicts[i].clone()
		if _, seen := e.conflicts[conflict.ID]; seen {
			continue
		}
		if conflict.Votes == nil {
			conflict.Votes = make(map[string]ConflictVote)
		}
		e.conflicts[conflict.ID] = &conflict
		e.conflictOrder = append(e.conflictOrder, conflict.ID)
		if conflict.Status == ConflictOpen {
			e.openBySuggestion[conflict.SuggestionID] = conflict.ID
		}
	}
	return nil
}

type RecordInput struct {
	SuggestionID string
	FeatureID    string
	MissionID    string
	UserID       string
	Action       Action
	Comment      string
	Metadata     *Metadata
}

// RecordAction appends a decision to the log and runs conflict detection.
// It never rejects a well-formed decision: a contradictory decision is
// recorded and reported as a conflict, not refused.
func (e *Engine) RecordAction(ctx context.Context, input RecordInput) (DecisionRecord, *Conflict, error) {
	if err := validateRecordInput(input); err != nil {
		return DecisionRecord{}, nil, err
	}

	record := DecisionRecord{
		ID:           util.NewID("dec"),
		SuggestionID: input.SuggestionID,
		FeatureID:    input.FeatureID,
		MissionID:    input.MissionID,
		UserID:       input.UserID,
		Action:       input.Action,
		Comment:      strings.TrimSpace(input.Comment),
		Metadata:     input.Metadata.clone(),
		CreatedAt:    e.now().UTC(),
	}

	e.mu.Lock()
	e.appendLocked(record.clone())
	conflict, created := e.detectConflictLocked(record)
	var conflictOut *Conflict
	if conflict != nil {
		snapshot := conflict.clone()
		conflictOut = &snapshot
	}
	records, conflicts := e.snapshotLocked()
	e.mu.Unlock()

	e.invalidateStats(record.MissionID)
	e.persist(ctx, records, conflicts)
	e.auditEvent(ctx, "decision.recorded", record.UserID, map[string]any{
		"recordId":     record.ID,
		"suggestionId": record.SuggestionID,
		"action":       string(record.Action),
	}, AuditContext{MissionID: record.MissionID, EntityType: "suggestion", EntityID: record.SuggestionID})
	e.reputationEvent(ctx, record.UserID, "validation_decision", 1, map[string]any{
		"recordId": record.ID,
		"action":   string(record.Action),
	})
	e.broadcast("decision.recorded", record.MissionID, record.UserID, map[string]any{
		"record": record,
	})
	if conflictOut != nil {
		eventType := "conflict.extended"
		if created {
			eventType = "conflict.opened"
		}
		e.auditEvent(ctx, eventType, record.UserID, map[string]any{
			"conflictId":   conflictOut.ID,
			"suggestionId": conflictOut.SuggestionID,
		}, AuditContext{MissionID: record.MissionID, EntityType: "conflict", EntityID: conflictOut.ID})
		e.broadcast(eventType, record.MissionID, record.UserID, map[string]any{
			"conflict": conflictOut,
		})
	}

	return record, conflictOut, nil
}

// VoteOnConflict records or replaces the user's vote and auto-resolves the
// conflict when the weighted tally for either option crosses the threshold.
func (e *Engine) VoteOnConflict(ctx context.Context, conflictID, userID string, vote Vote) (Conflict, bool, error) {
	if !vote.Valid() {
		return Conflict{}, false, invalidActionError("vote must be approve or reject")
	}
	if strings.TrimSpace(userID) == "" {
		return Conflict{}, false, invalidActionError("userId is required")
	}

	// Reputation is read before the engine lock so the mutating path stays
	// free of collaborator calls.
	weight := e.voteWeight(ctx, userID)

	e.mu.Lock()
	conflict, ok := e.conflicts[conflictID]
	if !ok {
		e.mu.Unlock()
		return Conflict{}, false, notFoundError(conflictID)
	}
	if conflict.Status != ConflictOpen {
		e.mu.Unlock()
		return Conflict{}, false, alreadyResolvedError(conflictID)
	}
	conflict.Votes[userID] = ConflictVote{Vote: vote, Weight: weight, CastAt: e.now().UTC()}
	resolved := e.maybeAutoResolveLocked(conflict)
	snapshot := conflict.clone()
	records, conflicts := e.snapshotLocked()
	e.mu.Unlock()

	e.invalidateStats(snapshot.MissionID)
	e.persist(ctx, records, conflicts)
	e.auditEvent(ctx, "conflict.vote", userID, map[string]any{
		"conflictId": conflictID,
		"vote":       string(vote),
		"weight":     weight,
	}, AuditContext{MissionID: snapshot.MissionID, EntityType: "conflict", EntityID: conflictID})
	e.broadcast("conflict.vote", snapshot.MissionID, userID, map[string]any{
		"conflictId": conflictID,
		"vote":       string(vote),
		"weight":     weight,
		"castAt":     snapshot.Votes[userID].CastAt,
	})
	if resolved {
		e.auditEvent(ctx, "conflict.resolved", snapshot.ResolvedBy, map[string]any{
			"conflictId": conflictID,
			"resolution": string(snapshot.Resolution),
		}, AuditContext{MissionID: snapshot.MissionID, EntityType: "conflict", EntityID: conflictID})
		e.broadcast("conflict.resolved", snapshot.MissionID, userID, map[string]any{
			"conflict": snapshot,
		})
	}
	return snapshot, resolved, nil
}

// ResolveConflict is the single terminal transition. Repeat calls fail with
// ALREADY_RESOLVED and leave the conflict untouched.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, resolution Resolution, resolvedBy string) (Conflict, error) {
	if !resolution.Valid() {
		return Conflict{}, invalidActionError("resolution must be one of majority, admin, discussion, withdrawn")
	}
	if strings.TrimSpace(resolvedBy) == "" {
		return Conflict{}, invalidActionError("resolvedBy is required")
	}

	e.mu.Lock()
	conflict, ok := e.conflicts[conflictID]
	if !ok {
		e.mu.Unlock()
		return Conflict{}, notFoundError(conflictID)
	}
	if conflict.Status != ConflictOpen {
		e.mu.Unlock()
		return Conflict{}, alreadyResolvedError(conflictID)
	}
	e.resolveLocked(conflict, resolution, resolvedBy)
	snapshot := conflict.clone()
	records, conflicts := e.snapshotLocked()
	e.mu.Unlock()

	e.invalidateStats(snapshot.MissionID)
	e.persist(ctx, records, conflicts)
	e.auditEvent(ctx, "conflict.resolved", resolvedBy, map[string]any{
		"conflictId": conflictID,
		"resolution": string(resolution),
	}, AuditContext{MissionID: snapshot.MissionID, EntityType: "conflict", EntityID: conflictID})
	e.broadcast("conflict.resolved", snapshot.MissionID, resolvedBy, map[string]any{
		"conflict": snapshot,
	})
	return snapshot, nil
}

// AddCommentToConflict appends to the discussion thread of an open
// conflict. Substantive comments earn a small reputation reward.
func (e *Engine) AddCommentToConflict(ctx context.Context, conflictID, userID, message string) (Conflict, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Conflict{}, invalidActionError("message is required")
	}
	if strings.TrimSpace(userID) == "" {
		return Conflict{}, invalidActionError("userId is required")
	}

	e.mu.Lock()
	conflict, ok := e.conflicts[conflictID]
	if !ok {
		e.mu.Unlock()
		return Conflict{}, notFoundError(conflictID)
	}
	if conflict.Status != ConflictOpen {
		e.mu.Unlock()
		return Conflict{}, alreadyResolvedError(conflictID)
	}
	comment := DiscussionComment{
		ID:        util.NewID("cmt"),
		UserID:    userID,
		Message:   message,
		CreatedAt: e.now().UTC(),
	}
	conflict.Discussion = append(conflict.Discussion, comment)
	snapshot := conflict.clone()
	records, conflicts := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, records, conflicts)
	e.auditEvent(ctx, "conflict.comment", userID, map[string]any{
		"conflictId": conflictID,
		"commentId":  comment.ID,
	}, AuditContext{MissionID: snapshot.MissionID, EntityType: "conflict", EntityID: conflictID})
	if len([]rune(message)) > e.policy.MinRewardCommentLen {
		e.reputationEvent(ctx, userID, "constructive_comment", 1, map[string]any{
			"conflictId": conflictID,
			"commentId":  comment.ID,
		})
	}
	e.broadcast("conflict.comment", snapshot.MissionID, userID, map[string]any{
		"conflictId": conflictID,
		"comment":    comment,
	})
	return snapshot, nil
}

// Conflict returns a snapshot of a single conflict.
func (e *Engine) Conflict(conflictID string) (Conflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conflict, ok := e.conflicts[conflictID]
	if !ok {
		return Conflict{}, notFoundError(conflictID)
	}
	return conflict.clone(), nil
}

// Conflicts returns mission conflicts, optionally filtered by status.
// Callers receive copies; internal state is never exposed.
func (e *Engine) Conflicts(missionID string, status ConflictStatus) []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := make([]Conflict, 0)
	for _, id := range e.conflictOrder {
		conflict := e.conflicts[id]
		if missionID != "" && conflict.MissionID != missionID {
			continue
		}
		if status != "" && conflict.Status != status {
			continue
		}
		items = append(items, conflict.clone())
	}
	return items
}

// FeatureHistory returns every decision recorded for the feature, in log order.
func (e *Engine) FeatureHistory(featureID string) []DecisionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := make([]DecisionRecord, 0)
	for i := range e.records {
		if e.records[i].FeatureID == featureID {
			items = append(items, e.records[i].clone())
		}
	}
	return items
}

// UserHistory returns a user's decisions, optionally scoped to a mission.
func (e *Engine) UserHistory(userID, missionID string) []DecisionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := make([]DecisionRecord, 0)
	for i := range e.records {
		if e.records[i].UserID != userID {
			continue
		}
		if missionID != "" && e.records[i].MissionID != missionID {
			continue
		}
		items = append(items, e.records[i].clone())
	}
	return items
}

// FeatureStatusNow derives the feature's current status from live state.
func (e *Engine) FeatureStatusNow(featureID string) FeatureStatus {
	e.mu.Lock()
	records := make([]DecisionRecord, len(e.records))
	copy(records, e.records)
	conflicts := make([]Conflict, 0, len(e.conflictOrder))
	for _, id := range e.conflictOrder {
		conflicts = append(conflicts, e.conflicts[id].clone())
	}
	e.mu.Unlock()
	return DeriveFeatureStatus(featureID, records, conflicts)
}

func validateRecordInput(input RecordInput) error {
	if strings.TrimSpace(input.SuggestionID) == "" {
		return invalidActionError("suggestionId is required")
	}
	if strings.TrimSpace(input.FeatureID) == "" {
		return invalidActionError("featureId is required")
	}
	if strings.TrimSpace(input.MissionID) == "" {
		return invalidActionError("missionId is required")
	}
	if strings.TrimSpace(input.UserID) == "" {
		return invalidActionError("userId is required")
	}
	if !input.Action.Valid() {
		return invalidActionError("action must be one of approve, reject, modify, comment")
	}
	return nil
}

func (e *Engine) appendLocked(record DecisionRecord) {
	e.records = append(e.records, record)
	e.recordIDs[record.ID] = struct{}{}
	e.bySuggestion[record.SuggestionID] = append(e.bySuggestion[record.SuggestionID], len(e.records)-1)
}

// detectConflictLocked implements the contradiction test: a prior decision
// on the same suggestion by a different user with a different action, both
// actions in {approve, reject, modify}. Returns the open conflict the new
// record joined (created or extended) or nil.
func (e *Engine) detectConflictLocked(record DecisionRecord) (*Conflict, bool) {
	if !record.Action.Contradictable() {
		return nil, false
	}

	contradicting := make([]DecisionRecord, 0)
	for _, idx := range e.bySuggestion[record.SuggestionID] {
		prior := e.records[idx]
		if prior.ID == record.ID {
			continue
		}
		if !prior.Action.Contradictable() {
			continue
		}
		if prior.UserID == record.UserID || prior.Action == record.Action {
			continue
		}
		contradicting = append(contradicting, prior)
	}
	if len(contradicting) == 0 {
		return nil, false
	}

	if conflictID, ok := e.openBySuggestion[record.SuggestionID]; ok {
		conflict := e.conflicts[conflictID]
		conflict.ConflictingActions = append(conflict.ConflictingActions, snapshotAction(record))
		return conflict, false
	}

	conflict := &Conflict{
		ID:           util.NewID("cfl"),
		SuggestionID: record.SuggestionID,
		FeatureID:    record.FeatureID,
		MissionID:    record.MissionID,
		Status:       ConflictOpen,
		Votes:        make(map[string]ConflictVote),
		CreatedAt:    e.now().UTC(),
	}
	for _, prior := range contradicting {
		conflict.ConflictingActions = append(conflict.ConflictingActions, snapshotAction(prior))
	}
	conflict.ConflictingActions = append(conflict.ConflictingActions, snapshotAction(record))
	e.conflicts[conflict.ID] = conflict
	e.conflictOrder = append(e.conflictOrder, conflict.ID)
	e.openBySuggestion[record.SuggestionID] = conflict.ID
	return conflict, true
}

func snapshotAction(record DecisionRecord) ConflictingAction {
	return ConflictingAction{
		UserID:    record.UserID,
		Action:    record.Action,
		Comment:   record.Comment,
		DecidedAt: record.CreatedAt,
	}
}

func (e *Engine) maybeAutoResolveLocked(conflict *Conflict) bool {
	var approveWeight, rejectWeight float64
	for _, vote := range conflict.Votes {
		switch vote.Vote {
		case VoteApprove:
			approveWeight += vote.Weight
		case VoteReject:
			rejectWeight += vote.Weight
		}
	}
	total := approveWeight + rejectWeight
	if total <= 0 {
		return false
	}
	if approveWeight/total >= e.policy.VoteThreshold {
		e.resolveLocked(conflict, ResolutionMajority, "system")
		return true
	}
	if rejectWeight/total >= e.policy.VoteThreshold {
		e.resolveLocked(conflict, ResolutionWithdrawn, "system")
		return true
	}
	return false
}

func (e *Engine) resolveLocked(conflict *Conflict, resolution Resolution, resolvedBy string) {
	resolvedAt := e.now().UTC()
	conflict.Status = ConflictResolved
	conflict.Resolution = resolution
	conflict.ResolvedBy = resolvedBy
	conflict.ResolvedAt = &resolvedAt
	delete(e.openBySuggestion, conflict.SuggestionID)
}

func (e *Engine) snapshotLocked() ([]DecisionRecord, []Conflict) {
	records := make([]DecisionRecord, 0, len(e.records))
	for i := range e.records {
		records = append(records, e.records[i].clone())
	}
	conflicts := make([]Conflict, 0, len(e.conflictOrder))
	for _, id := range e.conflictOrder {
		conflicts = append(conflicts, e.conflicts[id].clone())
	}
	return records, conflicts
}

func (e *Engine) voteWeight(ctx context.Context, userID string) float64 {
	level := 1
	if e.reputation != nil {
		rep, err := e.reputation.UserReputation(ctx, userID)
		if err != nil {
			log.Printf("engine: reputation lookup for %s failed, using minimum weight: %v", userID, err)
		} else if rep.Level > 0 {
			level = rep.Level
		}
	}
	return float64(level) * e.policy.WeightPerLevel
}

func (e *Engine) persist(ctx context.Context, records []DecisionRecord, conflicts []Conflict) {
	if e.persistence == nil {
		return
	}
	if err := e.persistence.Save(ctx, records, conflicts); err != nil {
		log.Printf("engine: persistence save failed: %v", err)
	}
}

func (e *Engine) auditEvent(ctx context.Context, eventType, userID string, payload map[string]any, auditCtx AuditContext) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, eventType, userID, payload, auditCtx); err != nil {
		log.Printf("engine: audit %s failed: %v", eventType, err)
	}
}

func (e *Engine) reputationEvent(ctx context.Context, userID, eventType string, weight float64, metadata map[string]any) {
	if e.reputation == nil {
		return
	}
	if err := e.reputation.RecordEvent(ctx, userID, eventType, weight, metadata); err != nil {
		log.Printf("engine: reputation event %s failed: %v", eventType, err)
	}
}

// broadcast is fire-and-forget: best-effort, at-least-once, no ordering
// guarantee across channels. A fresh context is used so a cancelled
// request does not drop the event.
func (e *Engine) broadcast(channel, missionID, userID string, payload map[string]any) {
	if e.broadcaster == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.broadcaster.Broadcast(ctx, channel, payload, missionID, userID); err != nil {
			log.Printf("engine: broadcast %s failed: %v", channel, err)
		}
	}()
}
