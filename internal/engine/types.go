package engine

import "time"

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionModify  Action = "modify"
	ActionComment Action = "comment"
)

func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionModify, ActionComment:
		return true
	default:
		return false
	}
}

// Contradictable reports whether the action participates in conflict
// detection. Comments are informational and never contradict anything.
func (a Action) Contradictable() bool {
	return a == ActionApprove || a == ActionReject || a == ActionModify
}

type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
)

func (v Vote) Valid() bool {
	return v == VoteApprove || v == VoteReject
}

type Resolution string

const (
	ResolutionMajority   Resolution = "majority"
	ResolutionAdmin      Resolution = "admin"
	ResolutionDiscussion Resolution = "discussion"
	ResolutionWithdrawn  Resolution = "withdrawn"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionMajority, ResolutionAdmin, ResolutionDiscussion, ResolutionWithdrawn:
		return true
	default:
		return false
	}
}

type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

type FeatureStatus string

const (
	StatusPending       FeatureStatus = "pending"
	StatusApproved      FeatureStatus = "approved"
	StatusRejected      FeatureStatus = "rejected"
	StatusConflict      FeatureStatus = "conflict"
	StatusResolvedState FeatureStatus = "resolved"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Metadata carries the optional structured payload attached to a decision.
// Known shapes are typed; anything else rides along in Extra.
type Metadata struct {
	Coordinates        *Coordinates      `json:"coordinates,omitempty"`
	AccuracyMeters     float64           `json:"accuracyMeters,omitempty"`
	Confidence         float64           `json:"confidence,omitempty"`
	ModifiedProperties map[string]string `json:"modifiedProperties,omitempty"`
	Extra              map[string]any    `json:"extra,omitempty"`
}

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	out := Metadata{
		AccuracyMeters: m.AccuracyMeters,
		Confidence:     m.Confidence,
	}
	if m.Coordinates != nil {
		coords := *m.Coordinates
		out.Coordinates = &coords
	}
	if m.ModifiedProperties != nil {
		out.ModifiedProperties = make(map[string]string, len(m.ModifiedProperties))
		for k, v := range m.ModifiedProperties {
			out.ModifiedProperties[k] = v
		}
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// DecisionRecord is immutable once appended to the log.
type DecisionRecord struct {
	ID           string    `json:"id"`
	SuggestionID string    `json:"suggestionId"`
	FeatureID    string    `json:"featureId"`
	MissionID    string    `json:"missionId"`
	UserID       string    `json:"userId"`
	Action       Action    `json:"action"`
	Comment      string    `json:"comment,omitempty"`
	Metadata     *Metadata `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (r DecisionRecord) clone() DecisionRecord {
	out := r
	out.Metadata = r.Metadata.clone()
	return out
}

// ConflictingAction is a snapshot of a decision at the moment it entered a
// conflict. It does not track later log growth.
type ConflictingAction struct {
	UserID    string    `json:"userId"`
	Action    Action    `json:"action"`
	Comment   string    `json:"comment,omitempty"`
	DecidedAt time.Time `json:"decidedAt"`
}

type DiscussionComment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConflictVote is a user's live vote. The weight is captured from the
// voter's reputation at cast time so tallies stay reproducible.
type ConflictVote struct {
	Vote   Vote      `json:"vote"`
	Weight float64   `json:"weight"`
	CastAt time.Time `json:"castAt"`
}

type Conflict struct {
	ID                 string                  `json:"id"`
	SuggestionID       string                  `json:"suggestionId"`
	FeatureID          string                  `json:"featureId"`
	MissionID          string                  `json:"missionId"`
	Status             ConflictStatus          `json:"status"`
	Resolution         Resolution              `json:"resolution,omitempty"`
	ResolvedBy         string                  `json:"resolvedBy,omitempty"`
	ResolvedAt         *time.Time              `json:"resolvedAt,omitempty"`
	ConflictingActions []ConflictingAction     `json:"conflictingActions"`
	Discussion         []DiscussionComment     `json:"discussion"`
	Votes              map[string]ConflictVote `json:"votes"`
	CreatedAt          time.Time               `json:"createdAt"`
}

func (c *Conflict) clone() Conflict {
	out := *c
	out.ConflictingActions = append([]ConflictingAction(nil), c.ConflictingActions...)
	out.Discussion = append([]DiscussionComment(nil), c.Discussion...)
	out.Votes = make(map[string]ConflictVote, len(c.Votes))
	for userID, vote := range c.Votes {
		out.Votes[userID] = vote
	}
	if c.ResolvedAt != nil {
		resolvedAt := *c.ResolvedAt
		out.ResolvedAt = &resolvedAt
	}
	return out
}
