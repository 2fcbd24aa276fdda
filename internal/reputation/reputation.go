// Package reputation provides reputation score backends for vote weighting.
package reputation

import (
	"context"
	"sync"

	"mapvet/api/internal/engine"
)

// LevelForScore maps an accumulated score to a reputation level in [1, 10].
// One level per 50 points of score, so the default vote weight
// (level x 0.1) spans 0.1 to 1.0.
func LevelForScore(score float64) int {
	level := 1 + int(score/50)
	if level > 10 {
		return 10
	}
	if level < 1 {
		return 1
	}
	return level
}

// Static is an in-memory provider for tests and standalone runs.
type Static struct {
	mu     sync.Mutex
	scores map[string]float64
	levels map[string]int
}

func NewStatic() *Static {
	return &Static{
		scores: make(map[string]float64),
		levels: make(map[string]int),
	}
}

// SetLevel pins a user's level regardless of accumulated score.
func (s *Static) SetLevel(userID string, level int) {
	s.mu.Lock()
	s.levels[userID] = level
	s.mu.Unlock()
}

func (s *Static) UserReputation(_ context.Context, userID string) (engine.Reputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := s.scores[userID]
	level, pinned := s.levels[userID]
	if !pinned {
		level = LevelForScore(score)
	}
	return engine.Reputation{Level: level, Score: score}, nil
}

func (s *Static) RecordEvent(_ context.Context, userID, _ string, weight float64, _ map[string]any) error {
	s.mu.Lock()
	s.scores[userID] += weight
	s.mu.Unlock()
	return nil
}
