package app

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mapvet/api/internal/auth"
	"mapvet/api/internal/config"
	"mapvet/api/internal/engine"
	"mapvet/api/internal/rbac"
	"mapvet/api/internal/search"
	"mapvet/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

type DecisionInput struct {
	SuggestionID string           `json:"suggestionId"`
	FeatureID    string           `json:"featureId"`
	MissionID    string           `json:"missionId"`
	Action       string           `json:"action"`
	Comment      string           `json:"comment"`
	Metadata     *engine.Metadata `json:"metadata"`
}

type VoteInput struct {
	Vote string `json:"vote"`
}

type CommentInput struct {
	Message string `json:"message"`
}

type ResolveInput struct {
	Resolution string `json:"resolution"`
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDecision(doc search.DecisionDoc)
}

type conflictArchiver interface {
	ArchiveConflict(ctx context.Context, conflict engine.Conflict) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg     config.Config
	engine  *engine.Engine
	search  searchService
	archive conflictArchiver
	db      pinger
}

// NewService wires the HTTP surface to the engine. search, archive and db
// may be nil; the corresponding features degrade instead of failing.
func NewService(cfg config.Config, eng *engine.Engine, searchSvc searchService, archive conflictArchiver, db pinger) *Service {
	return &Service{
		cfg:     cfg,
		engine:  eng,
		search:  searchSvc,
		archive: archive,
		db:      db,
	}
}

// Login issues a short-lived token. Everyone signs in as a validator; the
// admin role requires the shared admin token, checked against its bcrypt
// hash from configuration.
func (s *Service) Login(ctx context.Context, name, userID, adminToken string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if strings.TrimSpace(userID) == "" {
		userID = util.NewID("usr")
	}

	role := rbac.RoleValidator
	if adminToken != "" {
		if s.cfg.AdminTokenHash == "" {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "admin access is not configured", nil)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminTokenHash), []byte(adminToken)); err != nil {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token", nil)
		}
		role = rbac.RoleAdmin
	}

	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  userID,
		Name: name,
		Role: string(role),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    userID,
		UserName:  name,
		Role:      string(role),
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token and rebuilds the session.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      string(rbac.Normalize(claims.Role)),
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Can checks whether the session role permits the action.
func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// RecordDecision appends a decision and pushes it into the search index.
func (s *Service) RecordDecision(ctx context.Context, session Session, input DecisionInput) (engine.DecisionRecord, *engine.Conflict, error) {
	record, conflict, err := s.engine.RecordAction(ctx, engine.RecordInput{
		SuggestionID: input.SuggestionID,
		FeatureID:    input.FeatureID,
		MissionID:    input.MissionID,
		UserID:       session.UserID,
		Action:       engine.Action(input.Action),
		Comment:      input.Comment,
		Metadata:     input.Metadata,
	})
	if err != nil {
		return engine.DecisionRecord{}, nil, err
	}
	if s.search != nil {
		s.search.IndexDecision(search.DecisionDoc{
			ID:           record.ID,
			SuggestionID: record.SuggestionID,
			FeatureID:    record.FeatureID,
			MissionID:    record.MissionID,
			UserID:       record.UserID,
			Action:       string(record.Action),
			Comment:      record.Comment,
		})
	}
	return record, conflict, nil
}

// VoteOnConflict casts a vote. Archives the conflict if the vote resolved it.
func (s *Service) VoteOnConflict(ctx context.Context, session Session, conflictID string, input VoteInput) (engine.Conflict, bool, error) {
	conflict, resolved, err := s.engine.VoteOnConflict(ctx, conflictID, session.UserID, engine.Vote(input.Vote))
	if err != nil {
		return engine.Conflict{}, false, err
	}
	if resolved {
		s.archiveConflict(conflict)
	}
	return conflict, resolved, nil
}

// CommentOnConflict appends to an open conflict's discussion thread.
func (s *Service) CommentOnConflict(ctx context.Context, session Session, conflictID string, input CommentInput) (engine.Conflict, error) {
	return s.engine.AddCommentToConflict(ctx, conflictID, session.UserID, input.Message)
}

// ResolveConflict applies a manual resolution and archives the outcome.
func (s *Service) ResolveConflict(ctx context.Context, session Session, conflictID string, input ResolveInput) (engine.Conflict, error) {
	conflict, err := s.engine.ResolveConflict(ctx, conflictID, engine.Resolution(input.Resolution), session.UserID)
	if err != nil {
		return engine.Conflict{}, err
	}
	s.archiveConflict(conflict)
	return conflict, nil
}

func (s *Service) GetConflict(conflictID string) (engine.Conflict, error) {
	return s.engine.Conflict(conflictID)
}

func (s *Service) ListConflicts(missionID, status string) []engine.Conflict {
	return s.engine.Conflicts(missionID, engine.ConflictStatus(status))
}

func (s *Service) MissionStats(missionID string, window time.Duration) engine.ValidationStats {
	return s.engine.Stats(missionID, window)
}

func (s *Service) FeatureHistory(featureID string) ([]engine.DecisionRecord, engine.FeatureStatus) {
	return s.engine.FeatureHistory(featureID), s.engine.FeatureStatusNow(featureID)
}

func (s *Service) UserHistory(userID, missionID string) []engine.DecisionRecord {
	return s.engine.UserHistory(userID, missionID)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// Ping checks database connectivity for readiness probes.
func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

// archiveConflict pushes the resolved conflict to object storage in the
// background. Archive failures never affect the resolution.
func (s *Service) archiveConflict(conflict engine.Conflict) {
	if s.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.archive.ArchiveConflict(ctx, conflict); err != nil {
			log.Printf("app: archive conflict %s: %v", conflict.ID, err)
		}
	}()
}
