package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mapvet/api/internal/auth"
	"mapvet/api/internal/engine"
	"mapvet/api/internal/rbac"
	"mapvet/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name       string `json:"name"`
			UserID     string `json:"userId"`
			AdminToken string `json:"adminToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name, body.UserID, body.AdminToken)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userName":  session.UserName,
			"userId":    session.UserID,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt.UTC(),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		q := search.Query{
			Text:      strings.TrimSpace(r.URL.Query().Get("q")),
			MissionID: strings.TrimSpace(r.URL.Query().Get("missionId")),
			Action:    strings.TrimSpace(r.URL.Query().Get("action")),
			UserID:    strings.TrimSpace(r.URL.Query().Get("userId")),
		}
		var err error
		if q.Limit, err = queryInt(r, "limit", 20); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		if q.Offset, err = queryInt(r, "offset", 0); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(q))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/decisions" {
		if !s.service.Can(session.Role, rbac.ActionDecide) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body DecisionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		record, conflict, err := s.service.RecordDecision(r.Context(), session, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		response := map[string]any{"record": record}
		if conflict != nil {
			response["conflict"] = conflict
		}
		writeJSON(w, http.StatusCreated, response)
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/missions/{id}/conflicts and /api/missions/{id}/stats
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "missions" {
		missionID := parts[2]
		if r.Method == http.MethodGet && parts[3] == "conflicts" {
			if !s.service.Can(session.Role, rbac.ActionRead) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			status := strings.TrimSpace(r.URL.Query().Get("status"))
			if status != "" && status != string(engine.ConflictOpen) && status != string(engine.ConflictResolved) {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be open or resolved", nil)
				return
			}
			conflicts := s.service.ListConflicts(missionID, status)
			writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts, "total": len(conflicts)})
			return
		}
		if r.Method == http.MethodGet && parts[3] == "stats" {
			if !s.service.Can(session.Role, rbac.ActionRead) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var window time.Duration
			if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
				parsed, err := time.ParseDuration(raw)
				if err != nil || parsed < 0 {
					writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "window must be a duration like 24h", nil)
					return
				}
				window = parsed
			}
			writeJSON(w, http.StatusOK, s.service.MissionStats(missionID, window))
			return
		}
	}

	// /api/conflicts/{id} and its sub-resources
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "conflicts" {
		conflictID := parts[2]

		if r.Method == http.MethodGet && len(parts) == 3 {
			if !s.service.Can(session.Role, rbac.ActionRead) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			conflict, err := s.service.GetConflict(conflictID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, conflict)
			return
		}

		if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "votes" {
			if !s.service.Can(session.Role, rbac.ActionVote) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body VoteInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			conflict, resolved, err := s.service.VoteOnConflict(r.Context(), session, conflictID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"conflict": conflict, "resolved": resolved})
			return
		}

		if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "comments" {
			if !s.service.Can(session.Role, rbac.ActionVote) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body CommentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			conflict, err := s.service.CommentOnConflict(r.Context(), session, conflictID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, conflict)
			return
		}

		if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "resolve" {
			var body ResolveInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			required := rbac.ActionResolve
			if body.Resolution == string(engine.ResolutionAdmin) {
				required = rbac.ActionAdmin
			}
			if !s.service.Can(session.Role, required) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			conflict, err := s.service.ResolveConflict(r.Context(), session, conflictID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, conflict)
			return
		}
	}

	// /api/features/{id}/history
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "features" && parts[3] == "history" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		records, status := s.service.FeatureHistory(parts[2])
		writeJSON(w, http.StatusOK, map[string]any{
			"featureId": parts[2],
			"status":    status,
			"history":   records,
			"total":     len(records),
		})
		return
	}

	// /api/users/{id}/history
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "users" && parts[3] == "history" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		missionID := strings.TrimSpace(r.URL.Query().Get("missionId"))
		records := s.service.UserHistory(parts[2], missionID)
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":  parts[2],
			"history": records,
			"total":   len(records),
		})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var appErr *DomainError
	if errors.As(err, &appErr) {
		return appErr.Status, appErr.Code, appErr.Message, appErr.Details
	}
	var engineErr *engine.DomainError
	if errors.As(err, &engineErr) {
		return engineErr.Status, engineErr.Code, engineErr.Message, engineErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
