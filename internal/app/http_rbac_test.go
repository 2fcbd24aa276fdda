package app

import (
	"net/http"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mapvet/api/internal/auth"
	"mapvet/api/internal/engine"
)

func viewerToken(t *testing.T) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  "usr_viewer",
		Name: "Vera",
		Role: "viewer",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue viewer token: %v", err)
	}
	return token
}

func TestViewerCanReadButNotDecide(t *testing.T) {
	server := NewHTTPServer(newTestService(t), "*")
	token := viewerToken(t)

	rr := doRequest(t, server, http.MethodGet, "/api/missions/m1/conflicts", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("viewer read: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/decisions", token,
		`{"suggestionId":"s1","featureId":"f1","missionId":"m1","action":"approve"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer decide: expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := parseBody(t, rr); payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected code FORBIDDEN, got %v", payload["code"])
	}
}

func TestViewerCannotVote(t *testing.T) {
	server := NewHTTPServer(newTestService(t), "*")

	rr := doRequest(t, server, http.MethodPost, "/api/conflicts/cfl_x/votes", viewerToken(t), `{"vote":"approve"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdminResolutionRequiresAdminRole(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("super-admin"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := testConfig()
	cfg.AdminTokenHash = string(hash)
	eng := engine.New(engine.DefaultPolicy(), nil, nil, nil, nil)
	svc := NewService(cfg, eng, nil, nil, nil)
	server := NewHTTPServer(svc, "*")

	validator := loginAs(t, svc, "Avery", "usr_avery", "")
	other := loginAs(t, svc, "Blair", "usr_blair", "")
	admin := loginAs(t, svc, "Root", "usr_root", "super-admin")

	// Open a conflict to resolve.
	rr := doRequest(t, server, http.MethodPost, "/api/decisions", validator.Token,
		`{"suggestionId":"s1","featureId":"f1","missionId":"m1","action":"approve"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("first decision: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doRequest(t, server, http.MethodPost, "/api/decisions", other.Token,
		`{"suggestionId":"s1","featureId":"f1","missionId":"m1","action":"reject"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("second decision: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	conflict, ok := payload["conflict"].(map[string]any)
	if !ok {
		t.Fatalf("expected conflict in response, got %v", payload)
	}
	conflictID, _ := conflict["id"].(string)

	// A validator may settle by discussion but not override as admin.
	rr = doRequest(t, server, http.MethodPost, "/api/conflicts/"+conflictID+"/resolve", validator.Token,
		`{"resolution":"admin"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("validator admin-resolve: expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/conflicts/"+conflictID+"/resolve", admin.Token,
		`{"resolution":"admin"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin resolve: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	resolved := parseBody(t, rr)
	if resolved["status"] != "resolved" || resolved["resolution"] != "admin" {
		t.Fatalf("resolved conflict = %v", resolved)
	}
}
