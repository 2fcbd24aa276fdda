package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer decide", role: RoleViewer, action: ActionDecide, allow: false},
		{name: "viewer vote", role: RoleViewer, action: ActionVote, allow: false},
		{name: "validator decide", role: RoleValidator, action: ActionDecide, allow: true},
		{name: "validator resolve", role: RoleValidator, action: ActionResolve, allow: true},
		{name: "validator admin", role: RoleValidator, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("Normalize(admin) = %q", got)
	}
	if got := Normalize("something-else"); got != RoleViewer {
		t.Fatalf("Normalize(unknown) = %q, want viewer", got)
	}
}
