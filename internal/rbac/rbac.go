package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleValidator Role = "validator"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionDecide  Action = "decide"
	ActionVote    Action = "vote"
	ActionResolve Action = "resolve"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleValidator:
		return action == ActionRead || action == ActionDecide || action == ActionVote || action == ActionResolve
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleValidator, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
