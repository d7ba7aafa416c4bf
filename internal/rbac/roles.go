package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator" // places and ends calls
	RoleAnalyst  = "analyst"  // read-only: history, analytics, exports
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleAnalyst:
		return true
	default:
		return false
	}
}
