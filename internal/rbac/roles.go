package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner   = "owner"   // runs campaigns for a business
	RoleAnalyst = "analyst" // read-only reporting
	RoleAdmin   = "admin"   // platform operator
	RoleService = "service" // scheduler / lambda invoker, hidden role
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleService }

// IsPlatformRole reports roles that act across businesses.
func IsPlatformRole(role string) bool { return role == RoleAdmin || role == RoleService }
