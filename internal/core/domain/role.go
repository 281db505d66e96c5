package domain

// Role is the caller's privilege level, issued by the identity provider.
type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin is true for ADMIN and SUPER_ADMIN.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	OwnerID string
	Role    Role
}

// CanActFor reports whether the caller may act on ownerID's resources.
func (c Caller) CanActFor(ownerID string) bool {
	return c.OwnerID == ownerID || c.Role.IsAdmin()
}
