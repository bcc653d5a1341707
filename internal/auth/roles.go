package auth

import "slices"

// Role is the authorisation tier carried by a token.
type Role string

const (
	// RoleViewer may observe instruments but not change them.
	RoleViewer Role = "viewer"

	// RoleOperator may open, close and drive instruments.
	RoleOperator Role = "operator"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermInstrumentRead    Permission = "instrument:read"
	PermInstrumentOperate Permission = "instrument:operate"
	PermAliasManage       Permission = "alias:manage"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermInstrumentRead,
	},
	RoleOperator: {
		PermInstrumentRead,
		PermInstrumentOperate,
		PermAliasManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
