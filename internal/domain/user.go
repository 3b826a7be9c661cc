package domain

// Role is the console role carried in access tokens.
type Role string

// Roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var roleLevels = map[Role]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// HasPermission reports whether r grants at least the permissions of required.
func (r Role) HasPermission(required Role) bool {
	return roleLevels[r] >= roleLevels[required] && roleLevels[r] > 0
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}
