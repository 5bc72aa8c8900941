package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleStaff     UserRole = "STAFF"
	RoleProfessor UserRole = "PROFESSOR"
	RoleStudent   UserRole = "STUDENT"
)

// Administrative reports whether the role may act on other users' records.
func (r UserRole) Administrative() bool {
	return r == RoleAdmin || r == RoleStaff
}

// Actor is the authenticated caller of a request.
type Actor struct {
	UserID int64
	Role   UserRole
}
