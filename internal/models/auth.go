package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleParent     UserRole = "PARENT"
	RoleStudent    UserRole = "STUDENT"
)

// JWTClaims represents the access token payload issued by the identity service.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	Email     string   `json:"email"`
	FullName  string   `json:"full_name"`
	StudentID string   `json:"student_id,omitempty"`
	Children  []string `json:"children,omitempty"`
	jwt.RegisteredClaims
}

// CanActFor reports whether the caller may operate on the student's data.
func (c *JWTClaims) CanActFor(studentID string) bool {
	if c == nil {
		return false
	}
	switch c.Role {
	case RoleAdmin, RoleSuperAdmin:
		return true
	case RoleStudent:
		return c.StudentID == studentID || c.UserID == studentID
	case RoleParent:
		for _, child := range c.Children {
			if child == studentID {
				return true
			}
		}
	}
	return false
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
