package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the caller roles supplied by the identity provider.
type UserRole string

const (
	RoleClient     UserRole = "client"
	RoleTechnician UserRole = "technician"
	RoleAdmin      UserRole = "admin"
)

// JWTClaims represents the identity-provider token payload. The engine
// trusts these claims and never re-authenticates.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
