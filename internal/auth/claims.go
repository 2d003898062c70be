package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Tenant invariant: BusinessID must be present unless the token is a
// platform token (operators and the scheduler's machine identity), which act
// across businesses. Which routes accept platform tokens is decided in rbac.
type Claims struct {
	jwt.RegisteredClaims

	UserID     string    `json:"user_id"`
	BusinessID string    `json:"business_id,omitempty"`
	Role       string    `json:"role"`
	TokenType  TokenType `json:"token_type"`
	Platform   bool      `json:"platform,omitempty"`
}
