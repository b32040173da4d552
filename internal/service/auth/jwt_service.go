// Package auth verifies the bearer tokens presented to the job API. Tokens
// are issued outside the API; GenerateToken exists for operators and tests.
package auth

import (
	"context"
	"time"
)

// RoleOperator marks tokens whose holder may read and cancel any job.
const RoleOperator = "operator"

// JWTService defines operations for managing JWT authentication tokens.
type JWTService interface {
	// GenerateToken creates a signed token for subject with the given role.
	// An empty role issues an ordinary user token.
	GenerateToken(ctx context.Context, subject, role string) (string, error)

	// ValidateToken validates the provided token string and extracts the claims.
	// Returns the claims if the token is valid, or an error if validation
	// fails (expired, invalid signature, missing subject).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims represents the verified content of a token.
type Claims struct {
	// Subject identifies the caller and becomes the owner of submitted jobs.
	Subject string `json:"sub,omitempty"`

	// Role is RoleOperator for operators and empty otherwise.
	Role string `json:"role,omitempty"`

	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}

// IsOperator reports whether the claims carry the operator role.
func (c *Claims) IsOperator() bool {
	return c.Role == RoleOperator
}
