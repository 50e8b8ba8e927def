package auth

import (
	"time"
)

// Scopes understood by the API surface.
const (
	ScopeAdmin    = "homare:admin"
	ScopeVerifier = "homare:verifier"
)

// Claims represents authentication token claims
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
	Raw       map[string]interface{}
}

// HasScope checks if the claims contain a specific scope
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validator validates authentication tokens
type Validator interface {
	Validate(token string) (*Claims, error)
}

// Config contains validator configuration
type Config struct {
	JwksURL     string
	Issuer      string
	Audience    string
	ClockSkew   time.Duration
	HTTPTimeout time.Duration
}
