package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sunagi/homare/pkg/auth"
	"github.com/sunagi/homare/pkg/auth/jwks"
	"github.com/sunagi/homare/pkg/config"

	"github.com/gin-gonic/gin"
)

// AdminAuth guards the operator surface: task creation, status changes,
// verifier administration, asset and pool management.
func AdminAuth(cfg *config.Config) gin.HandlerFunc {
	validator, err := newValidator(cfg.AdminStaticToken, cfg.AdminJwksURL, cfg.AdminIssuer, cfg.AdminAudience, cfg.AllowedClockSkewSeconds, auth.ScopeAdmin)
	return requireScope(validator, err, auth.ScopeAdmin, "adminClaims")
}

// VerifierAuth guards verdict delivery. The authenticated subject is stored
// on the context and must match the verifier registered for the request's
// category downstream.
func VerifierAuth(cfg *config.Config) gin.HandlerFunc {
	validator, err := newValidator(cfg.VerifierStaticToken, cfg.VerifierJwksURL, cfg.VerifierIssuer, cfg.VerifierAudience, cfg.AllowedClockSkewSeconds, auth.ScopeVerifier)
	return requireScope(validator, err, auth.ScopeVerifier, "verifierClaims")
}

func requireScope(validator auth.Validator, buildErr error, scope, ctxKey string) gin.HandlerFunc {
	if buildErr != nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth validator not configured"})
		}
	}
	return func(c *gin.Context) {
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing scope " + scope})
			return
		}
		c.Set(ctxKey, claims)
		c.Next()
	}
}

func newValidator(staticToken, jwksURL, issuer, audience string, clockSkewSeconds int, scope string) (auth.Validator, error) {
	if strings.TrimSpace(staticToken) != "" {
		raw, _ := json.Marshal(map[string]any{
			"token":   staticToken,
			"subject": strings.TrimPrefix(scope, "homare:"),
			"scopes":  []string{scope},
		})
		return auth.NewValidator(auth.ProviderConfig{Type: "static", Config: raw})
	}
	return jwks.NewValidator(auth.Config{
		JwksURL:     jwksURL,
		Issuer:      issuer,
		Audience:    audience,
		ClockSkew:   time.Duration(clockSkewSeconds) * time.Second,
		HTTPTimeout: 10 * time.Second,
	})
}

func validateBearer(validator auth.Validator, header string) (*auth.Claims, error) {
	token := bearerToken(header)
	if token == "" {
		return nil, errors.New("missing bearer token")
	}
	claims, err := validator.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetVerifierClaims returns the verifier claims set by VerifierAuth.
func GetVerifierClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get("verifierClaims")
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// GetAdminClaims returns the admin claims set by AdminAuth.
func GetAdminClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get("adminClaims")
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
