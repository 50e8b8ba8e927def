package jwks

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sunagi/homare/pkg/auth"
)

type jwksEnv struct {
	srv     *httptest.Server
	privKey *rsa.PrivateKey
}

func setupJWKS(t *testing.T) *jwksEnv {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key gen: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := base64.RawURLEncoding.EncodeToString(privKey.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{"kty": "RSA", "kid": "kid-1", "n": n, "e": e}},
		})
	}))
	t.Cleanup(srv.Close)
	return &jwksEnv{srv: srv, privKey: privKey}
}

func (e *jwksEnv) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(e.privKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func (e *jwksEnv) validator(t *testing.T) auth.Validator {
	t.Helper()
	v, err := NewValidator(auth.Config{
		JwksURL:     e.srv.URL,
		Issuer:      "https://issuer.example",
		Audience:    "homare-api",
		ClockSkew:   time.Minute,
		HTTPTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidateToken(t *testing.T) {
	env := setupJWKS(t)
	v := env.validator(t)

	token := env.sign(t, jwt.MapClaims{
		"iss":   "https://issuer.example",
		"aud":   "homare-api",
		"sub":   "verifier-7",
		"scope": "homare:verifier",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	})
	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "verifier-7" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if !claims.HasScope(auth.ScopeVerifier) {
		t.Errorf("scope missing: %v", claims.Scopes)
	}
}

func TestValidateTokenWrongIssuer(t *testing.T) {
	env := setupJWKS(t)
	v := env.validator(t)
	token := env.sign(t, jwt.MapClaims{
		"iss": "https://rogue.example",
		"aud": "homare-api",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Validate(token); err == nil {
		t.Fatal("wrong issuer accepted")
	}
}

func TestValidateTokenWrongAudience(t *testing.T) {
	env := setupJWKS(t)
	v := env.validator(t)
	token := env.sign(t, jwt.MapClaims{
		"iss": "https://issuer.example",
		"aud": "other-api",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Validate(token); err == nil {
		t.Fatal("wrong audience accepted")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	env := setupJWKS(t)
	v := env.validator(t)
	token := env.sign(t, jwt.MapClaims{
		"iss": "https://issuer.example",
		"aud": "homare-api",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := v.Validate(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestAudienceList(t *testing.T) {
	env := setupJWKS(t)
	v := env.validator(t)
	token := env.sign(t, jwt.MapClaims{
		"iss": "https://issuer.example",
		"aud": []string{"other-api", "homare-api"},
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Validate(token); err != nil {
		t.Fatalf("audience list rejected: %v", err)
	}
}
