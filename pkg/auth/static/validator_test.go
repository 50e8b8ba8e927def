package static

import (
	"encoding/json"
	"testing"
)

func TestStaticValidator(t *testing.T) {
	raw := json.RawMessage(`{"token":"t-1","subject":"ops-admin","scopes":["homare:admin"],"raw":{"team":"ops"}}`)
	v, err := NewValidatorFromJSON(raw)
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}

	claims, err := v.Validate("t-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "ops-admin" {
		t.Fatalf("expected subject ops-admin, got %q", claims.Subject)
	}
	if !claims.HasScope("homare:admin") {
		t.Fatalf("expected scope present")
	}
	if claims.HasScope("homare:verifier") {
		t.Fatalf("unexpected scope")
	}

	if _, err := v.Validate("wrong"); err == nil {
		t.Fatalf("expected validation error for wrong token")
	}
}

func TestStaticValidator_StringConfig(t *testing.T) {
	raw := json.RawMessage(`"t-2"`)
	v, err := NewValidatorFromJSON(raw)
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}
	if _, err := v.Validate("t-2"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
