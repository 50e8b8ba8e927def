package auth

import (
	"encoding/json"
	"testing"
)

type fakeValidator struct{}

func (fakeValidator) Validate(token string) (*Claims, error) {
	return &Claims{Subject: "fake"}, nil
}

func TestRegistry(t *testing.T) {
	RegisterProvider("fake", func(raw json.RawMessage) (Validator, error) {
		return fakeValidator{}, nil
	})

	v, err := NewValidator(ProviderConfig{Type: "fake"})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	claims, err := v.Validate("anything")
	if err != nil || claims.Subject != "fake" {
		t.Fatalf("claims = %+v, err = %v", claims, err)
	}

	if _, err := NewValidator(ProviderConfig{Type: "missing"}); err == nil {
		t.Fatal("unknown provider accepted")
	}

	found := false
	for _, p := range ListProviders() {
		if p == "fake" {
			found = true
		}
	}
	if !found {
		t.Fatalf("fake provider not listed: %v", ListProviders())
	}
}
