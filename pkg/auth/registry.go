package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderConfig selects a validator provider and carries its raw settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory creates validators from raw provider configuration.
type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	registry = make(map[string]ValidatorFactory)
	mu       sync.RWMutex
)

// RegisterProvider registers a validator factory for a provider type.
// Providers register themselves from init; binaries opt in via blank imports.
func RegisterProvider(providerType string, factory ValidatorFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[providerType] = factory
}

// NewValidator creates a validator from provider configuration.
func NewValidator(providerConfig ProviderConfig) (Validator, error) {
	mu.RLock()
	factory, ok := registry[providerConfig.Type]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown auth provider type %q (registered: %s)",
			providerConfig.Type, strings.Join(ListProviders(), ", "))
	}

	return factory(providerConfig.Config)
}

// ListProviders returns registered provider types in stable order.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}
