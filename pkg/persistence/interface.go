package persistence

import (
	"context"

	"github.com/sunagi/homare/internal/repository"
)

// PluginPersistence bundles the storage behind every component. All four
// repositories come from the same backend so a plugin can share one
// connection and one transaction scope.
type PluginPersistence interface {
	// Tasks returns task and completion storage
	Tasks() repository.TaskRepository

	// Verifications returns verification request and verifier storage
	Verifications() repository.VerificationRepository

	// Referrals returns referral chain, code and earnings storage
	Referrals() repository.ReferralRepository

	// Ledger returns pool, balance, settlement and owed storage
	Ledger() repository.LedgerRepository

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}
