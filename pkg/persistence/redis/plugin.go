package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sunagi/homare/internal/repository"
	"github.com/sunagi/homare/pkg/persistence"
)

// Config contains Redis-specific configuration
type Config struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type plugin struct {
	client        *redis.Client
	tasks         repository.TaskRepository
	verifications repository.VerificationRepository
	referrals     repository.ReferralRepository
	ledger        repository.LedgerRepository
}

// NewPlugin creates a Redis persistence plugin from an existing client.
func NewPlugin(client *redis.Client, cfg persistence.PluginConfig) persistence.PluginPersistence {
	return &plugin{
		client:        client,
		tasks:         repository.NewTaskRepository(client, cfg.Timezone),
		verifications: repository.NewVerificationRepository(client, cfg.Timezone),
		referrals:     repository.NewReferralRepository(client, cfg.Timezone),
		ledger:        repository.NewLedgerRepository(client, cfg.Timezone),
	}
}

func newPluginFromConfig(cfg persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var rc Config
	if len(cfg.Config) > 0 {
		if err := json.Unmarshal(cfg.Config, &rc); err != nil {
			return nil, fmt.Errorf("invalid redis config: %w", err)
		}
	}
	if rc.Addr == "" {
		rc.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	return NewPlugin(client, cfg), nil
}

func (p *plugin) Tasks() repository.TaskRepository                 { return p.tasks }
func (p *plugin) Verifications() repository.VerificationRepository { return p.verifications }
func (p *plugin) Referrals() repository.ReferralRepository         { return p.referrals }
func (p *plugin) Ledger() repository.LedgerRepository              { return p.ledger }

func (p *plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", newPluginFromConfig)
}
