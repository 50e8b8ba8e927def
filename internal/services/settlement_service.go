package services

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunagi/homare/internal/metrics"
	"github.com/sunagi/homare/internal/repository"
	"github.com/sunagi/homare/internal/split"
	"github.com/sunagi/homare/pkg/domain"
)

const codeLength = 8

// AssetCatalog reports whether a reward asset is on the allow-list.
// Satisfied by repository.TaskRepository.
type AssetCatalog interface {
	AssetSupported(ctx context.Context, asset string) (bool, error)
}

type SettlementService interface {
	Distributor

	MintCode(ctx context.Context, identity string) (*domain.ReferralCode, error)
	ResolveCode(ctx context.Context, code string) (string, error)

	// RegisterReferral freezes the participant's chain: the code's owner
	// becomes the direct referrer and the owner's own chain, truncated at
	// two upstream tiers, is copied in. Registration happens at most once.
	RegisterReferral(ctx context.Context, participant, referrerCode string) (*domain.ReferralRecord, error)
	GetReferral(ctx context.Context, participant string) (*domain.ReferralRecord, error)

	Deposit(ctx context.Context, asset string, amount uint64) (uint64, error)
	Balance(ctx context.Context, identity, asset string) (uint64, error)

	Settlements(ctx context.Context, limit int64) ([]domain.SettlementRecord, error)
	SettlementsByTask(ctx context.Context, taskID uint64) ([]domain.SettlementRecord, error)
	ListOwed(ctx context.Context, limit int64) ([]domain.OwedSettlement, error)

	// RetryOwed replays deferred settlements against the current pool
	// balances. Entries that still cannot be paid stay owed.
	RetryOwed(ctx context.Context) (paid int, err error)
}

type settlementService struct {
	referrals repository.ReferralRepository
	ledger    repository.LedgerRepository
	assets    AssetCatalog
	platform  string
	logger    *slog.Logger
	now       func() time.Time
	locks     *keyedMutex
	newCode   func() string
}

func NewSettlementService(referrals repository.ReferralRepository, ledger repository.LedgerRepository, assets AssetCatalog, platformAccount string, logger *slog.Logger, now func() time.Time) SettlementService {
	if platformAccount == "" {
		platformAccount = "platform"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &settlementService{
		referrals: referrals,
		ledger:    ledger,
		assets:    assets,
		platform:  platformAccount,
		logger:    logger,
		now:       now,
		locks:     newKeyedMutex(),
		newCode:   randomCode,
	}
}

// randomCode derives a short shareable code from fresh UUID bytes.
func randomCode() string {
	id := uuid.New()
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(id[:])
	return strings.ToUpper(enc[:codeLength])
}

func (s *settlementService) MintCode(ctx context.Context, identity string) (*domain.ReferralCode, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is empty", domain.ErrInvalidParameter)
	}
	if code, err := s.referrals.CodeFor(ctx, identity); err == nil && code != "" {
		return &domain.ReferralCode{Code: code, Identity: identity}, nil
	}
	for attempt := 0; attempt < 5; attempt++ {
		code := s.newCode()
		ok, err := s.referrals.MintCode(ctx, code, identity)
		if err != nil {
			return nil, err
		}
		if ok {
			s.logger.Info("referral code minted", "identity", identity, "code", code)
			return &domain.ReferralCode{Code: code, Identity: identity, MintedAt: s.now()}, nil
		}
	}
	return nil, errors.New("could not mint a unique referral code")
}

func (s *settlementService) ResolveCode(ctx context.Context, code string) (string, error) {
	return s.referrals.Resolve(ctx, code)
}

func (s *settlementService) RegisterReferral(ctx context.Context, participant, referrerCode string) (*domain.ReferralRecord, error) {
	if participant == "" {
		return nil, fmt.Errorf("%w: participant identity is empty", domain.ErrInvalidParameter)
	}
	// An existing registration wins over code validation: a registered
	// participant gets AlreadyRegistered even when the code is bad.
	if existing, err := s.referrals.Get(ctx, participant); err == nil && existing.Referrer != "" {
		return nil, domain.ErrAlreadyRegistered
	}
	referrer, err := s.referrals.Resolve(ctx, referrerCode)
	if err != nil {
		return nil, err
	}
	if referrer == participant {
		return nil, domain.ErrSelfReferral
	}

	rec := &domain.ReferralRecord{
		Participant:  participant,
		Referrer:     referrer,
		RegisteredAt: s.now(),
	}
	// The chain is copied from the referrer at registration time and frozen.
	// A walk that reaches the registering participant stops there, so a
	// circular chain can never pay the participant for its own completion.
	if up, err := s.referrals.Get(ctx, referrer); err == nil && up.Referrer != "" && up.Referrer != participant {
		rec.Upstream = append(rec.Upstream, up.Referrer)
		if len(up.Upstream) > 0 && up.Upstream[0] != participant {
			rec.Upstream = append(rec.Upstream, up.Upstream[0])
		}
	}

	if err := s.referrals.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info("referral registered", "participant", participant, "referrer", referrer, "chainLen", rec.ChainLen())
	return rec, nil
}

func (s *settlementService) GetReferral(ctx context.Context, participant string) (*domain.ReferralRecord, error) {
	return s.referrals.Get(ctx, participant)
}

func (s *settlementService) Distribute(ctx context.Context, participant string, gross uint64, asset string, taskID uint64) (*domain.SettlementRecord, error) {
	supported, err := s.assets.AssetSupported(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotSupported, asset)
	}

	unlock := s.locks.Lock("pool:" + asset)
	defer unlock()

	rec, err := s.referrals.Get(ctx, participant)
	if err != nil {
		return nil, err
	}
	dist := split.Compute(gross, rec.Referrer != "", len(rec.Upstream))

	// Settlement is all-or-nothing: all credits land in one atomic transfer
	// against the pool, and identities occupying several tiers accumulate.
	credits := map[string]uint64{}
	credits[participant] += dist.Participant
	if rec.Referrer != "" {
		credits[rec.Referrer] += dist.Direct
	}
	for i, identity := range rec.Upstream {
		if i >= split.IndirectTiers {
			break
		}
		credits[identity] += dist.Indirect[i]
	}
	credits[s.platform] += dist.Platform

	if err := s.ledger.Transfer(ctx, asset, gross, credits); err != nil {
		if errors.Is(err, domain.ErrInsufficientPoolBalance) {
			metrics.SettlementTotal.WithLabelValues(asset, "deferred").Inc()
			if owedErr := s.ledger.AddOwed(ctx, domain.OwedSettlement{
				TaskID:      taskID,
				Participant: participant,
				Asset:       asset,
				Gross:       gross,
				FirstTried:  s.now(),
			}); owedErr != nil {
				return nil, owedErr
			}
		}
		return nil, err
	}

	if rec.Referrer != "" {
		if err := s.referrals.AddEarnings(ctx, rec.Referrer, dist.Direct, 0); err != nil {
			s.logger.Error("earnings update failed", "identity", rec.Referrer, "err", err)
		}
	}
	for i, identity := range rec.Upstream {
		if i >= split.IndirectTiers {
			break
		}
		if err := s.referrals.AddEarnings(ctx, identity, 0, dist.Indirect[i]); err != nil {
			s.logger.Error("earnings update failed", "identity", identity, "err", err)
		}
	}

	record := domain.SettlementRecord{
		TaskID:           taskID,
		Participant:      participant,
		Asset:            asset,
		GrossAmount:      gross,
		ParticipantShare: dist.Participant,
		ReferrerShare:    dist.Direct + dist.Indirect[0] + dist.Indirect[1],
		PlatformShare:    dist.Platform,
		Timestamp:        s.now(),
	}
	if err := s.ledger.AppendSettlement(ctx, record); err != nil {
		return nil, err
	}

	metrics.SettlementTotal.WithLabelValues(asset, "success").Inc()
	metrics.SettlementAmountTotal.WithLabelValues(asset, "participant").Add(float64(dist.Participant))
	metrics.SettlementAmountTotal.WithLabelValues(asset, "referrer").Add(float64(record.ReferrerShare))
	metrics.SettlementAmountTotal.WithLabelValues(asset, "platform").Add(float64(dist.Platform))

	s.logger.Info("reward distributed",
		"taskId", taskID, "participant", participant, "asset", asset,
		"gross", gross, "participantShare", dist.Participant,
		"referrerShare", record.ReferrerShare, "platformShare", dist.Platform)
	return &record, nil
}

func (s *settlementService) Deposit(ctx context.Context, asset string, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("%w: deposit amount must be positive", domain.ErrInvalidParameter)
	}
	balance, err := s.ledger.Deposit(ctx, asset, amount)
	if err != nil {
		return 0, err
	}
	s.logger.Info("pool deposit", "asset", asset, "amount", amount, "balance", balance)
	return balance, nil
}

func (s *settlementService) PoolBalance(ctx context.Context, asset string) (uint64, error) {
	return s.ledger.PoolBalance(ctx, asset)
}

func (s *settlementService) Balance(ctx context.Context, identity, asset string) (uint64, error) {
	return s.ledger.Balance(ctx, identity, asset)
}

func (s *settlementService) Settlements(ctx context.Context, limit int64) ([]domain.SettlementRecord, error) {
	return s.ledger.Settlements(ctx, limit)
}

func (s *settlementService) SettlementsByTask(ctx context.Context, taskID uint64) ([]domain.SettlementRecord, error) {
	return s.ledger.SettlementsByTask(ctx, taskID)
}

func (s *settlementService) CountSettled(ctx context.Context, taskID uint64) (int64, error) {
	return s.ledger.CountSettledForTask(ctx, taskID)
}

func (s *settlementService) ListOwed(ctx context.Context, limit int64) ([]domain.OwedSettlement, error) {
	return s.ledger.ListOwed(ctx, limit)
}

func (s *settlementService) RetryOwed(ctx context.Context) (int, error) {
	owed, err := s.ledger.ListOwed(ctx, 0)
	if err != nil {
		return 0, err
	}
	paid := 0
	for _, o := range owed {
		// The periodic loop and the admin retry endpoint can race on the
		// same entry, and the settlement latch was consumed at the first
		// attempt. Claiming the entry before paying keeps the payout
		// at-most-once: only the caller that removed it may distribute.
		claimed, err := s.ledger.RemoveOwed(ctx, o.TaskID, o.Participant)
		if err != nil {
			metrics.OwedRetryTotal.WithLabelValues("error").Inc()
			s.logger.Error("owed claim failed", "taskId", o.TaskID, "participant", o.Participant, "err", err)
			continue
		}
		if !claimed {
			continue
		}
		_, err = s.Distribute(ctx, o.Participant, o.Gross, o.Asset, o.TaskID)
		if errors.Is(err, domain.ErrInsufficientPoolBalance) {
			// Distribute re-queued the entry on shortfall.
			metrics.OwedRetryTotal.WithLabelValues("still_short").Inc()
			continue
		}
		if err != nil {
			// Put the claimed entry back so the obligation is not lost.
			if addErr := s.ledger.AddOwed(ctx, o); addErr != nil {
				s.logger.Error("owed requeue failed", "taskId", o.TaskID, "participant", o.Participant, "err", addErr)
			}
			metrics.OwedRetryTotal.WithLabelValues("error").Inc()
			s.logger.Error("owed retry failed", "taskId", o.TaskID, "participant", o.Participant, "err", err)
			continue
		}
		metrics.OwedRetryTotal.WithLabelValues("paid").Inc()
		paid++
		s.logger.Info("owed settlement paid", "taskId", o.TaskID, "participant", o.Participant, "asset", o.Asset, "gross", o.Gross)
	}
	return paid, nil
}
