package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sunagi/homare/pkg/domain"

	"github.com/go-redis/redis/v8"
)

type ReferralRepository interface {
	// Create freezes the participant's chain. A second registration for the
	// same participant fails with AlreadyRegistered.
	Create(ctx context.Context, rec *domain.ReferralRecord) error
	Get(ctx context.Context, participant string) (*domain.ReferralRecord, error)

	MintCode(ctx context.Context, code, identity string) (bool, error)
	CodeFor(ctx context.Context, identity string) (string, error)
	Resolve(ctx context.Context, code string) (string, error)

	// AddEarnings bumps an identity's cumulative earnings counters. Earnings
	// accrue independently of whether the identity registered its own chain.
	AddEarnings(ctx context.Context, identity string, direct, indirect uint64) error
	Earnings(ctx context.Context, identity string) (total, direct, indirect uint64, err error)
}

type referralRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewReferralRepository(rdb *redis.Client, tz *time.Location) ReferralRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &referralRedisRepo{rdb: rdb, tz: tz}
}

func (r *referralRedisRepo) keyRecords() string      { return "homare:referrals" }       // HASH: field = participant
func (r *referralRedisRepo) keyCodes() string        { return "homare:referral:codes" }  // HASH: field = code, value = identity
func (r *referralRedisRepo) keyCodesByOwner() string { return "homare:referral:owners" } // HASH: field = identity, value = code
func (r *referralRedisRepo) keyEarnings(identity string) string {
	return "homare:earnings:" + identity
}

func (r *referralRedisRepo) Create(ctx context.Context, rec *domain.ReferralRecord) error {
	v := *rec
	v.Active = true
	if v.RegisteredAt.IsZero() {
		v.RegisteredAt = time.Now().In(r.tz)
	}
	ok, err := r.rdb.HSetNX(ctx, r.keyRecords(), v.Participant, marshal(&v)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAlreadyRegistered
	}
	*rec = v
	return nil
}

func (r *referralRedisRepo) Get(ctx context.Context, participant string) (*domain.ReferralRecord, error) {
	raw, err := r.rdb.HGet(ctx, r.keyRecords(), participant).Result()
	if errors.Is(err, redis.Nil) {
		// No chain, but earnings may still have accrued.
		rec := &domain.ReferralRecord{Participant: participant}
		rec.TotalEarned, rec.DirectEarned, rec.IndirectEarned, err = r.Earnings(ctx, participant)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.ReferralRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	rec.TotalEarned, rec.DirectEarned, rec.IndirectEarned, err = r.Earnings(ctx, participant)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *referralRedisRepo) MintCode(ctx context.Context, code, identity string) (bool, error) {
	ok, err := r.rdb.HSetNX(ctx, r.keyCodes(), code, identity).Result()
	if err != nil || !ok {
		return ok, err
	}
	if err := r.rdb.HSet(ctx, r.keyCodesByOwner(), identity, code).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *referralRedisRepo) CodeFor(ctx context.Context, identity string) (string, error) {
	code, err := r.rdb.HGet(ctx, r.keyCodesByOwner(), identity).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return code, err
}

func (r *referralRedisRepo) Resolve(ctx context.Context, code string) (string, error) {
	identity, err := r.rdb.HGet(ctx, r.keyCodes(), code).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrInvalidReferrerCode
	}
	return identity, err
}

func (r *referralRedisRepo) AddEarnings(ctx context.Context, identity string, direct, indirect uint64) error {
	key := r.keyEarnings(identity)
	pipe := r.rdb.TxPipeline()
	if direct > 0 {
		pipe.HIncrBy(ctx, key, "direct", int64(direct))
	}
	if indirect > 0 {
		pipe.HIncrBy(ctx, key, "indirect", int64(indirect))
	}
	pipe.HIncrBy(ctx, key, "total", int64(direct+indirect))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *referralRedisRepo) Earnings(ctx context.Context, identity string) (total, direct, indirect uint64, err error) {
	vals, err := r.rdb.HGetAll(ctx, r.keyEarnings(identity)).Result()
	if err != nil {
		return 0, 0, 0, err
	}
	return parseUint(vals["total"]), parseUint(vals["direct"]), parseUint(vals["indirect"]), nil
}
