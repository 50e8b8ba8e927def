package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/sunagi/homare/pkg/domain"

	"github.com/go-redis/redis/v8"
)

type VerificationRepository interface {
	Create(ctx context.Context, req *domain.VerificationRequest) (*domain.VerificationRequest, error)
	Get(ctx context.Context, id uint64) (*domain.VerificationRequest, error)

	// MarkProcessed writes the verdict and flips processed in one step. It
	// refuses to touch a request that already carries a verdict.
	MarkProcessed(ctx context.Context, id uint64, result domain.VerificationResult) (*domain.VerificationRequest, error)

	RegisterVerifier(ctx context.Context, v domain.Verifier) error
	RemoveVerifier(ctx context.Context, identity string) (int, error)
	VerifierFor(ctx context.Context, category domain.ProofCategory) (*domain.Verifier, error)

	// AdvanceNonce accepts nonce only if it is strictly greater than the
	// verifier's last seen value, then stores it. Replay defense.
	AdvanceNonce(ctx context.Context, identity string, nonce uint64) error
}

type verificationRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewVerificationRepository(rdb *redis.Client, tz *time.Location) VerificationRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &verificationRedisRepo{rdb: rdb, tz: tz}
}

func (r *verificationRedisRepo) keyRequests() string  { return "homare:verifications" }
func (r *verificationRedisRepo) keySeq() string       { return "homare:verifications:seq" }
func (r *verificationRedisRepo) keyVerifiers() string { return "homare:verifiers" } // HASH: field = category, value = JSON
func (r *verificationRedisRepo) keyNonce(identity string) string {
	return "homare:verifier:nonce:" + identity
}

func (r *verificationRedisRepo) now() time.Time { return time.Now().In(r.tz) }

func (r *verificationRedisRepo) Create(ctx context.Context, req *domain.VerificationRequest) (*domain.VerificationRequest, error) {
	id, err := r.rdb.Incr(ctx, r.keySeq()).Result()
	if err != nil {
		return nil, err
	}
	v := *req
	v.ID = uint64(id)
	v.Processed = false
	v.Result = domain.VerificationResult{}
	v.CreatedAt = r.now()
	if err := r.rdb.HSet(ctx, r.keyRequests(), strconv.FormatUint(v.ID, 10), marshal(&v)).Err(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *verificationRedisRepo) Get(ctx context.Context, id uint64) (*domain.VerificationRequest, error) {
	raw, err := r.rdb.HGet(ctx, r.keyRequests(), strconv.FormatUint(id, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrUnknownRequest
	}
	if err != nil {
		return nil, err
	}
	var v domain.VerificationRequest
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *verificationRedisRepo) MarkProcessed(ctx context.Context, id uint64, result domain.VerificationResult) (*domain.VerificationRequest, error) {
	req, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Processed {
		return nil, domain.ErrAlreadyProcessed
	}
	req.Processed = true
	req.Result = result
	if req.Result.CompletedAt.IsZero() {
		req.Result.CompletedAt = r.now()
	}
	if err := r.rdb.HSet(ctx, r.keyRequests(), strconv.FormatUint(id, 10), marshal(req)).Err(); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *verificationRedisRepo) RegisterVerifier(ctx context.Context, v domain.Verifier) error {
	if v.AddedAt.IsZero() {
		v.AddedAt = r.now()
	}
	return r.rdb.HSet(ctx, r.keyVerifiers(), string(v.Category), marshal(&v)).Err()
}

func (r *verificationRedisRepo) RemoveVerifier(ctx context.Context, identity string) (int, error) {
	all, err := r.rdb.HGetAll(ctx, r.keyVerifiers()).Result()
	if err != nil {
		return 0, err
	}
	removed := 0
	for category, raw := range all {
		var v domain.Verifier
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		if v.Identity != identity {
			continue
		}
		if err := r.rdb.HDel(ctx, r.keyVerifiers(), category).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (r *verificationRedisRepo) VerifierFor(ctx context.Context, category domain.ProofCategory) (*domain.Verifier, error) {
	raw, err := r.rdb.HGet(ctx, r.keyVerifiers(), string(category)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNoVerifierForCategory
	}
	if err != nil {
		return nil, err
	}
	var v domain.Verifier
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

var advanceNonceScript = redis.NewScript(`
local key = KEYS[1]
local nonce = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", key))
if current and nonce <= current then
  return 0
end
redis.call("SET", key, nonce)
return 1
`)

func (r *verificationRedisRepo) AdvanceNonce(ctx context.Context, identity string, nonce uint64) error {
	ok, err := advanceNonceScript.Run(ctx, r.rdb, []string{r.keyNonce(identity)}, nonce).Int()
	if err != nil {
		return err
	}
	if ok != 1 {
		return domain.ErrReplayedNonce
	}
	return nil
}
