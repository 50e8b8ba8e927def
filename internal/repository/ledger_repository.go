package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sunagi/homare/pkg/domain"

	"github.com/go-redis/redis/v8"
)

type LedgerRepository interface {
	Deposit(ctx context.Context, asset string, amount uint64) (uint64, error)
	PoolBalance(ctx context.Context, asset string) (uint64, error)
	Balance(ctx context.Context, identity, asset string) (uint64, error)

	// Transfer debits gross from the asset pool and credits each recipient
	// in a single atomic step. Fails with InsufficientPoolBalance without
	// touching anything when the pool is short.
	Transfer(ctx context.Context, asset string, gross uint64, credits map[string]uint64) error

	AppendSettlement(ctx context.Context, rec domain.SettlementRecord) error
	SettlementsByTask(ctx context.Context, taskID uint64) ([]domain.SettlementRecord, error)
	Settlements(ctx context.Context, limit int64) ([]domain.SettlementRecord, error)
	CountSettledForTask(ctx context.Context, taskID uint64) (int64, error)

	AddOwed(ctx context.Context, owed domain.OwedSettlement) error
	ListOwed(ctx context.Context, limit int64) ([]domain.OwedSettlement, error)

	// RemoveOwed reports whether this call removed the entry. Concurrent
	// retriers use it as a claim: only the caller that got true may pay.
	RemoveOwed(ctx context.Context, taskID uint64, participant string) (bool, error)
}

type ledgerRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewLedgerRepository(rdb *redis.Client, tz *time.Location) LedgerRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &ledgerRedisRepo{rdb: rdb, tz: tz}
}

func (r *ledgerRedisRepo) keyPool(asset string) string { return "homare:pool:" + asset }
func (r *ledgerRedisRepo) keyBalances(asset string) string {
	return "homare:balances:" + asset // HASH: field = identity
}
func (r *ledgerRedisRepo) keySettlements() string { return "homare:settlements" } // LIST of JSON
func (r *ledgerRedisRepo) keyTaskSettlements(taskID uint64) string {
	return fmt.Sprintf("homare:settlements:task:%d", taskID)
}
func (r *ledgerRedisRepo) keyOwed() string       { return "homare:owed" }        // ZSET: member = taskID:participant
func (r *ledgerRedisRepo) keyOwedDetail() string { return "homare:owed:detail" } // HASH: field = member

func owedMember(taskID uint64, participant string) string {
	return strconv.FormatUint(taskID, 10) + ":" + participant
}

func (r *ledgerRedisRepo) Deposit(ctx context.Context, asset string, amount uint64) (uint64, error) {
	n, err := r.rdb.IncrBy(ctx, r.keyPool(asset), int64(amount)).Result()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (r *ledgerRedisRepo) PoolBalance(ctx context.Context, asset string) (uint64, error) {
	n, err := r.rdb.Get(ctx, r.keyPool(asset)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (r *ledgerRedisRepo) Balance(ctx context.Context, identity, asset string) (uint64, error) {
	n, err := r.rdb.HGet(ctx, r.keyBalances(asset), identity).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// transferScript checks the pool, debits it and credits every recipient as one
// unit, so a concurrent settlement never observes a half-applied split.
var transferScript = redis.NewScript(`
local pool = KEYS[1]
local balances = KEYS[2]
local gross = tonumber(ARGV[1])
local have = tonumber(redis.call("GET", pool)) or 0
if have < gross then
  return 0
end
redis.call("DECRBY", pool, gross)
for i = 2, #ARGV, 2 do
  redis.call("HINCRBY", balances, ARGV[i], tonumber(ARGV[i+1]))
end
return 1
`)

func (r *ledgerRedisRepo) Transfer(ctx context.Context, asset string, gross uint64, credits map[string]uint64) error {
	args := make([]interface{}, 0, 1+2*len(credits))
	args = append(args, gross)
	for identity, amount := range credits {
		if amount == 0 {
			continue
		}
		args = append(args, identity, amount)
	}
	ok, err := transferScript.Run(ctx, r.rdb, []string{r.keyPool(asset), r.keyBalances(asset)}, args...).Int()
	if err != nil {
		return err
	}
	if ok != 1 {
		return domain.ErrInsufficientPoolBalance
	}
	return nil
}

func (r *ledgerRedisRepo) AppendSettlement(ctx context.Context, rec domain.SettlementRecord) error {
	raw := marshal(&rec)
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, r.keySettlements(), raw)
	pipe.RPush(ctx, r.keyTaskSettlements(rec.TaskID), raw)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *ledgerRedisRepo) SettlementsByTask(ctx context.Context, taskID uint64) ([]domain.SettlementRecord, error) {
	return r.readSettlements(ctx, r.keyTaskSettlements(taskID), 0, -1)
}

func (r *ledgerRedisRepo) Settlements(ctx context.Context, limit int64) ([]domain.SettlementRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.readSettlements(ctx, r.keySettlements(), -limit, -1)
}

func (r *ledgerRedisRepo) readSettlements(ctx context.Context, key string, start, stop int64) ([]domain.SettlementRecord, error) {
	raws, err := r.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.SettlementRecord, 0, len(raws))
	for _, raw := range raws {
		var rec domain.SettlementRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *ledgerRedisRepo) CountSettledForTask(ctx context.Context, taskID uint64) (int64, error) {
	return r.rdb.LLen(ctx, r.keyTaskSettlements(taskID)).Result()
}

func (r *ledgerRedisRepo) AddOwed(ctx context.Context, owed domain.OwedSettlement) error {
	if owed.FirstTried.IsZero() {
		owed.FirstTried = time.Now().In(r.tz)
	}
	member := owedMember(owed.TaskID, owed.Participant)
	pipe := r.rdb.TxPipeline()
	pipe.ZAddNX(ctx, r.keyOwed(), &redis.Z{Score: float64(owed.FirstTried.Unix()), Member: member})
	pipe.HSetNX(ctx, r.keyOwedDetail(), member, marshal(&owed))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *ledgerRedisRepo) ListOwed(ctx context.Context, limit int64) ([]domain.OwedSettlement, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := r.rdb.ZRangeByScore(ctx, r.keyOwed(), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.OwedSettlement, 0, len(members))
	for _, m := range members {
		raw, err := r.rdb.HGet(ctx, r.keyOwedDetail(), m).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var owed domain.OwedSettlement
		if err := json.Unmarshal([]byte(raw), &owed); err != nil {
			continue
		}
		out = append(out, owed)
	}
	return out, nil
}

func (r *ledgerRedisRepo) RemoveOwed(ctx context.Context, taskID uint64, participant string) (bool, error) {
	member := owedMember(taskID, participant)
	pipe := r.rdb.TxPipeline()
	zrem := pipe.ZRem(ctx, r.keyOwed(), member)
	pipe.HDel(ctx, r.keyOwedDetail(), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return zrem.Val() > 0, nil
}

func parseUint(s string) uint64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
