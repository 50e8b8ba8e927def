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

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) (*domain.Task, error)
	Get(ctx context.Context, id uint64) (*domain.Task, error)
	Update(ctx context.Context, task *domain.Task) error
	List(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error)

	AddAsset(ctx context.Context, asset string) error
	RemoveAsset(ctx context.Context, asset string) error
	AssetSupported(ctx context.Context, asset string) (bool, error)

	CreateCompletion(ctx context.Context, c *domain.Completion) error
	GetCompletion(ctx context.Context, taskID uint64, participant string) (*domain.Completion, error)
	UpdateCompletion(ctx context.Context, c *domain.Completion) error
	CountCompletions(ctx context.Context, taskID uint64) (int64, error)

	IncrParticipants(ctx context.Context, taskID uint64) (int64, error)
	IncrVerified(ctx context.Context, taskID uint64) (int64, error)
	CountVerified(ctx context.Context, taskID uint64) (int64, error)

	// AcquireSettlementLatch flips the one-shot payout latch for a
	// (task, participant) pair. The first caller gets true; every later
	// caller gets false, whatever the verdict history looks like.
	AcquireSettlementLatch(ctx context.Context, taskID uint64, participant string) (bool, error)
}

type taskRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewTaskRepository(rdb *redis.Client, tz *time.Location) TaskRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &taskRedisRepo{rdb: rdb, tz: tz}
}

// ===== Redis keys =====
func (r *taskRedisRepo) keyTasksHash() string { return "homare:tasks" }     // HASH: field = id, value = JSON
func (r *taskRedisRepo) keyTaskSeq() string   { return "homare:tasks:seq" } // INCR: monotonic task ids
func (r *taskRedisRepo) keyAssets() string    { return "homare:assets" }    // SET: allow-listed reward assets
func (r *taskRedisRepo) keyCompletions(taskID uint64) string {
	return fmt.Sprintf("homare:task:%d:completions", taskID)
}
func (r *taskRedisRepo) keyParticipants(taskID uint64) string {
	return fmt.Sprintf("homare:task:%d:participants", taskID)
}
func (r *taskRedisRepo) keyVerified(taskID uint64) string {
	return fmt.Sprintf("homare:task:%d:verified", taskID)
}
func (r *taskRedisRepo) keyPaidLatch(taskID uint64, participant string) string {
	return fmt.Sprintf("homare:paid:%d:%s", taskID, participant)
}

func (r *taskRedisRepo) now() time.Time { return time.Now().In(r.tz) }

func marshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (r *taskRedisRepo) Create(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	id, err := r.rdb.Incr(ctx, r.keyTaskSeq()).Result()
	if err != nil {
		return nil, err
	}
	t := *task
	t.ID = uint64(id)
	t.Status = domain.TaskActive
	t.CurrentParticipants = 0
	t.CreatedAt = r.now()
	t.UpdatedAt = t.CreatedAt
	if err := r.rdb.HSet(ctx, r.keyTasksHash(), strconv.FormatUint(t.ID, 10), marshal(&t)).Err(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *taskRedisRepo) Get(ctx context.Context, id uint64) (*domain.Task, error) {
	raw, err := r.rdb.HGet(ctx, r.keyTasksHash(), strconv.FormatUint(id, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrUnknownTask
	}
	if err != nil {
		return nil, err
	}
	var t domain.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, err
	}
	// The participant count lives in its own counter so submissions can
	// bump it without rewriting the task JSON.
	n, err := r.rdb.Get(ctx, r.keyParticipants(id)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	t.CurrentParticipants = int(n)
	return &t, nil
}

func (r *taskRedisRepo) Update(ctx context.Context, task *domain.Task) error {
	t := *task
	t.UpdatedAt = r.now()
	exists, err := r.rdb.HExists(ctx, r.keyTasksHash(), strconv.FormatUint(t.ID, 10)).Result()
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrUnknownTask
	}
	return r.rdb.HSet(ctx, r.keyTasksHash(), strconv.FormatUint(t.ID, 10), marshal(&t)).Err()
}

func (r *taskRedisRepo) List(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	all, err := r.rdb.HGetAll(ctx, r.keyTasksHash()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(all))
	for _, raw := range all {
		var t domain.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		n, _ := r.rdb.Get(ctx, r.keyParticipants(t.ID)).Int64()
		t.CurrentParticipants = int(n)
		out = append(out, t)
	}
	return out, nil
}

func (r *taskRedisRepo) AddAsset(ctx context.Context, asset string) error {
	return r.rdb.SAdd(ctx, r.keyAssets(), asset).Err()
}

func (r *taskRedisRepo) RemoveAsset(ctx context.Context, asset string) error {
	return r.rdb.SRem(ctx, r.keyAssets(), asset).Err()
}

func (r *taskRedisRepo) AssetSupported(ctx context.Context, asset string) (bool, error) {
	return r.rdb.SIsMember(ctx, r.keyAssets(), asset).Result()
}

func (r *taskRedisRepo) CreateCompletion(ctx context.Context, c *domain.Completion) error {
	cc := *c
	cc.Submitted = true
	if cc.SubmittedAt.IsZero() {
		cc.SubmittedAt = r.now()
	}
	ok, err := r.rdb.HSetNX(ctx, r.keyCompletions(cc.TaskID), cc.Participant, marshal(&cc)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrDuplicateCompletion
	}
	*c = cc
	return nil
}

func (r *taskRedisRepo) GetCompletion(ctx context.Context, taskID uint64, participant string) (*domain.Completion, error) {
	raw, err := r.rdb.HGet(ctx, r.keyCompletions(taskID), participant).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrUnknownCompletion
	}
	if err != nil {
		return nil, err
	}
	var c domain.Completion
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *taskRedisRepo) UpdateCompletion(ctx context.Context, c *domain.Completion) error {
	exists, err := r.rdb.HExists(ctx, r.keyCompletions(c.TaskID), c.Participant).Result()
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrUnknownCompletion
	}
	return r.rdb.HSet(ctx, r.keyCompletions(c.TaskID), c.Participant, marshal(c)).Err()
}

func (r *taskRedisRepo) CountCompletions(ctx context.Context, taskID uint64) (int64, error) {
	return r.rdb.HLen(ctx, r.keyCompletions(taskID)).Result()
}

func (r *taskRedisRepo) IncrParticipants(ctx context.Context, taskID uint64) (int64, error) {
	return r.rdb.Incr(ctx, r.keyParticipants(taskID)).Result()
}

func (r *taskRedisRepo) IncrVerified(ctx context.Context, taskID uint64) (int64, error) {
	return r.rdb.Incr(ctx, r.keyVerified(taskID)).Result()
}

func (r *taskRedisRepo) CountVerified(ctx context.Context, taskID uint64) (int64, error) {
	n, err := r.rdb.Get(ctx, r.keyVerified(taskID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *taskRedisRepo) AcquireSettlementLatch(ctx context.Context, taskID uint64, participant string) (bool, error) {
	return r.rdb.SetNX(ctx, r.keyPaidLatch(taskID, participant), r.now().Format(time.RFC3339), 0).Result()
}
