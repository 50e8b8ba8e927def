package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sunagi/homare/internal/metrics"
	"github.com/sunagi/homare/internal/repository"
	"github.com/sunagi/homare/pkg/domain"
)

// ProofSubmitter is the slice of the Verification Gateway the registry needs.
type ProofSubmitter interface {
	// CanVerify reports whether a verifier is registered for the category,
	// so the registry can reject a submission before mutating any state.
	CanVerify(ctx context.Context, category domain.ProofCategory) error
	Submit(ctx context.Context, taskID uint64, participant string, category domain.ProofCategory, proof string) (*domain.VerificationRequest, error)
}

// Distributor is the slice of the Settlement Engine the registry needs.
type Distributor interface {
	Distribute(ctx context.Context, participant string, gross uint64, asset string, taskID uint64) (*domain.SettlementRecord, error)
	CountSettled(ctx context.Context, taskID uint64) (int64, error)
	PoolBalance(ctx context.Context, asset string) (uint64, error)
}

type RegistryService interface {
	CreateTask(ctx context.Context, spec domain.Task) (*domain.Task, error)
	GetTask(ctx context.Context, id uint64) (*domain.Task, error)
	ListTasks(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error)
	SetStatus(ctx context.Context, id uint64, to domain.TaskStatus) (*domain.Task, error)
	AddSupportedAsset(ctx context.Context, asset string) error

	SubmitCompletion(ctx context.Context, taskID uint64, participant, proof string) (*domain.Completion, *domain.VerificationRequest, error)
	GetCompletion(ctx context.Context, taskID uint64, participant string) (*domain.Completion, error)
	TaskStats(ctx context.Context, taskID uint64) (*domain.TaskStats, error)

	// OnVerdict consumes a verdict relayed by the gateway. Calls are
	// idempotent per (task, participant); settlement fires at most once.
	OnVerdict(ctx context.Context, taskID uint64, participant string, verified bool, riskScore int) error

	// SetGateway and SetSettlement bind the collaborating components;
	// wiring happens once at startup.
	SetGateway(g ProofSubmitter)
	SetSettlement(d Distributor)
}

type registryService struct {
	repo       repository.TaskRepository
	gateway    ProofSubmitter
	settlement Distributor
	logger     *slog.Logger
	now        func() time.Time
	locks      *keyedMutex
}

func NewRegistryService(repo repository.TaskRepository, logger *slog.Logger, now func() time.Time) RegistryService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &registryService{
		repo:   repo,
		logger: logger,
		now:    now,
		locks:  newKeyedMutex(),
	}
}

func (s *registryService) SetGateway(g ProofSubmitter) { s.gateway = g }
func (s *registryService) SetSettlement(d Distributor) { s.settlement = d }

func (s *registryService) CreateTask(ctx context.Context, spec domain.Task) (*domain.Task, error) {
	if spec.RewardAmount == 0 {
		return nil, fmt.Errorf("%w: reward amount must be positive", domain.ErrInvalidParameter)
	}
	if spec.MaxParticipants <= 0 {
		return nil, fmt.Errorf("%w: participant cap must be positive", domain.ErrInvalidParameter)
	}
	if !spec.EndTime.After(spec.StartTime) {
		return nil, fmt.Errorf("%w: task duration must be positive", domain.ErrInvalidParameter)
	}
	if !spec.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidParameter, spec.Category)
	}
	if spec.MinScore < 0 || spec.MinScore > 100 {
		return nil, fmt.Errorf("%w: minScore must be within [0, 100]", domain.ErrInvalidParameter)
	}
	supported, err := s.repo.AssetSupported(ctx, spec.RewardAsset)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, fmt.Errorf("%w: reward asset %q is not allow-listed", domain.ErrInvalidParameter, spec.RewardAsset)
	}

	task, err := s.repo.Create(ctx, &spec)
	if err != nil {
		return nil, err
	}
	metrics.TaskCreatedTotal.WithLabelValues(string(task.Category)).Inc()
	s.logger.Info("task created", "taskId", task.ID, "category", task.Category, "reward", task.RewardAmount, "asset", task.RewardAsset)
	return task, nil
}

func (s *registryService) GetTask(ctx context.Context, id uint64) (*domain.Task, error) {
	return s.repo.Get(ctx, id)
}

func (s *registryService) ListTasks(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	return s.repo.List(ctx, status)
}

func (s *registryService) SetStatus(ctx context.Context, id uint64, to domain.TaskStatus) (*domain.Task, error) {
	unlock := s.locks.Lock(taskKey(id))
	defer unlock()

	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(task.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, task.Status, to)
	}
	task.Status = to
	if err := s.repo.Update(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("task status changed", "taskId", id, "status", to)
	return task, nil
}

func (s *registryService) AddSupportedAsset(ctx context.Context, asset string) error {
	if asset == "" {
		return fmt.Errorf("%w: asset identifier is empty", domain.ErrInvalidParameter)
	}
	return s.repo.AddAsset(ctx, asset)
}

func (s *registryService) SubmitCompletion(ctx context.Context, taskID uint64, participant, proof string) (*domain.Completion, *domain.VerificationRequest, error) {
	if participant == "" {
		return nil, nil, fmt.Errorf("%w: participant identity is empty", domain.ErrInvalidParameter)
	}

	// One submission mutates per-task state; serialize per task so the cap
	// check and the count bump cannot interleave.
	unlock := s.locks.Lock(taskKey(taskID))
	defer unlock()

	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.Status != domain.TaskActive {
		return nil, nil, domain.ErrTaskNotActive
	}
	if !task.WindowOpen(s.now()) {
		return nil, nil, domain.ErrTaskWindowClosed
	}
	if task.CurrentParticipants >= task.MaxParticipants {
		return nil, nil, domain.ErrTaskFull
	}

	category := domain.ProofCategoryFor(task.Category)
	// Validation happens before any mutation: a submission that cannot be
	// verified must not consume a participant slot.
	if err := s.gateway.CanVerify(ctx, category); err != nil {
		return nil, nil, err
	}

	completion := &domain.Completion{
		TaskID:      taskID,
		Participant: participant,
		Proof:       proof,
		SubmittedAt: s.now(),
	}
	if err := s.repo.CreateCompletion(ctx, completion); err != nil {
		return nil, nil, err
	}
	if _, err := s.repo.IncrParticipants(ctx, taskID); err != nil {
		return nil, nil, err
	}

	req, err := s.gateway.Submit(ctx, taskID, participant, category, proof)
	if err != nil {
		// The completion stands; the verdict will simply never arrive for
		// it unless resubmitted through the gateway by an operator.
		s.logger.Warn("verification submit failed", "taskId", taskID, "participant", participant, "err", err)
		return completion, nil, err
	}

	metrics.CompletionSubmittedTotal.WithLabelValues(string(task.Category)).Inc()
	s.logger.Info("completion submitted", "taskId", taskID, "participant", participant, "requestId", req.ID)
	return completion, req, nil
}

func (s *registryService) GetCompletion(ctx context.Context, taskID uint64, participant string) (*domain.Completion, error) {
	return s.repo.GetCompletion(ctx, taskID, participant)
}

func (s *registryService) OnVerdict(ctx context.Context, taskID uint64, participant string, verified bool, riskScore int) error {
	unlock := s.locks.Lock(taskKey(taskID) + ":" + participant)
	defer unlock()

	completion, err := s.repo.GetCompletion(ctx, taskID, participant)
	if err != nil {
		return err
	}
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}

	// Verified transitions false->true at most once. A repeated verdict for
	// an already-verified pair is a no-op so at-least-once delivery from the
	// gateway stays harmless.
	if !completion.Verified {
		completion.RiskScore = &riskScore
		if verified {
			completion.Verified = true
			if _, err := s.repo.IncrVerified(ctx, taskID); err != nil {
				return err
			}
		}
		if err := s.repo.UpdateCompletion(ctx, completion); err != nil {
			return err
		}
	}

	if !(verified && riskScore >= task.MinScore) {
		s.logger.Info("verdict stored without settlement", "taskId", taskID, "participant", participant, "verified", verified, "riskScore", riskScore, "minScore", task.MinScore)
		return nil
	}

	// One-shot payout latch, independent of the verified flag's idempotence:
	// a duplicate verdict must never pay twice.
	won, err := s.repo.AcquireSettlementLatch(ctx, taskID, participant)
	if err != nil {
		return err
	}
	if !won {
		s.logger.Info("settlement already triggered", "taskId", taskID, "participant", participant)
		return nil
	}

	_, err = s.settlement.Distribute(ctx, participant, task.RewardAmount, task.RewardAsset, taskID)
	if errors.Is(err, domain.ErrInsufficientPoolBalance) {
		// Deferred, not dropped: the obligation is recorded as owed and
		// retried once the pool is topped up.
		s.logger.Warn("settlement deferred: pool short", "taskId", taskID, "participant", participant, "asset", task.RewardAsset, "gross", task.RewardAmount)
		return nil
	}
	if err != nil {
		s.logger.Error("settlement failed", "taskId", taskID, "participant", participant, "err", err)
		return err
	}
	s.logger.Info("settlement executed", "taskId", taskID, "participant", participant, "gross", task.RewardAmount)
	return nil
}

func (s *registryService) TaskStats(ctx context.Context, taskID uint64) (*domain.TaskStats, error) {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	submitted, err := s.repo.CountCompletions(ctx, taskID)
	if err != nil {
		return nil, err
	}
	verified, err := s.repo.CountVerified(ctx, taskID)
	if err != nil {
		return nil, err
	}
	stats := &domain.TaskStats{
		TaskID:    taskID,
		Submitted: submitted,
		Verified:  verified,
		Remaining: task.MaxParticipants - task.CurrentParticipants,
	}
	if s.settlement != nil {
		if settled, err := s.settlement.CountSettled(ctx, taskID); err == nil {
			stats.Settled = settled
		}
		if pool, err := s.settlement.PoolBalance(ctx, task.RewardAsset); err == nil {
			stats.PoolBalance = pool
		}
	}
	return stats, nil
}

func taskKey(id uint64) string {
	return "task:" + strconv.FormatUint(id, 10)
}
