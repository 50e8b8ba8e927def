package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sunagi/homare/internal/metrics"
	"github.com/sunagi/homare/internal/repository"
	"github.com/sunagi/homare/internal/tracing"
	"github.com/sunagi/homare/pkg/domain"
)

// VerdictSink is the slice of the Task Registry the gateway pushes accepted
// verdicts into.
type VerdictSink interface {
	OnVerdict(ctx context.Context, taskID uint64, participant string, verified bool, riskScore int) error
}

// Verdict is the payload a verifier delivers for a pending request.
type Verdict struct {
	Verifier    string
	Nonce       uint64
	Verified    bool
	RiskScore   int
	ProofDigest string
}

type GatewayService interface {
	ProofSubmitter

	// DeliverVerdict validates and records a verifier's verdict, then relays
	// it to the registry. Replays, by processed flag or by nonce, are
	// rejected before any state changes.
	DeliverVerdict(ctx context.Context, requestID uint64, v Verdict) (*domain.VerificationRequest, error)

	GetRequest(ctx context.Context, id uint64) (*domain.VerificationRequest, error)
	RegisterVerifier(ctx context.Context, v domain.Verifier) (*domain.Verifier, error)
	RemoveVerifier(ctx context.Context, identity string) (int, error)

	SetRegistry(sink VerdictSink)
}

type gatewayService struct {
	repo     repository.VerificationRepository
	dispatch DispatchService
	registry VerdictSink
	logger   *slog.Logger
	now      func() time.Time
	locks    *keyedMutex
}

func NewGatewayService(repo repository.VerificationRepository, dispatch DispatchService, logger *slog.Logger, now func() time.Time) GatewayService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &gatewayService{
		repo:     repo,
		dispatch: dispatch,
		logger:   logger,
		now:      now,
		locks:    newKeyedMutex(),
	}
}

func (s *gatewayService) SetRegistry(sink VerdictSink) { s.registry = sink }

func (s *gatewayService) CanVerify(ctx context.Context, category domain.ProofCategory) error {
	_, err := s.repo.VerifierFor(ctx, category)
	return err
}

func (s *gatewayService) Submit(ctx context.Context, taskID uint64, participant string, category domain.ProofCategory, proof string) (*domain.VerificationRequest, error) {
	verifier, err := s.repo.VerifierFor(ctx, category)
	if err != nil {
		return nil, err
	}

	traceParent, traceState := tracing.TraceContextStrings(ctx)
	req, err := s.repo.Create(ctx, &domain.VerificationRequest{
		TaskID:      taskID,
		Participant: participant,
		Category:    category,
		Proof:       proof,
		TraceParent: traceParent,
		TraceState:  traceState,
	})
	if err != nil {
		return nil, err
	}

	s.dispatch.Dispatch(ctx, *verifier, *req)
	s.logger.Info("verification requested", "requestId", req.ID, "taskId", taskID, "participant", participant, "category", category, "verifier", verifier.Identity)
	return req, nil
}

func (s *gatewayService) DeliverVerdict(ctx context.Context, requestID uint64, v Verdict) (*domain.VerificationRequest, error) {
	unlock := s.locks.Lock("request:" + strconv.FormatUint(requestID, 10))
	defer unlock()

	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Processed {
		return nil, domain.ErrAlreadyProcessed
	}
	if v.RiskScore < 0 || v.RiskScore > 100 {
		return nil, fmt.Errorf("%w: riskScore %d", domain.ErrScoreOutOfRange, v.RiskScore)
	}

	registered, err := s.repo.VerifierFor(ctx, req.Category)
	if err != nil {
		return nil, err
	}
	if registered.Identity != v.Verifier {
		return nil, fmt.Errorf("%w: %q is not the %s verifier", domain.ErrVerifierMismatch, v.Verifier, req.Category)
	}

	// Nonce advances only after the cheap checks pass so a malformed verdict
	// does not burn the verifier's window.
	if err := s.repo.AdvanceNonce(ctx, v.Verifier, v.Nonce); err != nil {
		return nil, err
	}

	completedAt := s.now()
	processed, err := s.repo.MarkProcessed(ctx, requestID, domain.VerificationResult{
		Verified:    v.Verified,
		RiskScore:   v.RiskScore,
		ProofDigest: v.ProofDigest,
		CompletedAt: completedAt,
		Verifier:    v.Verifier,
	})
	if err != nil {
		return nil, err
	}

	outcome := "rejected"
	if v.Verified {
		outcome = "verified"
	}
	metrics.VerdictDeliveredTotal.WithLabelValues(string(req.Category), outcome).Inc()
	if !req.CreatedAt.IsZero() {
		metrics.VerdictLatencySeconds.WithLabelValues(string(req.Category)).Observe(completedAt.Sub(req.CreatedAt).Seconds())
	}

	// The verdict is already durable; a registry hiccup must not make the
	// verifier redeliver, so registry errors are logged and swallowed.
	vctx := tracing.ContextWithRemoteParent(ctx, req.TraceParent, req.TraceState)
	if err := s.registry.OnVerdict(vctx, req.TaskID, req.Participant, v.Verified, v.RiskScore); err != nil {
		s.logger.Error("verdict relay failed", "requestId", requestID, "taskId", req.TaskID, "participant", req.Participant, "err", err)
	}

	s.logger.Info("verdict delivered", "requestId", requestID, "verifier", v.Verifier, "verified", v.Verified, "riskScore", v.RiskScore)
	return processed, nil
}

func (s *gatewayService) GetRequest(ctx context.Context, id uint64) (*domain.VerificationRequest, error) {
	return s.repo.Get(ctx, id)
}

func (s *gatewayService) RegisterVerifier(ctx context.Context, v domain.Verifier) (*domain.Verifier, error) {
	if v.Identity == "" {
		return nil, fmt.Errorf("%w: verifier identity is empty", domain.ErrInvalidParameter)
	}
	if !v.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown proof category %q", domain.ErrInvalidParameter, v.Category)
	}
	if v.CallbackURL == "" {
		return nil, fmt.Errorf("%w: callback url is empty", domain.ErrInvalidParameter)
	}
	v.AddedAt = s.now()
	if err := s.repo.RegisterVerifier(ctx, v); err != nil {
		return nil, err
	}
	s.logger.Info("verifier registered", "identity", v.Identity, "category", v.Category)
	return &v, nil
}

func (s *gatewayService) RemoveVerifier(ctx context.Context, identity string) (int, error) {
	n, err := s.repo.RemoveVerifier(ctx, identity)
	if err != nil {
		return 0, err
	}
	s.logger.Info("verifier removed", "identity", identity, "categories", n)
	return n, nil
}
