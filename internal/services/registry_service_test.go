package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sunagi/homare/internal/repository"
	"github.com/sunagi/homare/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// nopDispatch drops outbound pushes and records them for assertions.
type nopDispatch struct {
	sent []domain.VerificationRequest
}

func (d *nopDispatch) Dispatch(ctx context.Context, v domain.Verifier, req domain.VerificationRequest) {
	d.sent = append(d.sent, req)
}

type harness struct {
	rdb        *redis.Client
	registry   RegistryService
	gateway    GatewayService
	settlement SettlementService
	dispatch   *nopDispatch
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	logger := slog.Default()

	taskRepo := repository.NewTaskRepository(rdb, time.UTC)
	verifRepo := repository.NewVerificationRepository(rdb, time.UTC)
	refRepo := repository.NewReferralRepository(rdb, time.UTC)
	ledgerRepo := repository.NewLedgerRepository(rdb, time.UTC)

	dispatch := &nopDispatch{}
	registry := NewRegistryService(taskRepo, logger, clock)
	gateway := NewGatewayService(verifRepo, dispatch, logger, clock)
	settlement := NewSettlementService(refRepo, ledgerRepo, taskRepo, "treasury", logger, clock)
	registry.SetGateway(gateway)
	registry.SetSettlement(settlement)
	gateway.SetRegistry(registry)

	return &harness{rdb: rdb, registry: registry, gateway: gateway, settlement: settlement, dispatch: dispatch, now: now}
}

func (h *harness) addVerifier(t *testing.T, category domain.ProofCategory, identity string) {
	t.Helper()
	_, err := h.gateway.RegisterVerifier(context.Background(), domain.Verifier{
		Identity:    identity,
		Category:    category,
		CallbackURL: "https://verifier.example/hook",
	})
	if err != nil {
		t.Fatalf("RegisterVerifier: %v", err)
	}
}

func (h *harness) addTask(t *testing.T, mutate func(*domain.Task)) *domain.Task {
	t.Helper()
	ctx := context.Background()
	if err := h.registry.AddSupportedAsset(ctx, "USDT"); err != nil {
		t.Fatalf("AddSupportedAsset: %v", err)
	}
	spec := domain.Task{
		Advertiser:      "adv-1",
		Category:        domain.CategorySwap,
		RewardAmount:    100,
		RewardAsset:     "USDT",
		MaxParticipants: 10,
		StartTime:       h.now.Add(-time.Hour),
		EndTime:         h.now.Add(time.Hour),
		MinScore:        50,
	}
	if mutate != nil {
		mutate(&spec)
	}
	task, err := h.registry.CreateTask(ctx, spec)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestCreateTaskValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.registry.AddSupportedAsset(ctx, "USDT"); err != nil {
		t.Fatal(err)
	}
	base := domain.Task{
		Category:        domain.CategorySwap,
		RewardAmount:    100,
		RewardAsset:     "USDT",
		MaxParticipants: 1,
		StartTime:       h.now,
		EndTime:         h.now.Add(time.Hour),
		MinScore:        50,
	}

	cases := []struct {
		name   string
		mutate func(*domain.Task)
	}{
		{"zero reward", func(s *domain.Task) { s.RewardAmount = 0 }},
		{"zero cap", func(s *domain.Task) { s.MaxParticipants = 0 }},
		{"inverted window", func(s *domain.Task) { s.EndTime = s.StartTime.Add(-time.Minute) }},
		{"unknown category", func(s *domain.Task) { s.Category = "JUGGLING" }},
		{"score above 100", func(s *domain.Task) { s.MinScore = 101 }},
		{"unsupported asset", func(s *domain.Task) { s.RewardAsset = "DOGE" }},
	}
	for _, tc := range cases {
		spec := base
		tc.mutate(&spec)
		if _, err := h.registry.CreateTask(ctx, spec); !errors.Is(err, domain.ErrInvalidParameter) {
			t.Errorf("%s: expected ErrInvalidParameter, got %v", tc.name, err)
		}
	}

	task, err := h.registry.CreateTask(ctx, base)
	if err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if task.Status != domain.TaskActive {
		t.Errorf("new task status = %s, want ACTIVE", task.Status)
	}
}

func TestSubmitCompletionFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addVerifier(t, domain.ProofOnChainTx, "chain-watcher")
	task := h.addTask(t, nil)

	completion, req, err := h.registry.SubmitCompletion(ctx, task.ID, "alice", "0xdeadbeef")
	if err != nil {
		t.Fatalf("SubmitCompletion: %v", err)
	}
	if completion.Verified {
		t.Error("fresh completion must not be verified")
	}
	if req == nil || req.TaskID != task.ID {
		t.Fatalf("verification request not created: %+v", req)
	}
	if len(h.dispatch.sent) != 1 {
		t.Fatalf("dispatched %d requests, want 1", len(h.dispatch.sent))
	}

	got, err := h.registry.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentParticipants != 1 {
		t.Errorf("CurrentParticipants = %d, want 1", got.CurrentParticipants)
	}

	if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, "alice", "0xother"); !errors.Is(err, domain.ErrDuplicateCompletion) {
		t.Errorf("duplicate submission: expected ErrDuplicateCompletion, got %v", err)
	}
	if got, _ := h.registry.GetTask(ctx, task.ID); got.CurrentParticipants != 1 {
		t.Errorf("duplicate bumped participant count to %d", got.CurrentParticipants)
	}
}

func TestSubmitCompletionGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addVerifier(t, domain.ProofOnChainTx, "chain-watcher")

	t.Run("paused task", func(t *testing.T) {
		task := h.addTask(t, nil)
		if _, err := h.registry.SetStatus(ctx, task.ID, domain.TaskPaused); err != nil {
			t.Fatal(err)
		}
		if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, "bob", "p"); !errors.Is(err, domain.ErrTaskNotActive) {
			t.Errorf("expected ErrTaskNotActive, got %v", err)
		}
	})

	t.Run("window closed", func(t *testing.T) {
		task := h.addTask(t, func(s *domain.Task) {
			s.StartTime = h.now.Add(-2 * time.Hour)
			s.EndTime = h.now.Add(-time.Hour)
		})
		if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, "bob", "p"); !errors.Is(err, domain.ErrTaskWindowClosed) {
			t.Errorf("expected ErrTaskWindowClosed, got %v", err)
		}
	})

	t.Run("task full", func(t *testing.T) {
		task := h.addTask(t, func(s *domain.Task) { s.MaxParticipants = 1 })
		if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, "first", "p"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, "second", "p"); !errors.Is(err, domain.ErrTaskFull) {
			t.Errorf("expected ErrTaskFull, got %v", err)
		}
	})

	t.Run("no verifier consumes no slot", func(t *testing.T) {
		task := h.addTask(t, func(s *domain.Task) { s.Category = domain.CategorySocial })
		if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, "carol", "p"); !errors.Is(err, domain.ErrNoVerifierForCategory) {
			t.Fatalf("expected ErrNoVerifierForCategory, got %v", err)
		}
		got, _ := h.registry.GetTask(ctx, task.ID)
		if got.CurrentParticipants != 0 {
			t.Errorf("rejected submission consumed a slot: %d", got.CurrentParticipants)
		}
		if _, err := h.registry.GetCompletion(ctx, task.ID, "carol"); !errors.Is(err, domain.ErrUnknownCompletion) {
			t.Errorf("rejected submission left a completion behind: %v", err)
		}
	})
}

func TestStatusTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.addTask(t, nil)

	if _, err := h.registry.SetStatus(ctx, task.ID, domain.TaskPaused); err != nil {
		t.Fatalf("ACTIVE -> PAUSED: %v", err)
	}
	if _, err := h.registry.SetStatus(ctx, task.ID, domain.TaskCompleted); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("PAUSED -> COMPLETED: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.registry.SetStatus(ctx, task.ID, domain.TaskActive); err != nil {
		t.Fatalf("PAUSED -> ACTIVE: %v", err)
	}
	if _, err := h.registry.SetStatus(ctx, task.ID, domain.TaskCancelled); err != nil {
		t.Fatalf("ACTIVE -> CANCELLED: %v", err)
	}
	if _, err := h.registry.SetStatus(ctx, task.ID, domain.TaskActive); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("CANCELLED is terminal, got %v", err)
	}
}

func TestVerdictSettlesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addVerifier(t, domain.ProofOnChainTx, "chain-watcher")
	task := h.addTask(t, nil)

	if _, err := h.settlement.Deposit(ctx, "USDT", 1000); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, "alice", "0xabc"); err != nil {
		t.Fatal(err)
	}

	if err := h.registry.OnVerdict(ctx, task.ID, "alice", true, 80); err != nil {
		t.Fatalf("OnVerdict: %v", err)
	}
	completion, err := h.registry.GetCompletion(ctx, task.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !completion.Verified || completion.RiskScore == nil || *completion.RiskScore != 80 {
		t.Fatalf("completion after verdict: %+v", completion)
	}

	// No referral chain: participant 60%, everything else to the platform.
	if bal, _ := h.settlement.Balance(ctx, "alice", "USDT"); bal != 60 {
		t.Errorf("alice balance = %d, want 60", bal)
	}
	if bal, _ := h.settlement.Balance(ctx, "treasury", "USDT"); bal != 40 {
		t.Errorf("treasury balance = %d, want 40", bal)
	}
	if pool, _ := h.settlement.PoolBalance(ctx, "USDT"); pool != 900 {
		t.Errorf("pool = %d, want 900", pool)
	}

	// Redelivered verdict pays nothing further.
	if err := h.registry.OnVerdict(ctx, task.ID, "alice", true, 80); err != nil {
		t.Fatalf("redelivered verdict: %v", err)
	}
	if bal, _ := h.settlement.Balance(ctx, "alice", "USDT"); bal != 60 {
		t.Errorf("redelivery changed alice's balance to %d", bal)
	}
}

func TestVerdictBelowThresholdDoesNotPay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addVerifier(t, domain.ProofOnChainTx, "chain-watcher")
	task := h.addTask(t, nil)
	if _, err := h.settlement.Deposit(ctx, "USDT", 1000); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, "alice", "0xabc"); err != nil {
		t.Fatal(err)
	}

	if err := h.registry.OnVerdict(ctx, task.ID, "alice", true, 40); err != nil {
		t.Fatalf("OnVerdict: %v", err)
	}
	completion, _ := h.registry.GetCompletion(ctx, task.ID, "alice")
	if !completion.Verified {
		t.Error("verified verdict must stick even below the score threshold")
	}
	if bal, _ := h.settlement.Balance(ctx, "alice", "USDT"); bal != 0 {
		t.Errorf("below-threshold verdict paid %d", bal)
	}
	if pool, _ := h.settlement.PoolBalance(ctx, "USDT"); pool != 1000 {
		t.Errorf("pool touched: %d", pool)
	}
}

func TestVerdictPoolShortDefersSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addVerifier(t, domain.ProofOnChainTx, "chain-watcher")
	task := h.addTask(t, nil)
	if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, "alice", "0xabc"); err != nil {
		t.Fatal(err)
	}

	// Empty pool: the verdict lands, the payout is recorded owed.
	if err := h.registry.OnVerdict(ctx, task.ID, "alice", true, 90); err != nil {
		t.Fatalf("OnVerdict with empty pool: %v", err)
	}
	owed, err := h.settlement.ListOwed(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(owed) != 1 || owed[0].Participant != "alice" || owed[0].Gross != 100 {
		t.Fatalf("owed = %+v, want one entry for alice/100", owed)
	}

	if _, err := h.settlement.Deposit(ctx, "USDT", 100); err != nil {
		t.Fatal(err)
	}
	paid, err := h.settlement.RetryOwed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if paid != 1 {
		t.Fatalf("RetryOwed paid %d, want 1", paid)
	}
	if bal, _ := h.settlement.Balance(ctx, "alice", "USDT"); bal != 60 {
		t.Errorf("alice balance = %d, want 60", bal)
	}
	if owed, _ := h.settlement.ListOwed(ctx, 0); len(owed) != 0 {
		t.Errorf("owed not cleared: %+v", owed)
	}
}

func TestTaskStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addVerifier(t, domain.ProofOnChainTx, "chain-watcher")
	task := h.addTask(t, nil)
	if _, err := h.settlement.Deposit(ctx, "USDT", 1000); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"alice", "bob", "carol"} {
		if _, _, err := h.registry.SubmitCompletion(ctx, task.ID, p, "proof-"+p); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.registry.OnVerdict(ctx, task.ID, "alice", true, 90); err != nil {
		t.Fatal(err)
	}
	if err := h.registry.OnVerdict(ctx, task.ID, "bob", false, 10); err != nil {
		t.Fatal(err)
	}

	stats, err := h.registry.TaskStats(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Submitted != 3 || stats.Verified != 1 || stats.Settled != 1 || stats.Remaining != 7 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.PoolBalance != 900 {
		t.Errorf("stats pool = %d, want 900", stats.PoolBalance)
	}
}
