package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sunagi/homare/pkg/domain"
	"github.com/sunagi/homare/pkg/persistence"
)

func newTestPlugin(t *testing.T) persistence.PluginPersistence {
	t.Helper()
	return NewPlugin(persistence.PluginConfig{Timezone: time.UTC})
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	p := newTestPlugin(t)
	tasks := p.Tasks()

	created, err := tasks.Create(ctx, &domain.Task{
		Advertiser:      "adv-1",
		Category:        domain.CategorySwap,
		RewardAmount:    100,
		RewardAsset:     "USDT",
		MaxParticipants: 5,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != 1 || created.Status != domain.TaskActive {
		t.Fatalf("unexpected created task: %+v", created)
	}

	got, err := tasks.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Advertiser != "adv-1" {
		t.Fatalf("got advertiser %q", got.Advertiser)
	}

	if _, err := tasks.Get(ctx, 999); !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}

	got.Status = domain.TaskPaused
	if err := tasks.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	paused, _ := tasks.List(ctx, domain.TaskPaused)
	if len(paused) != 1 {
		t.Fatalf("expected 1 paused task, got %d", len(paused))
	}
}

func TestCompletionCreatedOnce(t *testing.T) {
	ctx := context.Background()
	tasks := newTestPlugin(t).Tasks()

	c := &domain.Completion{TaskID: 1, Participant: "alice", Proof: "0xabc"}
	if err := tasks.CreateCompletion(ctx, c); err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if !c.Submitted || c.SubmittedAt.IsZero() {
		t.Fatalf("completion not stamped: %+v", c)
	}
	err := tasks.CreateCompletion(ctx, &domain.Completion{TaskID: 1, Participant: "alice"})
	if !errors.Is(err, domain.ErrDuplicateCompletion) {
		t.Fatalf("expected ErrDuplicateCompletion, got %v", err)
	}
	n, _ := tasks.CountCompletions(ctx, 1)
	if n != 1 {
		t.Fatalf("expected 1 completion, got %d", n)
	}
}

func TestSettlementLatchSingleShot(t *testing.T) {
	ctx := context.Background()
	tasks := newTestPlugin(t).Tasks()

	ok, err := tasks.AcquireSettlementLatch(ctx, 7, "alice")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = tasks.AcquireSettlementLatch(ctx, 7, "alice")
	if err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}
}

func TestMarkProcessedRefusesSecondVerdict(t *testing.T) {
	ctx := context.Background()
	verifications := newTestPlugin(t).Verifications()

	req, err := verifications.Create(ctx, &domain.VerificationRequest{
		TaskID:      1,
		Participant: "alice",
		Category:    domain.ProofOnChainTx,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := domain.VerificationResult{Verified: true, RiskScore: 80, Verifier: "chainwatch"}
	processed, err := verifications.MarkProcessed(ctx, req.ID, result)
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !processed.Processed || processed.Result.RiskScore != 80 {
		t.Fatalf("unexpected processed request: %+v", processed)
	}

	if _, err := verifications.MarkProcessed(ctx, req.ID, result); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestAdvanceNonceStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	verifications := newTestPlugin(t).Verifications()

	if err := verifications.AdvanceNonce(ctx, "chainwatch", 5); err != nil {
		t.Fatalf("first nonce: %v", err)
	}
	if err := verifications.AdvanceNonce(ctx, "chainwatch", 5); !errors.Is(err, domain.ErrReplayedNonce) {
		t.Fatalf("expected ErrReplayedNonce for equal nonce, got %v", err)
	}
	if err := verifications.AdvanceNonce(ctx, "chainwatch", 4); !errors.Is(err, domain.ErrReplayedNonce) {
		t.Fatalf("expected ErrReplayedNonce for lower nonce, got %v", err)
	}
	if err := verifications.AdvanceNonce(ctx, "chainwatch", 6); err != nil {
		t.Fatalf("higher nonce: %v", err)
	}
}

func TestReferralCodesAndChain(t *testing.T) {
	ctx := context.Background()
	referrals := newTestPlugin(t).Referrals()

	ok, err := referrals.MintCode(ctx, "ABCD2345", "alice")
	if err != nil || !ok {
		t.Fatalf("MintCode: ok=%v err=%v", ok, err)
	}
	ok, _ = referrals.MintCode(ctx, "ABCD2345", "bob")
	if ok {
		t.Fatal("taken code minted twice")
	}
	code, _ := referrals.CodeFor(ctx, "alice")
	if code != "ABCD2345" {
		t.Fatalf("CodeFor: got %q", code)
	}
	identity, err := referrals.Resolve(ctx, "ABCD2345")
	if err != nil || identity != "alice" {
		t.Fatalf("Resolve: identity=%q err=%v", identity, err)
	}
	if _, err := referrals.Resolve(ctx, "NOPE"); !errors.Is(err, domain.ErrInvalidReferrerCode) {
		t.Fatalf("expected ErrInvalidReferrerCode, got %v", err)
	}

	rec := &domain.ReferralRecord{Participant: "bob", Referrer: "alice"}
	if err := referrals.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := referrals.Create(ctx, &domain.ReferralRecord{Participant: "bob"}); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	if err := referrals.AddEarnings(ctx, "alice", 200, 60); err != nil {
		t.Fatalf("AddEarnings: %v", err)
	}
	got, err := referrals.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TotalEarned != 260 || got.DirectEarned != 200 || got.IndirectEarned != 60 {
		t.Fatalf("unexpected earnings: %+v", got)
	}
}

func TestTransferAtomicAgainstShortPool(t *testing.T) {
	ctx := context.Background()
	ledger := newTestPlugin(t).Ledger()

	if _, err := ledger.Deposit(ctx, "USDT", 50); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	err := ledger.Transfer(ctx, "USDT", 100, map[string]uint64{"alice": 60, "platform": 40})
	if !errors.Is(err, domain.ErrInsufficientPoolBalance) {
		t.Fatalf("expected ErrInsufficientPoolBalance, got %v", err)
	}
	// A failed transfer touches nothing.
	pool, _ := ledger.PoolBalance(ctx, "USDT")
	if pool != 50 {
		t.Fatalf("pool changed on failed transfer: %d", pool)
	}
	balance, _ := ledger.Balance(ctx, "alice", "USDT")
	if balance != 0 {
		t.Fatalf("balance changed on failed transfer: %d", balance)
	}

	if _, err := ledger.Deposit(ctx, "USDT", 50); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := ledger.Transfer(ctx, "USDT", 100, map[string]uint64{"alice": 60, "platform": 40}); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	pool, _ = ledger.PoolBalance(ctx, "USDT")
	balance, _ = ledger.Balance(ctx, "alice", "USDT")
	if pool != 0 || balance != 60 {
		t.Fatalf("after transfer: pool=%d alice=%d", pool, balance)
	}
}

func TestOwedQueue(t *testing.T) {
	ctx := context.Background()
	ledger := newTestPlugin(t).Ledger()

	first := domain.OwedSettlement{TaskID: 1, Participant: "alice", Asset: "USDT", Gross: 100, FirstTried: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	if err := ledger.AddOwed(ctx, first); err != nil {
		t.Fatalf("AddOwed: %v", err)
	}
	// Re-adding keeps the original record.
	if err := ledger.AddOwed(ctx, domain.OwedSettlement{TaskID: 1, Participant: "alice", Asset: "USDT", Gross: 999}); err != nil {
		t.Fatalf("AddOwed again: %v", err)
	}
	owed, err := ledger.ListOwed(ctx, 10)
	if err != nil {
		t.Fatalf("ListOwed: %v", err)
	}
	if len(owed) != 1 || owed[0].Gross != 100 {
		t.Fatalf("unexpected owed list: %+v", owed)
	}

	removed, err := ledger.RemoveOwed(ctx, 1, "alice")
	if err != nil {
		t.Fatalf("RemoveOwed: %v", err)
	}
	if !removed {
		t.Fatal("first removal did not claim the entry")
	}
	owed, _ = ledger.ListOwed(ctx, 10)
	if len(owed) != 0 {
		t.Fatalf("owed not removed: %+v", owed)
	}
	if removed, _ := ledger.RemoveOwed(ctx, 1, "alice"); removed {
		t.Fatal("second removal claimed an absent entry")
	}
}

func TestSettlementLog(t *testing.T) {
	ctx := context.Background()
	ledger := newTestPlugin(t).Ledger()

	for i := uint64(1); i <= 3; i++ {
		rec := domain.SettlementRecord{TaskID: i%2 + 1, Participant: "p", Asset: "USDT", GrossAmount: i * 10}
		if err := ledger.AppendSettlement(ctx, rec); err != nil {
			t.Fatalf("AppendSettlement: %v", err)
		}
	}
	all, _ := ledger.Settlements(ctx, 2)
	if len(all) != 2 || all[1].GrossAmount != 30 {
		t.Fatalf("unexpected tail: %+v", all)
	}
	byTask, _ := ledger.SettlementsByTask(ctx, 2)
	n, _ := ledger.CountSettledForTask(ctx, 2)
	if int64(len(byTask)) != n {
		t.Fatalf("byTask=%d count=%d", len(byTask), n)
	}
}
