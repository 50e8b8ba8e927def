package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sunagi/homare/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupReferralRepo(t *testing.T) (context.Context, ReferralRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return context.Background(), NewReferralRepository(rdb, time.UTC)
}

func TestCreateFreezesChain(t *testing.T) {
	ctx, repo := setupReferralRepo(t)
	rec := &domain.ReferralRecord{Participant: "alice", Referrer: "bob", Upstream: []string{"carol"}}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !rec.Active || rec.RegisteredAt.IsZero() {
		t.Fatalf("expected active stamped record, got %+v", rec)
	}

	again := &domain.ReferralRecord{Participant: "alice", Referrer: "dave"}
	if err := repo.Create(ctx, again); err != domain.ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	got, err := repo.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Referrer != "bob" || len(got.Upstream) != 1 || got.Upstream[0] != "carol" {
		t.Fatalf("chain must stay frozen, got %+v", got)
	}
}

func TestGetWithoutRecordReturnsBare(t *testing.T) {
	ctx, repo := setupReferralRepo(t)
	got, err := repo.Get(ctx, "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Referrer != "" || got.Active {
		t.Fatalf("expected bare record, got %+v", got)
	}
}

func TestMintAndResolveCode(t *testing.T) {
	ctx, repo := setupReferralRepo(t)
	ok, err := repo.MintCode(ctx, "HOMARE01", "bob")
	if err != nil || !ok {
		t.Fatalf("mint: ok=%v err=%v", ok, err)
	}
	identity, err := repo.Resolve(ctx, "HOMARE01")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity != "bob" {
		t.Fatalf("expected bob, got %s", identity)
	}
	code, err := repo.CodeFor(ctx, "bob")
	if err != nil || code != "HOMARE01" {
		t.Fatalf("expected reverse lookup HOMARE01, got %q err=%v", code, err)
	}

	// A taken code is never reassigned.
	ok, err = repo.MintCode(ctx, "HOMARE01", "mallory")
	if err != nil {
		t.Fatalf("mint collision: %v", err)
	}
	if ok {
		t.Fatal("expected collision to be refused")
	}
	identity, _ = repo.Resolve(ctx, "HOMARE01")
	if identity != "bob" {
		t.Fatalf("code owner changed to %s", identity)
	}
}

func TestResolveUnknownCode(t *testing.T) {
	ctx, repo := setupReferralRepo(t)
	if _, err := repo.Resolve(ctx, "NOPE"); err != domain.ErrInvalidReferrerCode {
		t.Fatalf("expected ErrInvalidReferrerCode, got %v", err)
	}
}

func TestEarningsAccumulate(t *testing.T) {
	ctx, repo := setupReferralRepo(t)
	if err := repo.AddEarnings(ctx, "bob", 25, 0); err != nil {
		t.Fatalf("add direct: %v", err)
	}
	if err := repo.AddEarnings(ctx, "bob", 0, 7); err != nil {
		t.Fatalf("add indirect: %v", err)
	}
	total, direct, indirect, err := repo.Earnings(ctx, "bob")
	if err != nil {
		t.Fatalf("earnings: %v", err)
	}
	if total != 32 || direct != 25 || indirect != 7 {
		t.Fatalf("earnings = %d/%d/%d, want 32/25/7", total, direct, indirect)
	}

	// Earnings show up on the referral record view too.
	rec, _ := repo.Get(ctx, "bob")
	if rec.TotalEarned != 32 {
		t.Fatalf("record total = %d, want 32", rec.TotalEarned)
	}
}
