package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sunagi/homare/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupVerificationRepo(t *testing.T) (context.Context, VerificationRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return context.Background(), NewVerificationRepository(rdb, time.UTC)
}

func TestCreateRequestStartsUnprocessed(t *testing.T) {
	ctx, repo := setupVerificationRepo(t)
	req, err := repo.Create(ctx, &domain.VerificationRequest{
		TaskID: 1, Participant: "alice", Category: domain.ProofOnChainTx, Proof: "0xbeef",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.ID == 0 {
		t.Fatal("expected a request id")
	}
	if req.Processed {
		t.Fatal("new request must be unprocessed")
	}
	if req.Result != (domain.VerificationResult{}) {
		t.Fatalf("result must stay at the unset sentinel, got %+v", req.Result)
	}

	second, _ := repo.Create(ctx, &domain.VerificationRequest{TaskID: 1, Participant: "bob", Category: domain.ProofSocial})
	if second.ID <= req.ID {
		t.Fatalf("expected monotonic request ids, got %d then %d", req.ID, second.ID)
	}
}

func TestMarkProcessedOnce(t *testing.T) {
	ctx, repo := setupVerificationRepo(t)
	req, _ := repo.Create(ctx, &domain.VerificationRequest{TaskID: 1, Participant: "alice", Category: domain.ProofOnChainTx})

	result := domain.VerificationResult{Verified: true, RiskScore: 80, ProofDigest: "sha:abc", Verifier: "ver-1"}
	got, err := repo.MarkProcessed(ctx, req.ID, result)
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if !got.Processed || !got.Result.Verified || got.Result.RiskScore != 80 {
		t.Fatalf("unexpected processed request: %+v", got)
	}
	if got.Result.CompletedAt.IsZero() {
		t.Fatal("expected CompletedAt stamped")
	}

	if _, err := repo.MarkProcessed(ctx, req.ID, result); err != domain.ErrAlreadyProcessed {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestMarkProcessedUnknownRequest(t *testing.T) {
	ctx, repo := setupVerificationRepo(t)
	if _, err := repo.MarkProcessed(ctx, 999, domain.VerificationResult{}); err != domain.ErrUnknownRequest {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestVerifierRegistryRotation(t *testing.T) {
	ctx, repo := setupVerificationRepo(t)
	if _, err := repo.VerifierFor(ctx, domain.ProofSocial); err != domain.ErrNoVerifierForCategory {
		t.Fatalf("expected ErrNoVerifierForCategory, got %v", err)
	}

	v1 := domain.Verifier{Identity: "ver-1", Category: domain.ProofSocial, CallbackURL: "https://v1.example/hook"}
	if err := repo.RegisterVerifier(ctx, v1); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := repo.VerifierFor(ctx, domain.ProofSocial)
	if err != nil {
		t.Fatalf("verifier for: %v", err)
	}
	if got.Identity != "ver-1" {
		t.Fatalf("expected ver-1, got %s", got.Identity)
	}

	// Rotation: a new identity replaces the old one for the category.
	v2 := domain.Verifier{Identity: "ver-2", Category: domain.ProofSocial, CallbackURL: "https://v2.example/hook"}
	if err := repo.RegisterVerifier(ctx, v2); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	got, _ = repo.VerifierFor(ctx, domain.ProofSocial)
	if got.Identity != "ver-2" {
		t.Fatalf("expected rotated verifier ver-2, got %s", got.Identity)
	}
}

func TestRemoveVerifierClearsEveryCategory(t *testing.T) {
	ctx, repo := setupVerificationRepo(t)
	_ = repo.RegisterVerifier(ctx, domain.Verifier{Identity: "ver-1", Category: domain.ProofSocial})
	_ = repo.RegisterVerifier(ctx, domain.Verifier{Identity: "ver-1", Category: domain.ProofChat})
	_ = repo.RegisterVerifier(ctx, domain.Verifier{Identity: "ver-2", Category: domain.ProofOnChainTx})

	removed, err := repo.RemoveVerifier(ctx, "ver-1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 mappings cleared, got %d", removed)
	}
	if _, err := repo.VerifierFor(ctx, domain.ProofSocial); err != domain.ErrNoVerifierForCategory {
		t.Fatalf("expected social cleared, got %v", err)
	}
	if _, err := repo.VerifierFor(ctx, domain.ProofOnChainTx); err != nil {
		t.Fatalf("expected ver-2 untouched, got %v", err)
	}
}

func TestAdvanceNonceRejectsReplay(t *testing.T) {
	ctx, repo := setupVerificationRepo(t)
	if err := repo.AdvanceNonce(ctx, "ver-1", 1); err != nil {
		t.Fatalf("nonce 1: %v", err)
	}
	if err := repo.AdvanceNonce(ctx, "ver-1", 5); err != nil {
		t.Fatalf("nonce 5: %v", err)
	}
	if err := repo.AdvanceNonce(ctx, "ver-1", 5); err != domain.ErrReplayedNonce {
		t.Fatalf("expected ErrReplayedNonce for equal nonce, got %v", err)
	}
	if err := repo.AdvanceNonce(ctx, "ver-1", 3); err != domain.ErrReplayedNonce {
		t.Fatalf("expected ErrReplayedNonce for old nonce, got %v", err)
	}
	// Other verifiers keep their own sequence.
	if err := repo.AdvanceNonce(ctx, "ver-2", 1); err != nil {
		t.Fatalf("nonce for other verifier: %v", err)
	}
}
