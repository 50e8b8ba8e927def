package split

import (
	"math"
	"testing"
)

func TestWeightsSumToTotal(t *testing.T) {
	if ParticipantBps+DirectBps+IndirectBps+PlatformBps != TotalBps {
		t.Fatalf("weights sum to %d, want %d", ParticipantBps+DirectBps+IndirectBps+PlatformBps, TotalBps)
	}
	if IndirectBps%IndirectTiers != 0 {
		t.Fatalf("indirect share %d does not divide evenly across %d tiers", IndirectBps, IndirectTiers)
	}
}

func TestComputeFullChain(t *testing.T) {
	d := Compute(10000, true, 2)
	if d.Participant != 6000 {
		t.Errorf("participant = %d, want 6000", d.Participant)
	}
	if d.Direct != 2000 {
		t.Errorf("direct = %d, want 2000", d.Direct)
	}
	if d.Indirect[0] != 600 || d.Indirect[1] != 600 {
		t.Errorf("indirect = %v, want [600 600]", d.Indirect)
	}
	if d.Platform != 800 {
		t.Errorf("platform = %d, want 800", d.Platform)
	}
}

func TestComputeNoReferrers(t *testing.T) {
	d := Compute(100, false, 0)
	if d.Participant != 60 {
		t.Errorf("participant = %d, want 60", d.Participant)
	}
	if d.Direct != 0 || d.Indirect[0] != 0 || d.Indirect[1] != 0 {
		t.Errorf("expected zero referrer shares, got direct=%d indirect=%v", d.Direct, d.Indirect)
	}
	// Absent referrer shares accrue to the platform bucket.
	if d.Platform != 40 {
		t.Errorf("platform = %d, want 40", d.Platform)
	}
}

func TestComputeDirectOnly(t *testing.T) {
	d := Compute(10000, true, 0)
	if d.Direct != 2000 {
		t.Errorf("direct = %d, want 2000", d.Direct)
	}
	if d.Platform != 10000-6000-2000 {
		t.Errorf("platform = %d, want 2000", d.Platform)
	}
}

func TestComputeConservation(t *testing.T) {
	amounts := []uint64{0, 1, 2, 3, 7, 9, 10, 99, 100, 101, 9999, 10001, 123457, math.MaxUint64, math.MaxUint64 - 1}
	for gross := uint64(0); gross < 5000; gross++ {
		amounts = append(amounts, gross)
	}
	for _, gross := range amounts {
		for _, direct := range []bool{false, true} {
			for indirect := 0; indirect <= 2; indirect++ {
				d := Compute(gross, direct, indirect)
				if d.Total() != gross {
					t.Fatalf("Compute(%d, %v, %d): buckets sum to %d", gross, direct, indirect, d.Total())
				}
			}
		}
	}
}

func TestComputeClampsIndirectCount(t *testing.T) {
	d := Compute(10000, true, 5)
	if d.Indirect[0] != 600 || d.Indirect[1] != 600 {
		t.Fatalf("indirect = %v, want both tiers populated", d.Indirect)
	}
	if d.Total() != 10000 {
		t.Fatalf("total = %d, want 10000", d.Total())
	}
	d = Compute(10000, true, -1)
	if d.Indirect[0] != 0 || d.Indirect[1] != 0 {
		t.Fatalf("indirect = %v, want no tiers populated", d.Indirect)
	}
}
