// Package split holds the basis-point arithmetic for reward settlement. It is
// pure: no storage, no transfers, only exact integer math.
package split

import "github.com/sunagi/homare/pkg/domain"

// Basis-point weights. The participant keeps 6000 bps; the remaining 4000 bps
// carry the historical 2500/1500/1000 referrer/platform proportions rescaled
// by 4/5 so the total is exactly 10000.
const (
	TotalBps       = 10000
	ParticipantBps = 6000
	DirectBps      = 2000
	IndirectBps    = 1200
	PlatformBps    = 800

	// IndirectTiers is the number of upstream slots (tier-2 and tier-3) the
	// combined indirect share is divided across.
	IndirectTiers = 2

	perIndirectBps = IndirectBps / IndirectTiers
)

// share computes floor(gross * bps / TotalBps) without overflowing uint64 for
// any gross.
func share(gross uint64, bps uint64) uint64 {
	return (gross/TotalBps)*bps + (gross%TotalBps)*bps/TotalBps
}

// Compute splits gross across the participant, the direct referrer (when
// present), up to IndirectTiers upstream referrers, and the platform. Shares
// of absent tiers are not redistributed among referrers; they accrue to the
// platform bucket, as does the integer-division remainder, so the five
// buckets always sum to exactly gross.
func Compute(gross uint64, directPresent bool, indirectCount int) domain.Distribution {
	if indirectCount < 0 {
		indirectCount = 0
	}
	if indirectCount > IndirectTiers {
		indirectCount = IndirectTiers
	}

	d := domain.Distribution{Gross: gross}
	d.Participant = share(gross, ParticipantBps)
	if directPresent {
		d.Direct = share(gross, DirectBps)
	}
	for i := 0; i < indirectCount; i++ {
		d.Indirect[i] = share(gross, perIndirectBps)
	}
	d.Platform = gross - d.Participant - d.Direct - d.Indirect[0] - d.Indirect[1]
	return d
}
