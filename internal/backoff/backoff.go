// Package backoff computes retry delays for verifier dispatch and owed
// settlement retries.
package backoff

import (
	"math"
	"math/rand"
)

const (
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// Compute returns a delay in seconds for the given attempt number (>= 0).
// Unknown policies fall back to exp_full_jitter.
func Compute(policy string, baseSeconds int, maxSeconds int, attempts int, rng *rand.Rand) int {
	if attempts < 0 {
		attempts = 0
	}
	if baseSeconds <= 0 {
		baseSeconds = 1
	}
	if maxSeconds <= 0 {
		maxSeconds = baseSeconds
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case PolicyFixed:
		return minInt(baseSeconds, maxSeconds)
	case PolicyLinear:
		return minInt(baseSeconds*maxInt(1, attempts), maxSeconds)
	case PolicyExponential:
		return ceiling(baseSeconds, maxSeconds, attempts)
	case PolicyExpEqualJitter:
		maxDelay := ceiling(baseSeconds, maxSeconds, attempts)
		half := maxDelay / 2
		return half + rng.Intn(half+1)
	default:
		maxDelay := ceiling(baseSeconds, maxSeconds, attempts)
		if maxDelay <= 0 {
			return 0
		}
		return rng.Intn(maxDelay + 1)
	}
}

func ceiling(baseSeconds, maxSeconds, attempts int) int {
	return minInt(int(float64(baseSeconds)*math.Pow(2, float64(attempts))), maxSeconds)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
