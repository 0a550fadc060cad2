// Package gate implements the Temporal Gate: the mandatory-timestamp
// admission policy, decay arithmetic, and supersession resolution that
// every write path funnels through (spec.md 4.3).
package gate

import (
	"math"
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/schema"
)

// decayFloor is the point below which effective confidence is reported
// as zero rather than an asymptotically vanishing positive number (the
// Open Question in spec.md's Design Notes, resolved here as floor-to-zero).
const decayFloor = 0.1

// EffectiveConfidence computes E(t) for base confidence c0 observed at
// t0 with half-life h, evaluated at now. A zero half-life means "never
// decays" (4.3.1). Grounded on the teacher's
// internal/memory/confidence.go ComputeConfidence, which applies the
// same exponential-half-life shape with a nil-map sentinel for
// "permanent" instead of a zero Duration.
func EffectiveConfidence(c0 float64, t0, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return c0
	}
	elapsed := now.Sub(t0)
	if elapsed <= 0 {
		return c0
	}
	e := c0 * math.Pow(2, -float64(elapsed)/float64(halfLife))
	if e < decayFloor {
		return 0
	}
	return e
}

// ComputeValidUntil derives valid_until = t0 + hard_expiry * P(precision)
// when the candidate did not supply one explicitly (4.3.1).
func ComputeValidUntil(t0 time.Time, hardExpiry time.Duration, precision core.Precision) time.Time {
	if hardExpiry <= 0 {
		return time.Time{} // never expires
	}
	scaled := time.Duration(float64(hardExpiry) * precision.Multiplier())
	return t0.Add(scaled)
}

// ProfileFor resolves the decay profile for a type, falling back to the
// schema registry's resolved (extends-aware) decay block.
func ProfileFor(reg *schema.Registry, typeName string) schema.DecayProfile {
	if s, ok := reg.Get(typeName); ok {
		return s.Decay
	}
	return schema.DecayProfile{}
}
