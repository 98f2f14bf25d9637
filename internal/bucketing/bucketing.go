// Package bucketing maps (experiment, user) pairs onto weighted variants.
//
// Each variant owns a contiguous interval of width equal to its weight on a ring of
// size sum(weights). The FNV-1a hash of "experimentID::userKey" picks a point on
// that ring. The same inputs always land on the same variant; changing weights or
// variant order moves the intervals and therefore affects users not yet assigned.
package bucketing

import (
	"fmt"
	"hash/fnv"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

// seedSeparator keeps "ab"+"c" and "a"+"bc" from producing the same seed.
const seedSeparator = "::"

// Hash returns the 32-bit FNV-1a hash of seed's UTF-8 bytes.
func Hash(seed string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed)) // hash.Hash never returns an error
	return h.Sum32()
}

// Seed is the hash input for a user in an experiment.
func Seed(experimentID, userKey string) string {
	return experimentID + seedSeparator + userKey
}

// EffectiveWeight clamps negative weights to zero.
func EffectiveWeight(w int) int {
	if w < 0 {
		return 0
	}
	return w
}

// TotalWeight sums the effective weights of variants.
func TotalWeight(variants []experiment.Variant) int64 {
	var total int64
	for _, v := range variants {
		total += int64(EffectiveWeight(v.Weight))
	}
	return total
}

// Bucket returns the ring position for a user: Hash(seed) mod total.
// total must be positive.
func Bucket(experimentID, userKey string, total int64) int64 {
	return int64(uint64(Hash(Seed(experimentID, userKey))) % uint64(total))
}

// PickVariant deterministically chooses the variant for userKey.
// It fails with experiment.ErrInvalidExperimentState when variants is empty or
// the total effective weight is not positive. Zero-weight variants are never chosen.
func PickVariant(experimentID, userKey string, variants []experiment.Variant) (experiment.Variant, error) {
	if len(variants) == 0 {
		return experiment.Variant{}, fmt.Errorf("%w: experiment %q has no variants",
			experiment.ErrInvalidExperimentState, experimentID)
	}

	total := TotalWeight(variants)
	if total <= 0 {
		return experiment.Variant{}, fmt.Errorf("%w: experiment %q has a non-positive total weight",
			experiment.ErrInvalidExperimentState, experimentID)
	}

	bucket := Bucket(experimentID, userKey, total)

	var cumulative int64
	for _, v := range variants {
		cumulative += int64(EffectiveWeight(v.Weight))
		if bucket < cumulative {
			return v, nil
		}
	}

	// Unreachable with integer weights.
	return variants[len(variants)-1], nil
}
