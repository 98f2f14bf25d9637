package bucketing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

// generateRandomID returns a random hex id so fuzz loops are not biased by sequential keys.
func generateRandomID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}

func TestHash_ReferenceValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seed string
		want uint32
	}{
		{seed: "", want: 0x811c9dc5}, // offset basis
		{seed: "a", want: 0xe40c292c},
		{seed: "x::y", want: 0x8a645bda},
		{seed: "exp-1::user-1", want: 0xdf9afa7f},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Should hash %q to its reference value", tt.seed), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Hash(tt.seed))
			assert.Equal(t, Hash(tt.seed), Hash(tt.seed))
		})
	}
}

func TestSeed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "exp-1::user-1", Seed("exp-1", "user-1"))
	assert.NotEqual(t, Seed("ab", "c"), Seed("a", "bc"))
}

func TestPickVariant_InvalidState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		variants []experiment.Variant
	}{
		{name: "Should fail on a nil list", variants: nil},
		{name: "Should fail on an empty list", variants: []experiment.Variant{}},
		{name: "Should fail when every weight is zero", variants: []experiment.Variant{{ID: "A"}, {ID: "B"}}},
		{name: "Should fail when negative weights clamp to zero", variants: []experiment.Variant{{ID: "A", Weight: -5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := PickVariant("exp", "user", tt.variants)
			require.Error(t, err)
			assert.ErrorIs(t, err, experiment.ErrInvalidExperimentState)
			assert.Equal(t, experiment.Variant{}, got)
		})
	}
}

func TestPickVariant_ZeroWeightNeverSelected(t *testing.T) {
	t.Parallel()

	variants := []experiment.Variant{{ID: "A", Weight: 1}, {ID: "B", Weight: 0}}

	for i := range 10000 {
		got, err := PickVariant(generateRandomID(), generateRandomID(), variants)
		require.NoError(t, err)
		if got.ID != "A" {
			t.Fatalf("iteration %d: zero-weight variant %q was selected", i, got.ID)
		}
	}
}

func TestPickVariant_NegativeWeightTreatedAsZero(t *testing.T) {
	t.Parallel()

	variants := []experiment.Variant{{ID: "A", Weight: -10}, {ID: "B", Weight: 3}}

	for range 1000 {
		got, err := PickVariant("exp", generateRandomID(), variants)
		require.NoError(t, err)
		assert.Equal(t, "B", got.ID)
	}
}

func TestPickVariant_Determinism(t *testing.T) {
	t.Parallel()

	variants := []experiment.Variant{
		{ID: "A", Weight: 34},
		{ID: "B", Weight: 33},
		{ID: "C", Weight: 33},
	}

	t.Run("Stickiness (same experiment + same user = same variant)", func(t *testing.T) {
		for range 1000 {
			user := generateRandomID()
			first, err := PickVariant("checkout-test", user, variants)
			require.NoError(t, err)
			for range 5 {
				again, err := PickVariant("checkout-test", user, variants)
				require.NoError(t, err)
				require.Equal(t, first, again)
			}
		}
	})

	t.Run("Known bucket lands on the expected interval", func(t *testing.T) {
		// Hash("exp-1::user-1") % 100 == 39 -> cumulative [0,50) is A.
		got, err := PickVariant("exp-1", "user-1", experiment.DefaultVariants())
		require.NoError(t, err)
		assert.Equal(t, "A", got.ID)
		assert.Equal(t, int64(39), Bucket("exp-1", "user-1", 100))
	})

	t.Run("Single variant always wins", func(t *testing.T) {
		only := []experiment.Variant{{ID: "solo", Weight: 7}}
		for range 100 {
			got, err := PickVariant(generateRandomID(), generateRandomID(), only)
			require.NoError(t, err)
			assert.Equal(t, "solo", got.ID)
		}
	})
}

func TestPickVariant_Distribution(t *testing.T) {
	t.Parallel()

	const samples = 10000

	tests := []struct {
		name         string
		experimentID string
		variants     []experiment.Variant
		want         map[string]float64
	}{
		{
			name:         "50/50 split",
			experimentID: "exp-fairness",
			variants:     experiment.DefaultVariants(),
			want:         map[string]float64{"A": 0.5, "B": 0.5},
		},
		{
			name:         "70/30 split",
			experimentID: "checkout-test",
			variants: []experiment.Variant{
				{ID: "control", Weight: 70},
				{ID: "treatment", Weight: 30},
			},
			want: map[string]float64{"control": 0.7, "treatment": 0.3},
		},
		{
			name:         "three equal arms",
			experimentID: "checkout-test",
			variants: []experiment.Variant{
				{ID: "A", Weight: 1},
				{ID: "B", Weight: 1},
				{ID: "C", Weight: 1},
			},
			want: map[string]float64{"A": 1.0 / 3, "B": 1.0 / 3, "C": 1.0 / 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			counts := make(map[string]int, len(tt.variants))
			for i := range samples {
				v, err := PickVariant(tt.experimentID, fmt.Sprintf("user-%d", i), tt.variants)
				require.NoError(t, err)
				counts[v.ID]++
			}

			for id, share := range tt.want {
				got := float64(counts[id]) / samples
				assert.InDelta(t, share, got, 0.02, "variant %s share out of tolerance", id)
			}
		})
	}
}

func TestPickVariant_OrderMatters(t *testing.T) {
	t.Parallel()

	ab := []experiment.Variant{{ID: "A", Weight: 50}, {ID: "B", Weight: 50}}
	ba := []experiment.Variant{{ID: "B", Weight: 50}, {ID: "A", Weight: 50}}

	moved := 0
	for i := range 1000 {
		user := fmt.Sprintf("user-%d", i)
		x, err := PickVariant("exp", user, ab)
		require.NoError(t, err)
		y, err := PickVariant("exp", user, ba)
		require.NoError(t, err)
		if x.ID != y.ID {
			moved++
		}
	}

	// Swapping two equal intervals moves every user.
	assert.Equal(t, 1000, moved)
}
