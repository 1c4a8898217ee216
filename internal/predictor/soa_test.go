package predictor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpNegAgreesWithReferenceWithin1e4Relative(t *testing.T) {
	for _, ratio := range []float32{0, 0.001, 0.1, 0.5, 1, 2, 5, 10, 20, 40, 60} {
		got := expNeg(ratio)
		want := math.Exp(-float64(ratio))
		if want == 0 {
			assert.InDelta(t, 0, got, 1e-9)
			continue
		}
		relErr := math.Abs(float64(got)-want) / want
		assert.Lessf(t, relErr, 1e-4, "ratio=%v got=%v want=%v relErr=%v", ratio, got, want, relErr)
	}
}

func TestExpNegMonotonicDecreasing(t *testing.T) {
	prev := expNeg(0)
	for _, ratio := range []float32{0.5, 1, 2, 5, 10} {
		cur := expNeg(ratio)
		assert.Less(t, cur, prev)
		prev = cur
	}
}

func TestMarkovContributionFallsBackToTransitionProbWhenTimeToLeaveUnset(t *testing.T) {
	c := markovContributionScalar(0.4, 0, 5)
	assert.Equal(t, float32(0.4), c)
}

func TestMarkovContributionZeroOnNaNTransitionProb(t *testing.T) {
	c := markovContributionScalar(float32(math.NaN()), 10, 5)
	assert.Equal(t, float32(0), c)
}

func TestCorrelationCoefficientFallsBackToSmallestNormalWhenSparse(t *testing.T) {
	assert.Equal(t, smallestPositiveNormalFloat32, correlationCoefficientScalar(0, 10))
	assert.Equal(t, smallestPositiveNormalFloat32, correlationCoefficientScalar(10, 0))
}

func TestCorrelationCoefficientClampsAtOne(t *testing.T) {
	assert.Equal(t, float32(1), correlationCoefficientScalar(20, 10))
}
