package predictor

import "math"

// smallestPositiveNormalFloat32 is 2^-126, the smallest positive float32
// that is not a subnormal. Used as the correlation-coefficient fallback
// per spec: Markov evidence must be dampened when co-observation is
// sparse, never erased to exactly zero.
const smallestPositiveNormalFloat32 = float32(1.1754943508222875e-38)

// expNeg approximates exp(-ratio) for ratio >= 0 via range reduction plus
// a degree-6 Taylor polynomial: halve ratio until it is small enough for
// the polynomial to be accurate to well beyond float32 precision, then
// square the result back up. The reduction, polynomial and squaring run in
// float64 so the repeated squaring does not amplify float32 rounding; only
// the result is narrowed to float32. This is the polynomial approximation the
// scoring pass uses instead of math.Exp, validated against it in
// soa_test.go to the 1e-4 relative tolerance the spec requires.
func expNeg(ratio float32) float32 {
	if ratio <= 0 {
		return 1
	}
	if ratio > 80 {
		return 0
	}
	const reductionThreshold = 1.0 / 64.0
	r := float64(ratio)
	n := 0
	for r > reductionThreshold {
		r /= 2
		n++
	}
	r2 := r * r
	r3 := r2 * r
	r4 := r3 * r
	r5 := r4 * r
	r6 := r5 * r
	approx := 1 - r + r2/2 - r3/6 + r4/24 - r5/120 + r6/720
	for i := 0; i < n; i++ {
		approx *= approx
	}
	return float32(approx)
}

func isNaN32(v float32) bool { return math.IsNaN(float64(v)) }
func isInf32(v float32) bool { return math.IsInf(float64(v), 0) }

func clamp32(v, lo, hi float32) float32 {
	if isNaN32(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// markovContributionScalar combines a transition probability toward the
// "E starts" state with an inverse function of the current state's dwell
// time: 1-expNeg(cycle/time_to_leave) estimates the probability of
// leaving the current state within the next cycle. time_to_leave <= 0
// (an edge with no dwell data yet) is treated as "certain to leave
// immediately", i.e. the multiplier is 1.
func markovContributionScalar(transitionProb, timeToLeave, cycleSeconds float32) float32 {
	if isNaN32(transitionProb) || isInf32(transitionProb) {
		return 0
	}
	if isNaN32(timeToLeave) || isInf32(timeToLeave) || timeToLeave <= 0 {
		return transitionProb
	}
	if cycleSeconds <= 0 {
		return 0
	}
	ratio := cycleSeconds / timeToLeave
	leaveProb := 1 - expNeg(ratio)
	if isNaN32(leaveProb) || isInf32(leaveProb) {
		return 0
	}
	return transitionProb * leaveProb
}

// correlationCoefficientScalar estimates how tightly two exes co-occur as
// the fraction of the less-active exe's running time spent co-running,
// an overlap coefficient bounded to [smallestPositiveNormalFloat32, 1].
func correlationCoefficientScalar(bothRunningSeconds, denomSeconds float64) float32 {
	if bothRunningSeconds <= 0 || denomSeconds <= 0 {
		return smallestPositiveNormalFloat32
	}
	corr := float32(bothRunningSeconds / denomSeconds)
	if isNaN32(corr) || isInf32(corr) {
		return smallestPositiveNormalFloat32
	}
	if corr <= 0 {
		return smallestPositiveNormalFloat32
	}
	if corr > 1 {
		corr = 1
	}
	return corr
}

// edgeBatch holds per-edge scoring inputs as parallel slices
// (struct-of-arrays) rather than a slice of structs, keeping the inner
// scoring loop over an exe's edges branch-light and cache-friendly.
type edgeBatch struct {
	transitionProb     []float32
	timeToLeave        []float32
	bothRunningSeconds []float64
	denomSeconds       []float64
	useCorrelation     bool
}

func newEdgeBatch(capacity int, useCorrelation bool) *edgeBatch {
	return &edgeBatch{
		transitionProb:     make([]float32, 0, capacity),
		timeToLeave:        make([]float32, 0, capacity),
		bothRunningSeconds: make([]float64, 0, capacity),
		denomSeconds:       make([]float64, 0, capacity),
		useCorrelation:     useCorrelation,
	}
}

func (b *edgeBatch) add(transitionProb, timeToLeave float32, bothRunningSeconds, denomSeconds float64) {
	b.transitionProb = append(b.transitionProb, transitionProb)
	b.timeToLeave = append(b.timeToLeave, timeToLeave)
	b.bothRunningSeconds = append(b.bothRunningSeconds, bothRunningSeconds)
	b.denomSeconds = append(b.denomSeconds, denomSeconds)
}

// sum computes the total Markov contribution across the batch for the
// given cycle length, applying the correlation dampener per-edge when
// enabled.
func (b *edgeBatch) sum(cycleSeconds float32) float32 {
	var total float32
	for i := range b.transitionProb {
		c := markovContributionScalar(b.transitionProb[i], b.timeToLeave[i], cycleSeconds)
		if b.useCorrelation {
			c *= correlationCoefficientScalar(b.bothRunningSeconds[i], b.denomSeconds[i])
		}
		if isNaN32(c) || isInf32(c) {
			continue
		}
		total += c
	}
	return total
}
