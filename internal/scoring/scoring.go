// Package scoring holds the pure math of a monitoring cycle: weighted
// aggregation, variance based stability and threshold classification.
package scoring

import (
	"math"

	"github.com/steveyegge/vigil/internal/types"
)

// DefaultWeight is applied to a dimension that has a score but no weight.
// Weights are not renormalised when this happens.
const DefaultWeight = 0.1

// OptimalThreshold is the fixed lower bound of the optimal band
const OptimalThreshold = 0.95

// CompromisedThreshold is the fixed lower bound of the compromised band
const CompromisedThreshold = 0.40

// Aggregate returns the weighted sum of scores clamped to [0,1].
// An empty weight table yields 0.
func Aggregate(scores, weights map[string]float64) float64 {
	if len(weights) == 0 {
		return 0.0
	}

	total := 0.0
	for dim, score := range scores {
		w, ok := weights[dim]
		if !ok {
			w = DefaultWeight
		}
		total += score * w
	}
	return Clamp(total)
}

// Clamp limits v to [0,1]. NaN becomes 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Mean returns the arithmetic mean, 0 for no values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StandardDeviation returns the population standard deviation.
// Fewer than two samples have no spread and return 0.
func StandardDeviation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Stability maps spread to a score: max(0, 1 - stddev)
func Stability(values []float64) float64 {
	return math.Max(0, 1-StandardDeviation(values))
}

// Blend mixes a direct reading with its stability score.
// stabilityWeight 0.4 gives the 60/40 split, 0.3 the 70/30 split.
func Blend(direct, stability, stabilityWeight float64) float64 {
	if stabilityWeight <= 0 {
		return direct
	}
	return Clamp((1-stabilityWeight)*direct + stabilityWeight*stability)
}

// Trend returns the least squares slope of values per sample.
// Positive means improving. Fewer than two samples return 0.
func Trend(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Classify maps a composite score to a status band.
// Bands are checked top-down and the first match wins, so the caller must
// keep critical < minimum < warning.
func Classify(score, warning, minimum, critical float64) types.Status {
	switch {
	case score >= OptimalThreshold:
		return types.StatusOptimal
	case score >= warning:
		return types.StatusGood
	case score >= minimum:
		return types.StatusAdequate
	case score >= critical:
		return types.StatusChallenged
	case score >= CompromisedThreshold:
		return types.StatusCompromised
	default:
		return types.StatusCriticalFailure
	}
}
