package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrTooFewSamples signals that the corrector lacks enough residual samples
// to train. Callers degrade to a zero-correction identity instead of failing.
var ErrTooFewSamples = errors.New("residual corrector: too few residual samples")

const (
	DefaultBoostingRounds     = 50
	DefaultLearningRate       = 0.1
	DefaultMinResidualSamples = 12

	// minGain stops boosting once a round no longer reduces squared error.
	minGain = 1e-9
)

type stump struct {
	feature   int
	threshold float64
	left      float64
	right     float64
}

func (s stump) apply(row FeatureRow) float64 {
	if row.at(s.feature) <= s.threshold {
		return s.left
	}
	return s.right
}

// ResidualCorrector learns the systematic bias left by the trend-seasonal
// model as a gradient-boosted ensemble of regression stumps over the
// engineered calendar/lag features. Its output is an additive correction
// applied identically to future forecasts and in-sample predictions.
type ResidualCorrector struct {
	Rounds       int
	LearningRate float64
	MinSamples   int

	base     float64
	stumps   []stump
	identity bool
}

// NewResidualCorrector creates a corrector with default boosting settings.
func NewResidualCorrector() *ResidualCorrector {
	return &ResidualCorrector{
		Rounds:       DefaultBoostingRounds,
		LearningRate: DefaultLearningRate,
		MinSamples:   DefaultMinResidualSamples,
		identity:     true,
	}
}

// Fit trains the corrector on the trend-seasonal model's in-sample residuals.
// It returns ErrTooFewSamples when the training set is too small, leaving the
// corrector as a zero-correction identity. The context bounds the iteration
// budget; a deadline hit surfaces the context error.
func (c *ResidualCorrector) Fit(ctx context.Context, rows []FeatureRow, residuals []float64) error {
	if len(rows) != len(residuals) {
		return fmt.Errorf("residual corrector: %d feature rows for %d residuals", len(rows), len(residuals))
	}
	if len(rows) < c.MinSamples {
		c.identity = true
		return ErrTooFewSamples
	}

	n := len(rows)
	var sum float64
	for _, r := range residuals {
		sum += r
	}
	base := sum / float64(n)

	preds := make([]float64, n)
	for i := range preds {
		preds[i] = base
	}

	stumps := make([]stump, 0, c.Rounds)
	grad := make([]float64, n)
	for round := 0; round < c.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("residual corrector fit interrupted at round %d: %w", round, err)
		}

		for i := range grad {
			grad[i] = residuals[i] - preds[i]
		}

		best, gain := bestStump(rows, grad)
		if gain < minGain {
			break
		}
		best.left *= c.LearningRate
		best.right *= c.LearningRate
		stumps = append(stumps, best)
		for i, row := range rows {
			preds[i] += best.apply(row)
		}
	}

	c.base = base
	c.stumps = stumps
	c.identity = false
	return nil
}

// Identity reports whether the corrector is the zero-correction fallback.
func (c *ResidualCorrector) Identity() bool {
	return c.identity
}

// Correct returns the additive delta for each feature row. An identity
// corrector yields all zeros.
func (c *ResidualCorrector) Correct(rows []FeatureRow) []float64 {
	deltas := make([]float64, len(rows))
	if c.identity {
		return deltas
	}
	for i, row := range rows {
		deltas[i] = c.CorrectOne(row)
	}
	return deltas
}

// CorrectOne returns the additive delta for a single feature row.
func (c *ResidualCorrector) CorrectOne(row FeatureRow) float64 {
	if c.identity {
		return 0
	}
	delta := c.base
	for _, s := range c.stumps {
		delta += s.apply(row)
	}
	return delta
}

// bestStump exhaustively searches feature/threshold splits and returns the
// stump minimizing squared error against the gradient, along with the error
// reduction it achieves.
func bestStump(rows []FeatureRow, grad []float64) (stump, float64) {
	n := len(rows)

	var baseSSE float64
	for _, g := range grad {
		baseSSE += g * g
	}

	best := stump{}
	bestSSE := math.Inf(1)
	found := false

	for f := 0; f < featureCount; f++ {
		thresholds := candidateThresholds(rows, f)
		for _, thr := range thresholds {
			var leftSum, rightSum float64
			var leftN, rightN int
			for i, row := range rows {
				if row.at(f) <= thr {
					leftSum += grad[i]
					leftN++
				} else {
					rightSum += grad[i]
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}
			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)

			var sse float64
			for i, row := range rows {
				var fit float64
				if row.at(f) <= thr {
					fit = leftMean
				} else {
					fit = rightMean
				}
				d := grad[i] - fit
				sse += d * d
			}
			if sse < bestSSE {
				bestSSE = sse
				best = stump{feature: f, threshold: thr, left: leftMean, right: rightMean}
				found = true
			}
		}
	}
	if !found || n == 0 {
		return best, 0
	}
	return best, baseSSE - bestSSE
}

// candidateThresholds returns midpoints between consecutive distinct feature
// values.
func candidateThresholds(rows []FeatureRow, feature int) []float64 {
	vals := make([]float64, 0, len(rows))
	for _, row := range rows {
		vals = append(vals, row.at(feature))
	}
	sort.Float64s(vals)

	thresholds := make([]float64, 0, len(vals))
	for i := 1; i < len(vals); i++ {
		if vals[i] != vals[i-1] {
			thresholds = append(thresholds, (vals[i]+vals[i-1])/2)
		}
	}
	return thresholds
}
