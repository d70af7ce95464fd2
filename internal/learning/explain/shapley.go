package explain

import (
	"fmt"
	"math/rand"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/estimator"
)

// output evaluates the explained quantity: the regression prediction, or the
// probability of class for classifiers
func (e *Engine) output(m estimator.Model, X [][]float64, class int) ([]float64, error) {
	if e.problem == dataset.Classification {
		if pm, ok := m.(estimator.ProbabilisticModel); ok {
			proba, err := pm.PredictProba(X)
			if err != nil {
				return nil, err
			}
			proba = estimator.PadProba(proba, class+1)
			out := make([]float64, len(proba))
			for i, row := range proba {
				out[i] = row[class]
			}
			return out, nil
		}
		pred, err := m.Predict(X)
		if err != nil {
			return nil, err
		}
		for i, p := range pred {
			if int(p) == class {
				pred[i] = 1
			} else {
				pred[i] = 0
			}
		}
		return pred, nil
	}
	return m.Predict(X)
}

// Local attributes one prediction to features with sampled Shapley values.
// Each sample draws a feature permutation and a background row and walks from the
// background row to x one feature at a time, so the contributions of one sample sum
// to f(x) − f(z). Base is the mean f(z) over the drawn rows, which makes
// Base + Σ contributions equal the prediction.
func (e *Engine) Local(m estimator.Model, names []string, background [][]float64, x []float64) (*Local, error) {
	p := len(x)
	if p != len(names) {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "record has %d features, expected %d", p, len(names))
	}
	if len(background) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "shapley attribution needs background rows")
	}

	class := 0
	if e.problem == dataset.Classification {
		pred, err := m.Predict([][]float64{x})
		if err != nil {
			return nil, fmt.Errorf("predict record: %w", err)
		}
		class = int(pred[0])
	}

	samples := e.shapleySamples
	if samples < 1 {
		samples = 1
	}
	rng := rand.New(rand.NewSource(e.seed))
	orders := make([][]int, samples)
	rows := make([][]float64, 0, samples*(p+1)+1)
	for s := 0; s < samples; s++ {
		orders[s] = rng.Perm(p)
		z := background[rng.Intn(len(background))]
		cur := append([]float64(nil), z...)
		rows = append(rows, cur)
		for _, j := range orders[s] {
			next := append([]float64(nil), cur...)
			next[j] = x[j]
			rows = append(rows, next)
			cur = next
		}
	}
	rows = append(rows, x)

	f, err := e.output(m, rows, class)
	if err != nil {
		return nil, fmt.Errorf("evaluate coalitions: %w", err)
	}

	phi := make([]float64, p)
	base := 0.0
	for s := 0; s < samples; s++ {
		off := s * (p + 1)
		base += f[off]
		for k, j := range orders[s] {
			phi[j] += f[off+k+1] - f[off+k]
		}
	}
	n := float64(samples)
	local := &Local{Base: base / n, Prediction: f[len(f)-1], Class: class}
	for j := range phi {
		local.Contributions = append(local.Contributions, Contribution{Feature: names[j], Value: x[j], Contribution: phi[j] / n})
	}
	return local, nil
}
