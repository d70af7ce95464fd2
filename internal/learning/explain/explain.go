package explain

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/evaluation"
	"autoforge/internal/logger"
)

// Method 解释方法
type Method string

const (
	MethodAuto        Method = "auto"
	MethodNative      Method = "native"
	MethodPermutation Method = "permutation"
	MethodShapley     Method = "shapley"
)

// Importance 单个特征的全局重要性
type Importance struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"importance"`
	Std     float64 `json:"std,omitempty"`
}

// Global 全局特征重要性, 按重要性降序
type Global struct {
	Method      Method       `json:"method"`
	Metric      string       `json:"metric,omitempty"`
	SampleRows  int          `json:"sample_rows"`
	Importances []Importance `json:"importances"`
}

// Map 转为 特征名 -> 重要性
func (g *Global) Map() map[string]float64 {
	out := make(map[string]float64, len(g.Importances))
	for _, imp := range g.Importances {
		out[imp.Feature] = imp.Value
	}
	return out
}

// Contribution 单个特征对一次预测的贡献
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Local 单条记录的解释: Base + Σ Contribution ≈ Prediction
type Local struct {
	Base          float64        `json:"base_value"`
	Prediction    float64        `json:"prediction"`
	Class         int            `json:"class,omitempty"`
	Contributions []Contribution `json:"contributions"`
}

// Engine 可解释性引擎
type Engine struct {
	problem        dataset.ProblemType
	nClasses       int
	sampleCap      int
	repeats        int
	shapleySamples int
	seed           int64
	logger         logger.Logger
}

// NewEngine creates an explainability engine with the configured sampling caps
func NewEngine(pt dataset.ProblemType, nClasses int, th config.Thresholds, seed int64, log logger.Logger) *Engine {
	return &Engine{
		problem:        pt,
		nClasses:       nClasses,
		sampleCap:      th.ExplainSampleCap,
		repeats:        th.PermutationRepeats,
		shapleySamples: th.ShapleySamples,
		seed:           seed,
		logger:         logger.OrDefault(log),
	}
}

// Sample returns at most limit rows chosen uniformly without replacement, keeping order
func Sample(X [][]float64, y []float64, limit int, seed int64) ([][]float64, []float64) {
	if limit <= 0 || len(X) <= limit {
		return X, y
	}
	rng := rand.New(rand.NewSource(seed))
	idx := rng.Perm(len(X))[:limit]
	sort.Ints(idx)
	xs := make([][]float64, limit)
	var ys []float64
	if y != nil {
		ys = make([]float64, limit)
	}
	for j, i := range idx {
		xs[j] = X[i]
		if y != nil {
			ys[j] = y[i]
		}
	}
	return xs, ys
}

// Global computes global importance. Auto uses native importances when the model
// exposes them and permutation importance otherwise, falling back to mean |Shapley|.
func (e *Engine) Global(ctx context.Context, method Method, m estimator.Model, names []string, X [][]float64, y []float64) (*Global, error) {
	if method == "" {
		method = MethodAuto
	}
	if method == MethodAuto || method == MethodNative {
		if g, ok := e.native(m, names); ok {
			return g, nil
		}
		if method == MethodNative {
			return nil, apperrors.Newf(apperrors.ErrCodeOptionalDependency, "model %T has no native importances", m)
		}
	}
	if method == MethodAuto || method == MethodPermutation {
		g, err := e.Permutation(ctx, m, names, X, y)
		if err == nil || method == MethodPermutation {
			return g, err
		}
		e.logger.Warn("permutation importance failed, falling back to sampled shapley", "error", err)
	}
	return e.ShapleyGlobal(ctx, m, names, X)
}

func (e *Engine) native(m estimator.Model, names []string) (*Global, bool) {
	fi, ok := m.(estimator.FeatureImporter)
	if !ok {
		return nil, false
	}
	values := fi.GetFeatureImportance()
	if len(values) != len(names) {
		return nil, false
	}
	g := &Global{Method: MethodNative}
	for j, v := range values {
		g.Importances = append(g.Importances, Importance{Feature: names[j], Value: v})
	}
	sortImportances(g.Importances)
	return g, true
}

// Permutation shuffles one feature at a time and records the drop of the primary metric
func (e *Engine) Permutation(ctx context.Context, m estimator.Model, names []string, X [][]float64, y []float64) (*Global, error) {
	if len(X) == 0 || len(y) != len(X) {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "permutation importance needs labelled rows")
	}
	xs, ys := Sample(X, y, e.sampleCap, e.seed)
	eval := evaluation.NewEvaluator(e.problem, e.nClasses, e.logger)
	metric := evaluation.PrimaryMetric(e.problem)
	sign := 1.0
	if !evaluation.HigherIsBetter(metric) {
		sign = -1
	}
	baseline, err := eval.Score(m, xs, ys)
	if err != nil {
		return nil, fmt.Errorf("baseline score: %w", err)
	}

	rng := rand.New(rand.NewSource(e.seed))
	work := make([][]float64, len(xs))
	for i, row := range xs {
		work[i] = append([]float64(nil), row...)
	}
	g := &Global{Method: MethodPermutation, Metric: metric, SampleRows: len(xs)}
	repeats := e.repeats
	if repeats < 1 {
		repeats = 1
	}
	for j, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		drops := make([]float64, repeats)
		for r := 0; r < repeats; r++ {
			perm := rng.Perm(len(xs))
			for i := range work {
				work[i][j] = xs[perm[i]][j]
			}
			score, err := eval.Score(m, work, ys)
			if err != nil {
				return nil, fmt.Errorf("score with %s permuted: %w", name, err)
			}
			drops[r] = sign * (baseline - score)
		}
		for i := range work {
			work[i][j] = xs[i][j]
		}
		mean, std := stat.MeanStdDev(drops, nil)
		if math.IsNaN(std) {
			std = 0
		}
		g.Importances = append(g.Importances, Importance{Feature: name, Value: mean, Std: std})
	}
	sortImportances(g.Importances)
	return g, nil
}

// ShapleyGlobal averages |local Shapley values| over a capped sample of rows
func (e *Engine) ShapleyGlobal(ctx context.Context, m estimator.Model, names []string, X [][]float64) (*Global, error) {
	rowCap := e.sampleCap / 10
	if rowCap < 10 {
		rowCap = 10
	}
	rows, _ := Sample(X, nil, rowCap, e.seed+1)
	background, _ := Sample(X, nil, e.sampleCap, e.seed)
	sums := make([]float64, len(names))
	for _, x := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local, err := e.Local(m, names, background, x)
		if err != nil {
			return nil, err
		}
		for j, c := range local.Contributions {
			sums[j] += math.Abs(c.Contribution)
		}
	}
	g := &Global{Method: MethodShapley, SampleRows: len(rows)}
	for j, name := range names {
		g.Importances = append(g.Importances, Importance{Feature: name, Value: sums[j] / float64(len(rows))})
	}
	sortImportances(g.Importances)
	return g, nil
}

func sortImportances(imps []Importance) {
	sort.SliceStable(imps, func(a, b int) bool { return imps[a].Value > imps[b].Value })
}
