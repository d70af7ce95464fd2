package tuning

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"autoforge/internal/learning/estimator"
)

// Method 搜索策略
type Method string

const (
	MethodNone     Method = "none"
	MethodGrid     Method = "grid"
	MethodRandom   Method = "random"
	MethodBayesian Method = "bayesian"
)

var errNotPositiveDefinite = errors.New("kernel matrix is not positive definite")

// Objective 评估一组参数, 分数越高越好
type Objective func(ctx context.Context, params estimator.Params) (float64, error)

// Sample 一次试验
type Sample struct {
	Params estimator.Params `json:"params"`
	Score  float64          `json:"score"`
	Err    string           `json:"error,omitempty"`
}

// SearchAlgorithm 搜索算法接口
type SearchAlgorithm interface {
	Search(ctx context.Context, space Space, objective Objective) ([]Sample, error)
	Method() Method
}

func evaluate(ctx context.Context, objective Objective, p estimator.Params) Sample {
	score, err := objective(ctx, p)
	if err != nil {
		return Sample{Params: p, Err: err.Error()}
	}
	return Sample{Params: p, Score: score}
}

// GridSearcher 穷举网格
type GridSearcher struct{}

// Method implements SearchAlgorithm
func (GridSearcher) Method() Method { return MethodGrid }

// Search evaluates every grid point
func (GridSearcher) Search(ctx context.Context, space Space, objective Objective) ([]Sample, error) {
	var samples []Sample
	for _, p := range space.Grid() {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		samples = append(samples, evaluate(ctx, objective, p))
	}
	return samples, nil
}

// RandomSearcher 在连续区间上随机采样
type RandomSearcher struct {
	Iterations int
	Seed       int64
}

// Method implements SearchAlgorithm
func (RandomSearcher) Method() Method { return MethodRandom }

// Search evaluates Iterations random configurations
func (s RandomSearcher) Search(ctx context.Context, space Space, objective Objective) ([]Sample, error) {
	rng := rand.New(rand.NewSource(s.Seed))
	var samples []Sample
	for i := 0; i < s.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		samples = append(samples, evaluate(ctx, objective, space.Sample(rng)))
	}
	return samples, nil
}

// BayesianOptimizer 高斯过程代理 + 期望提升采集
type BayesianOptimizer struct {
	Iterations     int
	InitialSamples int
	Seed           int64
	// PoolSize 每轮用于最大化采集函数的随机候选点数
	PoolSize    int
	LengthScale float64
	Noise       float64
}

// NewBayesianOptimizer creates an optimizer with the default surrogate settings
func NewBayesianOptimizer(iterations int, seed int64) *BayesianOptimizer {
	initial := 5
	if iterations < initial {
		initial = iterations
	}
	return &BayesianOptimizer{
		Iterations:     iterations,
		InitialSamples: initial,
		Seed:           seed,
		PoolSize:       256,
		LengthScale:    0.25,
		Noise:          1e-4,
	}
}

// Method implements SearchAlgorithm
func (*BayesianOptimizer) Method() Method { return MethodBayesian }

// Search runs the initial random design, then sequentially picks the pool point
// with maximal expected improvement under the GP posterior
func (s *BayesianOptimizer) Search(ctx context.Context, space Space, objective Objective) ([]Sample, error) {
	rng := rand.New(rand.NewSource(s.Seed))
	var samples []Sample

	// 初始随机采样
	for i := 0; i < s.InitialSamples; i++ {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		samples = append(samples, evaluate(ctx, objective, space.Sample(rng)))
	}

	// 迭代优化
	for i := s.InitialSamples; i < s.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		next := s.proposeNextPoint(space, samples, rng)
		samples = append(samples, evaluate(ctx, objective, next))
	}
	return samples, nil
}

// proposeNextPoint falls back to a random draw when the surrogate cannot be fitted
func (s *BayesianOptimizer) proposeNextPoint(space Space, samples []Sample, rng *rand.Rand) estimator.Params {
	var X [][]float64
	var y []float64
	for _, smp := range samples {
		if smp.Err == "" && !math.IsInf(smp.Score, 0) {
			X = append(X, space.Encode(smp.Params))
			y = append(y, smp.Score)
		}
	}
	if len(X) < 2 {
		return space.Sample(rng)
	}
	gp, err := s.fit(X, y)
	if err != nil {
		return space.Sample(rng)
	}

	best := math.Inf(-1)
	for _, v := range y {
		best = math.Max(best, v)
	}
	best = (best - gp.mean) / gp.scale

	var bestU []float64
	bestEI := math.Inf(-1)
	for i := 0; i < s.PoolSize; i++ {
		u := make([]float64, len(space))
		for j := range u {
			u[j] = rng.Float64()
		}
		mu, sigma := gp.predict(u)
		ei := expectedImprovement(mu, sigma, best, 0.01)
		if ei > bestEI {
			bestEI, bestU = ei, u
		}
	}
	return space.Decode(bestU)
}

// ExpectedImprovement for maximisation with exploration margin xi
func expectedImprovement(mu, sigma, best, xi float64) float64 {
	if sigma <= 0 {
		return math.Max(mu-best-xi, 0)
	}
	z := (mu - best - xi) / sigma
	return (mu-best-xi)*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}

type gaussianProcess struct {
	X           [][]float64
	alpha       *mat.VecDense
	chol        mat.Cholesky
	lengthScale float64
	mean, scale float64
}

func (s *BayesianOptimizer) kernel(a, b []float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return math.Exp(-d / (2 * s.LengthScale * s.LengthScale))
}

// fit standardises the scores and factorises K + σ²I
func (s *BayesianOptimizer) fit(X [][]float64, y []float64) (*gaussianProcess, error) {
	n := len(X)
	mean, std := stat.PopMeanStdDev(y, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := s.kernel(X[i], X[j])
			if i == j {
				v += s.Noise
			}
			K.SetSym(i, j, v)
		}
	}
	gp := &gaussianProcess{X: X, lengthScale: s.LengthScale, mean: mean, scale: std}
	if ok := gp.chol.Factorize(K); !ok {
		return nil, errNotPositiveDefinite
	}
	yv := mat.NewVecDense(n, nil)
	for i, v := range y {
		yv.SetVec(i, (v-mean)/std)
	}
	gp.alpha = mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(gp.alpha, yv); err != nil {
		return nil, err
	}
	return gp, nil
}

func (gp *gaussianProcess) predict(u []float64) (float64, float64) {
	n := len(gp.X)
	k := mat.NewVecDense(n, nil)
	for i, x := range gp.X {
		var d float64
		for j := range x {
			diff := x[j] - u[j]
			d += diff * diff
		}
		k.SetVec(i, math.Exp(-d/(2*gp.lengthScale*gp.lengthScale)))
	}
	mu := mat.Dot(k, gp.alpha)
	v := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(v, k); err != nil {
		return mu, 0
	}
	variance := 1 - mat.Dot(k, v)
	if variance < 0 {
		variance = 0
	}
	return mu, math.Sqrt(variance)
}
