package tuning

import (
	"context"
	"time"

	"autoforge/internal/config"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/catalog"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/evaluation"
	"autoforge/internal/learning/validation"
	"autoforge/internal/logger"
)

// Result 调参结果
type Result struct {
	Candidate  string           `json:"candidate"`
	Method     Method           `json:"method"`
	BestParams estimator.Params `json:"best_params"`
	BestScore  float64          `json:"best_score"`
	Metric     string           `json:"metric"`
	Trials     []Sample         `json:"trials"`
	// Fallback 请求了贝叶斯搜索但能力不可用, 实际使用了随机搜索
	Fallback bool            `json:"fallback"`
	Duration time.Duration   `json:"duration"`
	Model    estimator.Model `json:"-"`
}

// Tuner 对单个候选做超参数搜索, 以交叉验证分数为目标
type Tuner struct {
	method     Method
	iterations int
	seed       int64
	caps       config.Capabilities
	cv         *validation.CrossValidator
	logger     logger.Logger
}

// NewTuner creates a tuner; the cross validator provides the objective
func NewTuner(method Method, iterations int, seed int64, caps config.Capabilities, cv *validation.CrossValidator, log logger.Logger) *Tuner {
	if iterations < 1 {
		iterations = 1
	}
	return &Tuner{
		method:     method,
		iterations: iterations,
		seed:       seed,
		caps:       caps,
		cv:         cv,
		logger:     logger.OrDefault(log),
	}
}

// algorithm resolves the search algorithm, degrading bayesian to random when unavailable
func (t *Tuner) algorithm() (SearchAlgorithm, bool) {
	switch t.method {
	case MethodGrid:
		return GridSearcher{}, false
	case MethodBayesian:
		if t.caps.Has(config.CapBayesianSearch) {
			return NewBayesianOptimizer(t.iterations, t.seed), false
		}
		return RandomSearcher{Iterations: t.iterations, Seed: t.seed}, true
	default:
		return RandomSearcher{Iterations: t.iterations, Seed: t.seed}, false
	}
}

// Tune searches the candidate's space and refits the best configuration on all of data.
// A candidate with an empty space is returned unchanged with method none.
func (t *Tuner) Tune(ctx context.Context, candidate catalog.Candidate, current estimator.Model, data validation.Data, nClasses int) (*Result, error) {
	start := time.Now()
	space := SpaceFor(candidate.Name)
	if space.Empty() {
		return &Result{
			Candidate:  candidate.Name,
			Method:     MethodNone,
			BestParams: current.GetParams(),
			Metric:     t.cv.Metric(),
			Model:      current,
		}, nil
	}

	algo, fallback := t.algorithm()
	if fallback {
		t.logger.Warn("bayesian search unavailable, falling back to random search",
			"candidate", candidate.Name, "capability", config.CapBayesianSearch)
	}

	metric := t.cv.Metric()
	sign := 1.0
	if !evaluation.HigherIsBetter(metric) {
		sign = -1
	}
	setup := estimator.Setup{Seed: t.seed, NClasses: nClasses}
	if data.Fingerprint == "" {
		data.Fingerprint = validation.Fingerprint(data.X, data.Y)
	}
	objective := func(ctx context.Context, params estimator.Params) (float64, error) {
		build := func() (estimator.Model, error) { return candidate.Build(params, setup) }
		res, err := t.cv.Validate(ctx, candidate.Name, candidate.Defaults.Merge(params), build, data)
		if err != nil {
			return 0, err
		}
		return sign * res.TestScore, nil
	}

	trials, err := algo.Search(ctx, space, objective)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeCandidateFailure, "hyperparameter search interrupted", err).WithStage("tune")
	}

	best := -1
	for i, s := range trials {
		if s.Err != "" {
			t.logger.Debug("tuning trial failed", "candidate", candidate.Name, "params", s.Params.String(), "error", s.Err)
			continue
		}
		if best < 0 || s.Score > trials[best].Score {
			best = i
		}
	}
	if best < 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeCandidateFailure, "all %d tuning trials failed for %s", len(trials), candidate.Name).WithStage("tune")
	}

	params := trials[best].Params
	model, err := candidate.Build(params, setup)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeCandidateFailure, "rebuild tuned model", err).WithStage("tune")
	}
	if _, err := estimator.FitWithWeights(model, data.X, data.Y, data.Weights); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeCandidateFailure, "refit tuned model", err).WithStage("tune")
	}

	res := &Result{
		Candidate:  candidate.Name,
		Method:     algo.Method(),
		BestParams: candidate.Defaults.Merge(params),
		BestScore:  sign * trials[best].Score,
		Metric:     metric,
		Trials:     trials,
		Fallback:   fallback,
		Duration:   time.Since(start),
		Model:      model,
	}
	t.logger.Info("tuning done", "candidate", candidate.Name, "method", res.Method,
		"trials", len(trials), "best_score", res.BestScore, "params", params.String())
	return res, nil
}
