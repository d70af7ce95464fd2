package evaluation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/trainer"
	"autoforge/internal/logger"
)

// Evaluation 单个已训练候选的评估结果
type Evaluation struct {
	Candidate string           `json:"candidate"`
	Metrics   Metrics          `json:"metrics"`
	Confusion [][]int          `json:"confusion_matrix,omitempty"`
	Rank      int              `json:"rank"`
	Duration  time.Duration    `json:"training_duration"`
	Params    estimator.Params `json:"params"`
	Result    trainer.Result   `json:"-"`
}

// Failure 评估阶段失败的候选
type Failure struct {
	Candidate string
	Err       error
}

// PrimaryMetric returns the ranking metric for a problem type
func PrimaryMetric(pt dataset.ProblemType) string {
	switch pt {
	case dataset.Classification:
		return MetricAccuracy
	case dataset.Clustering:
		return "silhouette"
	case dataset.TimeSeries:
		return MetricRMSE
	default:
		return MetricR2
	}
}

// Evaluator 计算各候选在测试集上的指标并排名
type Evaluator struct {
	problem  dataset.ProblemType
	nClasses int
	logger   logger.Logger
}

// NewEvaluator creates an evaluator for a supervised problem
func NewEvaluator(pt dataset.ProblemType, nClasses int, log logger.Logger) *Evaluator {
	return &Evaluator{problem: pt, nClasses: nClasses, logger: logger.OrDefault(log)}
}

// Metrics predicts X and scores against y
func (e *Evaluator) Metrics(m estimator.Model, X [][]float64, y []float64) (Metrics, [][]int, error) {
	if len(X) == 0 {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeInsufficientData, "no rows to evaluate")
	}
	pred, err := m.Predict(X)
	if err != nil {
		return nil, nil, err
	}
	if len(pred) != len(y) {
		return nil, nil, fmt.Errorf("model returned %d predictions for %d rows", len(pred), len(y))
	}
	if e.problem != dataset.Classification {
		for _, v := range pred {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("model produced non-finite predictions")
			}
		}
		return Regression(y, pred, len(X[0])), nil, nil
	}
	var proba [][]float64
	if pm, ok := m.(estimator.ProbabilisticModel); ok {
		if proba, err = pm.PredictProba(X); err != nil {
			proba = nil
		}
	}
	metrics, cm := Classification(y, pred, proba, e.nClasses)
	return metrics, cm, nil
}

// Score returns the primary metric of the model on X, y
func (e *Evaluator) Score(m estimator.Model, X [][]float64, y []float64) (float64, error) {
	metrics, _, err := e.Metrics(m, X, y)
	if err != nil {
		return 0, err
	}
	return metrics[PrimaryMetric(e.problem)], nil
}

// Evaluate scores every trained result; a candidate whose prediction fails is excluded
// and reported as a failure. The returned slice is ranked.
func (e *Evaluator) Evaluate(results []trainer.Result, X [][]float64, y []float64) ([]Evaluation, []Failure) {
	var evals []Evaluation
	var failures []Failure
	for _, r := range results {
		if !r.OK() {
			continue
		}
		metrics, cm, err := e.safeMetrics(r.Model, X, y)
		if err != nil {
			err = apperrors.NewAppErrorWithDetails(apperrors.ErrCodeCandidateFailure, "evaluation failed", r.Name(), err).WithStage("evaluate")
			e.logger.Warn("candidate evaluation failed", "candidate", r.Name(), "error", err)
			failures = append(failures, Failure{Candidate: r.Name(), Err: err})
			continue
		}
		evals = append(evals, Evaluation{
			Candidate: r.Name(),
			Metrics:   metrics,
			Confusion: cm,
			Duration:  r.Duration,
			Params:    r.Params,
			Result:    r,
		})
	}
	Rank(evals, PrimaryMetric(e.problem))
	return evals, failures
}

func (e *Evaluator) safeMetrics(m estimator.Model, X [][]float64, y []float64) (metrics Metrics, cm [][]int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.Metrics(m, X, y)
}

// Rank orders evaluations best first by metric; ties go to the shorter training duration.
// Ranks start at 1.
func Rank(evals []Evaluation, metric string) {
	higher := HigherIsBetter(metric)
	sort.SliceStable(evals, func(i, j int) bool {
		a, b := evals[i].Metrics[metric], evals[j].Metrics[metric]
		if a != b {
			if higher {
				return a > b
			}
			return a < b
		}
		return evals[i].Duration < evals[j].Duration
	})
	for i := range evals {
		evals[i].Rank = i + 1
	}
}
