package evaluation

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/catalog"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/trainer"
	"autoforge/internal/testutils"
)

func TestClassificationMetrics(t *testing.T) {
	yTrue := []float64{1, 1, 1, 0, 0, 0, 0, 1}
	yPred := []float64{1, 1, 0, 0, 0, 1, 0, 1}
	m, cm := Classification(yTrue, yPred, nil, 2)

	assert.Equal(t, [][]int{{3, 1}, {1, 3}}, cm)
	assert.InDelta(t, 0.75, m[MetricAccuracy], 1e-12)
	assert.InDelta(t, 0.75, m[MetricPrecision], 1e-12)
	assert.InDelta(t, 0.75, m[MetricRecall], 1e-12)
	assert.InDelta(t, 0.75, m[MetricF1], 1e-12)
	_, hasAUC := m[MetricROCAUC]
	assert.False(t, hasAUC)

	t.Run("weighted average for multiclass", func(t *testing.T) {
		yTrue := []float64{0, 0, 1, 1, 2, 2}
		yPred := []float64{0, 0, 1, 2, 2, 2}
		m, _ := Classification(yTrue, yPred, nil, 3)
		// 类别 2 的精确率 2/3, 其他为 1; 召回: 1, 1/2, 1
		assert.InDelta(t, (1+1+2.0/3)/3, m[MetricPrecision], 1e-12)
		assert.InDelta(t, (1+0.5+1)/3, m[MetricRecall], 1e-12)
	})
}

func TestROCAUC(t *testing.T) {
	y := []float64{0, 0, 1, 1}
	proba := [][]float64{{0.9, 0.1}, {0.6, 0.4}, {0.65, 0.35}, {0.2, 0.8}}
	auc, ok := ROCAUC(y, proba, 2)
	require.True(t, ok)
	assert.InDelta(t, 0.75, auc, 1e-12)

	perfect := [][]float64{{1, 0}, {1, 0}, {0, 1}, {0, 1}}
	auc, _ = ROCAUC(y, perfect, 2)
	assert.InDelta(t, 1.0, auc, 1e-12)

	_, ok = ROCAUC([]float64{1, 1}, [][]float64{{0, 1}, {0, 1}}, 2)
	assert.False(t, ok)
}

func TestRegressionMetrics(t *testing.T) {
	yTrue := []float64{1, 2, 3, 4}
	yPred := []float64{1, 2, 3, 5}
	m := Regression(yTrue, yPred, 1)
	assert.InDelta(t, 0.5, m[MetricRMSE], 1e-12)
	assert.InDelta(t, 0.25, m[MetricMAE], 1e-12)
	assert.InDelta(t, 6.25, m[MetricMAPE], 1e-12)
	assert.InDelta(t, 1-1.0/5, m[MetricR2], 1e-12)
	assert.InDelta(t, 1-(1.0/5)*3/2, m[MetricAdjustedR2], 1e-12)

	assert.Equal(t, 0.0, R2([]float64{2, 2}, []float64{1, 3}))
}

func TestRankTieBreaksOnDuration(t *testing.T) {
	evals := []Evaluation{
		{Candidate: "slow", Metrics: Metrics{MetricAccuracy: 0.9}, Duration: 2 * time.Second},
		{Candidate: "worse", Metrics: Metrics{MetricAccuracy: 0.8}, Duration: time.Millisecond},
		{Candidate: "fast", Metrics: Metrics{MetricAccuracy: 0.9}, Duration: time.Second},
	}
	Rank(evals, MetricAccuracy)
	assert.Equal(t, "fast", evals[0].Candidate)
	assert.Equal(t, "slow", evals[1].Candidate)
	assert.Equal(t, "worse", evals[2].Candidate)
	assert.Equal(t, []int{1, 2, 3}, []int{evals[0].Rank, evals[1].Rank, evals[2].Rank})

	t.Run("lower is better", func(t *testing.T) {
		evals := []Evaluation{
			{Candidate: "a", Metrics: Metrics{MetricRMSE: 3}},
			{Candidate: "b", Metrics: Metrics{MetricRMSE: 1}},
		}
		Rank(evals, MetricRMSE)
		assert.Equal(t, "b", evals[0].Candidate)
	})
}

type nanModel struct{}

func (nanModel) Fit([][]float64, []float64) error { return nil }
func (nanModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range out {
		out[i] = math.NaN()
	}
	return out, nil
}
func (nanModel) GetParams() estimator.Params { return nil }

func TestEvaluatorRanksTrainedResults(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	X, y := testutils.Matrix(150, 3, 8)
	ridge, _ := catalog.Lookup("ridge", dataset.Regression)
	knn, _ := catalog.Lookup("knn", dataset.Regression)
	report := trainer.NewTrainer(2, 1, suite.Logger).Train(context.Background(),
		[]catalog.Candidate{ridge, knn}, trainer.Data{X: X[:100], Y: y[:100]})
	require.Len(t, report.Trained(), 2)

	results := append(report.Results, trainer.Result{
		Candidate: catalog.Candidate{Name: "nan"}, Model: nanModel{}, Status: trainer.StatusTrained,
	})
	ev := NewEvaluator(dataset.Regression, 0, suite.Logger)
	evals, failures := ev.Evaluate(results, X[100:], y[100:])

	require.Len(t, evals, 2)
	assert.Equal(t, "ridge", evals[0].Candidate)
	assert.Equal(t, 1, evals[0].Rank)
	assert.Greater(t, evals[0].Metrics[MetricR2], 0.95)
	require.Len(t, failures, 1)
	assert.Equal(t, "nan", failures[0].Candidate)

	score, err := ev.Score(evals[0].Result.Model, X[100:], y[100:])
	require.NoError(t, err)
	assert.Equal(t, evals[0].Metrics[MetricR2], score)
}

func TestEvaluatorRejectsEmptyInput(t *testing.T) {
	X, y := testutils.Matrix(40, 2, 3)
	model := estimator.NewRidge(nil)
	require.NoError(t, model.Fit(X, y))

	for _, pt := range []dataset.ProblemType{dataset.Regression, dataset.Classification} {
		ev := NewEvaluator(pt, 2, nil)
		_, _, err := ev.Metrics(model, nil, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInsufficientData))

		_, err = ev.Score(model, [][]float64{}, []float64{})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInsufficientData))
	}
}
