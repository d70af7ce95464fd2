package ensemble

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/testutils"
)

type constant struct{ label float64 }

func (c constant) Fit([][]float64, []float64) error { return nil }
func (c constant) GetParams() estimator.Params      { return nil }
func (c constant) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range out {
		out[i] = c.label
	}
	return out, nil
}

func blobs(n int, seed int64) ([][]float64, []float64) {
	X, labels := testutils.Blobs(n, 2, seed)
	y := make([]float64, n)
	for i, l := range labels {
		y[i] = float64(l)
	}
	return X, y
}

func noise(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		X[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
		y[i] = float64(rng.Intn(2))
	}
	return X, y
}

func classifierBases() []Base {
	return []Base{
		{Name: "logistic_regression", New: func() (estimator.Model, error) {
			return estimator.NewLogisticRegression(nil, estimator.Setup{NClasses: 2}), nil
		}},
		{Name: "decision_tree", New: func() (estimator.Model, error) {
			return estimator.NewDecisionTree(estimator.TaskClassification, estimator.Params{"max_depth": 3}, estimator.Setup{NClasses: 2}), nil
		}},
	}
}

func accuracy(y, pred []float64) float64 {
	hit := 0
	for i := range y {
		if y[i] == pred[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(y))
}

func TestChoose(t *testing.T) {
	assert.Equal(t, StrategyStacking, Choose(StrategyAuto, 10000, 10000))
	assert.Equal(t, StrategyVoting, Choose(StrategyAuto, 10001, 10000))
	assert.Equal(t, StrategyStacking, Choose("", 50, 10000))
	assert.Equal(t, StrategyBlending, Choose(StrategyBlending, 50000, 10000))
}

func TestVotingWithIdenticalModelsMatchesSingleModel(t *testing.T) {
	t.Run("classification", func(t *testing.T) {
		X, y := blobs(120, 1)
		fit := func() estimator.Model {
			m := estimator.NewLogisticRegression(nil, estimator.Setup{NClasses: 2})
			require.NoError(t, m.Fit(X, y))
			return m
		}
		a, b := fit(), fit()
		v, err := NewVoting(estimator.TaskClassification, 2, []string{"a", "b"}, []estimator.Model{a, b}, nil)
		require.NoError(t, err)
		assert.True(t, v.Soft)

		want, err := a.Predict(X)
		require.NoError(t, err)
		got, err := v.Predict(X)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		wantP, err := a.(estimator.ProbabilisticModel).PredictProba(X)
		require.NoError(t, err)
		gotP, err := v.PredictProba(X)
		require.NoError(t, err)
		assert.Equal(t, wantP, gotP)
	})

	t.Run("regression", func(t *testing.T) {
		X, y := testutils.Matrix(80, 3, 2)
		a, b := estimator.NewRidge(nil), estimator.NewRidge(nil)
		require.NoError(t, a.Fit(X, y))
		require.NoError(t, b.Fit(X, y))
		v, err := NewVoting(estimator.TaskRegression, 0, nil, []estimator.Model{a, b}, nil)
		require.NoError(t, err)

		want, err := a.Predict(X)
		require.NoError(t, err)
		got, err := v.Predict(X)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestHardVotingRespectsWeights(t *testing.T) {
	X := [][]float64{{0}, {1}}
	v, err := NewVoting(estimator.TaskClassification, 2, []string{"zero", "one"},
		[]estimator.Model{constant{0}, constant{1}}, []float64{1, 3})
	require.NoError(t, err)
	assert.False(t, v.Soft)

	pred, err := v.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, pred)

	proba, err := v.PredictProba(X)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, proba[0][0], 1e-12)
	assert.InDelta(t, 0.75, proba[0][1], 1e-12)

	_, err = NewVoting(estimator.TaskClassification, 2, nil, []estimator.Model{constant{0}}, []float64{1, 1})
	assert.Error(t, err)
}

func TestStackingUsesOnlyOutOfFoldPredictions(t *testing.T) {
	X, y := noise(200, 3)
	memorizer := []Base{
		{Name: "knn", New: func() (estimator.Model, error) {
			return estimator.NewKNN(estimator.TaskClassification, estimator.Params{"n_neighbors": 1}, estimator.Setup{NClasses: 2}), nil
		}},
		{Name: "decision_tree", New: func() (estimator.Model, error) {
			return estimator.NewDecisionTree(estimator.TaskClassification, estimator.Params{"max_depth": 30}, estimator.Setup{NClasses: 2}), nil
		}},
	}
	s := NewStacking(estimator.TaskClassification, 2, memorizer, 5, 1, 2)
	require.NoError(t, s.Fit(X, y))

	prov := s.Provenance()
	require.NotNil(t, prov)
	require.Len(t, prov.Features, len(X))
	require.Len(t, prov.TrainedOn, 5)
	for i, f := range prov.Fold {
		require.GreaterOrEqual(t, f, 0, "row %d has no out-of-fold prediction", i)
		assert.NotContains(t, prov.TrainedOn[f], i, "row %d was predicted by a model trained on it", i)
		assert.Len(t, prov.Features[i], 4)
	}

	// 1-NN 在训练集上会完全记住随机标签, 折外特征则接近随机
	oof := make([]float64, len(X))
	for i, row := range prov.Features {
		oof[i] = float64(estimator.Argmax(row[:2]))
	}
	assert.Less(t, accuracy(y, oof), 0.75)

	inSample, err := s.Bases[0].Predict(X)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy(y, inSample))
}

func TestBlendingSeparatesHoldout(t *testing.T) {
	X, y := blobs(100, 4)
	b := NewBlending(estimator.TaskClassification, 2, classifierBases(), 0.2, 1, 0)
	require.NoError(t, b.Fit(X, y))

	prov := b.Provenance()
	require.Len(t, prov.TrainedOn, 1)
	assert.Len(t, prov.Rows, 20)
	assert.Len(t, prov.Features, 20)
	for _, i := range prov.Rows {
		assert.NotContains(t, prov.TrainedOn[0], i)
	}

	pred, err := b.Predict(X)
	require.NoError(t, err)
	assert.Greater(t, accuracy(y, pred), 0.95)
}

func TestBuilder(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	X, y := blobs(120, 5)
	ctx := context.Background()

	t.Run("auto picks stacking for small data", func(t *testing.T) {
		b := NewBuilder(dataset.Classification, 2, Options{Strategy: StrategyAuto, Seed: 1, VotingRows: 10000}, suite.Logger)
		res, err := b.Build(ctx, classifierBases(), X, y, nil)
		require.NoError(t, err)
		assert.Equal(t, StrategyStacking, res.Strategy)
		assert.Equal(t, []string{"logistic_regression", "decision_tree"}, res.Members)

		pred, err := res.Model.Predict(X)
		require.NoError(t, err)
		assert.Greater(t, accuracy(y, pred), 0.95)
		_, ok := res.Model.(estimator.ProbabilisticModel)
		assert.True(t, ok)
	})

	t.Run("auto picks voting for large data", func(t *testing.T) {
		b := NewBuilder(dataset.Classification, 2, Options{Strategy: StrategyAuto, VotingRows: 50}, suite.Logger)
		res, err := b.Build(ctx, classifierBases(), X, y, nil)
		require.NoError(t, err)
		assert.Equal(t, StrategyVoting, res.Strategy)
	})

	t.Run("regression stacking", func(t *testing.T) {
		Xr, yr := testutils.Matrix(100, 3, 6)
		bases := []Base{
			{Name: "ridge", New: func() (estimator.Model, error) { return estimator.NewRidge(nil), nil }},
			{Name: "linear_regression", New: func() (estimator.Model, error) { return estimator.NewLinearRegression(), nil }},
		}
		b := NewBuilder(dataset.Regression, 0, Options{Strategy: StrategyStacking, Folds: 4, Seed: 2}, suite.Logger)
		res, err := b.Build(ctx, bases, Xr, yr, nil)
		require.NoError(t, err)
		pred, err := res.Model.Predict(Xr)
		require.NoError(t, err)
		assert.InDelta(t, yr[0], pred[0], 0.5)
	})

	t.Run("needs two bases", func(t *testing.T) {
		b := NewBuilder(dataset.Classification, 2, Options{}, suite.Logger)
		_, err := b.Build(ctx, classifierBases()[:1], X, y, nil)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCandidateFailure))
	})
}

// weightRecorder counts how its member was fitted
type weightRecorder struct {
	estimator.Model
	weighted *atomic.Int32
	plain    *atomic.Int32
}

func (r *weightRecorder) Fit(X [][]float64, y []float64) error {
	r.plain.Add(1)
	return r.Model.Fit(X, y)
}

func (r *weightRecorder) FitWeighted(X [][]float64, y, w []float64) error {
	if len(w) != len(y) {
		return fmt.Errorf("got %d weights for %d rows", len(w), len(y))
	}
	r.weighted.Add(1)
	_, err := estimator.FitWithWeights(r.Model, X, y, w)
	return err
}

func TestBuilderPassesSampleWeights(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	X, y := blobs(120, 8)
	w := make([]float64, len(y))
	for i := range w {
		w[i] = 1
		if y[i] == 1 {
			w[i] = 3
		}
	}

	for _, strategy := range []Strategy{StrategyVoting, StrategyStacking, StrategyBlending} {
		t.Run(string(strategy), func(t *testing.T) {
			var weighted, plain atomic.Int32
			bases := make([]Base, 0, 2)
			for _, b := range classifierBases() {
				b := b
				bases = append(bases, Base{Name: b.Name, New: func() (estimator.Model, error) {
					m, err := b.New()
					return &weightRecorder{Model: m, weighted: &weighted, plain: &plain}, err
				}})
			}
			builder := NewBuilder(dataset.Classification, 2, Options{Strategy: strategy, Folds: 3, Seed: 4}, suite.Logger)
			res, err := builder.Build(context.Background(), bases, X, y, w)
			require.NoError(t, err)
			assert.Equal(t, strategy, res.Strategy)
			assert.Zero(t, plain.Load(), "every member fit must receive the sample weights")
			assert.Positive(t, weighted.Load())

			pred, err := res.Model.Predict(X)
			require.NoError(t, err)
			assert.Greater(t, accuracy(y, pred), 0.9)
		})
	}

	t.Run("unweighted build fits plainly", func(t *testing.T) {
		var weighted, plain atomic.Int32
		bases := []Base{}
		for _, b := range classifierBases() {
			b := b
			bases = append(bases, Base{Name: b.Name, New: func() (estimator.Model, error) {
				m, err := b.New()
				return &weightRecorder{Model: m, weighted: &weighted, plain: &plain}, err
			}})
		}
		builder := NewBuilder(dataset.Classification, 2, Options{Strategy: StrategyVoting}, suite.Logger)
		_, err := builder.Build(context.Background(), bases, X, y, nil)
		require.NoError(t, err)
		assert.Zero(t, weighted.Load())
		assert.Equal(t, int32(2), plain.Load())
	})
}
