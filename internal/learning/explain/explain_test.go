package explain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/testutils"
)

// linear is f(x) = 2·x0, ignoring every other feature
type linear struct{}

func (linear) Fit([][]float64, []float64) error { return nil }
func (linear) GetParams() estimator.Params      { return nil }
func (linear) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = 2 * row[0]
	}
	return out, nil
}

var names = []string{"x1", "x2", "x3"}

func TestLocalShapleyIsAdditive(t *testing.T) {
	X, _ := testutils.Matrix(200, 3, 1)
	e := NewEngine(dataset.Regression, 0, config.DefaultThresholds(), 1, nil)

	x := []float64{1.5, -0.3, 0.7}
	local, err := e.Local(linear{}, names, X, x)
	require.NoError(t, err)
	require.Len(t, local.Contributions, 3)
	assert.InDelta(t, 3.0, local.Prediction, 1e-12)

	sum := local.Base
	for _, c := range local.Contributions {
		sum += c.Contribution
	}
	assert.InDelta(t, local.Prediction, sum, 1e-9)
	assert.Equal(t, 0.0, local.Contributions[1].Contribution)
	assert.Equal(t, 0.0, local.Contributions[2].Contribution)
	assert.Equal(t, 1.5, local.Contributions[0].Value)

	_, err = e.Local(linear{}, names, X, []float64{1})
	assert.Error(t, err)
}

func TestPermutationImportanceRanksInformativeFeature(t *testing.T) {
	X, _ := testutils.Matrix(300, 3, 2)
	y := make([]float64, len(X))
	for i, row := range X {
		y[i] = 2 * row[0]
	}
	e := NewEngine(dataset.Regression, 0, config.DefaultThresholds(), 1, nil)
	g, err := e.Permutation(context.Background(), linear{}, names, X, y)
	require.NoError(t, err)
	assert.Equal(t, MethodPermutation, g.Method)
	assert.Equal(t, "r2", g.Metric)
	require.Len(t, g.Importances, 3)
	assert.Equal(t, "x1", g.Importances[0].Feature)
	assert.Greater(t, g.Importances[0].Value, 1.0)
	assert.InDelta(t, 0, g.Map()["x2"], 1e-12)
}

func TestGlobalMethodSelection(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	X, y := testutils.Matrix(150, 3, 3)
	e := NewEngine(dataset.Regression, 0, config.DefaultThresholds(), 1, suite.Logger)
	ctx := context.Background()

	t.Run("native when available", func(t *testing.T) {
		forest := estimator.NewRandomForest(estimator.TaskRegression, estimator.Params{"n_estimators": 10}, estimator.Setup{Seed: 1})
		require.NoError(t, forest.Fit(X, y))
		g, err := e.Global(ctx, MethodAuto, forest, names, X, y)
		require.NoError(t, err)
		assert.Equal(t, MethodNative, g.Method)
		assert.Equal(t, "x3", g.Importances[0].Feature)
	})

	t.Run("permutation otherwise", func(t *testing.T) {
		g, err := e.Global(ctx, MethodAuto, linear{}, names, X, y)
		require.NoError(t, err)
		assert.Equal(t, MethodPermutation, g.Method)
	})

	t.Run("native requested but missing", func(t *testing.T) {
		_, err := e.Global(ctx, MethodNative, linear{}, names, X, y)
		assert.Error(t, err)
	})

	t.Run("shapley", func(t *testing.T) {
		g, err := e.Global(ctx, MethodShapley, linear{}, names, X, y)
		require.NoError(t, err)
		assert.Equal(t, MethodShapley, g.Method)
		assert.Equal(t, "x1", g.Importances[0].Feature)
		assert.Equal(t, 0.0, g.Map()["x3"])
	})
}

func TestSampleCapsRows(t *testing.T) {
	X, y := testutils.Matrix(1000, 2, 4)
	xs, ys := Sample(X, y, 100, 1)
	assert.Len(t, xs, 100)
	assert.Len(t, ys, 100)

	same, _ := Sample(X, y, 5000, 1)
	assert.Len(t, same, 1000)
}

func TestLocalClassification(t *testing.T) {
	X, labels := testutils.Blobs(100, 2, 5)
	y := make([]float64, len(labels))
	for i, l := range labels {
		y[i] = float64(l)
	}
	m := estimator.NewLogisticRegression(nil, estimator.Setup{NClasses: 2})
	require.NoError(t, m.Fit(X, y))

	e := NewEngine(dataset.Classification, 2, config.DefaultThresholds(), 1, nil)
	local, err := e.Local(m, []string{"a", "b"}, X, X[1])
	require.NoError(t, err)
	assert.Equal(t, 1, local.Class)
	sum := local.Base
	for _, c := range local.Contributions {
		sum += c.Contribution
	}
	assert.InDelta(t, local.Prediction, sum, 1e-9)
	assert.Greater(t, local.Prediction, 0.5)
}
