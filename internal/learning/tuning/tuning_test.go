package tuning

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	"autoforge/internal/learning/catalog"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/validation"
	"autoforge/internal/testutils"
)

func regressionCV(suite *testutils.TestSuite) *validation.CrossValidator {
	return validation.NewCrossValidator(dataset.Regression, 0, validation.KFold{K: 3, Shuffle: true, Seed: 1},
		config.DefaultThresholds(), validation.Options{Workers: 2}, suite.Logger)
}

func lookup(t *testing.T, name string) catalog.Candidate {
	t.Helper()
	c, ok := catalog.Lookup(name, dataset.Regression)
	require.True(t, ok, name)
	return c
}

func TestGridEnumeratesEveryCombination(t *testing.T) {
	grid := SpaceFor("decision_tree").Grid()
	require.Len(t, grid, 8)
	seen := map[string]bool{}
	for _, p := range grid {
		assert.Contains(t, p, "max_depth")
		assert.Contains(t, p, "min_samples_leaf")
		seen[p.String()] = true
	}
	assert.Len(t, seen, 8)
	assert.Nil(t, SpaceFor("linear_regression").Grid())
}

func TestSampleRespectsBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	space := SpaceFor("gradient_boosting")
	for i := 0; i < 200; i++ {
		p := space.Sample(rng)
		for _, d := range space {
			v := p[d.Name]
			assert.GreaterOrEqual(t, v, d.Low, d.Name)
			assert.LessOrEqual(t, v, d.High, d.Name)
			if d.Integer {
				assert.Equal(t, math.Round(v), v, d.Name)
			}
		}
	}
}

func TestExpectedImprovement(t *testing.T) {
	assert.Equal(t, 0.0, expectedImprovement(0.5, 0, 1, 0))
	assert.InDelta(t, 0.5, expectedImprovement(1.5, 0, 1, 0), 1e-12)
	assert.Greater(t, expectedImprovement(0.5, 1, 1, 0), 0.0)
	assert.Greater(t, expectedImprovement(1, 1, 1, 0), expectedImprovement(0, 1, 1, 0))
}

func TestTuneEmptySpaceReturnsModelUnchanged(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	X, y := testutils.Matrix(60, 2, 1)
	current := estimator.NewLinearRegression()
	require.NoError(t, current.Fit(X, y))

	tuner := NewTuner(MethodBayesian, 5, 1, config.DefaultCapabilities(), regressionCV(suite), suite.Logger)
	res, err := tuner.Tune(context.Background(), lookup(t, "linear_regression"), current, validation.Data{X: X, Y: y}, 0)
	require.NoError(t, err)
	assert.Equal(t, MethodNone, res.Method)
	assert.Same(t, current, res.Model)
	assert.Empty(t, res.Trials)
}

func TestTuneGrid(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	X, y := testutils.Matrix(120, 3, 2)
	tuner := NewTuner(MethodGrid, 1, 1, config.DefaultCapabilities(), regressionCV(suite), suite.Logger)
	res, err := tuner.Tune(context.Background(), lookup(t, "ridge"), nil, validation.Data{X: X, Y: y}, 0)
	require.NoError(t, err)

	assert.Equal(t, MethodGrid, res.Method)
	require.Len(t, res.Trials, 4)
	for _, s := range res.Trials {
		assert.Empty(t, s.Err)
		assert.GreaterOrEqual(t, res.BestScore, s.Score)
	}
	assert.Equal(t, "r2", res.Metric)
	assert.Greater(t, res.BestScore, 0.9)

	pred, err := res.Model.Predict(X[:5])
	require.NoError(t, err)
	assert.Len(t, pred, 5)
}

func TestTuneBayesian(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	X, y := testutils.Matrix(120, 3, 4)
	tuner := NewTuner(MethodBayesian, 8, 7, config.DefaultCapabilities(), regressionCV(suite), suite.Logger)
	res, err := tuner.Tune(context.Background(), lookup(t, "ridge"), nil, validation.Data{X: X, Y: y}, 0)
	require.NoError(t, err)
	assert.Equal(t, MethodBayesian, res.Method)
	assert.False(t, res.Fallback)
	assert.Len(t, res.Trials, 8)
	assert.Greater(t, res.BestScore, 0.9)
}

func TestTuneBayesianFallsBackWithoutCapability(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	X, y := testutils.Matrix(120, 3, 4)
	caps := config.DefaultCapabilities().Without(config.CapBayesianSearch)
	tuner := NewTuner(MethodBayesian, 6, 7, caps, regressionCV(suite), suite.Logger)
	res, err := tuner.Tune(context.Background(), lookup(t, "ridge"), nil, validation.Data{X: X, Y: y}, 0)
	require.NoError(t, err)
	assert.Equal(t, MethodRandom, res.Method)
	assert.True(t, res.Fallback)
	assert.Len(t, res.Trials, 6)
	require.NotNil(t, res.Model)
}
