package estimator

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/testutils"
)

// twoClouds 两个相距较远的高斯团, 标签 0/1
func twoClouds(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		c := float64(i % 2)
		centre := -2.0 + 4*c
		X[i] = []float64{centre + rng.NormFloat64(), centre + rng.NormFloat64()}
		y[i] = c
	}
	return X, y
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

func r2(y, pred []float64) float64 {
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))
	ssRes, ssTot := 0.0, 0.0
	for i := range y {
		ssRes += (y[i] - pred[i]) * (y[i] - pred[i])
		ssTot += (y[i] - mean) * (y[i] - mean)
	}
	return 1 - ssRes/ssTot
}

func TestRegressors(t *testing.T) {
	X, y := testutils.Matrix(200, 3, 7)
	setup := Setup{Seed: 1}

	models := map[string]Model{
		"linear":   NewLinearRegression(),
		"ridge":    NewRidge(Params{"alpha": 0.1}),
		"lasso":    NewLasso(Params{"alpha": 0.001}),
		"tree":     NewDecisionTree(TaskRegression, Params{"max_depth": 8}, setup),
		"forest":   NewRandomForest(TaskRegression, Params{"n_estimators": 20}, setup),
		"boosting": NewGradientBoosting(TaskRegression, Params{}, setup),
		"knn":      NewKNN(TaskRegression, Params{"n_neighbors": 3}, setup),
	}
	minR2 := map[string]float64{"linear": 0.99, "ridge": 0.99, "lasso": 0.99, "tree": 0.8, "forest": 0.8, "boosting": 0.8, "knn": 0.7}

	for name, m := range models {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, m.Fit(X, y))
			pred, err := m.Predict(X)
			require.NoError(t, err)
			assert.Greater(t, r2(y, pred), minR2[name])
		})
	}
}

func TestClassifiers(t *testing.T) {
	X, y := twoClouds(200, 3)
	setup := Setup{Seed: 1, NClasses: 2}

	models := map[string]ProbabilisticModel{
		"logistic": NewLogisticRegression(Params{}, setup),
		"tree":     NewDecisionTree(TaskClassification, Params{"max_depth": 4}, setup),
		"forest":   NewRandomForest(TaskClassification, Params{"n_estimators": 20}, setup),
		"boosting": NewGradientBoosting(TaskClassification, Params{"n_estimators": 50}, setup),
		"knn":      NewKNN(TaskClassification, Params{}, setup),
		"bayes":    NewGaussianNB(Params{}, setup),
	}

	for name, m := range models {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, m.Fit(X, y))
			pred, err := m.Predict(X)
			require.NoError(t, err)
			assert.Greater(t, accuracy(y, pred), 0.95)

			proba, err := m.PredictProba(X[:10])
			require.NoError(t, err)
			for _, row := range proba {
				require.Len(t, row, 2)
				assert.InDelta(t, 1.0, row[0]+row[1], 1e-9)
			}
		})
	}
}

func TestWeightedFitShiftsDecision(t *testing.T) {
	// 重叠数据上给类别 1 很大的权重, 预测应偏向类别 1
	rng := rand.New(rand.NewSource(5))
	X := make([][]float64, 200)
	y := make([]float64, 200)
	w := make([]float64, 200)
	for i := range X {
		X[i] = []float64{rng.NormFloat64()}
		y[i] = float64(i % 2)
		w[i] = 1
		if y[i] == 1 {
			w[i] = 20
		}
	}
	m := NewLogisticRegression(Params{}, Setup{NClasses: 2})
	applied, err := FitWithWeights(m, X, y, w)
	require.NoError(t, err)
	assert.True(t, applied)

	pred, err := m.Predict(X)
	require.NoError(t, err)
	ones := 0
	for _, p := range pred {
		if p == 1 {
			ones++
		}
	}
	assert.Greater(t, ones, 150)

	applied, err = FitWithWeights(NewKNN(TaskClassification, Params{}, Setup{}), X, y, w)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestKMeansRecoversBlobs(t *testing.T) {
	X, truth := testutils.Blobs(150, 3, 2)
	km := NewKMeans(Params{"n_clusters": 3}, Setup{Seed: 4})
	labels, err := km.FitPredict(X)
	require.NoError(t, err)

	mapping := map[int]int{}
	for i, c := range truth {
		if prev, ok := mapping[c]; ok {
			assert.Equal(t, prev, labels[i])
		} else {
			mapping[c] = labels[i]
		}
	}
	assert.Len(t, mapping, 3)
	assert.Greater(t, km.Inertia(), 0.0)

	pred, err := km.Predict(X[:3])
	require.NoError(t, err)
	for i := range pred {
		assert.Equal(t, float64(labels[i]), pred[i])
	}
}

func TestDBSCANMarksNoise(t *testing.T) {
	X, _ := testutils.Blobs(90, 3, 3)
	X = append(X, []float64{100, 100})
	db := NewDBSCAN(Params{"eps": 1.5, "min_samples": 4})
	labels, err := db.FitPredict(X)
	require.NoError(t, err)

	assert.Equal(t, Noise, labels[len(labels)-1])
	clusters := map[int]bool{}
	for _, l := range labels[:90] {
		clusters[l] = true
	}
	assert.Len(t, clusters, 3)
	assert.False(t, clusters[Noise])
}

func TestLinearRegressionNeedsMoreRowsThanFeatures(t *testing.T) {
	X, y := testutils.Matrix(3, 3, 1)
	assert.Error(t, NewLinearRegression().Fit(X, y))
}

func TestLinearRegressionRecoversCoefficients(t *testing.T) {
	X, _ := testutils.Matrix(60, 2, 4)
	y := make([]float64, len(X))
	for i, row := range X {
		y[i] = 1.5 + 2*row[0] - 3*row[1]
	}
	m := NewLinearRegression()
	require.NoError(t, m.Fit(X, y))
	assert.InDeltaSlice(t, []float64{1.5, 2, -3}, m.Coefficients, 1e-6)

	imp := m.GetFeatureImportance()
	require.Len(t, imp, 2)
	assert.Greater(t, imp[1], imp[0])
}

func TestGradientBoostingRetrainsAfterDecode(t *testing.T) {
	X, y := twoClouds(120, 5)
	var m Model = NewGradientBoosting(TaskClassification, Params{"n_estimators": 30}, Setup{NClasses: 2})
	require.NoError(t, m.Fit(X, y))
	want, err := m.Predict(X)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(&m))
	var decoded Model
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))

	got, err := decoded.Predict(X)
	require.NoError(t, err)
	assert.Greater(t, accuracy(want, got), 0.95)
	assert.Equal(t, 30.0, decoded.GetParams()["n_estimators"])
}

func TestGradientBoostingBeforeFit(t *testing.T) {
	_, err := NewGradientBoosting(TaskRegression, Params{}, Setup{}).Predict([][]float64{{1}})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestPredictBeforeFit(t *testing.T) {
	_, err := NewRidge(Params{}).Predict([][]float64{{1}})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestGobRoundTripThroughInterface(t *testing.T) {
	X, y := twoClouds(100, 9)
	var m Model = NewRandomForest(TaskClassification, Params{"n_estimators": 5}, Setup{Seed: 2, NClasses: 2})
	require.NoError(t, m.Fit(X, y))
	want, err := m.Predict(X)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(&m))
	var decoded Model
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))

	got, err := decoded.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParamsHelpers(t *testing.T) {
	p := Params{"max_depth": 4.6, "flag": 1}
	assert.Equal(t, 5, p.Int("max_depth", 0))
	assert.True(t, p.Bool("flag", false))
	assert.Equal(t, 0.3, p.Float("missing", 0.3))

	merged := p.Merge(Params{"max_depth": 2})
	assert.Equal(t, 2.0, merged["max_depth"])
	assert.Equal(t, 4.6, p["max_depth"])
	assert.Equal(t, "flag=1,max_depth=4.6", p.String())
	assert.False(t, math.IsNaN(merged["flag"]))
}
