package automl

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/cache"
	"autoforge/internal/config"
	"autoforge/internal/database"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/evaluation"
	"autoforge/internal/learning/tuning"
	"autoforge/internal/monitoring"
	"autoforge/internal/registry"
	"autoforge/internal/testutils"
)

func testConfig(suite *testutils.TestSuite) *config.Config {
	cfg := config.Default()
	cfg.Pipeline.CVFolds = 3
	cfg.Pipeline.TuningIterations = 4
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.ForecastHorizon = 6
	cfg.Registry.Dir = filepath.Join(suite.TempDir, "models")
	return cfg
}

func newRegistry(t *testing.T, suite *testutils.TestSuite, cfg *config.Config) *registry.Registry {
	reg, err := registry.New(cfg.Registry.Dir, suite.Logger)
	require.NoError(t, err)
	return reg
}

type recordingStore struct {
	runs []*database.Run
}

func (s *recordingStore) InsertRun(_ context.Context, run *database.Run) error {
	s.runs = append(s.runs, run)
	return nil
}

func TestBinaryClassificationEndToEnd(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	ctx := suite.Context(2 * time.Minute)

	cfg := testConfig(suite)
	reg := newRegistry(t, suite, cfg)
	engine := NewEngine(cfg, suite.Logger, WithRegistry(reg))

	res, err := engine.Run(ctx, Request{
		Dataset: testutils.BinaryClassification(200, 7),
		Target:  "target",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, dataset.Classification, res.ProblemType)
	assert.NotEmpty(t, res.RunID)
	assert.NotEmpty(t, res.BestModel)
	assert.GreaterOrEqual(t, res.Trained(), 1)
	assert.Equal(t, evaluation.MetricAccuracy, res.Metric)

	acc, ok := res.Metrics[evaluation.MetricAccuracy]
	require.True(t, ok)
	assert.GreaterOrEqual(t, acc, 0.0)
	assert.LessOrEqual(t, acc, 1.0)

	assert.Equal(t, 200, res.Dataset.Rows)
	assert.Equal(t, 200, res.Dataset.TrainRows+res.Dataset.TestRows)
	assert.ElementsMatch(t, []string{"no", "yes"}, res.Dataset.Classes)

	require.NotEmpty(t, res.Leaderboard)
	assert.Equal(t, 1, res.Leaderboard[0].Rank)
	assert.Equal(t, statusTrained, res.Leaderboard[0].Status)
	assert.True(t, res.CrossVal)
	assert.NotNil(t, res.Leaderboard[0].CV)
	assert.NotNil(t, res.Explanation)

	require.NotEmpty(t, res.ModelID)
	md, ok := reg.Metadata(res.ModelID)
	require.True(t, ok)
	assert.Equal(t, "target", md.TargetColumn)
	assert.Equal(t, res.RunID, md.RunID)
	assert.NotEmpty(t, res.Recommendations)
}

func TestMissingTargetFailsBeforeTraining(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	store := &recordingStore{}
	engine := NewEngine(testConfig(suite), suite.Logger, WithStore(store))
	ds := testutils.WithMissingTarget(testutils.BinaryClassification(200, 7), "target", 0.6)

	res, err := engine.Run(context.Background(), Request{Dataset: ds, Target: "target"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	require.NotNil(t, res)
	assert.Equal(t, StatusError, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.Selected)
	assert.Empty(t, res.Leaderboard)
	assert.Empty(t, res.BestModel)

	require.Len(t, store.runs, 1)
	assert.Equal(t, "error", store.runs[0].Status)
	assert.Empty(t, store.runs[0].Candidates)
	assert.Nil(t, store.runs[0].Score)
}

func TestTuningFallsBackWithoutBayesianCapability(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	cfg := testConfig(suite)
	cfg.Pipeline.TuningMethod = string(tuning.MethodBayesian)
	caps := config.DefaultCapabilities().Without(config.CapBayesianSearch)
	engine := NewEngine(cfg, suite.Logger, WithCapabilities(caps))

	res, err := engine.Run(suite.Context(time.Minute), Request{
		Dataset:    testutils.BinaryClassification(200, 11),
		Target:     "target",
		Candidates: []string{"logistic_regression"},
	})
	require.NoError(t, err)

	require.NotNil(t, res.Tuning)
	assert.Equal(t, tuning.MethodRandom, res.Tuning.Method)
	assert.True(t, res.Tuning.Fallback)
	assert.NotEmpty(t, res.Tuning.BestParams)
	assert.NotNil(t, res.Tuning.Model)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "fell back to random search")
	assert.Equal(t, "logistic_regression", res.BestModel)
}

func TestRegressionWithEnsemble(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	cfg := testConfig(suite)
	cfg.Pipeline.Tuning = false
	cfg.Pipeline.Ensemble = true
	cfg.Pipeline.EnsembleStrategy = "voting"
	cfg.Pipeline.EnsembleTopK = 2
	engine := NewEngine(cfg, suite.Logger)

	res, err := engine.Run(suite.Context(time.Minute), Request{
		Dataset:    testutils.Regression(150, 3),
		Target:     "y",
		Candidates: []string{"linear_regression", "ridge", "decision_tree"},
	})
	require.NoError(t, err)

	assert.Equal(t, dataset.Regression, res.ProblemType)
	assert.Equal(t, evaluation.MetricR2, res.Metric)
	assert.Greater(t, res.Score, 0.8)
	require.NotNil(t, res.Ensemble)
	assert.Equal(t, "voting", res.Ensemble.Strategy)
	assert.Len(t, res.Ensemble.Members, 2)
	if res.Ensemble.Selected {
		assert.Equal(t, "ensemble_voting", res.BestModel)
	}
	assert.Contains(t, strings.Join(res.Recommendations, "\n"), "enable tuning")
}

func TestClusteringWithoutTarget(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	X, _ := testutils.Blobs(150, 3, 1)
	x1, x2 := make([]float64, len(X)), make([]float64, len(X))
	for i, row := range X {
		x1[i], x2[i] = row[0], row[1]
	}
	ds := dataset.MustNew(dataset.NewNumeric("x1", x1), dataset.NewNumeric("x2", x2))

	cfg := testConfig(suite)
	cfg.Pipeline.ClusterMaxK = 5
	reg := newRegistry(t, suite, cfg)
	engine := NewEngine(cfg, suite.Logger, WithRegistry(reg))

	res, err := engine.Run(suite.Context(time.Minute), Request{Dataset: ds})
	require.NoError(t, err)

	assert.Equal(t, dataset.Clustering, res.ProblemType)
	assert.Equal(t, "silhouette", res.Metric)
	assert.NotEmpty(t, res.BestModel)
	assert.Equal(t, 150, res.Dataset.TrainRows)
	require.NotNil(t, res.Clustering)
	assert.Equal(t, 3, res.Clustering.BestK)
	assert.Greater(t, res.Score, 0.5)
	assert.NotEmpty(t, res.ModelID)
}

func TestTimeSeriesForecast(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	y := testutils.SeasonalSeries(120, 12, 5)
	ts := make([]float64, len(y))
	for i := range ts {
		ts[i] = float64(i)
	}
	ds := dataset.MustNew(dataset.NewNumeric("t", ts), dataset.NewNumeric("sales", y))

	cfg := testConfig(suite)
	reg := newRegistry(t, suite, cfg)
	engine := NewEngine(cfg, suite.Logger, WithRegistry(reg))

	res, err := engine.Run(suite.Context(time.Minute), Request{Dataset: ds, Target: "sales", TimeColumn: "t"})
	require.NoError(t, err)

	assert.Equal(t, dataset.TimeSeries, res.ProblemType)
	assert.Equal(t, evaluation.MetricRMSE, res.Metric)
	require.NotNil(t, res.Forecast)
	require.NotNil(t, res.Forecast.Forecast)
	assert.Len(t, res.Forecast.Forecast.Point, cfg.Pipeline.ForecastHorizon)
	assert.Equal(t, res.Forecast.Selected, res.BestModel)
	assert.False(t, math.IsNaN(res.Score))
	assert.Equal(t, 1, res.Leaderboard[0].Rank)

	pkg, _, err := reg.Get(res.ModelID)
	require.NoError(t, err)
	assert.NotNil(t, pkg.Series)
	assert.Equal(t, "t", pkg.TimeColumn)
}

func TestUnknownCandidateRestriction(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	engine := NewEngine(testConfig(suite), suite.Logger)
	res, err := engine.Run(context.Background(), Request{
		Dataset:    testutils.BinaryClassification(100, 1),
		Target:     "target",
		Candidates: []string{"no_such_model"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAllCandidatesFailed))
	assert.Equal(t, StatusError, res.Status)

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "select", appErr.Stage)
}

func TestRunHistoryCacheAndMetrics(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	ctx := suite.Context(2 * time.Minute)

	cfg := testConfig(suite)
	cfg.Pipeline.Tuning = false
	cfg.Database.Enabled = true
	cfg.Database.DSN = ":memory:"
	db, err := database.Open(cfg.Database, suite.Logger)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	metrics := monitoring.NewMetrics()
	results := cache.New(cfg.Cache, suite.Logger)
	require.NotNil(t, results)
	defer results.Close()

	engine := NewEngine(cfg, suite.Logger, WithStore(db), WithMetrics(metrics), WithCache(results))
	req := Request{
		Dataset:    testutils.BinaryClassification(120, 3),
		Target:     "target",
		Candidates: []string{"logistic_regression", "naive_bayes"},
	}

	first, err := engine.Run(ctx, req)
	require.NoError(t, err)
	for _, c := range first.Leaderboard {
		require.NotNil(t, c.CV, c.Candidate)
		assert.False(t, c.CV.Cached)
	}

	second, err := engine.Run(ctx, req)
	require.NoError(t, err)
	for _, c := range second.Leaderboard {
		require.NotNil(t, c.CV, c.Candidate)
		assert.True(t, c.CV.Cached, c.Candidate)
	}

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	stored, err := db.GetRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, "success", stored.Status)
	assert.Equal(t, first.BestModel, stored.BestCandidate)
	assert.Len(t, stored.Candidates, 2)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `autoforge_pipeline_runs_total{problem_type="classification",status="success"} 2`)
	assert.Contains(t, body, `autoforge_candidate_fits_total{candidate="naive_bayes",status="trained"} 2`)
	assert.Contains(t, body, `autoforge_stage_duration_seconds_count{stage="train"} 2`)
}
