package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/config"
	"autoforge/internal/database"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/automl"
	"autoforge/internal/learning/monitor"
	"autoforge/internal/monitoring"
	"autoforge/internal/registry"
	"autoforge/internal/testutils"
)

type memoryStore struct {
	runs   []*database.Run
	drifts []*database.DriftRecord
}

func (s *memoryStore) InsertRun(_ context.Context, run *database.Run) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *memoryStore) InsertDrift(_ context.Context, rec *database.DriftRecord) error {
	s.drifts = append(s.drifts, rec)
	return nil
}

func testConfig(suite *testutils.TestSuite) *config.Config {
	cfg := config.Default()
	cfg.Pipeline.CVFolds = 3
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.FeatureEngineering = false
	cfg.Pipeline.Tuning = false
	cfg.Pipeline.Ensemble = false
	cfg.Pipeline.LearningCurve = false
	cfg.Pipeline.ForecastHorizon = 6
	cfg.Registry.Dir = filepath.Join(suite.TempDir, "models")
	return cfg
}

func newService(t *testing.T, suite *testutils.TestSuite, cfg *config.Config, opts ...Option) *Service {
	reg, err := registry.New(cfg.Registry.Dir, suite.Logger)
	require.NoError(t, err)
	return New(cfg, reg, suite.Logger, opts...)
}

// records turns the dataset rows into request records, leaving out the named columns
func records(d *dataset.Dataset, skip ...string) []dataset.Record {
	out := make([]dataset.Record, d.Len())
	for i := range out {
		rec := dataset.Record{}
		for _, col := range d.Columns() {
			if contains(skip, col.Name) {
				continue
			}
			switch col.Type {
			case dataset.Numeric:
				rec[col.Name] = col.Num[i]
			case dataset.Categorical:
				rec[col.Name] = col.Str[i]
			}
		}
		out[i] = rec
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestTrainPredictExplainDelete(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	ctx := suite.Context(2 * time.Minute)

	svc := newService(t, suite, testConfig(suite))
	train, err := svc.Train(ctx, testutils.BinaryClassification(200, 3), "target", TrainOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, train.ModelID)
	assert.NotEmpty(t, train.BestModel)
	assert.Contains(t, train.Metrics, "accuracy")

	models := svc.Models()
	require.Len(t, models, 1)
	assert.Equal(t, train.ModelID, models[0].ID)

	t.Run("predict", func(t *testing.T) {
		recs := records(testutils.BinaryClassification(20, 11), "target")
		resp, err := svc.Predict(ctx, train.ModelID, recs)
		require.NoError(t, err)
		require.Len(t, resp.Predictions, 20)
		for _, p := range resp.Predictions {
			assert.Contains(t, []interface{}{"yes", "no"}, p)
		}
		if resp.Probabilities != nil {
			require.Len(t, resp.Probabilities, 20)
			for _, row := range resp.Probabilities {
				assert.InDelta(t, 1.0, row["yes"]+row["no"], 1e-6)
			}
		}
	})

	t.Run("unseen category does not fail", func(t *testing.T) {
		rec := dataset.Record{"x1": 0.5, "x2": -0.2, "x3": 4.0, "colour": "purple"}
		resp, err := svc.Predict(ctx, train.ModelID, []dataset.Record{rec})
		require.NoError(t, err)
		assert.Len(t, resp.Predictions, 1)
	})

	t.Run("explain", func(t *testing.T) {
		rec := records(testutils.BinaryClassification(1, 12), "target")[0]
		resp, err := svc.Explain(ctx, train.ModelID, rec)
		require.NoError(t, err)
		pkg, _, err := svc.registry.Get(train.ModelID)
		require.NoError(t, err)
		assert.Len(t, resp.Contributions, len(pkg.FeatureNames))
		assert.Contains(t, []interface{}{"yes", "no"}, resp.Prediction)

		sum := resp.Base
		for _, c := range resp.Contributions {
			sum += c.Contribution
		}
		assert.InDelta(t, resp.Output, sum, 1e-6)
	})

	t.Run("no records", func(t *testing.T) {
		_, err := svc.Predict(ctx, train.ModelID, nil)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, svc.Delete(train.ModelID))
		assert.Empty(t, svc.Models())
		assert.Empty(t, testutils.ListFiles(t, svc.registry.Dir()))

		_, err := svc.Predict(ctx, train.ModelID, records(testutils.BinaryClassification(5, 1), "target"))
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))
		assert.True(t, apperrors.IsCode(svc.Delete(train.ModelID), apperrors.ErrCodeModelNotFound))
	})
}

func TestTrainIsRateLimited(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	cfg := testConfig(suite)
	cfg.Pipeline.CrossValidate = false
	cfg.Pipeline.Explain = false
	cfg.Service.TrainRatePerMinute = 1
	cfg.Service.TrainBurst = 1
	metrics := monitoring.NewMetrics()
	svc := newService(t, suite, cfg, WithMetrics(metrics))

	opts := TrainOptions{Candidates: []string{"logistic_regression"}}
	ds := testutils.BinaryClassification(80, 2)
	_, err := svc.Train(suite.Context(time.Minute), ds, "target", opts)
	require.NoError(t, err)

	resp, err := svc.Train(suite.Context(time.Minute), ds, "target", opts)
	assert.Nil(t, resp)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimited))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "train_requests_throttled_total 1")
	assert.Contains(t, rec.Body.String(), "registered_models 1")
}

func TestCheckDriftDetectsShift(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	ctx := suite.Context(2 * time.Minute)

	store := &memoryStore{}
	svc := newService(t, suite, testConfig(suite), WithStore(store))
	train, err := svc.Train(ctx, testutils.BinaryClassification(300, 4), "target", TrainOptions{})
	require.NoError(t, err)
	require.Len(t, store.runs, 1)

	shifted := records(testutils.BinaryClassification(150, 9), "target")
	for _, rec := range shifted {
		rec["x1"] = rec["x1"].(float64) + 10
	}
	report, err := svc.CheckDrift(ctx, train.ModelID, shifted)
	require.NoError(t, err)

	assert.Equal(t, train.ModelID, report.ModelID)
	assert.Equal(t, monitor.MethodKS, report.Method)
	assert.Contains(t, report.Drifted, "x1")
	assert.True(t, report.Alert)
	require.NotNil(t, report.Scores["x1"])
	assert.Less(t, *report.Scores["x1"], 0.05)

	require.Len(t, store.drifts, 1)
	assert.Equal(t, train.ModelID, store.drifts[0].ModelID)
	assert.True(t, store.drifts[0].Alert)
}

func TestScheduledDriftCheck(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	ctx := suite.Context(2 * time.Minute)

	svc := newService(t, suite, testConfig(suite))
	train, err := svc.Train(ctx, testutils.BinaryClassification(200, 5), "target", TrainOptions{})
	require.NoError(t, err)

	_, err = svc.ScheduleDrift("missing", "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))
	_, err = svc.ScheduleDrift(train.ModelID, "not a schedule")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid))

	id, err := svc.ScheduleDrift(train.ModelID, "")
	require.NoError(t, err)
	require.Len(t, svc.Checks(), 1)

	check, err := svc.RunCheck(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, monitor.CheckStatusFailed, check.Status)
	assert.NotEmpty(t, check.Error)

	_, err = svc.Predict(ctx, train.ModelID, records(testutils.BinaryClassification(60, 6), "target"))
	require.NoError(t, err)
	check, err = svc.RunCheck(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, monitor.CheckStatusCompleted, check.Status)
	require.NotNil(t, check.LastReport)
	assert.Equal(t, train.ModelID, check.LastReport.ModelID)

	require.NoError(t, svc.Delete(train.ModelID))
	assert.Empty(t, svc.Checks())
}

func TestForecastModel(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()
	ctx := suite.Context(time.Minute)

	y := testutils.SeasonalSeries(120, 12, 8)
	ts := make([]float64, len(y))
	for i := range ts {
		ts[i] = float64(i)
	}
	ds := dataset.MustNew(dataset.NewNumeric("t", ts), dataset.NewNumeric("sales", y))

	svc := newService(t, suite, testConfig(suite))
	train, err := svc.Train(ctx, ds, "sales", TrainOptions{TimeColumn: "t"})
	require.NoError(t, err)
	assert.Equal(t, dataset.TimeSeries, train.Result.ProblemType)

	_, err = svc.Predict(ctx, train.ModelID, []dataset.Record{{"t": 121.0}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	fc, err := svc.Forecast(ctx, train.ModelID, 5)
	require.NoError(t, err)
	require.Len(t, fc.Point, 5)
	for i := range fc.Point {
		assert.LessOrEqual(t, fc.Lower[i], fc.Point[i])
		assert.GreaterOrEqual(t, fc.Upper[i], fc.Point[i])
	}

	fc, err = svc.Forecast(ctx, train.ModelID, 0)
	require.NoError(t, err)
	assert.Len(t, fc.Point, 6)
}

func TestTrainFailureKeepsResult(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	svc := newService(t, suite, testConfig(suite))
	resp, err := svc.Train(context.Background(), testutils.BinaryClassification(50, 1), "nope", TrainOptions{})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Empty(t, resp.ModelID)
	assert.Equal(t, automl.StatusError, resp.Result.Status)
}
