package monitoring

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/learning/monitor"
	"autoforge/internal/learning/trainer"
	"autoforge/internal/logger"
	"autoforge/internal/testutils"
)

var (
	_ trainer.Observer      = (*Metrics)(nil)
	_ monitor.DriftObserver = (*Metrics)(nil)
)

func TestCandidateAndStageMetrics(t *testing.T) {
	m := NewMetrics()

	m.ObserveCandidate("ridge", "success", 20*time.Millisecond)
	m.ObserveCandidate("ridge", "success", 30*time.Millisecond)
	m.ObserveCandidate("knn", "failed", time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.candidateFits.WithLabelValues("ridge", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.candidateFits.WithLabelValues("knn", "failed")))

	m.ObserveStage("train", time.Second, nil)
	m.ObserveStage("tune", time.Second, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("tune")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))

	m.ObserveRun("classification", "success", 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("classification", "success")))
}

func TestStageLoggerHook(t *testing.T) {
	m := NewMetrics()
	stages := logger.NewStageLogger(logger.NewNop(), 0).OnFinish(m.ObserveStage)

	done := stages.Track("preprocess")
	done(nil)
	done = stages.Track("evaluate")
	done(errors.New("bad"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("evaluate")))
}

func TestDriftGauges(t *testing.T) {
	m := NewMetrics()

	m.ObserveDrift(&monitor.DriftReport{
		ModelID:    "rf_classification_1",
		Method:     monitor.MethodKS,
		DriftRatio: 0.5,
		Alert:      true,
		Prediction: &monitor.PredictionDrift{Method: "kl", Score: 0.25},
	})
	m.ObserveDrift(nil)

	assert.Equal(t, 0.5, testutil.ToFloat64(m.driftRatio.WithLabelValues("rf_classification_1", "ks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.driftAlerts.WithLabelValues("rf_classification_1")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.predictionDrift.WithLabelValues("rf_classification_1", "kl")))

	m.ForgetModel("rf_classification_1")
	assert.Equal(t, 0, testutil.CollectAndCount(m.driftRatio))
	assert.Equal(t, 0, testutil.CollectAndCount(m.predictionDrift))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObservePredictions("m1", 7)
	m.RecordThrottled()
	m.SetRegisteredModels(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `autoforge_predictions_total{model_id="m1"} 7`)
	assert.Contains(t, body, "autoforge_train_requests_throttled_total 1")
	assert.Contains(t, body, "autoforge_registered_models 3")
	assert.Contains(t, body, "go_goroutines")
}

func TestServerShutsDownOnCancel(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(NewMetrics(), ln.Addr().String(), "/metrics", suite.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url + "/healthz")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(url + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "autoforge_"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
