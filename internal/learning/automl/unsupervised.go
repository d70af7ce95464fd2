package automl

import (
	"fmt"
	"sort"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/catalog"
	"autoforge/internal/learning/cluster"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/evaluation"
	"autoforge/internal/learning/explain"
	"autoforge/internal/learning/forecast"
	"autoforge/internal/learning/trainer"
	"autoforge/internal/registry"
)

// forecastLevel 预测区间置信水平
const forecastLevel = 0.95

// clustering trains every clusterer, ranks them by silhouette and sweeps k for k-means
func (r *run) clustering() error {
	prepared, err := r.prepare(dataset.Clustering)
	if err != nil {
		return err
	}
	X := prepared.XTrain
	candidates, err := r.selectCandidates(dataset.Clustering, len(X), 0)
	if err != nil {
		return err
	}
	data := trainer.Data{X: X}
	report, err := r.train(candidates, data)
	if err != nil {
		return err
	}

	ce := cluster.NewEvaluator(r.pipeline.ClusterMaxK, r.th, r.pipeline.RandomSeed, r.log)
	done := r.stages.Track("evaluate", "candidates", len(report.Trained()))
	var evals []evaluation.Evaluation
	for _, res := range report.Trained() {
		scores, _, err := ce.Score(res.Model, X)
		if err != nil {
			r.warn(fmt.Sprintf("candidate %s failed evaluation: %v", res.Name(), err))
			r.failures = append(r.failures, CandidateReport{Candidate: res.Name(), Status: statusFailed, Error: err.Error()})
			continue
		}
		evals = append(evals, evaluation.Evaluation{
			Candidate: res.Name(),
			Metrics:   scores,
			Duration:  res.Duration,
			Params:    res.Params,
			Result:    res,
		})
	}
	if len(evals) == 0 {
		err := apperrors.NewAppError(apperrors.ErrCodeAllCandidatesFailed, "every clusterer failed evaluation", nil)
		done(err)
		return r.fail("evaluate", apperrors.ErrCodeAllCandidatesFailed, "", err)
	}
	done(nil)

	if km, ok := findCandidate(candidates, "kmeans"); ok {
		evals = r.sweepK(ce, km, evals, data)
	}
	evaluation.Rank(evals, r.res.Metric)
	r.leaderboard(evals)

	best := evals[0]
	w := winner{name: best.Candidate, model: best.Result.Model, metrics: best.Metrics}
	r.setWinner(w)

	if r.registry == nil {
		return nil
	}
	background, _ := explain.Sample(X, nil, r.config.Registry.BackgroundRows, r.pipeline.RandomSeed)
	labels, err := w.model.Predict(background)
	if err != nil {
		labels = nil
	}
	return r.save(w.name, &registry.Package{
		Model:                w.model,
		Transform:            prepared.Transform,
		FeatureNames:         prepared.FeatureNames,
		ProblemType:          dataset.Clustering,
		Background:           background,
		ReferencePredictions: labels,
		Metrics:              finite(w.metrics),
	})
}

// sweepK searches the number of clusters; a k-means refit at the best k replaces
// the default k-means entry when its silhouette is higher
func (r *run) sweepK(ce *cluster.Evaluator, km catalog.Candidate, evals []evaluation.Evaluation, data trainer.Data) []evaluation.Evaluation {
	done := r.stages.Track("cluster_sweep", "max_k", r.pipeline.ClusterMaxK)
	sweep, err := ce.SweepK(r.ctx, data.X, km.Defaults)
	done(err)
	if err != nil {
		r.warn(fmt.Sprintf("cluster count sweep failed: %v", err))
		return evals
	}
	r.res.Clustering = sweep
	if sweep.BestK == km.Defaults.Int("n_clusters", 0) {
		return evals
	}

	res := r.trainer().Fit(r.ctx, km, estimator.Params{"n_clusters": float64(sweep.BestK)}, data)
	if !res.OK() {
		return evals
	}
	scores, _, err := ce.Score(res.Model, data.X)
	if err != nil {
		return evals
	}
	refit := evaluation.Evaluation{Candidate: km.Name, Metrics: scores, Duration: res.Duration, Params: res.Params, Result: res}
	for i, ev := range evals {
		if ev.Candidate != km.Name {
			continue
		}
		if better(cluster.MetricSilhouette, scores[cluster.MetricSilhouette], ev.Metrics[cluster.MetricSilhouette]) {
			r.log.Info("k-means refit at swept k", "k", sweep.BestK, "selected_by", sweep.SelectedBy)
			evals[i] = refit
		}
		return evals
	}
	return append(evals, refit)
}

func findCandidate(cs []catalog.Candidate, name string) (catalog.Candidate, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c, true
		}
	}
	return catalog.Candidate{}, false
}

// forecast orders the series by time, lets the forecaster pick a model on a
// trailing holdout and persists the refitted winner
func (r *run) forecast() error {
	done := r.stages.Track("preprocess", "time_column", r.req.TimeColumn)
	y, _, err := forecast.SeriesFromDataset(r.req.Dataset, r.req.TimeColumn, r.req.Target)
	done(err)
	if err != nil {
		return r.fail("preprocess", apperrors.ErrCodeValidation, "series extraction failed", err)
	}
	r.res.Dataset.TrainRows = len(y)

	candidates, err := r.selectCandidates(dataset.TimeSeries, len(y), 0)
	if err != nil {
		return err
	}
	fcs := make([]forecast.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, err := c.BuildSeries(nil); err != nil {
			r.warn(fmt.Sprintf("candidate %s skipped: %v", c.Name, err))
			continue
		}
		c := c
		fcs = append(fcs, forecast.Candidate{
			Name: c.Name,
			New: func() forecast.Model {
				m, _ := c.BuildSeries(nil)
				return m
			},
		})
	}

	done = r.stages.Track("forecast", "candidates", len(fcs), "horizon", r.pipeline.ForecastHorizon)
	res, err := forecast.NewForecaster(r.pipeline.ForecastHorizon, forecastLevel, r.log).Fit(r.ctx, y, fcs)
	done(err)
	if err != nil {
		return r.fail("forecast", apperrors.ErrCodeAllCandidatesFailed, "forecasting failed", err)
	}
	r.res.Forecast = res

	board := make([]CandidateReport, 0, len(res.Scores))
	var selected evaluation.Metrics
	for _, s := range res.Scores {
		if s.Error != "" {
			r.warn(fmt.Sprintf("candidate %s failed: %s", s.Name, s.Error))
			board = append(board, CandidateReport{Candidate: s.Name, Status: statusFailed, Error: s.Error})
			continue
		}
		metrics := evaluation.Metrics{evaluation.MetricRMSE: s.RMSE, evaluation.MetricMAE: s.MAE}
		if s.Name == res.Selected {
			selected = metrics
		}
		board = append(board, CandidateReport{Candidate: s.Name, Status: statusTrained, Metrics: finite(metrics)})
	}
	sort.SliceStable(board, func(i, j int) bool {
		a, b := board[i], board[j]
		if a.Status != b.Status {
			return a.Status == statusTrained
		}
		return a.Metrics[evaluation.MetricRMSE] < b.Metrics[evaluation.MetricRMSE]
	})
	for i := range board {
		if board[i].Status == statusTrained {
			board[i].Rank = i + 1
		}
	}
	r.res.Leaderboard = board

	w := winner{name: res.Selected, series: res.Model, metrics: selected}
	r.setWinner(w)
	return r.save(w.name, &registry.Package{
		Series:       w.series,
		TargetColumn: r.req.Target,
		TimeColumn:   r.req.TimeColumn,
		ProblemType:  dataset.TimeSeries,
		Metrics:      finite(w.metrics),
	})
}
