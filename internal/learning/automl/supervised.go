package automl

import (
	"fmt"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/ensemble"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/evaluation"
	"autoforge/internal/learning/explain"
	"autoforge/internal/learning/imbalance"
	"autoforge/internal/learning/preprocess"
	"autoforge/internal/learning/trainer"
	"autoforge/internal/learning/tuning"
	"autoforge/internal/learning/validation"
	"autoforge/internal/registry"
)

// prepare splits and encodes the dataset; a failure aborts the run
func (r *run) prepare(pt dataset.ProblemType) (*preprocess.Prepared, error) {
	spec := dataset.ProblemSpec{
		ProblemType:  pt,
		TargetColumn: r.req.Target,
		TimeColumn:   r.req.TimeColumn,
		RandomSeed:   r.pipeline.RandomSeed,
		TestFraction: r.pipeline.TestFraction,
	}
	if pt == dataset.Clustering {
		spec.TargetColumn = ""
	}
	done := r.stages.Track("preprocess", "rows", r.req.Dataset.Len())
	prepared, err := preprocess.NewPreprocessor(r.th, r.log).Prepare(r.req.Dataset, spec, preprocess.Options{
		FeatureEngineering: r.pipeline.FeatureEngineering,
		TimeColumn:         r.req.TimeColumn,
		DropColumns:        r.req.DropColumns,
	})
	done(err)
	if err != nil {
		return nil, r.fail("preprocess", apperrors.ErrCodePreprocessing, "preprocessing failed", err)
	}
	r.res.Dataset = DatasetInfo{
		Rows:         r.req.Dataset.Len(),
		TrainRows:    len(prepared.TrainRows),
		TestRows:     len(prepared.TestRows),
		Features:     len(prepared.FeatureNames),
		FeatureNames: prepared.FeatureNames,
		Classes:      prepared.Classes,
		Dropped:      prepared.Dropped,
	}
	r.warn(prepared.Warnings...)
	return prepared, nil
}

// supervised runs the classification / regression pipeline
func (r *run) supervised(pt dataset.ProblemType) error {
	prepared, err := r.prepare(pt)
	if err != nil {
		return err
	}
	nClasses := prepared.NClasses()
	fit := trainer.Data{X: prepared.XTrain, Y: prepared.YTrain, NClasses: nClasses}
	cvData := validation.Data{X: prepared.XTrain, Y: prepared.YTrain, Seed: r.pipeline.RandomSeed}
	if pt == dataset.Classification && r.pipeline.HandleImbalance {
		fit, cvData.Weights = r.balance(prepared, nClasses)
	}
	cvData.Fingerprint = validation.Fingerprint(cvData.X, cvData.Y)

	candidates, err := r.selectCandidates(pt, len(fit.X), nClasses)
	if err != nil {
		return err
	}
	report, err := r.train(candidates, fit)
	if err != nil {
		return err
	}
	if err := r.cancelled("evaluate"); err != nil {
		return err
	}

	evaluator := evaluation.NewEvaluator(pt, nClasses, r.log)
	done := r.stages.Track("evaluate", "candidates", len(report.Trained()))
	evals, failures := evaluator.Evaluate(report.Trained(), prepared.XTest, prepared.YTest)
	for _, f := range failures {
		r.warn(fmt.Sprintf("candidate %s failed evaluation: %v", f.Candidate, f.Err))
		r.failures = append(r.failures, CandidateReport{Candidate: f.Candidate, Status: statusFailed, Error: f.Err.Error()})
	}
	if len(evals) == 0 {
		err := apperrors.NewAppError(apperrors.ErrCodeAllCandidatesFailed, "every trained candidate failed evaluation", nil)
		done(err)
		return r.fail("evaluate", apperrors.ErrCodeAllCandidatesFailed, "", err)
	}
	done(nil)
	r.leaderboard(evals)

	best := evals[0]
	w := winner{name: best.Candidate, model: best.Result.Model, metrics: best.Metrics}
	setup := estimator.Setup{Seed: r.pipeline.RandomSeed, NClasses: nClasses}
	cv := r.crossValidator(pt, nClasses)

	if r.pipeline.CrossValidate {
		r.crossValidate(cv, evals, cvData, setup)
	}
	if r.pipeline.LearningCurve {
		r.learningCurve(cv, best, cvData, setup)
	}
	if err := r.cancelled("tune"); err != nil {
		return err
	}
	if r.pipeline.Tuning {
		r.tune(cv, evaluator, best, &w, cvData, prepared, nClasses)
	}
	if r.pipeline.Ensemble && len(evals) >= 2 {
		r.ensemble(pt, evaluator, evals, &w, fit, prepared, setup)
	}
	r.setWinner(w)

	if r.pipeline.Explain {
		r.explain(pt, nClasses, w, prepared)
	}
	return r.saveTabular(w, prepared, nClasses)
}

// balance analyses the class distribution and resamples or weights the training
// partition. The returned weights are non-nil only for pure class weighting, the
// only strategy cross-validation can reproduce without synthetic rows leaking into folds.
func (r *run) balance(p *preprocess.Prepared, nClasses int) (trainer.Data, []float64) {
	data := trainer.Data{X: p.XTrain, Y: p.YTrain, NClasses: nClasses}
	h := imbalance.NewHandler(r.th, r.caps, r.pipeline.RandomSeed, r.log)
	report := h.Analyze(p.YTrain, nClasses)
	r.res.Imbalance = &report
	if report.Strategy == imbalance.StrategyNone {
		return data, nil
	}

	done := r.stages.Track("imbalance", "severity", report.Severity, "strategy", report.Strategy)
	out, err := h.Apply(p.XTrain, p.YTrain, report)
	done(err)
	if err != nil {
		r.warn(fmt.Sprintf("imbalance handling skipped: %v", err))
		return data, nil
	}
	if out.Fallback {
		r.warn("synthetic oversampling unavailable, used random oversampling")
	}
	report.Strategy = out.Strategy
	r.res.Imbalance = &report
	data.X, data.Y, data.Weights = out.X, out.Y, out.Weights
	if out.Strategy == imbalance.StrategyClassWeight {
		return data, out.Weights
	}
	return data, nil
}

func (r *run) crossValidator(pt dataset.ProblemType, nClasses int) *validation.CrossValidator {
	opts := validation.Options{Workers: r.pipeline.Workers}
	if r.cache != nil {
		opts.Cache = r.cache
	}
	splitter := validation.ForProblem(pt, r.pipeline.CVFolds, r.pipeline.RandomSeed)
	return validation.NewCrossValidator(pt, nClasses, splitter, r.th, opts, r.log)
}

// crossValidate attaches mean ± std fold scores to every ranked candidate
func (r *run) crossValidate(cv *validation.CrossValidator, evals []evaluation.Evaluation, data validation.Data, setup estimator.Setup) {
	done := r.stages.Track("cross_validate", "candidates", len(evals), "folds", r.pipeline.CVFolds)
	for _, ev := range evals {
		c, params := ev.Result.Candidate, ev.Params
		build := func() (estimator.Model, error) { return c.Build(params, setup) }
		res, err := cv.Validate(r.ctx, c.Name, params, build, data)
		if err != nil {
			r.warn(fmt.Sprintf("cross-validation of %s failed: %v", c.Name, err))
			continue
		}
		for i := range r.res.Leaderboard {
			if r.res.Leaderboard[i].Candidate == c.Name {
				r.res.Leaderboard[i].CV = res
			}
		}
		if res.Overfit {
			r.recommend(fmt.Sprintf("%s shows overfitting (train/test gap %.3f); consider stronger regularisation or more data", c.Name, res.Gap))
		}
	}
	r.res.CrossVal = true
	done(nil)
}

func (r *run) learningCurve(cv *validation.CrossValidator, best evaluation.Evaluation, data validation.Data, setup estimator.Setup) {
	c, params := best.Result.Candidate, best.Params
	build := func() (estimator.Model, error) { return c.Build(params, setup) }
	done := r.stages.Track("learning_curve", "candidate", c.Name)
	curve, err := cv.LearningCurve(r.ctx, build, data, validation.DefaultFractions)
	done(err)
	if err != nil {
		r.warn(fmt.Sprintf("learning curve of %s failed: %v", c.Name, err))
		return
	}
	r.res.LearningCurve = curve
	if curve.Recommendation != "" {
		r.recommend(curve.Recommendation)
	}
}

// tune searches the best candidate's space; the tuned model replaces the winner
// only if it scores better on the held-out test set
func (r *run) tune(cv *validation.CrossValidator, evaluator *evaluation.Evaluator, best evaluation.Evaluation, w *winner, data validation.Data, p *preprocess.Prepared, nClasses int) {
	tuner := tuning.NewTuner(tuning.Method(r.pipeline.TuningMethod), r.pipeline.TuningIterations, r.pipeline.RandomSeed, r.caps, cv, r.log)
	done := r.stages.Track("tune", "candidate", best.Candidate, "method", r.pipeline.TuningMethod)
	res, err := tuner.Tune(r.ctx, best.Result.Candidate, best.Result.Model, data, nClasses)
	done(err)
	if err != nil {
		r.warn(fmt.Sprintf("tuning of %s failed: %v", best.Candidate, err))
		return
	}
	r.res.Tuning = res
	if res.Fallback {
		r.warn("bayesian search unavailable, tuning fell back to random search")
	}
	if res.Method == tuning.MethodNone || res.Model == nil {
		return
	}

	metrics, _, err := evaluator.Metrics(res.Model, p.XTest, p.YTest)
	if err != nil {
		r.warn(fmt.Sprintf("tuned %s failed evaluation: %v", best.Candidate, err))
		return
	}
	metric := r.res.Metric
	if better(metric, metrics[metric], w.metrics[metric]) {
		r.log.Info("tuned parameters improve the winner",
			"candidate", best.Candidate, "params", res.BestParams.String(), metric, metrics[metric])
		*w = winner{name: best.Candidate, model: res.Model, metrics: metrics}
	}
}

// ensemble combines the top-k candidates and keeps it when it beats the winner
func (r *run) ensemble(pt dataset.ProblemType, evaluator *evaluation.Evaluator, evals []evaluation.Evaluation, w *winner, fit trainer.Data, p *preprocess.Prepared, setup estimator.Setup) {
	k := r.pipeline.EnsembleTopK
	if k > len(evals) {
		k = len(evals)
	}
	bases := make([]ensemble.Base, 0, k)
	for _, ev := range evals[:k] {
		c, params := ev.Result.Candidate, ev.Params
		bases = append(bases, ensemble.Base{
			Name: c.Name,
			New:  func() (estimator.Model, error) { return c.Build(params, setup) },
		})
	}

	builder := ensemble.NewBuilder(pt, setup.NClasses, ensemble.Options{
		Strategy:   ensemble.Strategy(r.pipeline.EnsembleStrategy),
		Folds:      r.pipeline.CVFolds,
		Seed:       r.pipeline.RandomSeed,
		Workers:    r.pipeline.Workers,
		VotingRows: r.th.EnsembleVotingRows,
	}, r.log)
	done := r.stages.Track("ensemble", "members", k)
	res, err := builder.Build(r.ctx, bases, fit.X, fit.Y, fit.Weights)
	done(err)
	if err != nil {
		r.warn(fmt.Sprintf("ensemble skipped: %v", err))
		return
	}

	metrics, _, err := evaluator.Metrics(res.Model, p.XTest, p.YTest)
	if err != nil {
		r.warn(fmt.Sprintf("ensemble failed evaluation: %v", err))
		return
	}
	report := &EnsembleReport{Strategy: string(res.Strategy), Members: res.Members, Metrics: finite(metrics)}
	metric := r.res.Metric
	if better(metric, metrics[metric], w.metrics[metric]) {
		report.Selected = true
		*w = winner{name: "ensemble_" + string(res.Strategy), model: res.Model, metrics: metrics}
	}
	r.res.Ensemble = report
}

func (r *run) explain(pt dataset.ProblemType, nClasses int, w winner, p *preprocess.Prepared) {
	X, y := p.XTest, p.YTest
	if len(X) == 0 {
		X, y = p.XTrain, p.YTrain
	}
	engine := explain.NewEngine(pt, nClasses, r.th, r.pipeline.RandomSeed, r.log)
	done := r.stages.Track("explain", "model", w.name)
	g, err := engine.Global(r.ctx, explain.MethodAuto, w.model, p.FeatureNames, X, y)
	done(err)
	if err != nil {
		r.warn(fmt.Sprintf("explanation skipped: %v", err))
		return
	}
	r.res.Explanation = g
}

// saveTabular persists the winner with its transform and a background sample
// used later as drift reference and for local explanations
func (r *run) saveTabular(w winner, p *preprocess.Prepared, nClasses int) error {
	if r.registry == nil {
		return nil
	}
	background, _ := explain.Sample(p.XTrain, nil, r.config.Registry.BackgroundRows, r.pipeline.RandomSeed)
	reference, err := w.model.Predict(background)
	if err != nil {
		r.warn(fmt.Sprintf("reference predictions unavailable: %v", err))
		reference = nil
	}
	return r.save(w.name, &registry.Package{
		Model:                w.model,
		Transform:            p.Transform,
		FeatureNames:         p.FeatureNames,
		TargetColumn:         r.req.Target,
		TimeColumn:           r.req.TimeColumn,
		ProblemType:          r.res.ProblemType,
		NClasses:             nClasses,
		Background:           background,
		ReferencePredictions: reference,
		Metrics:              finite(w.metrics),
	})
}

func (r *run) save(name string, pkg *registry.Package) error {
	if r.registry == nil {
		return nil
	}
	pkg.RunID = r.res.RunID
	done := r.stages.Track("save", "model", name)
	md, err := r.registry.Save(name, pkg)
	done(err)
	if err != nil {
		return r.fail("save", apperrors.ErrCodePersistence, "save model", err)
	}
	r.res.ModelID = md.ID
	if r.metrics != nil {
		r.metrics.SetRegisteredModels(len(r.registry.List()))
	}
	return nil
}
