package automl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"autoforge/internal/cache"
	"autoforge/internal/config"
	"autoforge/internal/database"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/catalog"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/evaluation"
	"autoforge/internal/learning/forecast"
	"autoforge/internal/learning/problem"
	"autoforge/internal/learning/trainer"
	"autoforge/internal/logger"
	"autoforge/internal/monitoring"
	"autoforge/internal/registry"
)

// slowStage 超过该时长的阶段以 warn 记录
const slowStage = 30 * time.Second

// RunStore 运行历史存储, 由 database.DB 实现
type RunStore interface {
	InsertRun(ctx context.Context, run *database.Run) error
}

// Engine 自动机器学习引擎: 检测 → 预处理 → 选择 → 训练 → 评估 → 交叉验证 → 调参 → 集成 → 解释 → 保存
type Engine struct {
	config   *config.Config
	caps     config.Capabilities
	registry *registry.Registry
	cache    *cache.ResultCache
	store    RunStore
	metrics  *monitoring.Metrics
	logger   logger.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithRegistry persists the winning model of every run
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithCache caches cross-validation results across runs
func WithCache(c *cache.ResultCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithStore appends every run to the run history
func WithStore(s RunStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics exports stage, candidate and run metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCapabilities overrides the capability descriptor of the config
func WithCapabilities(c config.Capabilities) Option {
	return func(e *Engine) { e.caps = c }
}

// NewEngine creates an engine; a nil config means config.Default()
func NewEngine(cfg *config.Config, log logger.Logger, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		config: cfg,
		caps:   cfg.Capabilities,
		logger: logger.OrDefault(log),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Capabilities returns the resolved capability descriptor
func (e *Engine) Capabilities() config.Capabilities { return e.caps }

// run 一次运行的状态, 只在单个 goroutine 中使用
type run struct {
	*Engine
	ctx      context.Context
	req      Request
	pipeline config.PipelineConfig
	th       config.Thresholds
	log      logger.Logger
	stages   *logger.StageLogger
	res      *Result
	failures []CandidateReport
}

// Run executes the whole pipeline. The returned result is never nil; on a fatal
// stage failure its status is error and the typed error is returned alongside.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	r := &run{
		Engine:   e,
		ctx:      logger.ContextWithRunID(ctx, req.RunID),
		req:      req,
		pipeline: e.config.Pipeline,
		th:       e.config.Thresholds,
		res: &Result{
			RunID:        req.RunID,
			Status:       StatusError,
			TargetColumn: req.Target,
			StartedAt:    time.Now(),
		},
	}
	if req.Pipeline != nil {
		r.pipeline = *req.Pipeline
	}
	r.log = e.logger.WithField("run_id", req.RunID)
	r.stages = logger.NewStageLogger(r.log, slowStage)
	if e.metrics != nil {
		r.stages.OnFinish(e.metrics.ObserveStage)
	}

	r.log.Info("pipeline started", "target", req.Target, "override", req.ProblemType)
	err := r.execute()
	r.finish(err)
	return r.res, err
}

func (r *run) execute() error {
	if r.req.Dataset == nil {
		return r.fail("detect", apperrors.ErrCodeValidation, "no dataset", apperrors.Newf(apperrors.ErrCodeValidation, "dataset is required"))
	}
	r.res.Dataset.Rows = r.req.Dataset.Len()

	done := r.stages.Track("detect", "target", r.req.Target)
	pt, err := problem.NewDetector(r.th).Detect(r.req.Dataset, r.req.Target, problem.Options{
		Override:   r.req.ProblemType,
		TimeColumn: r.req.TimeColumn,
	})
	done(err)
	if err != nil {
		return r.fail("detect", apperrors.ErrCodeValidation, "problem detection failed", err)
	}
	r.res.ProblemType = pt
	r.res.Metric = evaluation.PrimaryMetric(pt)
	r.log.Info("problem type detected", "problem_type", pt)

	switch pt {
	case dataset.TimeSeries:
		return r.forecast()
	case dataset.Clustering:
		return r.clustering()
	default:
		return r.supervised(pt)
	}
}

// fail converts err into the typed error returned by Run, tagged with the stage
func (r *run) fail(stage string, code apperrors.ErrorCode, msg string, err error) error {
	appErr := apperrors.WrapError(err, code, msg)
	if appErr.Stage == "" {
		appErr = appErr.WithStage(stage)
	}
	r.res.Status = StatusError
	r.res.Error = appErr.Error()
	return appErr
}

func (r *run) cancelled(stage string) error {
	if err := r.ctx.Err(); err != nil {
		return r.fail(stage, apperrors.ErrCodeInternal, "run cancelled", err)
	}
	return nil
}

func (r *run) warn(msgs ...string) {
	for _, m := range msgs {
		if m != "" {
			r.res.Warnings = append(r.res.Warnings, m)
		}
	}
}

func (r *run) recommend(msg string) {
	r.res.Recommendations = append(r.res.Recommendations, msg)
}

func (r *run) trainer() *trainer.Trainer {
	var opts []trainer.Option
	if r.metrics != nil {
		opts = append(opts, trainer.WithObserver(r.metrics))
	}
	return trainer.NewTrainer(r.pipeline.Workers, r.pipeline.RandomSeed, r.log, opts...)
}

// selectCandidates filters the static catalog for the problem and data size
func (r *run) selectCandidates(pt dataset.ProblemType, nSamples, nClasses int) ([]catalog.Candidate, error) {
	done := r.stages.Track("select", "samples", nSamples)
	sel := catalog.NewSelector(r.caps, r.log).Select(pt, nSamples, nClasses)
	chosen := sel.Selected
	if len(r.req.Candidates) > 0 {
		chosen = restrict(chosen, r.req.Candidates)
	}
	r.res.Skipped = sel.Skipped
	for _, s := range sel.Skipped {
		r.warn(fmt.Sprintf("candidate %s skipped: %s", s.Name, s.Reason))
	}
	for _, c := range chosen {
		r.res.Selected = append(r.res.Selected, c.Name)
	}
	if len(chosen) == 0 {
		err := apperrors.Newf(apperrors.ErrCodeAllCandidatesFailed,
			"no candidate is eligible for %s with %d samples", pt, nSamples)
		done(err)
		return nil, r.fail("select", apperrors.ErrCodeAllCandidatesFailed, "", err)
	}
	done(nil)
	return chosen, nil
}

func restrict(cs []catalog.Candidate, names []string) []catalog.Candidate {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []catalog.Candidate
	for _, c := range cs {
		if want[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// train fits every candidate; failures are isolated and reported as warnings
func (r *run) train(candidates []catalog.Candidate, data trainer.Data) (*trainer.Report, error) {
	done := r.stages.Track("train", "candidates", len(candidates), "rows", len(data.X))
	report := r.trainer().Train(r.ctx, candidates, data)
	for _, f := range report.Failed() {
		r.warn(fmt.Sprintf("candidate %s failed: %v", f.Name(), f.Err))
		r.failures = append(r.failures, CandidateReport{
			Candidate: f.Name(),
			Status:    statusFailed,
			TrainTime: f.Duration,
			Error:     f.Err.Error(),
		})
	}
	if len(report.Trained()) == 0 {
		err := apperrors.Newf(apperrors.ErrCodeAllCandidatesFailed, "all %d candidates failed to train", len(candidates))
		done(err)
		return nil, r.fail("train", apperrors.ErrCodeAllCandidatesFailed, "", err)
	}
	done(nil)
	return report, nil
}

// leaderboard records ranked evaluations followed by the failed candidates
func (r *run) leaderboard(evals []evaluation.Evaluation) {
	board := make([]CandidateReport, 0, len(evals)+len(r.failures))
	for _, ev := range evals {
		board = append(board, CandidateReport{
			Candidate: ev.Candidate,
			Status:    statusTrained,
			Rank:      ev.Rank,
			Metrics:   finite(ev.Metrics),
			Params:    ev.Params,
			TrainTime: ev.Duration,
		})
	}
	r.res.Leaderboard = append(board, r.failures...)
}

// winner 当前最佳模型
type winner struct {
	name    string
	model   estimator.Model
	series  forecast.Model
	metrics evaluation.Metrics
}

func (r *run) setWinner(w winner) {
	r.res.BestModel = w.name
	r.res.Metrics = finite(w.metrics)
	r.res.Score = w.metrics[r.res.Metric]
}

// better reports whether a beats b on metric; NaN never wins
func better(metric string, a, b float64) bool {
	if a != a {
		return false
	}
	if b != b {
		return true
	}
	if evaluation.HigherIsBetter(metric) {
		return a > b
	}
	return a < b
}

func (r *run) finish(err error) {
	r.res.Duration = time.Since(r.res.StartedAt)
	if err == nil {
		r.res.Status = StatusSuccess
		r.nextSteps()
	}

	pt := string(r.res.ProblemType)
	if pt == "" {
		pt = "unknown"
	}
	if r.metrics != nil {
		r.metrics.ObserveRun(pt, string(r.res.Status), r.res.Duration)
	}
	r.record()

	if err != nil {
		r.log.WithError(err).Error("pipeline failed", "problem_type", pt, "duration", r.res.Duration)
		return
	}
	r.log.Info("pipeline finished",
		"problem_type", pt, "best_model", r.res.BestModel, r.res.Metric, r.res.Score,
		"model_id", r.res.ModelID, "warnings", len(r.res.Warnings), "duration", r.res.Duration)
}

// record appends the run to the history store; a store failure only logs
func (r *run) record() {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 5*time.Second)
	defer cancel()

	res := r.res
	rec := &database.Run{
		ID:            res.RunID,
		ProblemType:   string(res.ProblemType),
		TargetColumn:  res.TargetColumn,
		Status:        string(res.Status),
		BestCandidate: res.BestModel,
		ModelID:       res.ModelID,
		Metric:        res.Metric,
		NRows:         res.Dataset.Rows,
		NFeatures:     res.Dataset.Features,
		Warnings:      res.Warnings,
		Error:         res.Error,
		Duration:      res.Duration,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.StartedAt.Add(res.Duration),
	}
	if res.BestModel != "" {
		rec.Score = floatPtr(res.Score)
	}
	for _, c := range res.Leaderboard {
		cr := database.CandidateRecord{
			Candidate: c.Candidate,
			Status:    c.Status,
			Metric:    res.Metric,
			TrainTime: c.TrainTime,
			Error:     c.Error,
		}
		if v, ok := c.Metrics[res.Metric]; ok {
			cr.Score = floatPtr(v)
		}
		if c.CV != nil {
			if s, ok := c.CV.Test[c.CV.Metric]; ok {
				cr.CVMean, cr.CVStd = floatPtr(s.Mean), floatPtr(s.Std)
			}
		}
		rec.Candidates = append(rec.Candidates, cr)
	}
	if err := r.store.InsertRun(ctx, rec); err != nil {
		r.log.Warn("failed to record run history", "error", err)
	}
}

func floatPtr(v float64) *float64 { return &v }
