package trainer

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/catalog"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/logger"
)

// Status 单个候选的训练结果状态
type Status string

const (
	StatusTrained Status = "trained"
	StatusFailed  Status = "failed"
)

// Result 候选训练结果: Trained 时 Model 非空, Failed 时 Err 非空
type Result struct {
	Candidate catalog.Candidate
	Params    estimator.Params
	Model     estimator.Model
	Status    Status
	Err       error
	Duration  time.Duration
	// Weighted 为 true 表示模型使用了样本权重
	Weighted bool
}

// OK reports whether the candidate trained
func (r Result) OK() bool { return r.Status == StatusTrained }

// Name returns the candidate name
func (r Result) Name() string { return r.Candidate.Name }

// Report 一轮训练的汇总
type Report struct {
	Results []Result
}

// Trained returns the successful results in candidate order
func (r *Report) Trained() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the failed results in candidate order
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// SuccessRatio is trained / selected
func (r *Report) SuccessRatio() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	return float64(len(r.Trained())) / float64(len(r.Results))
}

// Observer 接收每个候选的训练耗时, 由指标层实现
type Observer interface {
	ObserveCandidate(candidate string, status string, d time.Duration)
}

// Data 一次训练使用的数据
type Data struct {
	X        [][]float64
	Y        []float64
	Weights  []float64
	NClasses int
}

// Trainer 并行训练候选模型, 各候选之间无共享可变状态
type Trainer struct {
	workers  int
	seed     int64
	logger   logger.Logger
	observer Observer
}

// Option configures a Trainer
type Option func(*Trainer)

// WithObserver attaches a metrics observer
func WithObserver(o Observer) Option {
	return func(t *Trainer) { t.observer = o }
}

// NewTrainer creates a trainer; workers ≤ 0 means one per CPU
func NewTrainer(workers int, seed int64, log logger.Logger, opts ...Option) *Trainer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	t := &Trainer{workers: workers, seed: seed, logger: logger.OrDefault(log)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train fits every candidate independently. It never returns early because of one
// candidate; failures are recorded in the report.
func (t *Trainer) Train(ctx context.Context, candidates []catalog.Candidate, data Data) *Report {
	report := &Report{Results: make([]Result, len(candidates))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			report.Results[i] = t.Fit(gctx, c, nil, data)
			return nil
		})
	}
	_ = g.Wait()

	t.logger.Info("training finished",
		"selected", len(candidates), "trained", len(report.Trained()),
		"success_ratio", report.SuccessRatio())
	return report
}

// Fit constructs and fits one candidate, converting errors and panics into a Failed result
func (t *Trainer) Fit(ctx context.Context, c catalog.Candidate, params estimator.Params, data Data) (res Result) {
	res = Result{Candidate: c, Params: c.Defaults.Merge(params)}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Model = nil
			res.Err = fmt.Errorf("panic: %v", r)
			t.logger.Debug("candidate panic stack", "candidate", c.Name, "stack", string(debug.Stack()))
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Status = StatusFailed
			res.Err = apperrors.NewAppErrorWithDetails(apperrors.ErrCodeCandidateFailure,
				"candidate failed", c.Name, res.Err).WithStage("train")
			t.logger.Warn("candidate failed", "candidate", c.Name, "error", res.Err)
		} else {
			res.Status = StatusTrained
			t.logger.Debug("candidate trained", "candidate", c.Name, "duration", res.Duration)
		}
		if t.observer != nil {
			t.observer.ObserveCandidate(c.Name, string(res.Status), res.Duration)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if c.Kind == catalog.KindSeries {
		res.Err = fmt.Errorf("series candidate %s is fitted by the forecaster", c.Name)
		return res
	}
	model, err := c.Build(params, estimator.Setup{Seed: t.seed, NClasses: data.NClasses})
	if err != nil {
		res.Err = err
		return res
	}
	y := data.Y
	if c.Kind == catalog.KindClusterer {
		y = nil
	}
	weighted, err := estimator.FitWithWeights(model, data.X, y, data.Weights)
	if err != nil {
		res.Err = err
		return res
	}
	res.Model = model
	res.Weighted = weighted
	return res
}
