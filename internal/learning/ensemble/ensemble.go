package ensemble

import (
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/logger"
)

func init() {
	gob.Register(&Voting{})
	gob.Register(&Stacking{})
	gob.Register(&Blending{})
}

// Strategy 集成策略
type Strategy string

const (
	StrategyAuto     Strategy = "auto"
	StrategyVoting   Strategy = "voting"
	StrategyStacking Strategy = "stacking"
	StrategyBlending Strategy = "blending"
)

// Choose resolves auto: voting above votingRows rows, stacking otherwise
func Choose(s Strategy, nRows, votingRows int) Strategy {
	if s != StrategyAuto && s != "" {
		return s
	}
	if nRows > votingRows {
		return StrategyVoting
	}
	return StrategyStacking
}

// Options 集成构建选项
type Options struct {
	Strategy        Strategy
	Folds           int
	HoldoutFraction float64
	Seed            int64
	Workers         int
	// VotingRows 自动选择时超过该行数使用投票
	VotingRows int
}

// Result 集成构建结果
type Result struct {
	Strategy Strategy        `json:"strategy"`
	Members  []string        `json:"members"`
	Duration time.Duration   `json:"duration"`
	Model    estimator.Model `json:"-"`
}

// Builder 从排名靠前的候选构建集成模型
type Builder struct {
	task     estimator.Task
	nClasses int
	opts     Options
	logger   logger.Logger
}

// NewBuilder creates an ensemble builder for a supervised problem type
func NewBuilder(pt dataset.ProblemType, nClasses int, opts Options, log logger.Logger) *Builder {
	task := estimator.TaskRegression
	if pt == dataset.Classification {
		task = estimator.TaskClassification
	}
	if opts.Folds < 2 {
		opts.Folds = 5
	}
	if opts.HoldoutFraction <= 0 || opts.HoldoutFraction >= 1 {
		opts.HoldoutFraction = 0.2
	}
	return &Builder{task: task, nClasses: nClasses, opts: opts, logger: logger.OrDefault(log)}
}

// Build fits an ensemble of the given bases with the configured strategy.
// Non-nil w are the training sample weights, passed to every member that supports them.
func (b *Builder) Build(ctx context.Context, bases []Base, X [][]float64, y, w []float64) (*Result, error) {
	if len(bases) < 2 {
		return nil, apperrors.Newf(apperrors.ErrCodeCandidateFailure, "ensemble needs at least 2 base models, got %d", len(bases)).WithStage("ensemble")
	}
	start := time.Now()
	strategy := Choose(b.opts.Strategy, len(X), b.opts.VotingRows)

	var model estimator.Model
	var err error
	switch strategy {
	case StrategyVoting:
		var members []estimator.Model
		if members, err = fitBases(ctx, bases, X, y, w, b.opts.Workers); err == nil {
			model, err = NewVoting(b.task, b.nClasses, names(bases), members, nil)
		}
	case StrategyStacking:
		s := NewStacking(b.task, b.nClasses, bases, b.opts.Folds, b.opts.Seed, b.opts.Workers)
		err = s.FitWeightedContext(ctx, X, y, w)
		model = s
	case StrategyBlending:
		bl := NewBlending(b.task, b.nClasses, bases, b.opts.HoldoutFraction, b.opts.Seed, b.opts.Workers)
		err = bl.FitWeightedContext(ctx, X, y, w)
		model = bl
	default:
		err = fmt.Errorf("unknown ensemble strategy %q", strategy)
	}
	if err != nil {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeCandidateFailure, "ensemble build failed", string(strategy), err).WithStage("ensemble")
	}

	res := &Result{Strategy: strategy, Members: names(bases), Duration: time.Since(start), Model: model}
	b.logger.Info("ensemble built", "strategy", strategy, "members", res.Members, "weighted", w != nil, "duration", res.Duration)
	return res, nil
}
