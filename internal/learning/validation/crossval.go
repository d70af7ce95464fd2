package validation

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/evaluation"
	"autoforge/internal/logger"
)

// Builder 每折构造一个全新的未拟合模型
type Builder func() (estimator.Model, error)

// ResultCache 交叉验证结果缓存
type ResultCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
}

// Data 交叉验证使用的训练数据
type Data struct {
	X       [][]float64
	Y       []float64
	Weights []float64
	// Seed 构造估计器时使用的随机种子, 参与缓存键
	Seed int64
	// Fingerprint 数据指纹, 为空时按需计算
	Fingerprint string
}

// Summary 一个指标在各折上的统计
type Summary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Result 交叉验证结果
type Result struct {
	Candidate  string             `json:"candidate"`
	Metric     string             `json:"metric"`
	Folds      int                `json:"folds"`
	Test       map[string]Summary `json:"test"`
	TrainScore float64            `json:"train_score"`
	TestScore  float64            `json:"test_score"`
	// Gap 训练与测试主指标之差, 方向已归一为"越大越过拟合"
	Gap     float64 `json:"gap"`
	Overfit bool    `json:"overfit"`
	Cached  bool    `json:"cached"`
}

// Options 交叉验证选项
type Options struct {
	Workers int
	Cache   ResultCache
}

// CrossValidator 交叉验证器
type CrossValidator struct {
	problem    dataset.ProblemType
	evaluator  *evaluation.Evaluator
	splitter   Splitter
	thresholds config.Thresholds
	opts       Options
	logger     logger.Logger
}

// NewCrossValidator creates a cross validator
func NewCrossValidator(pt dataset.ProblemType, nClasses int, splitter Splitter, thresholds config.Thresholds, opts Options, log logger.Logger) *CrossValidator {
	log = logger.OrDefault(log)
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &CrossValidator{
		problem:    pt,
		evaluator:  evaluation.NewEvaluator(pt, nClasses, log),
		splitter:   splitter,
		thresholds: thresholds,
		opts:       opts,
		logger:     log,
	}
}

// Splitter returns the fold strategy
func (cv *CrossValidator) Splitter() Splitter { return cv.splitter }

// Metric returns the primary metric
func (cv *CrossValidator) Metric() string { return evaluation.PrimaryMetric(cv.problem) }

type foldScore struct {
	train evaluation.Metrics
	test  evaluation.Metrics
}

// Validate fits a fresh model per fold, in parallel, and summarises the fold metrics
func (cv *CrossValidator) Validate(ctx context.Context, name string, params estimator.Params, build Builder, data Data) (*Result, error) {
	if data.Fingerprint == "" {
		data.Fingerprint = Fingerprint(data.X, data.Y)
	}
	key := cv.cacheKey(name, params, data)
	if cv.opts.Cache != nil {
		var cached Result
		if ok, err := cv.opts.Cache.Get(ctx, key, &cached); err == nil && ok {
			cached.Cached = true
			return &cached, nil
		}
	}

	folds := cv.splitter.Split(len(data.X), data.Y)
	if len(folds) < 2 {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientData, "cannot build folds from %d rows", len(data.X))
	}
	scores := make([]foldScore, len(folds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cv.opts.Workers)
	for i, fold := range folds {
		i, fold := i, fold
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := cv.runFold(build, data, fold)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeCandidateFailure, "cross-validation failed", name, err).WithStage("cross_validate")
	}

	res := cv.summarise(name, scores)
	if cv.opts.Cache != nil {
		if err := cv.opts.Cache.Set(ctx, key, res); err != nil {
			cv.logger.Debug("cv cache write failed", "candidate", name, "error", err)
		}
	}
	cv.logger.Debug("cross-validation done", "candidate", name, "metric", res.Metric,
		"mean", res.TestScore, "gap", res.Gap, "overfit", res.Overfit)
	return res, nil
}

// cacheKey 数据指纹, 样本权重, 种子, 候选参数和折策略共同决定缓存条目
func (cv *CrossValidator) cacheKey(name string, params estimator.Params, data Data) string {
	return fmt.Sprintf("cv:%s:%s:%d:%s:%s:%s", data.Fingerprint, WeightsDigest(data.Weights), data.Seed,
		name, params.String(), cv.splitter.Name())
}

func (cv *CrossValidator) runFold(build Builder, data Data, fold Fold) (s foldScore, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	model, err := build()
	if err != nil {
		return s, err
	}
	Xtr, ytr, wtr := subset(data, fold.Train)
	Xte, yte, _ := subset(data, fold.Test)
	if _, err := estimator.FitWithWeights(model, Xtr, ytr, wtr); err != nil {
		return s, err
	}
	if s.train, _, err = cv.evaluator.Metrics(model, Xtr, ytr); err != nil {
		return s, err
	}
	if s.test, _, err = cv.evaluator.Metrics(model, Xte, yte); err != nil {
		return s, err
	}
	return s, nil
}

func (cv *CrossValidator) summarise(name string, scores []foldScore) *Result {
	metric := cv.Metric()
	res := &Result{Candidate: name, Metric: metric, Folds: len(scores), Test: map[string]Summary{}}

	keys := map[string]bool{}
	for _, s := range scores {
		for k := range s.test {
			keys[k] = true
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		vals := make([]float64, 0, len(scores))
		for _, s := range scores {
			if v, ok := s.test[k]; ok {
				vals = append(vals, v)
			}
		}
		res.Test[k] = summarise(vals)
	}

	trainVals := make([]float64, len(scores))
	for i, s := range scores {
		trainVals[i] = s.train[metric]
	}
	res.TrainScore = stat.Mean(trainVals, nil)
	res.TestScore = res.Test[metric].Mean
	res.Gap = res.TrainScore - res.TestScore
	if !evaluation.HigherIsBetter(metric) {
		res.Gap = -res.Gap
	}
	res.Overfit = res.Gap > cv.thresholds.OverfitGap
	return res
}

func summarise(vals []float64) Summary {
	if len(vals) == 0 {
		return Summary{}
	}
	s := Summary{Mean: stat.Mean(vals, nil), Min: vals[0], Max: vals[0]}
	if len(vals) > 1 {
		_, s.Std = stat.PopMeanStdDev(vals, nil)
	}
	for _, v := range vals {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	return s
}

func subset(data Data, idx []int) ([][]float64, []float64, []float64) {
	X := make([][]float64, len(idx))
	var y, w []float64
	if data.Y != nil {
		y = make([]float64, len(idx))
	}
	if data.Weights != nil {
		w = make([]float64, len(idx))
	}
	for j, i := range idx {
		X[j] = data.X[i]
		if y != nil {
			y[j] = data.Y[i]
		}
		if w != nil {
			w[j] = data.Weights[i]
		}
	}
	return X, y, w
}

type hasher struct {
	h   hash.Hash
	buf []byte
}

func newHasher() *hasher { return &hasher{h: sha256.New(), buf: make([]byte, 8)} }

func (h *hasher) put(v float64) {
	binary.LittleEndian.PutUint64(h.buf, math.Float64bits(v))
	h.h.Write(h.buf)
}

func (h *hasher) sum() string { return hex.EncodeToString(h.h.Sum(nil))[:16] }

// WeightsDigest hashes the sample weights; unweighted data digests to "unweighted"
func WeightsDigest(w []float64) string {
	if w == nil {
		return "unweighted"
	}
	h := newHasher()
	h.put(float64(len(w)))
	for _, v := range w {
		h.put(v)
	}
	return h.sum()
}

// Fingerprint hashes the matrix and target so cached results are tied to the exact data
func Fingerprint(X [][]float64, y []float64) string {
	h := newHasher()
	h.put(float64(len(X)))
	for _, row := range X {
		h.put(float64(len(row)))
		for _, v := range row {
			h.put(v)
		}
	}
	for _, v := range y {
		h.put(v)
	}
	return h.sum()
}
