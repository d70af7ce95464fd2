package ensemble

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/preprocess"
	"autoforge/internal/learning/validation"
)

var errNoBuilders = errors.New("base model constructors are not available, ensembles reloaded from disk cannot be refitted")

// Base 集成的基模型: 名称 + 构造函数, 每折都构造新实例
type Base struct {
	Name string
	New  func() (estimator.Model, error)
}

// Provenance 记录元特征的来源, 用于核查没有折内泄漏
type Provenance struct {
	// Rows 元特征矩阵每行对应的原始行号
	Rows []int
	// Fold 产生该行元特征的折编号
	Fold []int
	// TrainedOn 每折基模型的训练行
	TrainedOn [][]int
	Features  [][]float64
}

// MetaEnsemble 基模型输出作为元模型输入的集成, Stacking 和 Blending 共用
type MetaEnsemble struct {
	Task     estimator.Task
	NClasses int
	Names    []string
	Bases    []estimator.Model
	Meta     estimator.Model
}

func (m *MetaEnsemble) width() int {
	if m.Task == estimator.TaskClassification {
		return m.NClasses
	}
	return 1
}

// baseOutputs writes model outputs into dst columns [offset, offset+width)
func baseOutputs(model estimator.Model, task estimator.Task, nClasses int, X [][]float64, dst [][]float64, offset int) error {
	if task != estimator.TaskClassification {
		pred, err := model.Predict(X)
		if err != nil {
			return err
		}
		for i, p := range pred {
			dst[i][offset] = p
		}
		return nil
	}
	if pm, ok := model.(estimator.ProbabilisticModel); ok {
		proba, err := pm.PredictProba(X)
		if err != nil {
			return err
		}
		proba = estimator.PadProba(proba, nClasses)
		for i, row := range proba {
			copy(dst[i][offset:offset+nClasses], row[:nClasses])
		}
		return nil
	}
	pred, err := model.Predict(X)
	if err != nil {
		return err
	}
	for i, p := range pred {
		if c := int(p); c >= 0 && c < nClasses {
			dst[i][offset+c] = 1
		}
	}
	return nil
}

func allocate(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}

// MetaFeatures 拼接所有基模型的输出
func (m *MetaEnsemble) MetaFeatures(X [][]float64) ([][]float64, error) {
	w := m.width()
	out := allocate(len(X), w*len(m.Bases))
	for j, b := range m.Bases {
		if err := baseOutputs(b, m.Task, m.NClasses, X, out, j*w); err != nil {
			return nil, fmt.Errorf("base %s: %w", m.Names[j], err)
		}
	}
	return out, nil
}

// PredictProba 元模型概率
func (m *MetaEnsemble) PredictProba(X [][]float64) ([][]float64, error) {
	pm, ok := m.Meta.(estimator.ProbabilisticModel)
	if !ok {
		return nil, fmt.Errorf("meta model has no probabilities")
	}
	meta, err := m.MetaFeatures(X)
	if err != nil {
		return nil, err
	}
	proba, err := pm.PredictProba(meta)
	if err != nil {
		return nil, err
	}
	return estimator.PadProba(proba, m.NClasses), nil
}

// Predict 预测
func (m *MetaEnsemble) Predict(X [][]float64) ([]float64, error) {
	meta, err := m.MetaFeatures(X)
	if err != nil {
		return nil, err
	}
	return m.Meta.Predict(meta)
}

func newMeta(task estimator.Task, nClasses int, seed int64) estimator.Model {
	if task == estimator.TaskClassification {
		return estimator.NewLogisticRegression(estimator.Params{"C": 1}, estimator.Setup{Seed: seed, NClasses: nClasses})
	}
	return estimator.NewRidge(estimator.Params{"alpha": 1})
}

// subset 选取行; w 为 nil 时返回的权重也为 nil
func subset(X [][]float64, y, w []float64, idx []int) ([][]float64, []float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	var ws []float64
	if w != nil {
		ws = make([]float64, len(idx))
	}
	for j, i := range idx {
		xs[j] = X[i]
		ys[j] = y[i]
		if ws != nil {
			ws[j] = w[i]
		}
	}
	return xs, ys, ws
}

// fitBases constructs and fits one fresh instance per base, in parallel.
// Members that accept sample weights are fitted with w.
func fitBases(ctx context.Context, bases []Base, X [][]float64, y, w []float64, workers int) ([]estimator.Model, error) {
	models := make([]estimator.Model, len(bases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(workers))
	for j, b := range bases {
		j, b := j, b
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := b.New()
			if err != nil {
				return fmt.Errorf("base %s: %w", b.Name, err)
			}
			if _, err := estimator.FitWithWeights(m, X, y, w); err != nil {
				return fmt.Errorf("base %s: %w", b.Name, err)
			}
			models[j] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return models, nil
}

// limit ≤ 0 表示每个 CPU 一个
func limit(workers int) int {
	if workers <= 0 {
		return runtime.NumCPU()
	}
	return workers
}

func names(bases []Base) []string {
	out := make([]string, len(bases))
	for i, b := range bases {
		out[i] = b.Name
	}
	return out
}

// Stacking 堆叠集成: 元特征全部来自基模型的折外预测
type Stacking struct {
	MetaEnsemble
	Folds   int
	Seed    int64
	Workers int

	builders   []Base
	provenance *Provenance
}

// Provenance returns the out-of-fold bookkeeping of the last fit; it is not persisted
func (s *Stacking) Provenance() *Provenance { return s.provenance }

// GetParams 获取参数
func (s *Stacking) GetParams() estimator.Params {
	return estimator.Params{"n_members": float64(len(s.Bases)), "folds": float64(s.Folds)}
}

func stackingSplitter(task estimator.Task, k int, seed int64) validation.Splitter {
	if task == estimator.TaskClassification {
		return validation.StratifiedKFold{K: k, Seed: seed}
	}
	return validation.KFold{K: k, Shuffle: true, Seed: seed}
}

// NewStacking creates an unfitted stacking ensemble over the given bases
func NewStacking(task estimator.Task, nClasses int, bases []Base, folds int, seed int64, workers int) *Stacking {
	return &Stacking{
		MetaEnsemble: MetaEnsemble{Task: task, NClasses: nClasses, Names: names(bases)},
		Folds:        folds,
		Seed:         seed,
		Workers:      workers,
		builders:     bases,
	}
}

// Fit 同 FitContext, 不可取消
func (s *Stacking) Fit(X [][]float64, y []float64) error {
	return s.FitWeightedContext(context.Background(), X, y, nil)
}

// FitWeighted 带样本权重拟合, 不可取消
func (s *Stacking) FitWeighted(X [][]float64, y, w []float64) error {
	return s.FitWeightedContext(context.Background(), X, y, w)
}

// FitContext builds the out-of-fold meta-feature matrix, trains the meta model on it
// and refits every base on the full data for prediction
func (s *Stacking) FitContext(ctx context.Context, X [][]float64, y []float64) error {
	return s.FitWeightedContext(ctx, X, y, nil)
}

// FitWeightedContext is FitContext with sample weights passed to every fold fit,
// the meta model and the final refits
func (s *Stacking) FitWeightedContext(ctx context.Context, X [][]float64, y, w []float64) error {
	if len(s.builders) == 0 {
		return errNoBuilders
	}
	w := s.width()
	splits := stackingSplitter(s.Task, s.Folds, s.Seed).Split(len(X), y)
	if len(splits) < 2 {
		return fmt.Errorf("stacking cannot build folds from %d rows", len(X))
	}

	prov := &Provenance{
		Rows:      make([]int, len(X)),
		Fold:      make([]int, len(X)),
		TrainedOn: make([][]int, len(splits)),
		Features:  allocate(len(X), w*len(s.builders)),
	}
	for i := range prov.Rows {
		prov.Rows[i] = i
		prov.Fold[i] = -1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(s.Workers))
	for f, fold := range splits {
		f, fold := f, fold
		prov.TrainedOn[f] = fold.Train
		for _, i := range fold.Test {
			prov.Fold[i] = f
		}
		for j, b := range s.builders {
			j, b := j, b
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				m, err := b.New()
				if err != nil {
					return fmt.Errorf("base %s: %w", b.Name, err)
				}
				xTrain, yTrain, wTrain := subset(X, y, w, fold.Train)
				if _, err := estimator.FitWithWeights(m, xTrain, yTrain, wTrain); err != nil {
					return fmt.Errorf("base %s fold %d: %w", b.Name, f, err)
				}
				xTest, _, _ := subset(X, y, nil, fold.Test)
				out := make([][]float64, len(fold.Test))
				for t, i := range fold.Test {
					out[t] = prov.Features[i]
				}
				return baseOutputs(m, s.Task, s.NClasses, xTest, out, j*w)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	meta := newMeta(s.Task, s.NClasses, s.Seed)
	if _, err := estimator.FitWithWeights(meta, prov.Features, y, w); err != nil {
		return fmt.Errorf("meta model: %w", err)
	}
	models, err := fitBases(ctx, s.builders, X, y, w, s.Workers)
	if err != nil {
		return err
	}
	s.Meta, s.Bases, s.provenance = meta, models, prov
	return nil
}

// Blending 混合集成: 基模型在训练部分拟合, 元模型只在留出部分的基模型输出上拟合
type Blending struct {
	MetaEnsemble
	HoldoutFraction float64
	Seed            int64
	Workers         int

	builders   []Base
	provenance *Provenance
}

// NewBlending creates an unfitted blending ensemble over the given bases
func NewBlending(task estimator.Task, nClasses int, bases []Base, fraction float64, seed int64, workers int) *Blending {
	return &Blending{
		MetaEnsemble:    MetaEnsemble{Task: task, NClasses: nClasses, Names: names(bases)},
		HoldoutFraction: fraction,
		Seed:            seed,
		Workers:         workers,
		builders:        bases,
	}
}

// Provenance returns the holdout bookkeeping of the last fit
func (b *Blending) Provenance() *Provenance { return b.provenance }

// GetParams 获取参数
func (b *Blending) GetParams() estimator.Params {
	return estimator.Params{"n_members": float64(len(b.Bases)), "holdout_fraction": b.HoldoutFraction}
}

// Fit 同 FitContext, 不可取消
func (b *Blending) Fit(X [][]float64, y []float64) error {
	return b.FitWeightedContext(context.Background(), X, y, nil)
}

// FitWeighted 带样本权重拟合, 不可取消
func (b *Blending) FitWeighted(X [][]float64, y, w []float64) error {
	return b.FitWeightedContext(context.Background(), X, y, w)
}

// FitContext splits off a holdout slice, fits the bases on the remainder and the meta model on the holdout outputs
func (b *Blending) FitContext(ctx context.Context, X [][]float64, y []float64) error {
	return b.FitWeightedContext(ctx, X, y, nil)
}

// FitWeightedContext is FitContext with sample weights carried into both partitions
func (b *Blending) FitWeightedContext(ctx context.Context, X [][]float64, y, w []float64) error {
	if len(b.builders) == 0 {
		return errNoBuilders
	}
	var train, holdout []int
	if b.Task == estimator.TaskClassification {
		train, holdout = preprocess.StratifiedSplit(y, b.HoldoutFraction, b.Seed)
	} else {
		train, holdout = preprocess.RandomSplit(len(X), b.HoldoutFraction, b.Seed)
	}
	if len(train) == 0 || len(holdout) == 0 {
		return fmt.Errorf("blending cannot split %d rows with holdout fraction %g", len(X), b.HoldoutFraction)
	}

	xTrain, yTrain, wTrain := subset(X, y, w, train)
	models, err := fitBases(ctx, b.builders, xTrain, yTrain, wTrain, b.Workers)
	if err != nil {
		return err
	}
	b.Bases = models
	xHold, yHold, wHold := subset(X, y, w, holdout)
	features, err := b.MetaFeatures(xHold)
	if err != nil {
		return err
	}
	meta := newMeta(b.Task, b.NClasses, b.Seed)
	if _, err := estimator.FitWithWeights(meta, features, yHold, wHold); err != nil {
		return fmt.Errorf("meta model: %w", err)
	}
	b.Meta = meta
	b.provenance = &Provenance{
		Rows:      holdout,
		Fold:      make([]int, len(holdout)),
		TrainedOn: [][]int{train},
		Features:  features,
	}
	return nil
}
