package estimator

import (
	"math"
	"math/rand"
)

// RandomForest 随机森林: 自助采样 + 特征子采样的决策树集成
type RandomForest struct {
	Task           Task
	NEstimators    int
	MaxDepth       int
	MinSamplesLeaf int
	MaxFeatures    float64
	Seed           int64
	NClasses       int
	NFeatures      int
	Trees          []*DecisionTree
	Importances    []float64
}

// NewRandomForest creates a random forest for the task
func NewRandomForest(task Task, params Params, setup Setup) *RandomForest {
	return &RandomForest{
		Task:           task,
		NEstimators:    params.Int("n_estimators", 50),
		MaxDepth:       params.Int("max_depth", 10),
		MinSamplesLeaf: params.Int("min_samples_leaf", 1),
		MaxFeatures:    params.Float("max_features", 0),
		Seed:           setup.Seed,
		NClasses:       setup.NClasses,
	}
}

// Fit 拟合
func (f *RandomForest) Fit(X [][]float64, y []float64) error {
	return f.FitWeighted(X, y, nil)
}

// FitWeighted 加权拟合, 权重传给每棵树
func (f *RandomForest) FitWeighted(X [][]float64, y, w []float64) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	w, err := checkWeights(w, len(X))
	if err != nil {
		return err
	}
	n, p := len(X), len(X[0])
	if f.Task == TaskClassification {
		f.NClasses = numClasses(y, f.NClasses)
	}
	f.NFeatures = p

	maxFeatures := f.MaxFeatures
	if maxFeatures <= 0 {
		if f.Task == TaskClassification {
			maxFeatures = math.Sqrt(float64(p)) / float64(p)
		} else {
			maxFeatures = 1.0 / 3.0
		}
	}

	rng := rand.New(rand.NewSource(f.Seed))
	f.Trees = make([]*DecisionTree, 0, f.NEstimators)
	importances := make([]float64, p)

	bx := make([][]float64, n)
	by := make([]float64, n)
	bw := make([]float64, n)
	for t := 0; t < f.NEstimators; t++ {
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			bx[i], by[i], bw[i] = X[j], y[j], w[j]
		}
		tree := &DecisionTree{
			Task:            f.Task,
			MaxDepth:        f.MaxDepth,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  f.MinSamplesLeaf,
			MaxFeatures:     maxFeatures,
			Seed:            rng.Int63(),
			NClasses:        f.NClasses,
		}
		if err := tree.FitWeighted(bx, by, bw); err != nil {
			return err
		}
		for j, v := range tree.Importances {
			importances[j] += v
		}
		f.Trees = append(f.Trees, tree)
	}
	f.Importances = normalize(importances)
	return nil
}

// PredictProba 各树概率的平均
func (f *RandomForest) PredictProba(X [][]float64) ([][]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(X))
	for i := range out {
		out[i] = make([]float64, f.NClasses)
	}
	for _, tree := range f.Trees {
		proba, err := tree.PredictProba(X)
		if err != nil {
			return nil, err
		}
		for i, row := range proba {
			for c, v := range row {
				out[i][c] += v / float64(len(f.Trees))
			}
		}
	}
	return out, nil
}

// Predict 预测
func (f *RandomForest) Predict(X [][]float64) ([]float64, error) {
	if f.Task == TaskClassification {
		proba, err := f.PredictProba(X)
		if err != nil {
			return nil, err
		}
		return LabelsFromProba(proba), nil
	}
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(X))
	for _, tree := range f.Trees {
		pred, err := tree.Predict(X)
		if err != nil {
			return nil, err
		}
		for i, v := range pred {
			out[i] += v / float64(len(f.Trees))
		}
	}
	return out, nil
}

// GetParams 获取参数
func (f *RandomForest) GetParams() Params {
	return Params{
		"n_estimators":     float64(f.NEstimators),
		"max_depth":        float64(f.MaxDepth),
		"min_samples_leaf": float64(f.MinSamplesLeaf),
		"max_features":     f.MaxFeatures,
	}
}

// GetFeatureImportance 各树重要性的平均
func (f *RandomForest) GetFeatureImportance() []float64 { return f.Importances }
