package estimator

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Task 估计器的任务类型
type Task string

const (
	TaskClassification Task = "classification"
	TaskRegression     Task = "regression"
)

// ErrNotFitted 在拟合之前调用预测时返回
var ErrNotFitted = errors.New("model is not fitted")

// Params 数值型超参数. 整数和布尔参数同样以 float64 存放
type Params map[string]float64

// Float returns the parameter or def
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int returns the parameter rounded to an int, or def
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(math.Round(v))
	}
	return def
}

// Bool returns the parameter as a flag (non-zero is true), or def
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key]; ok {
		return v != 0
	}
	return def
}

// Merge returns a copy of p overlaid with over
func (p Params) Merge(over Params) Params {
	out := make(Params, len(p)+len(over))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// String renders the params in key order, used for cache keys and logs
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%g", k, p[k])
	}
	return s
}

// Setup 构造估计器时的运行环境
type Setup struct {
	Seed     int64
	NClasses int
}

// Model 机器学习模型接口. 分类标签编码为 0..K-1 的浮点数
type Model interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
	GetParams() Params
}

// ProbabilisticModel 可输出类别概率的模型
type ProbabilisticModel interface {
	Model
	PredictProba(X [][]float64) ([][]float64, error)
}

// FeatureImporter 自带特征重要性的模型
type FeatureImporter interface {
	GetFeatureImportance() []float64
}

// WeightedFitter 支持样本权重的模型
type WeightedFitter interface {
	FitWeighted(X [][]float64, y, w []float64) error
}

// Clusterer 无监督聚类模型, 噪声点标记为 -1
type Clusterer interface {
	FitPredict(X [][]float64) ([]int, error)
	GetParams() Params
}

// InertiaReporter 报告簇内平方和的聚类模型
type InertiaReporter interface {
	Inertia() float64
}

// FitWithWeights fits with sample weights when the model supports them.
// It reports whether the weights were applied.
func FitWithWeights(m Model, X [][]float64, y, w []float64) (bool, error) {
	if w != nil {
		if wf, ok := m.(WeightedFitter); ok {
			return true, wf.FitWeighted(X, y, w)
		}
	}
	return false, m.Fit(X, y)
}

func checkXY(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return errors.New("empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("X has %d rows but y has %d", len(X), len(y))
	}
	return checkX(X, len(X[0]))
}

func checkX(X [][]float64, nFeatures int) error {
	for i, row := range X {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d contains a non-finite value", i)
			}
		}
	}
	return nil
}

func checkWeights(w []float64, n int) ([]float64, error) {
	if w == nil {
		return uniformWeights(n), nil
	}
	if len(w) != n {
		return nil, fmt.Errorf("got %d weights for %d rows", len(w), n)
	}
	return w, nil
}

func uniformWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// numClasses returns max(hint, max label + 1)
func numClasses(y []float64, hint int) int {
	k := hint
	for _, v := range y {
		if c := int(v) + 1; c > k {
			k = c
		}
	}
	if k < 2 {
		k = 2
	}
	return k
}

// Argmax returns the index of the largest value, lowest index on ties
func Argmax(row []float64) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// LabelsFromProba maps each probability row to its argmax class
func LabelsFromProba(proba [][]float64) []float64 {
	out := make([]float64, len(proba))
	for i, row := range proba {
		out[i] = float64(Argmax(row))
	}
	return out
}

// PadProba widens probability rows to k columns
func PadProba(proba [][]float64, k int) [][]float64 {
	for i, row := range proba {
		if len(row) < k {
			padded := make([]float64, k)
			copy(padded, row)
			proba[i] = padded
		}
	}
	return proba
}

func softmaxInPlace(z []float64) {
	maxZ := math.Inf(-1)
	for _, v := range z {
		if v > maxZ {
			maxZ = v
		}
	}
	sum := 0.0
	for i, v := range z {
		z[i] = math.Exp(v - maxZ)
		sum += z[i]
	}
	for i := range z {
		z[i] /= sum
	}
}

func squaredDistance(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}

func normalize(v []float64) []float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
