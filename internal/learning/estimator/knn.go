package estimator

import (
	"math"
	"sort"
)

// KNN k 近邻, 暴力搜索
type KNN struct {
	Task             Task
	K                int
	DistanceWeighted bool
	NClasses         int
	NFeatures        int
	X                [][]float64
	Y                []float64
}

// NewKNN creates a nearest-neighbour model for the task
func NewKNN(task Task, params Params, setup Setup) *KNN {
	return &KNN{
		Task:             task,
		K:                params.Int("n_neighbors", 5),
		DistanceWeighted: params.Bool("distance_weighted", false),
		NClasses:         setup.NClasses,
	}
}

// Fit 记住训练数据
func (m *KNN) Fit(X [][]float64, y []float64) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	if m.K < 1 {
		m.K = 1
	}
	if m.Task == TaskClassification {
		m.NClasses = numClasses(y, m.NClasses)
	}
	m.NFeatures = len(X[0])
	m.X = make([][]float64, len(X))
	for i, row := range X {
		m.X[i] = append([]float64(nil), row...)
	}
	m.Y = append([]float64(nil), y...)
	return nil
}

type neighbour struct {
	dist  float64
	label float64
}

func (m *KNN) neighbours(x []float64) []neighbour {
	all := make([]neighbour, len(m.X))
	for i, row := range m.X {
		all[i] = neighbour{dist: math.Sqrt(squaredDistance(x, row)), label: m.Y[i]}
	}
	sort.Slice(all, func(a, b int) bool { return all[a].dist < all[b].dist })
	k := m.K
	if k > len(all) {
		k = len(all)
	}
	return all[:k]
}

func (m *KNN) weight(n neighbour) float64 {
	if !m.DistanceWeighted {
		return 1
	}
	return 1 / (n.dist + 1e-9)
}

// PredictProba 近邻投票比例
func (m *KNN) PredictProba(X [][]float64) ([][]float64, error) {
	if m.X == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, x := range X {
		votes := make([]float64, m.NClasses)
		for _, n := range m.neighbours(x) {
			votes[int(n.label)] += m.weight(n)
		}
		out[i] = normalize(votes)
	}
	return out, nil
}

// Predict 预测
func (m *KNN) Predict(X [][]float64) ([]float64, error) {
	if m.Task == TaskClassification {
		proba, err := m.PredictProba(X)
		if err != nil {
			return nil, err
		}
		return LabelsFromProba(proba), nil
	}
	if m.X == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, x := range X {
		sum, total := 0.0, 0.0
		for _, n := range m.neighbours(x) {
			w := m.weight(n)
			sum += w * n.label
			total += w
		}
		out[i] = sum / total
	}
	return out, nil
}

// GetParams 获取参数
func (m *KNN) GetParams() Params {
	weighted := 0.0
	if m.DistanceWeighted {
		weighted = 1
	}
	return Params{"n_neighbors": float64(m.K), "distance_weighted": weighted}
}
