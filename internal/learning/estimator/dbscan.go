package estimator

import (
	"errors"
	"math"
)

// Noise DBSCAN 噪声点标签
const Noise = -1

// DBSCAN 基于密度的聚类
type DBSCAN struct {
	Eps        float64
	MinSamples int
	NFeatures  int
	// Cores 核心点及其簇标签, 用于对新数据赋簇
	Cores      [][]float64
	CoreLabels []int
}

// NewDBSCAN creates a density-based clusterer
func NewDBSCAN(params Params) *DBSCAN {
	return &DBSCAN{
		Eps:        params.Float("eps", 0.5),
		MinSamples: params.Int("min_samples", 5),
	}
}

// FitPredict 拟合并返回簇标签, 噪声为 -1
func (m *DBSCAN) FitPredict(X [][]float64) ([]int, error) {
	if len(X) == 0 {
		return nil, errors.New("input data cannot be empty")
	}
	if err := checkX(X, len(X[0])); err != nil {
		return nil, err
	}
	n := len(X)
	eps2 := m.Eps * m.Eps

	neighbours := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if squaredDistance(X[i], X[j]) <= eps2 {
				neighbours[i] = append(neighbours[i], j)
			}
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = math.MinInt32
	}
	cluster := 0
	m.Cores, m.CoreLabels = nil, nil
	for i := 0; i < n; i++ {
		if labels[i] != math.MinInt32 {
			continue
		}
		if len(neighbours[i]) < m.MinSamples {
			labels[i] = Noise
			continue
		}
		labels[i] = cluster
		queue := append([]int(nil), neighbours[i]...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if labels[j] != math.MinInt32 {
				continue
			}
			labels[j] = cluster
			if len(neighbours[j]) >= m.MinSamples {
				queue = append(queue, neighbours[j]...)
			}
		}
		cluster++
	}

	for i := 0; i < n; i++ {
		if len(neighbours[i]) >= m.MinSamples {
			m.Cores = append(m.Cores, append([]float64(nil), X[i]...))
			m.CoreLabels = append(m.CoreLabels, labels[i])
		}
	}
	m.NFeatures = len(X[0])
	return labels, nil
}

// Fit 忽略 y
func (m *DBSCAN) Fit(X [][]float64, _ []float64) error {
	_, err := m.FitPredict(X)
	return err
}

// Predict 新样本归入 eps 内最近核心点的簇, 否则为噪声
func (m *DBSCAN) Predict(X [][]float64) ([]float64, error) {
	if m.NFeatures == 0 {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	eps2 := m.Eps * m.Eps
	out := make([]float64, len(X))
	for i, x := range X {
		label, bestD := Noise, math.Inf(1)
		for c, core := range m.Cores {
			if d := squaredDistance(x, core); d <= eps2 && d < bestD {
				label, bestD = m.CoreLabels[c], d
			}
		}
		out[i] = float64(label)
	}
	return out, nil
}

// GetParams 获取参数
func (m *DBSCAN) GetParams() Params {
	return Params{"eps": m.Eps, "min_samples": float64(m.MinSamples)}
}
