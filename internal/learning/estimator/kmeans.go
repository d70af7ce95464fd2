package estimator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// KMeans k 均值聚类, k-means++ 初始化, 取 NInit 次中惯性最小的结果
type KMeans struct {
	K            int
	MaxIter      int
	NInit        int
	Seed         int64
	NFeatures    int
	Centroids    [][]float64
	InertiaValue float64
}

// NewKMeans creates a k-means clusterer
func NewKMeans(params Params, setup Setup) *KMeans {
	return &KMeans{
		K:       params.Int("n_clusters", 3),
		MaxIter: params.Int("max_iter", 100),
		NInit:   params.Int("n_init", 3),
		Seed:    setup.Seed,
	}
}

// FitPredict 拟合并返回簇标签
func (m *KMeans) FitPredict(X [][]float64) ([]int, error) {
	if len(X) == 0 {
		return nil, errors.New("input data cannot be empty")
	}
	if err := checkX(X, len(X[0])); err != nil {
		return nil, err
	}
	if len(X) < m.K {
		return nil, fmt.Errorf("number of data points (%d) is less than k (%d)", len(X), m.K)
	}
	if m.NInit < 1 {
		m.NInit = 1
	}
	rng := rand.New(rand.NewSource(m.Seed))

	var bestLabels []int
	bestInertia := math.Inf(1)
	var bestCentroids [][]float64
	for run := 0; run < m.NInit; run++ {
		centroids := kmeansPlusPlus(X, m.K, rng)
		labels, inertia := lloyd(X, centroids, m.MaxIter)
		if inertia < bestInertia {
			bestInertia, bestLabels, bestCentroids = inertia, labels, centroids
		}
	}
	m.Centroids = bestCentroids
	m.InertiaValue = bestInertia
	m.NFeatures = len(X[0])
	return bestLabels, nil
}

func kmeansPlusPlus(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), X[rng.Intn(len(X))]...))
	dist := make([]float64, len(X))
	for len(centroids) < k {
		total := 0.0
		for i, x := range X {
			d := math.Inf(1)
			for _, c := range centroids {
				d = math.Min(d, squaredDistance(x, c))
			}
			dist[i] = d
			total += d
		}
		next := rng.Intn(len(X))
		if total > 0 {
			r := rng.Float64() * total
			for i, d := range dist {
				r -= d
				if r <= 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), X[next]...))
	}
	return centroids
}

func lloyd(X [][]float64, centroids [][]float64, maxIter int) ([]int, float64) {
	k, p := len(centroids), len(X[0])
	labels := make([]int, len(X))
	inertia := 0.0
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		inertia = 0
		for i, x := range X {
			best, bestD := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := squaredDistance(x, centroid); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				changed = true
				labels[i] = best
			}
			inertia += bestD
		}
		if iter > 0 && !changed {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, p)
		}
		for i, x := range X {
			counts[labels[i]]++
			for j, v := range x {
				sums[labels[i]][j] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}
	return labels, inertia
}

// Fit 忽略 y, 使 KMeans 满足 Model 接口以便持久化和预测
func (m *KMeans) Fit(X [][]float64, _ []float64) error {
	_, err := m.FitPredict(X)
	return err
}

// Predict 分配到最近的质心
func (m *KMeans) Predict(X [][]float64) ([]float64, error) {
	if m.Centroids == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, x := range X {
		best, bestD := 0, math.Inf(1)
		for c, centroid := range m.Centroids {
			if d := squaredDistance(x, centroid); d < bestD {
				best, bestD = c, d
			}
		}
		out[i] = float64(best)
	}
	return out, nil
}

// Inertia 簇内平方和
func (m *KMeans) Inertia() float64 { return m.InertiaValue }

// GetParams 获取参数
func (m *KMeans) GetParams() Params {
	return Params{"n_clusters": float64(m.K), "max_iter": float64(m.MaxIter), "n_init": float64(m.NInit)}
}
