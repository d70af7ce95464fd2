package cluster

import (
	"errors"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	MetricSilhouette       = "silhouette"
	MetricDaviesBouldin    = "davies_bouldin"
	MetricCalinskiHarabasz = "calinski_harabasz"
	MetricNClusters        = "n_clusters"
	MetricNoiseFraction    = "noise_fraction"

	noiseLabel          = -1
	undefinedSilhouette = -1.0
)

// ErrTooFewClusters 有效簇少于 2 个时指标无定义
var ErrTooFewClusters = errors.New("at least 2 non-noise clusters are required")

// group 去掉噪声点后按簇分组的行号
func group(labels []int) (map[int][]int, int) {
	groups := make(map[int][]int)
	noise := 0
	for i, l := range labels {
		if l == noiseLabel {
			noise++
			continue
		}
		groups[l] = append(groups[l], i)
	}
	return groups, noise
}

func distance(a, b []float64) float64 { return floats.Distance(a, b, 2) }

func centroid(X [][]float64, idx []int) []float64 {
	c := make([]float64, len(X[idx[0]]))
	for _, i := range idx {
		floats.Add(c, X[i])
	}
	floats.Scale(1/float64(len(idx)), c)
	return c
}

// Silhouette 平均轮廓系数, 噪声点不参与. 样本数超过 sampleCap 时随机下采样
func Silhouette(X [][]float64, labels []int, sampleCap int, seed int64) (float64, error) {
	var rows []int
	for i, l := range labels {
		if l != noiseLabel {
			rows = append(rows, i)
		}
	}
	if sampleCap > 0 && len(rows) > sampleCap {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(rows), func(a, b int) { rows[a], rows[b] = rows[b], rows[a] })
		rows = rows[:sampleCap]
	}
	sub := make([]int, len(rows))
	for j, i := range rows {
		sub[j] = labels[i]
	}
	groups, _ := group(sub)
	if len(groups) < 2 {
		return 0, ErrTooFewClusters
	}

	total := 0.0
	for j, i := range rows {
		own := sub[j]
		if len(groups[own]) == 1 {
			// 单点簇的轮廓系数定义为 0
			continue
		}
		a := 0.0
		b := math.Inf(1)
		for c, members := range groups {
			sum := 0.0
			for _, m := range members {
				sum += distance(X[i], X[rows[m]])
			}
			if c == own {
				a = sum / float64(len(members)-1)
			} else if mean := sum / float64(len(members)); mean < b {
				b = mean
			}
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(len(rows)), nil
}

// DaviesBouldin 越低越好
func DaviesBouldin(X [][]float64, labels []int) (float64, error) {
	groups, _ := group(labels)
	if len(groups) < 2 {
		return 0, ErrTooFewClusters
	}
	keys := sortedKeys(groups)
	centroids := make([][]float64, len(keys))
	scatter := make([]float64, len(keys))
	for k, c := range keys {
		centroids[k] = centroid(X, groups[c])
		for _, i := range groups[c] {
			scatter[k] += distance(X[i], centroids[k])
		}
		scatter[k] /= float64(len(groups[c]))
	}
	total := 0.0
	for a := range keys {
		worst := 0.0
		for b := range keys {
			if a == b {
				continue
			}
			d := distance(centroids[a], centroids[b])
			if d == 0 {
				continue
			}
			worst = math.Max(worst, (scatter[a]+scatter[b])/d)
		}
		total += worst
	}
	return total / float64(len(keys)), nil
}

// CalinskiHarabasz 簇间与簇内离散度之比, 越高越好
func CalinskiHarabasz(X [][]float64, labels []int) (float64, error) {
	groups, _ := group(labels)
	k := len(groups)
	if k < 2 {
		return 0, ErrTooFewClusters
	}
	var all []int
	for _, members := range groups {
		all = append(all, members...)
	}
	n := len(all)
	if n <= k {
		return 0, ErrTooFewClusters
	}
	overall := centroid(X, all)
	between, within := 0.0, 0.0
	for _, members := range groups {
		c := centroid(X, members)
		d := distance(c, overall)
		between += float64(len(members)) * d * d
		for _, i := range members {
			w := distance(X[i], c)
			within += w * w
		}
	}
	if within == 0 {
		return math.MaxFloat64, nil
	}
	return (between / float64(k-1)) / (within / float64(n-k)), nil
}

func sortedKeys(groups map[int][]int) []int {
	keys := make([]int, 0, len(groups))
	for c := range groups {
		keys = append(keys, c)
	}
	sort.Ints(keys)
	return keys
}

// Scores 三个内部指标加簇数和噪声比例, 键与 evaluation.Metrics 一致
func Scores(X [][]float64, labels []int, sampleCap int, seed int64) map[string]float64 {
	groups, noise := group(labels)
	out := map[string]float64{
		MetricNClusters:     float64(len(groups)),
		MetricNoiseFraction: 0,
	}
	if len(labels) > 0 {
		out[MetricNoiseFraction] = float64(noise) / float64(len(labels))
	}
	out[MetricSilhouette] = undefinedSilhouette
	if s, err := Silhouette(X, labels, sampleCap, seed); err == nil {
		out[MetricSilhouette] = s
	}
	if db, err := DaviesBouldin(X, labels); err == nil {
		out[MetricDaviesBouldin] = db
	}
	if ch, err := CalinskiHarabasz(X, labels); err == nil {
		out[MetricCalinskiHarabasz] = ch
	}
	return out
}
