package validation

import (
	"fmt"
	"math/rand"
	"sort"

	"autoforge/internal/dataset"
)

// Fold 交叉验证中的一次训练/测试划分
type Fold struct {
	Train []int
	Test  []int
}

// Splitter 生成交叉验证折
type Splitter interface {
	Split(n int, y []float64) []Fold
	Name() string
}

// ForProblem picks stratified k-fold for classification, forward chaining for time series
// and shuffled k-fold otherwise
func ForProblem(pt dataset.ProblemType, k int, seed int64) Splitter {
	switch pt {
	case dataset.Classification:
		return StratifiedKFold{K: k, Seed: seed}
	case dataset.TimeSeries:
		return TimeSeriesSplit{K: k}
	default:
		return KFold{K: k, Shuffle: true, Seed: seed}
	}
}

func effectiveK(k, n int) int {
	if k < 2 {
		k = 2
	}
	if k > n {
		k = n
	}
	return k
}

// KFold 普通 k 折
type KFold struct {
	K       int
	Shuffle bool
	Seed    int64
}

// Name implements Splitter
func (s KFold) Name() string { return fmt.Sprintf("kfold-%d-%t-%d", s.K, s.Shuffle, s.Seed) }

// Split implements Splitter
func (s KFold) Split(n int, _ []float64) []Fold {
	k := effectiveK(s.K, n)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if s.Shuffle {
		rng := rand.New(rand.NewSource(s.Seed))
		rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	assign := make([]int, n)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		for _, i := range idx[start : start+size] {
			assign[i] = f
		}
		start += size
	}
	return foldsFromAssignment(assign, k)
}

// StratifiedKFold 分层 k 折, 每类样本轮流分配到各折, 各折的类别数量相差不超过 1
type StratifiedKFold struct {
	K    int
	Seed int64
}

// Name implements Splitter
func (s StratifiedKFold) Name() string { return fmt.Sprintf("stratified-%d-%d", s.K, s.Seed) }

// Split implements Splitter
func (s StratifiedKFold) Split(n int, y []float64) []Fold {
	k := effectiveK(s.K, n)
	groups := make(map[float64][]int)
	for i := 0; i < n; i++ {
		groups[y[i]] = append(groups[y[i]], i)
	}
	keys := make([]float64, 0, len(groups))
	for c := range groups {
		keys = append(keys, c)
	}
	sort.Float64s(keys)

	rng := rand.New(rand.NewSource(s.Seed))
	assign := make([]int, n)
	next := 0
	for _, c := range keys {
		idx := groups[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			assign[i] = next % k
			next++
		}
	}
	return foldsFromAssignment(assign, k)
}

func foldsFromAssignment(assign []int, k int) []Fold {
	folds := make([]Fold, k)
	for i, f := range assign {
		for g := range folds {
			if g == f {
				folds[g].Test = append(folds[g].Test, i)
			} else {
				folds[g].Train = append(folds[g].Train, i)
			}
		}
	}
	return folds
}

// TimeSeriesSplit 前向链式划分: 不打乱, 每折测试段严格在训练段之后
type TimeSeriesSplit struct {
	K int
}

// Name implements Splitter
func (s TimeSeriesSplit) Name() string { return fmt.Sprintf("forward-%d", s.K) }

// Split implements Splitter
func (s TimeSeriesSplit) Split(n int, _ []float64) []Fold {
	k := s.K
	if k < 1 {
		k = 1
	}
	if k > n-1 {
		k = n - 1
	}
	block := n / (k + 1)
	if block < 1 {
		return nil
	}
	folds := make([]Fold, 0, k)
	for f := 1; f <= k; f++ {
		trainEnd := block * f
		testEnd := trainEnd + block
		if f == k {
			testEnd = n
		}
		var fold Fold
		for i := 0; i < trainEnd; i++ {
			fold.Train = append(fold.Train, i)
		}
		for i := trainEnd; i < testEnd; i++ {
			fold.Test = append(fold.Test, i)
		}
		folds = append(folds, fold)
	}
	return folds
}
