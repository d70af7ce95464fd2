package estimator

import (
	"math"
	"math/rand"
	"sort"
)

// TreeNode 决策树节点
type TreeNode struct {
	Leaf      bool
	Feature   int
	Threshold float64
	// Value 分类时为类别概率分布, 回归时为单个均值
	Value   []float64
	Samples int
	Left    *TreeNode
	Right   *TreeNode
}

// DecisionTree CART 决策树: 分类用基尼系数, 回归用方差
type DecisionTree struct {
	Task            Task
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures 每次分裂考虑的特征比例, 0 表示全部
	MaxFeatures float64
	Seed        int64
	NClasses    int
	NFeatures   int
	Root        *TreeNode
	Importances []float64
}

// NewDecisionTree creates a CART tree for the task
func NewDecisionTree(task Task, params Params, setup Setup) *DecisionTree {
	return &DecisionTree{
		Task:            task,
		MaxDepth:        params.Int("max_depth", 8),
		MinSamplesSplit: params.Int("min_samples_split", 2),
		MinSamplesLeaf:  params.Int("min_samples_leaf", 1),
		MaxFeatures:     params.Float("max_features", 0),
		Seed:            setup.Seed,
		NClasses:        setup.NClasses,
	}
}

// treeBuilder 单次拟合的临时状态
type treeBuilder struct {
	tree *DecisionTree
	X    [][]float64
	y    []float64
	w    []float64
	rng  *rand.Rand
	imp  []float64
}

// Fit 拟合
func (t *DecisionTree) Fit(X [][]float64, y []float64) error {
	return t.FitWeighted(X, y, nil)
}

// FitWeighted 加权拟合
func (t *DecisionTree) FitWeighted(X [][]float64, y, w []float64) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	w, err := checkWeights(w, len(X))
	if err != nil {
		return err
	}
	if t.Task == TaskClassification {
		t.NClasses = numClasses(y, t.NClasses)
	}
	t.NFeatures = len(X[0])
	if t.MinSamplesLeaf < 1 {
		t.MinSamplesLeaf = 1
	}
	if t.MinSamplesSplit < 2 {
		t.MinSamplesSplit = 2
	}

	b := &treeBuilder{
		tree: t,
		X:    X,
		y:    y,
		w:    w,
		rng:  rand.New(rand.NewSource(t.Seed)),
		imp:  make([]float64, t.NFeatures),
	}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	t.Root = b.build(idx, 0)
	t.Importances = normalize(b.imp)
	return nil
}

func (b *treeBuilder) leafValue(idx []int) []float64 {
	if b.tree.Task == TaskClassification {
		dist := make([]float64, b.tree.NClasses)
		for _, i := range idx {
			dist[int(b.y[i])] += b.w[i]
		}
		return normalize(dist)
	}
	sum, total := 0.0, 0.0
	for _, i := range idx {
		sum += b.w[i] * b.y[i]
		total += b.w[i]
	}
	if total == 0 {
		return []float64{0}
	}
	return []float64{sum / total}
}

// impurity 返回加权不纯度乘以总权重
func (b *treeBuilder) impurity(idx []int) float64 {
	if b.tree.Task == TaskClassification {
		counts := make([]float64, b.tree.NClasses)
		total := 0.0
		for _, i := range idx {
			counts[int(b.y[i])] += b.w[i]
			total += b.w[i]
		}
		return gini(counts, total) * total
	}
	sw, swy, swy2 := 0.0, 0.0, 0.0
	for _, i := range idx {
		sw += b.w[i]
		swy += b.w[i] * b.y[i]
		swy2 += b.w[i] * b.y[i] * b.y[i]
	}
	return sse(sw, swy, swy2)
}

func (b *treeBuilder) build(idx []int, depth int) *TreeNode {
	node := &TreeNode{Samples: len(idx), Value: b.leafValue(idx)}
	parent := b.impurity(idx)

	if depth >= b.tree.MaxDepth || len(idx) < b.tree.MinSamplesSplit || parent <= 1e-12 {
		node.Leaf = true
		return node
	}

	feature, threshold, gain, ok := b.bestSplit(idx, parent)
	if !ok || gain <= 1e-12 {
		node.Leaf = true
		return node
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.imp[feature] += gain
	node.Feature = feature
	node.Threshold = threshold
	node.Left = b.build(left, depth+1)
	node.Right = b.build(right, depth+1)
	return node
}

func (b *treeBuilder) candidateFeatures() []int {
	p := b.tree.NFeatures
	all := make([]int, p)
	for j := range all {
		all[j] = j
	}
	if b.tree.MaxFeatures <= 0 || b.tree.MaxFeatures >= 1 {
		return all
	}
	k := int(math.Ceil(b.tree.MaxFeatures * float64(p)))
	if k < 1 {
		k = 1
	}
	b.rng.Shuffle(p, func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:k]
}

// bestSplit 按特征排序后线性扫描所有阈值
func (b *treeBuilder) bestSplit(idx []int, parent float64) (int, float64, float64, bool) {
	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	minLeaf := b.tree.MinSamplesLeaf
	sorted := make([]int, len(idx))
	classification := b.tree.Task == TaskClassification

	for _, f := range b.candidateFeatures() {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		var leftCounts, rightCounts []float64
		var lw, lwy, lwy2, rw, rwy, rwy2 float64
		if classification {
			leftCounts = make([]float64, b.tree.NClasses)
			rightCounts = make([]float64, b.tree.NClasses)
		}
		for _, i := range sorted {
			if classification {
				rightCounts[int(b.y[i])] += b.w[i]
			} else {
				rwy += b.w[i] * b.y[i]
				rwy2 += b.w[i] * b.y[i] * b.y[i]
			}
			rw += b.w[i]
		}

		for pos := 0; pos < len(sorted)-1; pos++ {
			i := sorted[pos]
			wi := b.w[i]
			if classification {
				leftCounts[int(b.y[i])] += wi
				rightCounts[int(b.y[i])] -= wi
			} else {
				lwy += wi * b.y[i]
				lwy2 += wi * b.y[i] * b.y[i]
				rwy -= wi * b.y[i]
				rwy2 -= wi * b.y[i] * b.y[i]
			}
			lw += wi
			rw -= wi

			nLeft := pos + 1
			if nLeft < minLeaf || len(sorted)-nLeft < minLeaf {
				continue
			}
			cur, next := b.X[i][f], b.X[sorted[pos+1]][f]
			if cur == next {
				continue
			}

			var child float64
			if classification {
				child = gini(leftCounts, lw)*lw + gini(rightCounts, rw)*rw
			} else {
				child = sse(lw, lwy, lwy2) + sse(rw, rwy, rwy2)
			}
			if gain := parent - child; gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (cur + next) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestGain, bestFeature >= 0
}

func gini(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / total
		g -= p * p
	}
	return g
}

func sse(sw, swy, swy2 float64) float64 {
	if sw <= 0 {
		return 0
	}
	v := swy2 - swy*swy/sw
	if v < 0 {
		return 0
	}
	return v
}

// leaf 返回样本落入的叶节点
func (t *DecisionTree) leaf(x []float64) *TreeNode {
	node := t.Root
	for !node.Leaf {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node
}

// PredictProba 类别概率, 仅分类树可用
func (t *DecisionTree) PredictProba(X [][]float64) ([][]float64, error) {
	if t.Root == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, t.NFeatures); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, x := range X {
		v := t.leaf(x).Value
		row := make([]float64, len(v))
		copy(row, v)
		out[i] = row
	}
	return out, nil
}

// Predict 预测
func (t *DecisionTree) Predict(X [][]float64) ([]float64, error) {
	if t.Task == TaskClassification {
		proba, err := t.PredictProba(X)
		if err != nil {
			return nil, err
		}
		return LabelsFromProba(proba), nil
	}
	if t.Root == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, t.NFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = t.leaf(x).Value[0]
	}
	return out, nil
}

// GetParams 获取参数
func (t *DecisionTree) GetParams() Params {
	return Params{
		"max_depth":         float64(t.MaxDepth),
		"min_samples_split": float64(t.MinSamplesSplit),
		"min_samples_leaf":  float64(t.MinSamplesLeaf),
		"max_features":      t.MaxFeatures,
	}
}

// GetFeatureImportance 基于不纯度下降的特征重要性
func (t *DecisionTree) GetFeatureImportance() []float64 {
	return t.Importances
}
