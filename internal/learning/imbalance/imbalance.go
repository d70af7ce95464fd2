package imbalance

import (
	"math"
	"math/rand"
	"sort"

	"autoforge/internal/config"
	"autoforge/internal/logger"
)

// Severity 不平衡程度
type Severity string

const (
	Balanced Severity = "balanced"
	Mild     Severity = "mild"
	Moderate Severity = "moderate"
	Severe   Severity = "severe"
)

// Strategy 处理策略
type Strategy string

const (
	StrategyNone             Strategy = "none"
	StrategyClassWeight      Strategy = "class_weight"
	StrategySMOTE            Strategy = "smote"
	StrategyRandomOversample Strategy = "random_oversample"
	StrategyCombined         Strategy = "oversample_class_weight"
)

// severeTargetRatio 严重不平衡时过采样到的少数/多数比例, 剩余差距由类权重补偿
const severeTargetRatio = 0.5

// defaultNeighbours SMOTE 默认近邻数
const defaultNeighbours = 5

// Report 类别分布分析结果
type Report struct {
	ClassCounts   []int    `json:"class_counts"`
	MinorityClass int      `json:"minority_class"`
	MajorityClass int      `json:"majority_class"`
	Ratio         float64  `json:"ratio"`
	Severity      Severity `json:"severity"`
	Strategy      Strategy `json:"strategy"`
}

// Resampled 处理后的训练数据. Weights 为 nil 表示不加权
type Resampled struct {
	X        [][]float64
	Y        []float64
	Weights  []float64
	Strategy Strategy
	// Fallback 为 true 表示合成过采样不可用, 已退回随机过采样
	Fallback bool
}

// Handler 不平衡数据处理器
type Handler struct {
	thresholds config.Thresholds
	caps       config.Capabilities
	seed       int64
	neighbours int
	logger     logger.Logger
}

// NewHandler creates a handler
func NewHandler(thresholds config.Thresholds, caps config.Capabilities, seed int64, log logger.Logger) *Handler {
	return &Handler{
		thresholds: thresholds,
		caps:       caps,
		seed:       seed,
		neighbours: defaultNeighbours,
		logger:     logger.OrDefault(log),
	}
}

// Classify maps a minority/majority ratio to a severity. Lower bounds are inclusive.
func Classify(ratio float64, t config.Thresholds) Severity {
	switch {
	case ratio >= t.ImbalanceBalanced:
		return Balanced
	case ratio >= t.ImbalanceMild:
		return Mild
	case ratio >= t.ImbalanceModerate:
		return Moderate
	default:
		return Severe
	}
}

// Recommend returns the strategy for a severity
func Recommend(s Severity) Strategy {
	switch s {
	case Mild:
		return StrategyClassWeight
	case Moderate:
		return StrategySMOTE
	case Severe:
		return StrategyCombined
	default:
		return StrategyNone
	}
}

// Analyze counts class labels 0..K-1 and classifies the skew
func (h *Handler) Analyze(y []float64, nClasses int) Report {
	counts := classCounts(y, nClasses)
	r := Report{ClassCounts: counts}
	minC, maxC := -1, -1
	for c, n := range counts {
		if n == 0 {
			continue
		}
		if minC < 0 || n < counts[minC] {
			minC = c
		}
		if maxC < 0 || n > counts[maxC] {
			maxC = c
		}
	}
	if maxC < 0 {
		r.Severity, r.Strategy = Balanced, StrategyNone
		return r
	}
	r.MinorityClass, r.MajorityClass = minC, maxC
	r.Ratio = float64(counts[minC]) / float64(counts[maxC])
	r.Severity = Classify(r.Ratio, h.thresholds)
	r.Strategy = Recommend(r.Severity)
	return r
}

func classCounts(y []float64, nClasses int) []int {
	k := nClasses
	for _, v := range y {
		if c := int(v) + 1; c > k {
			k = c
		}
	}
	counts := make([]int, k)
	for _, v := range y {
		if v >= 0 {
			counts[int(v)]++
		}
	}
	return counts
}

// ClassWeights returns total / (n_classes × class_count) per class; absent classes get 0
func ClassWeights(y []float64, nClasses int) []float64 {
	counts := classCounts(y, nClasses)
	present := 0
	for _, n := range counts {
		if n > 0 {
			present++
		}
	}
	w := make([]float64, len(counts))
	for c, n := range counts {
		if n > 0 {
			w[c] = float64(len(y)) / (float64(present) * float64(n))
		}
	}
	return w
}

// SampleWeights expands class weights to one weight per row
func SampleWeights(y []float64, classWeights []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = classWeights[int(v)]
	}
	return out
}

// Apply executes the report's strategy on the training partition only.
// Class weighting never resamples.
func (h *Handler) Apply(X [][]float64, y []float64, r Report) (*Resampled, error) {
	out := &Resampled{X: X, Y: y, Strategy: r.Strategy}
	nClasses := len(r.ClassCounts)
	switch r.Strategy {
	case StrategyNone:
		return out, nil
	case StrategyClassWeight:
		out.Weights = SampleWeights(y, ClassWeights(y, nClasses))
	case StrategySMOTE:
		out.X, out.Y, out.Fallback = h.oversample(X, y, nClasses, 1.0)
	case StrategyCombined:
		out.X, out.Y, out.Fallback = h.oversample(X, y, nClasses, severeTargetRatio)
		out.Weights = SampleWeights(out.Y, ClassWeights(out.Y, nClasses))
	}
	if out.Fallback && r.Strategy == StrategySMOTE {
		out.Strategy = StrategyRandomOversample
	}
	h.logger.Info("imbalance handled",
		"severity", r.Severity, "strategy", out.Strategy, "ratio", r.Ratio,
		"rows_before", len(y), "rows_after", len(out.Y), "fallback", out.Fallback)
	return out, nil
}

// oversample grows every class towards targetRatio × majority count. fallback reports
// whether random oversampling replaced synthetic sampling for any class.
func (h *Handler) oversample(X [][]float64, y []float64, nClasses int, targetRatio float64) ([][]float64, []float64, bool) {
	rng := rand.New(rand.NewSource(h.seed))
	byClass := make([][]int, len(classCounts(y, nClasses)))
	for i, v := range y {
		byClass[int(v)] = append(byClass[int(v)], i)
	}
	majority := 0
	for _, idx := range byClass {
		if len(idx) > majority {
			majority = len(idx)
		}
	}
	outX := append([][]float64(nil), X...)
	outY := append([]float64(nil), y...)
	fallback := false
	for c, idx := range byClass {
		want := int(math.Ceil(targetRatio*float64(majority))) - len(idx)
		if len(idx) == 0 || want <= 0 {
			continue
		}
		var synth [][]float64
		if h.caps.Has(config.CapSyntheticOversampling) && len(idx) >= 2 {
			synth = SMOTE(X, idx, want, h.neighbours, rng)
		} else {
			if !h.caps.Has(config.CapSyntheticOversampling) {
				h.logger.Warn("synthetic oversampling unavailable, using random oversampling", "class", c)
			}
			synth = RandomOversample(X, idx, want, rng)
			fallback = true
		}
		for _, row := range synth {
			outX = append(outX, row)
			outY = append(outY, float64(c))
		}
	}
	return outX, outY, fallback
}

// EffectiveNeighbours caps k at minority_count − 1
func EffectiveNeighbours(k, minority int) int {
	if k > minority-1 {
		k = minority - 1
	}
	if k < 0 {
		k = 0
	}
	return k
}

// SMOTE synthesises n rows by interpolating members of one class (rows idx) towards
// one of their k nearest same-class neighbours. k is capped at len(idx)−1; with a
// single member it degrades to random oversampling.
func SMOTE(X [][]float64, idx []int, n, k int, rng *rand.Rand) [][]float64 {
	k = EffectiveNeighbours(k, len(idx))
	if k == 0 {
		return RandomOversample(X, idx, n, rng)
	}
	cache := make(map[int][]int)
	out := make([][]float64, 0, n)
	for s := 0; s < n; s++ {
		base := idx[rng.Intn(len(idx))]
		nn, ok := cache[base]
		if !ok {
			nn = nearest(X, idx, base, k)
			cache[base] = nn
		}
		other := X[nn[rng.Intn(len(nn))]]
		gap := rng.Float64()
		row := make([]float64, len(X[base]))
		for j := range row {
			row[j] = X[base][j] + gap*(other[j]-X[base][j])
		}
		out = append(out, row)
	}
	return out
}

func nearest(X [][]float64, idx []int, base, k int) []int {
	type cand struct {
		i int
		d float64
	}
	cands := make([]cand, 0, len(idx)-1)
	for _, i := range idx {
		if i == base {
			continue
		}
		var d float64
		for j := range X[base] {
			diff := X[base][j] - X[i][j]
			d += diff * diff
		}
		cands = append(cands, cand{i, d})
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].d < cands[b].d })
	out := make([]int, k)
	for j := 0; j < k; j++ {
		out[j] = cands[j].i
	}
	return out
}

// RandomOversample duplicates n randomly chosen rows of the class
func RandomOversample(X [][]float64, idx []int, n int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, n)
	for s := range out {
		out[s] = append([]float64(nil), X[idx[rng.Intn(len(idx))]]...)
	}
	return out
}
