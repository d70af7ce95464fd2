package preprocess

import (
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit 按类别分层抽取测试集, 每个类别的测试比例尽量等于 fraction.
// 类别至少有 2 行时保证训练集和测试集各至少 1 行.
func StratifiedSplit(y []float64, fraction float64, seed int64) (train, test []int) {
	groups := make(map[float64][]int)
	for i, v := range y {
		groups[v] = append(groups[v], i)
	}
	keys := make([]float64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Float64s(keys)

	rng := rand.New(rand.NewSource(seed))
	for _, k := range keys {
		idx := groups[k]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := int(math.Round(fraction * float64(len(idx))))
		if len(idx) >= 2 {
			nTest = clampInt(nTest, 1, len(idx)-1)
		} else {
			nTest = 0
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// RandomSplit 随机划分
func RandomSplit(n int, fraction float64, seed int64) (train, test []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := clampInt(int(math.Round(fraction*float64(n))), 1, n-1)
	test = append(test, perm[:nTest]...)
	train = append(train, perm[nTest:]...)
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// TailSplit 时间顺序划分, 测试集严格位于训练集之后
func TailSplit(n int, fraction float64) (train, test []int) {
	nTest := clampInt(int(math.Round(fraction*float64(n))), 1, n-1)
	for i := 0; i < n; i++ {
		if i < n-nTest {
			train = append(train, i)
		} else {
			test = append(test, i)
		}
	}
	return train, test
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
