package testutils

import (
	"math"
	"math/rand"

	"autoforge/internal/dataset"
)

// BinaryClassification 生成二分类数据: 3 个数值特征 + 1 个类别特征, 目标为 "yes"/"no"
func BinaryClassification(n int, seed int64) *dataset.Dataset {
	rng := rand.New(rand.NewSource(seed))
	x1, x2, x3 := make([]float64, n), make([]float64, n), make([]float64, n)
	colour := make([]string, n)
	target := make([]string, n)
	colours := []string{"red", "green", "blue"}
	for i := 0; i < n; i++ {
		x1[i] = rng.NormFloat64()
		x2[i] = rng.NormFloat64()
		x3[i] = rng.Float64() * 10
		colour[i] = colours[rng.Intn(len(colours))]
		score := 2*x1[i] - 1.5*x2[i] + 0.1*(x3[i]-5) + 0.3*rng.NormFloat64()
		if colour[i] == "red" {
			score += 0.5
		}
		if score > 0 {
			target[i] = "yes"
		} else {
			target[i] = "no"
		}
	}
	return dataset.MustNew(
		dataset.NewNumeric("x1", x1),
		dataset.NewNumeric("x2", x2),
		dataset.NewNumeric("x3", x3),
		dataset.NewCategorical("colour", colour),
		dataset.NewCategorical("target", target),
	)
}

// MultiClass 生成 k 类数值标签数据, 每类围绕不同中心
func MultiClass(n, k int, seed int64) *dataset.Dataset {
	rng := rand.New(rand.NewSource(seed))
	x1, x2 := make([]float64, n), make([]float64, n)
	label := make([]float64, n)
	for i := 0; i < n; i++ {
		c := i % k
		angle := 2 * math.Pi * float64(c) / float64(k)
		x1[i] = 4*math.Cos(angle) + rng.NormFloat64()*0.6
		x2[i] = 4*math.Sin(angle) + rng.NormFloat64()*0.6
		label[i] = float64(c)
	}
	return dataset.MustNew(
		dataset.NewNumeric("x1", x1),
		dataset.NewNumeric("x2", x2),
		dataset.NewNumeric("label", label),
	)
}

// Imbalanced 生成少数类比例为 minority 的二分类数据
func Imbalanced(n int, minority float64, seed int64) *dataset.Dataset {
	rng := rand.New(rand.NewSource(seed))
	x1, x2 := make([]float64, n), make([]float64, n)
	target := make([]string, n)
	nMinority := int(math.Round(float64(n) * minority))
	for i := 0; i < n; i++ {
		if i < nMinority {
			target[i] = "rare"
			x1[i] = 2 + rng.NormFloat64()
			x2[i] = 2 + rng.NormFloat64()
		} else {
			target[i] = "common"
			x1[i] = rng.NormFloat64()
			x2[i] = rng.NormFloat64()
		}
	}
	return dataset.MustNew(
		dataset.NewNumeric("x1", x1),
		dataset.NewNumeric("x2", x2),
		dataset.NewCategorical("target", target),
	)
}

// Regression 生成线性回归数据 y = 3x1 - 2x2 + 0.5x3 + noise
func Regression(n int, seed int64) *dataset.Dataset {
	rng := rand.New(rand.NewSource(seed))
	x1, x2, x3 := make([]float64, n), make([]float64, n), make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x1[i] = rng.NormFloat64()
		x2[i] = rng.NormFloat64()
		x3[i] = rng.Float64() * 4
		y[i] = 3*x1[i] - 2*x2[i] + 0.5*x3[i] + 0.1*rng.NormFloat64()
	}
	return dataset.MustNew(
		dataset.NewNumeric("x1", x1),
		dataset.NewNumeric("x2", x2),
		dataset.NewNumeric("x3", x3),
		dataset.NewNumeric("y", y),
	)
}

// Matrix 生成 n×p 的标准正态矩阵与线性目标
func Matrix(n, p int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		X[i] = make([]float64, p)
		for j := range X[i] {
			X[i][j] = rng.NormFloat64()
			y[i] += float64(j+1) * X[i][j]
		}
		y[i] += 0.05 * rng.NormFloat64()
	}
	return X, y
}

// Blobs 生成围绕 centers 个中心的聚类数据, 返回特征与真实簇标签
func Blobs(n, centers int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % centers
		X[i] = []float64{
			float64(c)*10 + rng.NormFloat64()*0.5,
			float64(c%2)*10 + rng.NormFloat64()*0.5,
		}
		labels[i] = c
	}
	return X, labels
}

// SeasonalSeries 生成带线性趋势和周期为 period 的正弦季节项的序列
func SeasonalSeries(n, period int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = 10 + 0.05*float64(i) + 3*math.Sin(2*math.Pi*float64(i)/float64(period)) + 0.2*rng.NormFloat64()
	}
	return out
}

// WithMissingTarget 把目标列中 fraction 比例的行置为缺失
func WithMissingTarget(d *dataset.Dataset, target string, fraction float64) *dataset.Dataset {
	col, ok := d.Column(target)
	if !ok {
		return d
	}
	idx := make([]int, d.Len())
	for i := range idx {
		idx[i] = i
	}
	masked := col.Take(idx)
	nMissing := int(math.Round(fraction * float64(d.Len())))
	for i := 0; i < nMissing; i++ {
		switch masked.Type {
		case dataset.Numeric:
			masked.Num[i] = math.NaN()
		case dataset.Categorical:
			masked.Str[i] = ""
		}
	}
	out, _ := d.Without(target).With(masked)
	return out
}
