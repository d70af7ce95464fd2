package evaluation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// 指标名
const (
	MetricAccuracy   = "accuracy"
	MetricPrecision  = "precision"
	MetricRecall     = "recall"
	MetricF1         = "f1"
	MetricROCAUC     = "roc_auc"
	MetricR2         = "r2"
	MetricAdjustedR2 = "adjusted_r2"
	MetricRMSE       = "rmse"
	MetricMAE        = "mae"
	MetricMAPE       = "mape"
)

// Metrics 指标名到数值
type Metrics map[string]float64

// HigherIsBetter reports the direction of a metric
func HigherIsBetter(metric string) bool {
	switch metric {
	case MetricRMSE, MetricMAE, MetricMAPE, "davies_bouldin":
		return false
	default:
		return true
	}
}

// ConfusionMatrix counts[true][pred] over classes 0..k-1
func ConfusionMatrix(yTrue, yPred []float64, k int) [][]int {
	m := make([][]int, k)
	for i := range m {
		m[i] = make([]int, k)
	}
	for i := range yTrue {
		t, p := int(yTrue[i]), int(yPred[i])
		if t >= 0 && t < k && p >= 0 && p < k {
			m[t][p]++
		}
	}
	return m
}

// Classification computes accuracy, precision/recall/F1 (binary average for two classes,
// support-weighted otherwise) and ROC-AUC when probabilities are given
func Classification(yTrue, yPred []float64, proba [][]float64, k int) (Metrics, [][]int) {
	if k < 2 {
		k = 2
	}
	cm := ConfusionMatrix(yTrue, yPred, k)
	m := Metrics{}
	n := len(yTrue)
	if n == 0 {
		return m, cm
	}
	correct := 0
	for c := 0; c < k; c++ {
		correct += cm[c][c]
	}
	m[MetricAccuracy] = float64(correct) / float64(n)

	prf := func(c int) (p, r, f float64, support int) {
		tp := cm[c][c]
		var predicted, actual int
		for j := 0; j < k; j++ {
			predicted += cm[j][c]
			actual += cm[c][j]
		}
		if predicted > 0 {
			p = float64(tp) / float64(predicted)
		}
		if actual > 0 {
			r = float64(tp) / float64(actual)
		}
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		return p, r, f, actual
	}

	if k == 2 {
		m[MetricPrecision], m[MetricRecall], m[MetricF1], _ = prf(1)
	} else {
		var wp, wr, wf float64
		for c := 0; c < k; c++ {
			p, r, f, s := prf(c)
			w := float64(s) / float64(n)
			wp += w * p
			wr += w * r
			wf += w * f
		}
		m[MetricPrecision], m[MetricRecall], m[MetricF1] = wp, wr, wf
	}

	if proba != nil {
		if auc, ok := ROCAUC(yTrue, proba, k); ok {
			m[MetricROCAUC] = auc
		}
	}
	return m, cm
}

// ROCAUC is the binary AUC of the positive class score, or the support-weighted
// one-vs-rest AUC for more classes. ok is false when only one class is present.
func ROCAUC(yTrue []float64, proba [][]float64, k int) (float64, bool) {
	if k == 2 {
		score := make([]float64, len(proba))
		pos := make([]bool, len(proba))
		for i, row := range proba {
			if len(row) > 1 {
				score[i] = row[1]
			}
			pos[i] = yTrue[i] == 1
		}
		return binaryAUC(score, pos)
	}
	var total, weighted float64
	for c := 0; c < k; c++ {
		score := make([]float64, len(proba))
		pos := make([]bool, len(proba))
		support := 0
		for i, row := range proba {
			if c < len(row) {
				score[i] = row[c]
			}
			if int(yTrue[i]) == c {
				pos[i] = true
				support++
			}
		}
		auc, ok := binaryAUC(score, pos)
		if !ok {
			continue
		}
		weighted += float64(support) * auc
		total += float64(support)
	}
	if total == 0 {
		return 0, false
	}
	return weighted / total, true
}

// binaryAUC uses the Mann–Whitney rank statistic with averaged ties
func binaryAUC(score []float64, pos []bool) (float64, bool) {
	idx := make([]int, len(score))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return score[idx[a]] < score[idx[b]] })
	ranks := make([]float64, len(score))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && score[idx[j+1]] == score[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for t := i; t <= j; t++ {
			ranks[idx[t]] = avg
		}
		i = j + 1
	}
	var nPos, nNeg, sumPos float64
	for i, p := range pos {
		if p {
			nPos++
			sumPos += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0, false
	}
	return (sumPos - nPos*(nPos+1)/2) / (nPos * nNeg), true
}

// Regression computes R², adjusted R², RMSE, MAE and MAPE (rows with zero truth are skipped for MAPE)
func Regression(yTrue, yPred []float64, nFeatures int) Metrics {
	m := Metrics{}
	n := len(yTrue)
	if n == 0 {
		return m
	}
	var se, ae, ape float64
	apeN := 0
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		se += d * d
		ae += math.Abs(d)
		if yTrue[i] != 0 {
			ape += math.Abs(d / yTrue[i])
			apeN++
		}
	}
	m[MetricRMSE] = math.Sqrt(se / float64(n))
	m[MetricMAE] = ae / float64(n)
	if apeN > 0 {
		m[MetricMAPE] = ape / float64(apeN) * 100
	}
	m[MetricR2] = R2(yTrue, yPred)
	if n-nFeatures-1 > 0 {
		m[MetricAdjustedR2] = 1 - (1-m[MetricR2])*float64(n-1)/float64(n-nFeatures-1)
	} else {
		m[MetricAdjustedR2] = m[MetricR2]
	}
	return m
}

// R2 is the coefficient of determination; a constant truth yields 0
func R2(yTrue, yPred []float64) float64 {
	mean := stat.Mean(yTrue, nil)
	var ssRes, ssTot float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		ssRes += d * d
		t := yTrue[i] - mean
		ssTot += t * t
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// Accuracy is the fraction of exact label matches
func Accuracy(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}
