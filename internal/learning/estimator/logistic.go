package estimator

import "math"

// LogisticRegression 多项逻辑回归 (softmax), L2 正则, 全批量梯度下降
type LogisticRegression struct {
	C            float64
	MaxIter      int
	LearningRate float64
	NClasses     int
	NFeatures    int
	// Weights 每类一行, 最后一列为偏置
	Weights [][]float64
}

// NewLogisticRegression creates a softmax classifier
func NewLogisticRegression(params Params, setup Setup) *LogisticRegression {
	return &LogisticRegression{
		C:            params.Float("C", 1.0),
		MaxIter:      params.Int("max_iter", 300),
		LearningRate: params.Float("learning_rate", 0.5),
		NClasses:     setup.NClasses,
	}
}

// Fit 拟合
func (m *LogisticRegression) Fit(X [][]float64, y []float64) error {
	return m.FitWeighted(X, y, nil)
}

// FitWeighted 加权拟合
func (m *LogisticRegression) FitWeighted(X [][]float64, y, w []float64) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	w, err := checkWeights(w, len(X))
	if err != nil {
		return err
	}
	n, p := len(X), len(X[0])
	k := numClasses(y, m.NClasses)

	totalW := 0.0
	for _, v := range w {
		totalW += v
	}
	lambda := 1.0 / (m.C * float64(n))

	weights := make([][]float64, k)
	grad := make([][]float64, k)
	for c := range weights {
		weights[c] = make([]float64, p+1)
		grad[c] = make([]float64, p+1)
	}
	z := make([]float64, k)

	for iter := 0; iter < m.MaxIter; iter++ {
		for c := range grad {
			for j := range grad[c] {
				grad[c][j] = 0
			}
		}
		for i, row := range X {
			for c := 0; c < k; c++ {
				z[c] = dotBias(weights[c], row)
			}
			softmaxInPlace(z)
			label := int(y[i])
			for c := 0; c < k; c++ {
				diff := z[c]
				if c == label {
					diff -= 1
				}
				diff *= w[i]
				for j, v := range row {
					grad[c][j] += diff * v
				}
				grad[c][p] += diff
			}
		}
		maxStep := 0.0
		for c := 0; c < k; c++ {
			for j := 0; j <= p; j++ {
				g := grad[c][j] / totalW
				if j < p {
					g += lambda * weights[c][j]
				}
				step := m.LearningRate * g
				weights[c][j] -= step
				maxStep = math.Max(maxStep, math.Abs(step))
			}
		}
		if maxStep < 1e-7 {
			break
		}
	}

	m.Weights = weights
	m.NClasses = k
	m.NFeatures = p
	return nil
}

// PredictProba 类别概率
func (m *LogisticRegression) PredictProba(X [][]float64) ([][]float64, error) {
	if m.Weights == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		z := make([]float64, m.NClasses)
		for c := range z {
			z[c] = dotBias(m.Weights[c], row)
		}
		softmaxInPlace(z)
		out[i] = z
	}
	return out, nil
}

// Predict 预测类别
func (m *LogisticRegression) Predict(X [][]float64) ([]float64, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return LabelsFromProba(proba), nil
}

// GetParams 获取参数
func (m *LogisticRegression) GetParams() Params {
	return Params{"C": m.C, "max_iter": float64(m.MaxIter), "learning_rate": m.LearningRate}
}

// GetFeatureImportance 各类系数绝对值之和
func (m *LogisticRegression) GetFeatureImportance() []float64 {
	if m.Weights == nil {
		return nil
	}
	imp := make([]float64, m.NFeatures)
	for _, wc := range m.Weights {
		for j := 0; j < m.NFeatures; j++ {
			imp[j] += math.Abs(wc[j])
		}
	}
	return normalize(imp)
}

func dotBias(w, x []float64) float64 {
	s := w[len(x)]
	for j, v := range x {
		s += w[j] * v
	}
	return s
}
