package estimator

import "math"

// GaussianNB 高斯朴素贝叶斯
type GaussianNB struct {
	VarSmoothing float64
	NClasses     int
	NFeatures    int
	Priors       []float64
	Means        [][]float64
	Vars         [][]float64
}

// NewGaussianNB creates a Gaussian naive Bayes classifier
func NewGaussianNB(params Params, setup Setup) *GaussianNB {
	return &GaussianNB{
		VarSmoothing: params.Float("var_smoothing", 1e-9),
		NClasses:     setup.NClasses,
	}
}

// Fit 拟合
func (m *GaussianNB) Fit(X [][]float64, y []float64) error {
	return m.FitWeighted(X, y, nil)
}

// FitWeighted 加权拟合
func (m *GaussianNB) FitWeighted(X [][]float64, y, w []float64) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	w, err := checkWeights(w, len(X))
	if err != nil {
		return err
	}
	k := numClasses(y, m.NClasses)
	p := len(X[0])

	weight := make([]float64, k)
	means := make([][]float64, k)
	vars := make([][]float64, k)
	for c := 0; c < k; c++ {
		means[c] = make([]float64, p)
		vars[c] = make([]float64, p)
	}
	for i, row := range X {
		c := int(y[i])
		weight[c] += w[i]
		for j, v := range row {
			means[c][j] += w[i] * v
		}
	}
	for c := 0; c < k; c++ {
		if weight[c] == 0 {
			continue
		}
		for j := range means[c] {
			means[c][j] /= weight[c]
		}
	}

	// 方差平滑项与 sklearn 一致: 取特征最大方差的一个比例
	maxVar := 0.0
	for i, row := range X {
		c := int(y[i])
		for j, v := range row {
			d := v - means[c][j]
			vars[c][j] += w[i] * d * d
		}
	}
	for c := 0; c < k; c++ {
		for j := range vars[c] {
			if weight[c] > 0 {
				vars[c][j] /= weight[c]
			}
			maxVar = math.Max(maxVar, vars[c][j])
		}
	}
	eps := m.VarSmoothing * math.Max(maxVar, 1e-12)
	for c := 0; c < k; c++ {
		for j := range vars[c] {
			vars[c][j] += eps
		}
	}

	m.Priors = normalize(weight)
	m.Means = means
	m.Vars = vars
	m.NClasses = k
	m.NFeatures = p
	return nil
}

// PredictProba 后验概率
func (m *GaussianNB) PredictProba(X [][]float64) ([][]float64, error) {
	if m.Means == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, x := range X {
		logp := make([]float64, m.NClasses)
		for c := 0; c < m.NClasses; c++ {
			if m.Priors[c] == 0 {
				logp[c] = math.Inf(-1)
				continue
			}
			lp := math.Log(m.Priors[c])
			for j, v := range x {
				d := v - m.Means[c][j]
				lp -= 0.5*math.Log(2*math.Pi*m.Vars[c][j]) + d*d/(2*m.Vars[c][j])
			}
			logp[c] = lp
		}
		softmaxInPlace(logp)
		out[i] = logp
	}
	return out, nil
}

// Predict 预测
func (m *GaussianNB) Predict(X [][]float64) ([]float64, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return LabelsFromProba(proba), nil
}

// GetParams 获取参数
func (m *GaussianNB) GetParams() Params { return Params{"var_smoothing": m.VarSmoothing} }
