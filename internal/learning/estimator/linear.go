package estimator

import (
	"errors"
	"fmt"
	"math"

	"github.com/YuminosukeSato/scigo/linear"
	"gonum.org/v1/gonum/mat"
)

// LinearRegression 普通最小二乘回归, 由 scigo 的 linear 包求解.
// 拟合后在原点和各单位向量上读出截距与系数, 之后的预测和持久化只依赖这些系数.
type LinearRegression struct {
	// Coefficients 第一个元素为截距
	Coefficients []float64
	NFeatures    int
}

// NewLinearRegression creates an ordinary least squares model
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

// Fit 拟合
func (m *LinearRegression) Fit(X [][]float64, y []float64) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	p := len(X[0])
	if len(X) <= p+1 {
		return fmt.Errorf("linear regression needs more rows (%d) than coefficients (%d)", len(X), p+1)
	}

	ols := linear.NewLinearRegression()
	if err := ols.Fit(denseOf(X), columnOf(y)); err != nil {
		return fmt.Errorf("least squares failed: %w", err)
	}
	basis := mat.NewDense(p+1, p, nil)
	for j := 0; j < p; j++ {
		basis.Set(j+1, j, 1)
	}
	out, err := ols.Predict(basis)
	if err != nil {
		return fmt.Errorf("least squares predict: %w", err)
	}

	coeffs := make([]float64, p+1)
	coeffs[0] = out.At(0, 0)
	for j := 1; j <= p; j++ {
		coeffs[j] = out.At(j, 0) - coeffs[0]
	}
	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return errors.New("least squares produced non-finite coefficients (collinear features?)")
		}
	}
	m.Coefficients = coeffs
	m.NFeatures = p
	return nil
}

// Predict 预测
func (m *LinearRegression) Predict(X [][]float64) ([]float64, error) {
	if m.Coefficients == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	return linearPredict(X, m.Coefficients[0], m.Coefficients[1:]), nil
}

// GetParams 获取参数
func (m *LinearRegression) GetParams() Params { return Params{} }

// GetFeatureImportance 系数绝对值
func (m *LinearRegression) GetFeatureImportance() []float64 {
	if m.Coefficients == nil {
		return nil
	}
	return absNormalized(m.Coefficients[1:])
}

// Ridge L2 正则线性回归, 通过正规方程和 Cholesky 分解求解
type Ridge struct {
	Alpha     float64
	Intercept float64
	Coef      []float64
	NFeatures int
}

// NewRidge creates a ridge regressor
func NewRidge(params Params) *Ridge {
	return &Ridge{Alpha: params.Float("alpha", 1.0)}
}

// Fit 拟合
func (m *Ridge) Fit(X [][]float64, y []float64) error {
	return m.FitWeighted(X, y, nil)
}

// FitWeighted 加权拟合
func (m *Ridge) FitWeighted(X [][]float64, y, w []float64) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	w, err := checkWeights(w, len(X))
	if err != nil {
		return err
	}
	n, p := len(X), len(X[0])

	xMean, yMean := weightedMeans(X, y, w)

	// 中心化并按 sqrt(w) 缩放
	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		for j := 0; j < p; j++ {
			xc.Set(i, j, (X[i][j]-xMean[j])*sw)
		}
		yc.SetVec(i, (y[i]-yMean)*sw)
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, xc.T())
	for j := 0; j < p; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+m.Alpha+1e-10)
	}

	var xty mat.VecDense
	xty.MulVec(xc.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return errors.New("ridge normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return fmt.Errorf("ridge solve failed: %w", err)
	}

	m.Coef = make([]float64, p)
	intercept := yMean
	for j := 0; j < p; j++ {
		m.Coef[j] = beta.AtVec(j)
		intercept -= m.Coef[j] * xMean[j]
	}
	m.Intercept = intercept
	m.NFeatures = p
	return nil
}

// Predict 预测
func (m *Ridge) Predict(X [][]float64) ([]float64, error) {
	if m.Coef == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	return linearPredict(X, m.Intercept, m.Coef), nil
}

// GetParams 获取参数
func (m *Ridge) GetParams() Params { return Params{"alpha": m.Alpha} }

// GetFeatureImportance 系数绝对值
func (m *Ridge) GetFeatureImportance() []float64 { return absNormalized(m.Coef) }

// Lasso L1 正则线性回归, 坐标下降求解
type Lasso struct {
	Alpha     float64
	MaxIter   int
	Tol       float64
	Intercept float64
	Coef      []float64
	NFeatures int
}

// NewLasso creates a lasso regressor
func NewLasso(params Params) *Lasso {
	return &Lasso{
		Alpha:   params.Float("alpha", 0.01),
		MaxIter: params.Int("max_iter", 1000),
		Tol:     1e-6,
	}
}

// Fit 拟合
func (m *Lasso) Fit(X [][]float64, y []float64) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	n, p := len(X), len(X[0])
	xMean, yMean := weightedMeans(X, y, uniformWeights(n))

	xc := make([][]float64, n)
	for i := range X {
		xc[i] = make([]float64, p)
		for j := range X[i] {
			xc[i][j] = X[i][j] - xMean[j]
		}
	}
	sq := make([]float64, p)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			sq[j] += xc[i][j] * xc[i][j]
		}
		sq[j] /= float64(n)
	}

	beta := make([]float64, p)
	resid := make([]float64, n)
	for i := range resid {
		resid[i] = y[i] - yMean
	}

	for iter := 0; iter < m.MaxIter; iter++ {
		maxDelta := 0.0
		for j := 0; j < p; j++ {
			if sq[j] == 0 {
				continue
			}
			rho := 0.0
			for i := 0; i < n; i++ {
				rho += xc[i][j] * (resid[i] + xc[i][j]*beta[j])
			}
			rho /= float64(n)
			next := softThreshold(rho, m.Alpha) / sq[j]
			if delta := next - beta[j]; delta != 0 {
				for i := 0; i < n; i++ {
					resid[i] -= xc[i][j] * delta
				}
				maxDelta = math.Max(maxDelta, math.Abs(delta))
				beta[j] = next
			}
		}
		if maxDelta < m.Tol {
			break
		}
	}

	intercept := yMean
	for j := range beta {
		intercept -= beta[j] * xMean[j]
	}
	m.Coef = beta
	m.Intercept = intercept
	m.NFeatures = p
	return nil
}

// Predict 预测
func (m *Lasso) Predict(X [][]float64) ([]float64, error) {
	if m.Coef == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	return linearPredict(X, m.Intercept, m.Coef), nil
}

// GetParams 获取参数
func (m *Lasso) GetParams() Params { return Params{"alpha": m.Alpha, "max_iter": float64(m.MaxIter)} }

// GetFeatureImportance 系数绝对值
func (m *Lasso) GetFeatureImportance() []float64 { return absNormalized(m.Coef) }

func softThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	default:
		return 0
	}
}

func weightedMeans(X [][]float64, y, w []float64) ([]float64, float64) {
	p := len(X[0])
	xMean := make([]float64, p)
	yMean, total := 0.0, 0.0
	for i := range X {
		for j := 0; j < p; j++ {
			xMean[j] += w[i] * X[i][j]
		}
		yMean += w[i] * y[i]
		total += w[i]
	}
	for j := range xMean {
		xMean[j] /= total
	}
	return xMean, yMean / total
}

func linearPredict(X [][]float64, intercept float64, coef []float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		v := intercept
		for j, c := range coef {
			v += c * row[j]
		}
		out[i] = v
	}
	return out
}

func absNormalized(coef []float64) []float64 {
	out := make([]float64, len(coef))
	for i, c := range coef {
		out[i] = math.Abs(c)
	}
	return normalize(out)
}
