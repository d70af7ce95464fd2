package forecast

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sartorproj/goarima/autoarima"
	"gonum.org/v1/gonum/stat"
)

// arimaFit is the fitted result returned by autoarima
type arimaFit interface {
	Predict(h int) ([]float64, error)
}

// AutoARIMA 自动定阶的 (S)ARIMA 模型, 搜索和估计由 goarima 完成.
// 拟合结果不参与 gob 编码: 模型保存序列和选中的阶数, 加载后第一次预测时重新搜索.
type AutoARIMA struct {
	Seasonal bool
	// Period 为 0 时按自相关自动检测
	Period     int
	MaxP, MaxQ int
	History    []float64

	P, D, Q    int
	SP, SD, SQ int
	AIC        float64
	Evaluated  int
	Resid      float64

	mu  sync.Mutex
	fit arimaFit
}

// NewAutoARIMA creates a non-seasonal ARIMA searched up to (maxP, 2, maxQ)
func NewAutoARIMA(maxP, maxQ int) *AutoARIMA {
	return &AutoARIMA{MaxP: max(maxP, 1), MaxQ: max(maxQ, 0)}
}

// NewSeasonalAutoARIMA creates a SARIMA search; period 0 means auto-detect
func NewSeasonalAutoARIMA(maxP, maxQ, period int) *AutoARIMA {
	m := NewAutoARIMA(maxP, maxQ)
	m.Seasonal = true
	m.Period = period
	return m
}

func (m *AutoARIMA) search(y []float64) (arimaFit, error) {
	cfg := autoarima.DefaultConfig()
	cfg.MaxP = m.MaxP
	cfg.MaxQ = m.MaxQ
	cfg.Criterion = "aicc"
	cfg.Stepwise = true
	if m.Seasonal {
		cfg.Seasonal = true
		cfg.SeasonalM = m.Period
	}
	res, err := autoarima.AutoARIMA(y, cfg)
	if err != nil {
		return nil, fmt.Errorf("auto arima: %w", err)
	}
	m.P, m.D, m.Q = res.P, res.D, res.Q
	m.SP, m.SD, m.SQ = res.SP, res.SD, res.SQ
	m.AIC, m.Evaluated = res.AIC, res.ModelsEvaluated
	return res, nil
}

// FitSeries 选择阶数并拟合, 残差标准差取尾部回测的 RMSE
func (m *AutoARIMA) FitSeries(y []float64) error {
	if m.Seasonal {
		period := m.Period
		if period == 0 {
			period, _ = DetectSeasonality(y)
		}
		if period < 2 {
			return errors.New("no seasonality detected")
		}
		if len(y) < 2*period+4 {
			return fmt.Errorf("series of length %d too short for period %d", len(y), period)
		}
		m.Period = period
	}
	if len(y) < 8 {
		return fmt.Errorf("series of length %d too short for arima", len(y))
	}

	resid := m.backtest(y)
	fit, err := m.search(y)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fit = fit
	m.History = append([]float64(nil), y...)
	m.Resid = resid
	return nil
}

// backtest 在前缀上拟合, 用尾部 holdout 的误差估计 sigma; 失败时退化为一阶差分的标准差
func (m *AutoARIMA) backtest(y []float64) float64 {
	holdout := max(len(y)/5, 2)
	if m.Seasonal {
		holdout = min(holdout, m.Period)
	}
	prefix := y[:len(y)-holdout]
	prefixModel := &AutoARIMA{Seasonal: m.Seasonal, Period: m.Period, MaxP: m.MaxP, MaxQ: m.MaxQ}
	if fit, err := prefixModel.search(prefix); err == nil {
		if pred, err := fit.Predict(holdout); err == nil && len(pred) == holdout {
			ss := 0.0
			for i, v := range pred {
				d := y[len(prefix)+i] - v
				ss += d * d
			}
			if rmse := math.Sqrt(ss / float64(holdout)); !math.IsNaN(rmse) && !math.IsInf(rmse, 0) {
				return rmse
			}
		}
	}
	diffs := make([]float64, len(y)-1)
	for i := range diffs {
		diffs[i] = y[i+1] - y[i]
	}
	return stat.StdDev(diffs, nil)
}

// fitted returns the search result, repeating the search on History after decoding
func (m *AutoARIMA) fitted() (arimaFit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fit != nil {
		return m.fit, nil
	}
	if m.History == nil {
		return nil, ErrNotFitted
	}
	fit, err := m.search(m.History)
	if err != nil {
		return nil, err
	}
	m.fit = fit
	return fit, nil
}

// Forecast implements Model
func (m *AutoARIMA) Forecast(h int) ([]float64, error) {
	fit, err := m.fitted()
	if err != nil {
		return nil, err
	}
	out, err := fit.Predict(h)
	if err != nil {
		return nil, fmt.Errorf("arima forecast: %w", err)
	}
	if len(out) != h {
		return nil, fmt.Errorf("arima returned %d forecasts for horizon %d", len(out), h)
	}
	return out, nil
}

// Sigma implements Model
func (m *AutoARIMA) Sigma() float64 { return m.Resid }

// GetParams implements Model
func (m *AutoARIMA) GetParams() map[string]float64 {
	params := map[string]float64{
		"p": float64(m.P), "d": float64(m.D), "q": float64(m.Q),
		"aic": m.AIC,
	}
	if m.Seasonal {
		params["seasonal_p"] = float64(m.SP)
		params["seasonal_d"] = float64(m.SD)
		params["seasonal_q"] = float64(m.SQ)
		params["period"] = float64(m.Period)
	}
	return params
}
