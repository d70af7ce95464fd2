package forecast

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned when Forecast is called before FitSeries
var ErrNotFitted = errors.New("forecast model is not fitted")

// Model 时间序列预测模型
type Model interface {
	FitSeries(y []float64) error
	// Forecast returns h point forecasts following the fitted series
	Forecast(h int) ([]float64, error)
	// Sigma is the standard deviation of the in-sample one-step residuals
	Sigma() float64
	GetParams() map[string]float64
}

func init() {
	gob.Register(&AutoARIMA{})
	gob.Register(&HoltWinters{})
}

// HoltWinters 加法趋势 (可选加法季节) 指数平滑
type HoltWinters struct {
	Alpha, Beta, Gamma float64
	Period             int
	Level, Trend       float64
	Season             []float64
	// Phase is the seasonal index of the first forecast step
	Phase int
	Resid float64
}

// NewHoltWinters creates an additive-trend smoother; period 0 means auto-detect
func NewHoltWinters(alpha, beta, gamma float64, period int) *HoltWinters {
	return &HoltWinters{Alpha: clamp01(alpha), Beta: clamp01(beta), Gamma: clamp01(gamma), Period: period}
}

func clamp01(v float64) float64 {
	return math.Max(0.01, math.Min(0.99, v))
}

// FitSeries runs the smoothing recursion; without a period it reduces to Holt's linear trend
func (m *HoltWinters) FitSeries(y []float64) error {
	if len(y) < 4 {
		return fmt.Errorf("series of length %d too short for trend smoothing", len(y))
	}
	period := m.Period
	if period == 0 {
		period, _ = DetectSeasonality(y)
	}
	if period >= 2 && len(y) < 2*period {
		period = 0
	}
	m.Period = period

	var level, trend float64
	season := make([]float64, max(period, 1))
	start := 1
	if period >= 2 {
		first := stat.Mean(y[:period], nil)
		second := stat.Mean(y[period:2*period], nil)
		level = first
		trend = (second - first) / float64(period)
		for i := 0; i < period; i++ {
			season[i] = y[i] - first
		}
		start = period
	} else {
		level = y[0]
		trend = y[1] - y[0]
	}

	var resid []float64
	for t := start; t < len(y); t++ {
		s := 0.0
		idx := 0
		if period >= 2 {
			idx = t % period
			s = season[idx]
		}
		pred := level + trend + s
		resid = append(resid, y[t]-pred)

		prevLevel := level
		level = m.Alpha*(y[t]-s) + (1-m.Alpha)*(level+trend)
		trend = m.Beta*(level-prevLevel) + (1-m.Beta)*trend
		if period >= 2 {
			season[idx] = m.Gamma*(y[t]-level) + (1-m.Gamma)*s
		}
	}
	m.Level, m.Trend, m.Season = level, trend, season
	if period >= 2 {
		m.Phase = len(y) % period
	}
	m.Resid = stat.StdDev(resid, nil)
	if math.IsNaN(m.Resid) {
		m.Resid = 0
	}
	return nil
}

// Forecast extrapolates level + h·trend + season
func (m *HoltWinters) Forecast(h int) ([]float64, error) {
	if m.Season == nil {
		return nil, ErrNotFitted
	}
	out := make([]float64, h)
	for i := 0; i < h; i++ {
		v := m.Level + float64(i+1)*m.Trend
		if m.Period >= 2 {
			v += m.Season[(m.Phase+i)%m.Period]
		}
		out[i] = v
	}
	return out, nil
}

// Sigma implements Model
func (m *HoltWinters) Sigma() float64 { return m.Resid }

// GetParams implements Model
func (m *HoltWinters) GetParams() map[string]float64 {
	return map[string]float64{"alpha": m.Alpha, "beta": m.Beta, "gamma": m.Gamma, "period": float64(m.Period)}
}
