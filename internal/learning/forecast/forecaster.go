package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/logger"
)

// minSeasonalACF 季节峰值的最小自相关
const minSeasonalACF = 0.3

// DetectSeasonality searches the autocorrelation function for its highest local peak.
// Lags are capped at half the series length. Returns period 0 when no peak clears minSeasonalACF.
func DetectSeasonality(y []float64) (int, float64) {
	n := len(y)
	maxLag := n / 2
	if maxLag < 3 {
		return 0, 0
	}
	acf := Autocorrelation(y, maxLag)
	best, bestVal := 0, minSeasonalACF
	for lag := 2; lag < maxLag; lag++ {
		if acf[lag] > acf[lag-1] && acf[lag] >= acf[lag+1] && acf[lag] > bestVal {
			best, bestVal = lag, acf[lag]
		}
	}
	if best == 0 {
		return 0, 0
	}
	return best, bestVal
}

// Autocorrelation returns acf[0..maxLag]
func Autocorrelation(y []float64, maxLag int) []float64 {
	mean := stat.Mean(y, nil)
	var denom float64
	for _, v := range y {
		denom += (v - mean) * (v - mean)
	}
	acf := make([]float64, maxLag+1)
	if denom == 0 {
		return acf
	}
	for lag := 0; lag <= maxLag && lag < len(y); lag++ {
		var num float64
		for t := lag; t < len(y); t++ {
			num += (y[t] - mean) * (y[t-lag] - mean)
		}
		acf[lag] = num / denom
	}
	return acf
}

// SeriesFromDataset orders rows by the time column and returns the target values.
// Rows with a missing timestamp or target are dropped.
func SeriesFromDataset(ds *dataset.Dataset, timeCol, target string) ([]float64, []time.Time, error) {
	tc, ok := ds.Column(timeCol)
	if !ok {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeValidation, "time column %q not found", timeCol)
	}
	yc, ok := ds.Column(target)
	if !ok || yc.Type != dataset.Numeric {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeValidation, "target %q must be a numeric column", target)
	}
	var idx []int
	for i := 0; i < ds.Len(); i++ {
		if !tc.IsMissing(i) && !yc.IsMissing(i) {
			idx = append(idx, i)
		}
	}
	stamp := func(i int) float64 {
		if tc.Type == dataset.Datetime {
			return float64(tc.Time[i].UnixNano())
		}
		return tc.Num[i]
	}
	if tc.Type == dataset.Categorical {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeValidation, "time column %q must be datetime or numeric", timeCol)
	}
	sort.SliceStable(idx, func(a, b int) bool { return stamp(idx[a]) < stamp(idx[b]) })

	y := make([]float64, len(idx))
	var ts []time.Time
	for j, i := range idx {
		y[j] = yc.Num[i]
		if tc.Type == dataset.Datetime {
			ts = append(ts, tc.Time[i])
		}
	}
	return y, ts, nil
}

// Candidate 参与自动选择的一个预测模型
type Candidate struct {
	Name string
	New  func() Model
}

// Forecast 每个预测步的点预测与置信区间
type Forecast struct {
	Point []float64 `json:"point"`
	Lower []float64 `json:"lower"`
	Upper []float64 `json:"upper"`
	Level float64   `json:"level"`
}

// Score 候选在留出段上的误差
type Score struct {
	Name  string  `json:"name"`
	RMSE  float64 `json:"rmse"`
	MAE   float64 `json:"mae"`
	Error string  `json:"error,omitempty"`
}

// Result 预测器输出
type Result struct {
	Selected    string    `json:"selected"`
	Model       Model     `json:"-"`
	Period      int       `json:"period"`
	ACFStrength float64   `json:"acf_strength"`
	Scores      []Score   `json:"scores"`
	Forecast    *Forecast `json:"forecast"`
}

// Forecaster 时间序列预测器
type Forecaster struct {
	horizon int
	level   float64
	logger  logger.Logger
}

// NewForecaster creates a forecaster with the given horizon and interval level (e.g. 0.95)
func NewForecaster(horizon int, level float64, log logger.Logger) *Forecaster {
	if horizon < 1 {
		horizon = 1
	}
	if level <= 0 || level >= 1 {
		level = 0.95
	}
	return &Forecaster{horizon: horizon, level: level, logger: logger.OrDefault(log)}
}

// Fit scores every candidate on a trailing holdout, refits the winner on the full series
// and forecasts the horizon
func (f *Forecaster) Fit(ctx context.Context, y []float64, candidates []Candidate) (*Result, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrCodeAllCandidatesFailed, "no forecasting candidates available", nil)
	}
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation, "series contains non-finite values")
		}
	}
	period, strength := DetectSeasonality(y)
	res := &Result{Period: period, ACFStrength: strength}

	holdout := f.horizon
	if limit := len(y) / 5; holdout > limit {
		holdout = limit
	}
	if holdout < 1 {
		holdout = 1
	}
	train, test := y[:len(y)-holdout], y[len(y)-holdout:]

	best, bestRMSE := -1, math.Inf(1)
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := Score{Name: c.Name}
		pred, err := fitAndForecast(c.New(), train, holdout)
		if err != nil {
			score.Error = err.Error()
			f.logger.Warn("forecast candidate failed", "candidate", c.Name, "error", err)
			res.Scores = append(res.Scores, score)
			continue
		}
		var se, ae float64
		for j := range test {
			d := test[j] - pred[j]
			se += d * d
			ae += math.Abs(d)
		}
		score.RMSE = math.Sqrt(se / float64(len(test)))
		score.MAE = ae / float64(len(test))
		res.Scores = append(res.Scores, score)
		if score.RMSE < bestRMSE {
			best, bestRMSE = i, score.RMSE
		}
	}
	if best < 0 {
		return nil, apperrors.NewAppError(apperrors.ErrCodeAllCandidatesFailed, "every forecasting candidate failed", nil)
	}

	winner := candidates[best]
	model := winner.New()
	if err := model.FitSeries(y); err != nil {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeCandidateFailure, "refit of selected forecaster failed", winner.Name, err)
	}
	fc, err := Predict(model, f.horizon, f.level)
	if err != nil {
		return nil, err
	}
	res.Selected = winner.Name
	res.Model = model
	res.Forecast = fc
	f.logger.Info("forecaster selected", "candidate", winner.Name, "holdout_rmse", bestRMSE, "period", period)
	return res, nil
}

func fitAndForecast(m Model, train []float64, h int) (pred []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := m.FitSeries(train); err != nil {
		return nil, err
	}
	return m.Forecast(h)
}

// Predict forecasts h steps with a symmetric normal interval widening with √step
func Predict(m Model, h int, level float64) (*Forecast, error) {
	point, err := m.Forecast(h)
	if err != nil {
		return nil, err
	}
	z := distuv.UnitNormal.Quantile(0.5 + level/2)
	sigma := m.Sigma()
	if math.IsNaN(sigma) || sigma < 0 {
		sigma = 0
	}
	fc := &Forecast{Point: point, Lower: make([]float64, h), Upper: make([]float64, h), Level: level}
	for i, p := range point {
		w := z * sigma * math.Sqrt(float64(i+1))
		fc.Lower[i] = p - w
		fc.Upper[i] = p + w
	}
	return fc, nil
}
