package monitor

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"autoforge/internal/config"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/logger"
)

// Method 特征漂移检验方法
type Method string

const (
	MethodKS  Method = "ks"
	MethodPSI Method = "psi"
)

// psiEpsilon 空箱的平滑比例
const psiEpsilon = 1e-4

// ErrDegenerate 参考分布退化 (样本过少或为常数), 无法计算漂移分数
var ErrDegenerate = errors.New("degenerate reference distribution")

// PredictionDrift 预测分布漂移
type PredictionDrift struct {
	Method  string  `json:"method"`
	Score   float64 `json:"score"`
	Drifted bool    `json:"drifted"`
}

// DriftReport 一次漂移扫描的结果. 无法计算的特征分数为 nil, 原因记录在 Errors
type DriftReport struct {
	ModelID    string              `json:"model_id,omitempty"`
	Method     Method              `json:"method"`
	Scores     map[string]*float64 `json:"scores"`
	Drifted    []string            `json:"drifted_features"`
	DriftRatio float64             `json:"drift_ratio"`
	Alert      bool                `json:"alert"`
	Errors     map[string]string   `json:"errors,omitempty"`
	Prediction *PredictionDrift    `json:"prediction_drift,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

// DriftObserver 接收每份漂移报告, 例如导出指标
type DriftObserver interface {
	ObserveDrift(report *DriftReport)
}

// Monitor 模型监控: 特征漂移与预测漂移
type Monitor struct {
	method     Method
	thresholds config.Thresholds
	observer   DriftObserver
	logger     logger.Logger
}

// Option 监控选项
type Option func(*Monitor)

// WithObserver 注册漂移报告观察者
func WithObserver(o DriftObserver) Option {
	return func(m *Monitor) { m.observer = o }
}

// NewMonitor creates a monitor using the given feature drift test
func NewMonitor(method Method, th config.Thresholds, log logger.Logger, opts ...Option) *Monitor {
	if method != MethodPSI {
		method = MethodKS
	}
	m := &Monitor{method: method, thresholds: th, logger: logger.OrDefault(log)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Method returns the feature drift test in use
func (m *Monitor) Method() Method { return m.method }

// FeatureDrift compares every column of current against the same column of reference.
// Rows are samples and columns follow names. A feature whose score cannot be computed
// gets a nil score and an entry in Errors; the scan continues.
func (m *Monitor) FeatureDrift(names []string, reference, current [][]float64) *DriftReport {
	report := &DriftReport{
		Method:    m.method,
		Scores:    make(map[string]*float64, len(names)),
		Errors:    map[string]string{},
		Timestamp: time.Now().UTC(),
	}
	scored := 0
	for j, name := range names {
		score, drifted, err := m.featureScore(column(reference, j), column(current, j))
		if err != nil {
			report.Scores[name] = nil
			report.Errors[name] = apperrors.NewAppErrorWithDetails(apperrors.ErrCodeDriftComputation, "drift score unavailable", name, err).Error()
			m.logger.Warn("drift computation failed", "feature", name, "error", err)
			continue
		}
		s := score
		report.Scores[name] = &s
		scored++
		if drifted {
			report.Drifted = append(report.Drifted, name)
		}
	}
	if scored > 0 {
		report.DriftRatio = float64(len(report.Drifted)) / float64(scored)
	}
	report.Alert = report.DriftRatio > m.thresholds.DriftAlertRatio
	if report.Alert {
		m.logger.Warn("feature drift alert", "drifted", report.Drifted, "ratio", report.DriftRatio, "method", m.method)
	}
	return report
}

// Observe forwards a finished report to the observer
func (m *Monitor) Observe(report *DriftReport) {
	if m.observer != nil {
		m.observer.ObserveDrift(report)
	}
}

func (m *Monitor) featureScore(ref, cur []float64) (float64, bool, error) {
	if m.method == MethodPSI {
		psi, err := PSI(ref, cur, m.thresholds.PSIBins)
		if err != nil {
			return 0, false, err
		}
		return psi, psi > m.thresholds.PSIThreshold, nil
	}
	_, p, err := KSTest(ref, cur)
	if err != nil {
		return 0, false, err
	}
	return p, p < m.thresholds.DriftAlpha, nil
}

// PredictionDrift compares prediction distributions: KL divergence of the class
// histograms for classification, the KS statistic otherwise
func (m *Monitor) PredictionDrift(reference, current []float64, nClasses int) (*PredictionDrift, error) {
	if nClasses > 0 {
		kl := KLDivergence(histogram(current, nClasses), histogram(reference, nClasses))
		return &PredictionDrift{Method: "kl", Score: kl, Drifted: kl > m.thresholds.PredictionDriftThreshold}, nil
	}
	d, _, err := KSTest(reference, current)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDriftComputation, "prediction drift", err)
	}
	return &PredictionDrift{Method: "ks", Score: d, Drifted: d > m.thresholds.PredictionDriftThreshold}, nil
}

func column(X [][]float64, j int) []float64 {
	out := make([]float64, 0, len(X))
	for _, row := range X {
		if j < len(row) && !math.IsNaN(row[j]) {
			out = append(out, row[j])
		}
	}
	return out
}

func sorted(v []float64) []float64 {
	out := append([]float64(nil), v...)
	sort.Float64s(out)
	return out
}

func degenerate(ref []float64) bool {
	if len(ref) < 2 {
		return true
	}
	for _, v := range ref[1:] {
		if v != ref[0] {
			return false
		}
	}
	return true
}

// KSTest returns the two-sample Kolmogorov–Smirnov statistic and its asymptotic p-value
func KSTest(ref, cur []float64) (float64, float64, error) {
	if degenerate(ref) || len(cur) == 0 {
		return 0, 0, ErrDegenerate
	}
	a, b := sorted(ref), sorted(cur)
	d := stat.KolmogorovSmirnov(a, nil, b, nil)
	ne := float64(len(a)*len(b)) / float64(len(a)+len(b))
	en := math.Sqrt(ne)
	return d, kolmogorovQ((en + 0.12 + 0.11/en) * d), nil
}

// kolmogorovQ is the complementary Kolmogorov distribution function
func kolmogorovQ(lambda float64) float64 {
	const eps1, eps2 = 1e-3, 1e-8
	a2 := -2 * lambda * lambda
	fac, sum, prev := 2.0, 0.0, 0.0
	for j := 1; j <= 100; j++ {
		term := fac * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= eps1*prev || math.Abs(term) <= eps2*sum {
			return math.Max(0, math.Min(1, sum))
		}
		fac = -fac
		prev = math.Abs(term)
	}
	// 不收敛只发生在 lambda 很小时
	return 1
}

// PSI computes the population stability index over bins quantile edges of the
// reference; at least 10 bins are always used
func PSI(ref, cur []float64, bins int) (float64, error) {
	if bins < 10 {
		bins = 10
	}
	if degenerate(ref) || len(cur) == 0 {
		return 0, ErrDegenerate
	}
	a := sorted(ref)
	edges := psiEdges(a, bins)
	refShare := binShares(a, edges)
	curShare := binShares(cur, edges)
	psi := 0.0
	for i := range refShare {
		r := math.Max(refShare[i], psiEpsilon)
		c := math.Max(curShare[i], psiEpsilon)
		psi += (c - r) * math.Log(c/r)
	}
	return psi, nil
}

// psiEdges returns the interior quantile edges of sorted ref; repeated quantiles collapse
func psiEdges(a []float64, bins int) []float64 {
	edges := make([]float64, 0, bins-1)
	for k := 1; k < bins; k++ {
		q := stat.Quantile(float64(k)/float64(bins), stat.Empirical, a, nil)
		if len(edges) == 0 || q > edges[len(edges)-1] {
			edges = append(edges, q)
		}
	}
	return edges
}

// binShares buckets v into len(edges)+1 bins, bin i holding values ≤ edges[i]
func binShares(v []float64, edges []float64) []float64 {
	counts := make([]float64, len(edges)+1)
	for _, x := range v {
		counts[sort.SearchFloat64s(edges, x)]++
	}
	for i := range counts {
		counts[i] /= float64(len(v))
	}
	return counts
}

func histogram(labels []float64, k int) []float64 {
	h := make([]float64, k)
	for _, l := range labels {
		if c := int(l); c >= 0 && c < k {
			h[c]++
		}
	}
	return h
}

// KLDivergence returns KL(p‖q) of two histograms after additive smoothing
func KLDivergence(p, q []float64) float64 {
	ps, qs := smooth(p), smooth(q)
	kl := 0.0
	for i := range ps {
		kl += ps[i] * math.Log(ps[i]/qs[i])
	}
	return kl
}

func smooth(h []float64) []float64 {
	total := 0.0
	for _, v := range h {
		total += v + psiEpsilon
	}
	out := make([]float64, len(h))
	for i, v := range h {
		out[i] = (v + psiEpsilon) / total
	}
	return out
}
