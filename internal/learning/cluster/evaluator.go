package cluster

import (
	"context"
	"fmt"
	"math"

	"autoforge/internal/config"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/logger"
)

// Selection method of the sweep
const (
	SelectedBySilhouette = "silhouette"
	SelectedByElbow      = "elbow"
)

// SweepPoint 一个候选簇数的结果
type SweepPoint struct {
	K          int     `json:"k"`
	Inertia    float64 `json:"inertia"`
	Silhouette float64 `json:"silhouette"`
	Valid      bool    `json:"valid"`
}

// Sweep 簇数扫描结果
type Sweep struct {
	Points     []SweepPoint `json:"points"`
	BestK      int          `json:"best_k"`
	SelectedBy string       `json:"selected_by"`
}

// Evaluator 聚类评估器
type Evaluator struct {
	maxK      int
	sampleCap int
	seed      int64
	logger    logger.Logger
}

// NewEvaluator creates a cluster evaluator sweeping k in [2, maxK]
func NewEvaluator(maxK int, th config.Thresholds, seed int64, log logger.Logger) *Evaluator {
	if maxK < 2 {
		maxK = 2
	}
	return &Evaluator{maxK: maxK, sampleCap: th.SilhouetteSampleCap, seed: seed, logger: logger.OrDefault(log)}
}

// Score labels X with a fitted clusterer and computes the internal metrics
func (e *Evaluator) Score(m estimator.Model, X [][]float64) (map[string]float64, []int, error) {
	pred, err := m.Predict(X)
	if err != nil {
		return nil, nil, err
	}
	labels := make([]int, len(pred))
	for i, p := range pred {
		labels[i] = int(p)
	}
	return Scores(X, labels, e.sampleCap, e.seed), labels, nil
}

// SweepK fits k-means for every k and picks the k maximising silhouette.
// When no k yields a valid silhouette the elbow of the inertia curve is used.
func (e *Evaluator) SweepK(ctx context.Context, X [][]float64, params estimator.Params) (*Sweep, error) {
	maxK := e.maxK
	if maxK > len(X)-1 {
		maxK = len(X) - 1
	}
	if maxK < 2 {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientData, "cannot sweep cluster counts on %d rows", len(X))
	}

	sweep := &Sweep{}
	bestSil := math.Inf(-1)
	for k := 2; k <= maxK; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		km := estimator.NewKMeans(params.Merge(estimator.Params{"n_clusters": float64(k)}), estimator.Setup{Seed: e.seed})
		labels, err := km.FitPredict(X)
		if err != nil {
			e.logger.Debug("k-means failed during sweep", "k", k, "error", err)
			continue
		}
		p := SweepPoint{K: k, Inertia: km.Inertia()}
		if s, err := Silhouette(X, labels, e.sampleCap, e.seed); err == nil {
			p.Silhouette, p.Valid = s, true
			if s > bestSil {
				bestSil, sweep.BestK = s, k
			}
		}
		sweep.Points = append(sweep.Points, p)
	}
	if len(sweep.Points) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeAllCandidatesFailed, "k-means failed for every k in [2, %d]", maxK)
	}

	if sweep.BestK > 0 {
		sweep.SelectedBy = SelectedBySilhouette
	} else {
		ks := make([]int, len(sweep.Points))
		inertia := make([]float64, len(sweep.Points))
		for i, p := range sweep.Points {
			ks[i], inertia[i] = p.K, p.Inertia
		}
		sweep.BestK = ElbowK(ks, inertia)
		sweep.SelectedBy = SelectedByElbow
	}
	e.logger.Info("cluster count selected", "k", sweep.BestK, "by", sweep.SelectedBy, "max_k", maxK)
	return sweep, nil
}

// ElbowK returns the k with the largest second difference of inertia.
// Fewer than three points return the first k.
func ElbowK(ks []int, inertia []float64) int {
	if len(ks) == 0 {
		return 0
	}
	if len(ks) < 3 {
		return ks[0]
	}
	best, bestD := ks[1], math.Inf(-1)
	for i := 1; i < len(ks)-1; i++ {
		if d := inertia[i-1] - 2*inertia[i] + inertia[i+1]; d > bestD {
			best, bestD = ks[i], d
		}
	}
	return best
}

// String 便于日志输出
func (s *Sweep) String() string {
	return fmt.Sprintf("best_k=%d by=%s points=%d", s.BestK, s.SelectedBy, len(s.Points))
}
