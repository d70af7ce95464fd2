package validation

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/stat"

	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/evaluation"
)

// DefaultFractions 学习曲线默认的训练集比例
var DefaultFractions = []float64{0.2, 0.4, 0.6, 0.8, 1.0}

// CurvePoint 学习曲线上的一点
type CurvePoint struct {
	Fraction   float64 `json:"fraction"`
	TrainSize  int     `json:"train_size"`
	TrainScore float64 `json:"train_score"`
	TestScore  float64 `json:"test_score"`
}

// LearningCurve 学习曲线与诊断
type LearningCurve struct {
	Metric         string       `json:"metric"`
	Points         []CurvePoint `json:"points"`
	// Slope 测试分数对 log2(训练样本数) 的回归斜率, 点数不足 3 个时为 0
	Slope          float64      `json:"slope"`
	Converged      bool         `json:"converged"`
	Overfitting    bool         `json:"overfitting"`
	Recommendation string       `json:"recommendation"`
}

// LearningCurve evaluates the model at increasing training fractions of every fold.
// The last improvement below the convergence threshold marks the curve converged.
func (cv *CrossValidator) LearningCurve(ctx context.Context, build Builder, data Data, fractions []float64) (*LearningCurve, error) {
	if len(fractions) == 0 {
		fractions = DefaultFractions
	}
	folds := cv.splitter.Split(len(data.X), data.Y)
	if len(folds) < 2 {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientData, "cannot build folds from %d rows", len(data.X))
	}
	metric := cv.Metric()
	rng := rand.New(rand.NewSource(int64(len(data.X))))
	curve := &LearningCurve{Metric: metric}

	for _, frac := range fractions {
		var trainScores, testScores []float64
		size := 0
		for _, fold := range folds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			train := append([]int(nil), fold.Train...)
			rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
			n := int(math.Ceil(frac * float64(len(train))))
			if n < 2 {
				continue
			}
			s, err := cv.runFold(build, data, Fold{Train: train[:n], Test: fold.Test})
			if err != nil {
				// 小样本可能使个别估计器无法拟合, 跳过该点
				cv.logger.Debug("learning curve point skipped", "fraction", frac, "error", err)
				continue
			}
			size = n
			trainScores = append(trainScores, s.train[metric])
			testScores = append(testScores, s.test[metric])
		}
		if len(testScores) == 0 {
			continue
		}
		curve.Points = append(curve.Points, CurvePoint{
			Fraction:   frac,
			TrainSize:  size,
			TrainScore: stat.Mean(trainScores, nil),
			TestScore:  stat.Mean(testScores, nil),
		})
	}
	if len(curve.Points) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeCandidateFailure, "no learning curve point could be fitted")
	}
	curve.Slope = curveSlope(curve.Points)
	cv.diagnose(curve)
	return curve, nil
}

// curveSlope fits test score against log2 of the training size
func curveSlope(points []CurvePoint) float64 {
	if len(points) < 3 {
		return 0
	}
	r := new(regression.Regression)
	r.SetObserved("test_score")
	r.SetVar(0, "log2_train_size")
	for _, p := range points {
		r.Train(regression.DataPoint(p.TestScore, []float64{math.Log2(float64(p.TrainSize))}))
	}
	if err := r.Run(); err != nil {
		return 0
	}
	coeffs := r.GetCoeffs()
	if len(coeffs) < 2 || math.IsNaN(coeffs[1]) || math.IsInf(coeffs[1], 0) {
		return 0
	}
	return coeffs[1]
}

func (cv *CrossValidator) diagnose(curve *LearningCurve) {
	higher := evaluation.HigherIsBetter(curve.Metric)
	last := curve.Points[len(curve.Points)-1]
	gap := last.TrainScore - last.TestScore
	if !higher {
		gap = -gap
	}
	curve.Overfitting = gap > cv.thresholds.OverfitGap

	if len(curve.Points) >= 2 {
		prev := curve.Points[len(curve.Points)-2]
		improvement := last.TestScore - prev.TestScore
		if !higher {
			improvement = -improvement
		}
		curve.Converged = improvement < cv.thresholds.ConvergenceImprovement
	}

	switch {
	case curve.Overfitting:
		curve.Recommendation = fmt.Sprintf("train/test gap %.3f exceeds %.2f: reduce model complexity or add regularisation", gap, cv.thresholds.OverfitGap)
	case !curve.Converged:
		curve.Recommendation = "test score is still improving with more data: collecting more samples is likely to help"
	default:
		curve.Recommendation = "learning curve has converged: more data is unlikely to help, try richer features"
	}
}
