package automl

import (
	"fmt"

	"autoforge/internal/dataset"
	"autoforge/internal/learning/cluster"
	"autoforge/internal/learning/evaluation"
	"autoforge/internal/learning/imbalance"
)

// 建议阈值
const (
	smallDatasetRows   = 100
	lowAccuracy        = 0.7
	lowR2              = 0.5
	weakSilhouette     = 0.25
	manyWarningsToNote = 5
)

// nextSteps appends data-quality warnings and suggested next steps for a successful run
func (r *run) nextSteps() {
	res := r.res
	if res.Dataset.Rows > 0 && res.Dataset.Rows < smallDatasetRows {
		r.warn(fmt.Sprintf("small dataset (%d rows): metrics may vary between runs", res.Dataset.Rows))
		r.recommend("collect more rows to make model selection more reliable")
	}
	if res.Imbalance != nil && res.Imbalance.Severity != imbalance.Balanced {
		r.recommend(fmt.Sprintf("classes are %s imbalanced (minority/majority %.2f, handled with %s); judge the model by f1 and recall rather than accuracy",
			res.Imbalance.Severity, res.Imbalance.Ratio, res.Imbalance.Strategy))
	}

	switch res.ProblemType {
	case dataset.Classification:
		if acc, ok := res.Metrics[evaluation.MetricAccuracy]; ok && acc < lowAccuracy {
			r.recommend(r.weakModelHint(fmt.Sprintf("accuracy %.2f is low", acc)))
		}
	case dataset.Regression:
		if r2, ok := res.Metrics[evaluation.MetricR2]; ok && r2 < lowR2 {
			r.recommend(r.weakModelHint(fmt.Sprintf("r2 %.2f is low", r2)))
		}
	case dataset.Clustering:
		if s, ok := res.Metrics[cluster.MetricSilhouette]; ok && s < weakSilhouette {
			r.recommend(fmt.Sprintf("weak cluster structure (silhouette %.2f); try dropping noisy columns or a different number of clusters", s))
		}
		if res.Clustering != nil && res.Clustering.BestK > 0 {
			r.recommend(fmt.Sprintf("k-means works best with %d clusters (%s)", res.Clustering.BestK, res.Clustering.SelectedBy))
		}
	case dataset.TimeSeries:
		if res.Forecast != nil && res.Forecast.Period == 0 {
			r.recommend("no seasonality detected; a longer history may reveal periodic patterns")
		}
	}

	if res.ProblemType == dataset.Classification || res.ProblemType == dataset.Regression {
		if res.Tuning == nil && !r.pipeline.Tuning {
			r.recommend("enable tuning to search hyperparameters of the best candidate")
		}
	}
	if len(res.Warnings) >= manyWarningsToNote {
		r.recommend(fmt.Sprintf("review the %d warnings before deploying the model", len(res.Warnings)))
	}
	if res.ModelID != "" {
		r.recommend(fmt.Sprintf("schedule drift checks for %s to catch distribution shift", res.ModelID))
	}
}

func (r *run) weakModelHint(prefix string) string {
	if !r.pipeline.FeatureEngineering {
		return prefix + "; enable feature engineering or add more informative features"
	}
	return prefix + "; add more informative features or more data"
}
