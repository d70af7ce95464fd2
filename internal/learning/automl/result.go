package automl

import (
	"math"
	"time"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	"autoforge/internal/learning/catalog"
	"autoforge/internal/learning/cluster"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/explain"
	"autoforge/internal/learning/forecast"
	"autoforge/internal/learning/imbalance"
	"autoforge/internal/learning/tuning"
	"autoforge/internal/learning/validation"
)

// Status 运行结果状态
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request 一次流水线运行的输入
type Request struct {
	Dataset *dataset.Dataset
	// Target 为空时按聚类处理
	Target string
	// ProblemType 强制指定问题类型, 为空时自动检测
	ProblemType dataset.ProblemType
	TimeColumn  string
	DropColumns []string
	// Candidates 仅训练这些候选, 为空表示全部可用候选
	Candidates []string
	// Pipeline 覆盖引擎的流水线配置
	Pipeline *config.PipelineConfig
	RunID    string
}

// DatasetInfo 数据集规模
type DatasetInfo struct {
	Rows         int      `json:"rows"`
	TrainRows    int      `json:"train_rows"`
	TestRows     int      `json:"test_rows"`
	Features     int      `json:"n_features"`
	FeatureNames []string `json:"feature_names,omitempty"`
	Classes      []string `json:"classes,omitempty"`
	Dropped      []string `json:"dropped_columns,omitempty"`
}

// CandidateReport 排行榜中的一个候选
type CandidateReport struct {
	Candidate string             `json:"candidate"`
	Status    string             `json:"status"`
	Rank      int                `json:"rank,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Params    estimator.Params   `json:"params,omitempty"`
	CV        *validation.Result `json:"cross_validation,omitempty"`
	TrainTime time.Duration      `json:"train_time"`
	Error     string             `json:"error,omitempty"`
}

// EnsembleReport 集成结果, Selected 表示集成胜过了单模型
type EnsembleReport struct {
	Strategy string             `json:"strategy"`
	Members  []string           `json:"members"`
	Metrics  map[string]float64 `json:"metrics"`
	Selected bool               `json:"selected"`
}

// Result 流水线的单一结构化输出
type Result struct {
	RunID        string              `json:"run_id"`
	Status       Status              `json:"status"`
	ProblemType  dataset.ProblemType `json:"problem_type,omitempty"`
	TargetColumn string              `json:"target_column,omitempty"`
	Dataset      DatasetInfo         `json:"dataset"`

	Selected    []string          `json:"selected_candidates,omitempty"`
	Skipped     []catalog.Skipped `json:"skipped_candidates,omitempty"`
	Leaderboard []CandidateReport `json:"leaderboard,omitempty"`

	BestModel string             `json:"best_model,omitempty"`
	Metric    string             `json:"metric,omitempty"`
	Score     float64            `json:"score"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	ModelID   string             `json:"model_id,omitempty"`

	Imbalance     *imbalance.Report         `json:"imbalance,omitempty"`
	CrossVal      bool                      `json:"cross_validated"`
	LearningCurve *validation.LearningCurve `json:"learning_curve,omitempty"`
	Tuning        *tuning.Result            `json:"tuning,omitempty"`
	Ensemble      *EnsembleReport           `json:"ensemble,omitempty"`
	Clustering    *cluster.Sweep            `json:"cluster_sweep,omitempty"`
	Forecast      *forecast.Result          `json:"forecast,omitempty"`
	Explanation   *explain.Global           `json:"explanation,omitempty"`

	Warnings        []string `json:"warnings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Error           string   `json:"error,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Candidate returns the leaderboard entry of a candidate
func (r *Result) Candidate(name string) (CandidateReport, bool) {
	for _, c := range r.Leaderboard {
		if c.Candidate == name {
			return c, true
		}
	}
	return CandidateReport{}, false
}

// Trained returns the number of candidates that trained
func (r *Result) Trained() int {
	n := 0
	for _, c := range r.Leaderboard {
		if c.Status == statusTrained {
			n++
		}
	}
	return n
}

const (
	statusTrained = "trained"
	statusFailed  = "failed"
)

// finite 去掉 NaN/Inf, 结果需要能编码为 JSON
func finite(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}
