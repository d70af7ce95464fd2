package dataset

// ProblemType 预测问题类型
type ProblemType string

const (
	Classification ProblemType = "classification"
	Regression     ProblemType = "regression"
	Clustering     ProblemType = "clustering"
	TimeSeries     ProblemType = "time_series"
)

// Supervised reports whether the problem has a target column
func (p ProblemType) Supervised() bool {
	return p == Classification || p == Regression || p == TimeSeries
}

// Valid reports whether p is one of the known problem types
func (p ProblemType) Valid() bool {
	switch p {
	case Classification, Regression, Clustering, TimeSeries:
		return true
	}
	return false
}

// ProblemSpec 在流水线开始时创建一次, 之后不可变
type ProblemSpec struct {
	ProblemType  ProblemType `json:"problem_type"`
	TargetColumn string      `json:"target_column"`
	TimeColumn   string      `json:"time_column,omitempty"`
	RandomSeed   int64       `json:"random_seed"`
	TestFraction float64     `json:"test_fraction"`
}
