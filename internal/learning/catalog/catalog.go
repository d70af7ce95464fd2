package catalog

import (
	"fmt"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/forecast"
)

// Kind 候选模型的变体标签
type Kind string

const (
	KindSupervised Kind = "supervised"
	KindClusterer  Kind = "clusterer"
	KindSeries     Kind = "series"
)

// Constructor 表格模型构造函数
type Constructor func(params estimator.Params, setup estimator.Setup) estimator.Model

// SeriesConstructor 时间序列模型构造函数
type SeriesConstructor func(params estimator.Params) forecast.Model

// Candidate 候选算法描述符, 存放在静态注册表中, 不可变
type Candidate struct {
	Name        string
	ProblemType dataset.ProblemType
	Kind        Kind
	New         Constructor
	NewSeries   SeriesConstructor
	Defaults    estimator.Params

	MinSamples int
	// MaxSamples 0 表示不限制, 仅对扩展性差的算法设置
	MaxSamples         int
	SupportsMulticlass bool
	RequiresCapability config.Capability
}

// Build constructs an estimator from the defaults overlaid with override
func (c Candidate) Build(override estimator.Params, setup estimator.Setup) (estimator.Model, error) {
	if c.New == nil {
		return nil, fmt.Errorf("candidate %s (%s) has no tabular constructor", c.Name, c.ProblemType)
	}
	return c.New(c.Defaults.Merge(override), setup), nil
}

// BuildSeries constructs a forecasting model
func (c Candidate) BuildSeries(override estimator.Params) (forecast.Model, error) {
	if c.NewSeries == nil {
		return nil, fmt.Errorf("candidate %s (%s) has no series constructor", c.Name, c.ProblemType)
	}
	return c.NewSeries(c.Defaults.Merge(override)), nil
}

// Key identifies a candidate within the registry
func (c Candidate) Key() string {
	return string(c.ProblemType) + "/" + c.Name
}

func supervised(name string, pt dataset.ProblemType, defaults estimator.Params, ctor Constructor) Candidate {
	return Candidate{
		Name:               name,
		ProblemType:        pt,
		Kind:               KindSupervised,
		New:                ctor,
		Defaults:           defaults,
		MinSamples:         10,
		SupportsMulticlass: true,
	}
}

func withMax(c Candidate, max int) Candidate {
	c.MaxSamples = max
	return c
}

func withMin(c Candidate, min int) Candidate {
	c.MinSamples = min
	return c
}

func requires(c Candidate, capability config.Capability) Candidate {
	c.RequiresCapability = capability
	return c
}

const (
	cls = dataset.Classification
	reg = dataset.Regression
)

// registry 静态注册表, 进程启动后只读
var registry = []Candidate{
	supervised("logistic_regression", cls, estimator.Params{"C": 1.0},
		func(p estimator.Params, s estimator.Setup) estimator.Model { return estimator.NewLogisticRegression(p, s) }),
	supervised("decision_tree", cls, estimator.Params{"max_depth": 6},
		func(p estimator.Params, s estimator.Setup) estimator.Model {
			return estimator.NewDecisionTree(estimator.TaskClassification, p, s)
		}),
	supervised("random_forest", cls, estimator.Params{"n_estimators": 50, "max_depth": 10},
		func(p estimator.Params, s estimator.Setup) estimator.Model {
			return estimator.NewRandomForest(estimator.TaskClassification, p, s)
		}),
	requires(supervised("gradient_boosting", cls, estimator.Params{"n_estimators": 60, "learning_rate": 0.1, "max_depth": 3, "num_leaves": 15},
		func(p estimator.Params, s estimator.Setup) estimator.Model {
			return estimator.NewGradientBoosting(estimator.TaskClassification, p, s)
		}), config.CapGradientBoosting),
	withMax(supervised("knn", cls, estimator.Params{"n_neighbors": 5},
		func(p estimator.Params, s estimator.Setup) estimator.Model {
			return estimator.NewKNN(estimator.TaskClassification, p, s)
		}), 50000),
	supervised("naive_bayes", cls, estimator.Params{"var_smoothing": 1e-9},
		func(p estimator.Params, s estimator.Setup) estimator.Model { return estimator.NewGaussianNB(p, s) }),

	withMin(supervised("linear_regression", reg, estimator.Params{},
		func(estimator.Params, estimator.Setup) estimator.Model { return estimator.NewLinearRegression() }), 10),
	supervised("ridge", reg, estimator.Params{"alpha": 1.0},
		func(p estimator.Params, _ estimator.Setup) estimator.Model { return estimator.NewRidge(p) }),
	supervised("lasso", reg, estimator.Params{"alpha": 0.01},
		func(p estimator.Params, _ estimator.Setup) estimator.Model { return estimator.NewLasso(p) }),
	supervised("decision_tree", reg, estimator.Params{"max_depth": 6},
		func(p estimator.Params, s estimator.Setup) estimator.Model {
			return estimator.NewDecisionTree(estimator.TaskRegression, p, s)
		}),
	supervised("random_forest", reg, estimator.Params{"n_estimators": 50, "max_depth": 10},
		func(p estimator.Params, s estimator.Setup) estimator.Model {
			return estimator.NewRandomForest(estimator.TaskRegression, p, s)
		}),
	requires(supervised("gradient_boosting", reg, estimator.Params{"n_estimators": 60, "learning_rate": 0.1, "max_depth": 3, "num_leaves": 15},
		func(p estimator.Params, s estimator.Setup) estimator.Model {
			return estimator.NewGradientBoosting(estimator.TaskRegression, p, s)
		}), config.CapGradientBoosting),
	withMax(supervised("knn", reg, estimator.Params{"n_neighbors": 5},
		func(p estimator.Params, s estimator.Setup) estimator.Model {
			return estimator.NewKNN(estimator.TaskRegression, p, s)
		}), 50000),

	{
		Name: "kmeans", ProblemType: dataset.Clustering, Kind: KindClusterer,
		Defaults:   estimator.Params{"n_clusters": 3, "n_init": 3},
		MinSamples: 10,
		New: func(p estimator.Params, s estimator.Setup) estimator.Model {
			return estimator.NewKMeans(p, s)
		},
	},
	{
		Name: "dbscan", ProblemType: dataset.Clustering, Kind: KindClusterer,
		Defaults:   estimator.Params{"eps": 0.5, "min_samples": 5},
		MinSamples: 10, MaxSamples: 20000,
		New: func(p estimator.Params, _ estimator.Setup) estimator.Model {
			return estimator.NewDBSCAN(p)
		},
	},

	{
		Name: "autoregressive", ProblemType: dataset.TimeSeries, Kind: KindSeries,
		Defaults:   estimator.Params{"max_p": 3, "max_q": 2},
		MinSamples: 12,
		NewSeries: func(p estimator.Params) forecast.Model {
			return forecast.NewAutoARIMA(p.Int("max_p", 3), p.Int("max_q", 2))
		},
	},
	{
		Name: "seasonal_autoregressive", ProblemType: dataset.TimeSeries, Kind: KindSeries,
		Defaults:   estimator.Params{"max_p": 2, "max_q": 1},
		MinSamples: 24,
		NewSeries: func(p estimator.Params) forecast.Model {
			return forecast.NewSeasonalAutoARIMA(p.Int("max_p", 2), p.Int("max_q", 1), p.Int("period", 0))
		},
	},
	{
		Name: "additive_trend", ProblemType: dataset.TimeSeries, Kind: KindSeries,
		Defaults:           estimator.Params{"alpha": 0.3, "beta": 0.1, "gamma": 0.1},
		MinSamples:         12,
		RequiresCapability: config.CapAdditiveTrend,
		NewSeries: func(p estimator.Params) forecast.Model {
			return forecast.NewHoltWinters(p.Float("alpha", 0.3), p.Float("beta", 0.1), p.Float("gamma", 0.1), p.Int("period", 0))
		},
	},
}

// All returns a copy of the registry
func All() []Candidate {
	return append([]Candidate(nil), registry...)
}

// ForProblem returns every candidate registered for the problem type
func ForProblem(pt dataset.ProblemType) []Candidate {
	var out []Candidate
	for _, c := range registry {
		if c.ProblemType == pt {
			out = append(out, c)
		}
	}
	return out
}

// Lookup finds a candidate by name and problem type
func Lookup(name string, pt dataset.ProblemType) (Candidate, bool) {
	for _, c := range registry {
		if c.Name == name && c.ProblemType == pt {
			return c, true
		}
	}
	return Candidate{}, false
}
