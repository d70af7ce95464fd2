package tuning

import (
	"math"
	"math/rand"

	"autoforge/internal/learning/estimator"
)

// Dimension 一个超参数的取值范围. Values 为网格搜索的离散点, Low/High 为随机与贝叶斯搜索的连续区间
type Dimension struct {
	Name    string
	Values  []float64
	Low     float64
	High    float64
	Log     bool
	Integer bool
}

// Space 参数空间
type Space []Dimension

// spaces 已知候选的预定义参数空间, 按候选名查找
var spaces = map[string]Space{
	"logistic_regression": {
		{Name: "C", Values: []float64{0.01, 0.1, 1, 10, 100}, Low: 0.001, High: 1000, Log: true},
	},
	"ridge": {
		{Name: "alpha", Values: []float64{0.01, 0.1, 1, 10}, Low: 1e-4, High: 1000, Log: true},
	},
	"lasso": {
		{Name: "alpha", Values: []float64{0.001, 0.01, 0.1}, Low: 1e-5, High: 10, Log: true},
	},
	"decision_tree": {
		{Name: "max_depth", Values: []float64{3, 5, 8, 12}, Low: 2, High: 20, Integer: true},
		{Name: "min_samples_leaf", Values: []float64{1, 5}, Low: 1, High: 20, Integer: true},
	},
	"random_forest": {
		{Name: "n_estimators", Values: []float64{30, 60, 100}, Low: 10, High: 200, Integer: true},
		{Name: "max_depth", Values: []float64{6, 10, 16}, Low: 3, High: 24, Integer: true},
	},
	"gradient_boosting": {
		{Name: "n_estimators", Values: []float64{40, 80, 120}, Low: 20, High: 250, Integer: true},
		{Name: "learning_rate", Values: []float64{0.05, 0.1, 0.2}, Low: 0.01, High: 0.5, Log: true},
		{Name: "max_depth", Values: []float64{2, 3, 4}, Low: 2, High: 6, Integer: true},
		{Name: "num_leaves", Values: []float64{7, 15, 31}, Low: 4, High: 63, Integer: true},
	},
	"knn": {
		{Name: "n_neighbors", Values: []float64{3, 5, 9, 15}, Low: 1, High: 40, Integer: true},
	},
	"naive_bayes": {
		{Name: "var_smoothing", Values: []float64{1e-11, 1e-9, 1e-7}, Low: 1e-12, High: 1e-5, Log: true},
	},
}

// SpaceFor returns the predefined space of a candidate; unknown names have an empty space
func SpaceFor(candidate string) Space {
	return spaces[candidate]
}

// Empty reports whether there is nothing to tune
func (s Space) Empty() bool { return len(s) == 0 }

// Grid returns the Cartesian product of every dimension's Values
func (s Space) Grid() []estimator.Params {
	if s.Empty() {
		return nil
	}
	out := []estimator.Params{{}}
	for _, d := range s {
		next := make([]estimator.Params, 0, len(out)*len(d.Values))
		for _, base := range out {
			for _, v := range d.Values {
				p := base.Merge(nil)
				p[d.Name] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out
}

// Sample draws one configuration from the continuous ranges
func (s Space) Sample(rng *rand.Rand) estimator.Params {
	u := make([]float64, len(s))
	for i := range u {
		u[i] = rng.Float64()
	}
	return s.Decode(u)
}

// Encode maps params to the unit cube
func (s Space) Encode(p estimator.Params) []float64 {
	u := make([]float64, len(s))
	for i, d := range s {
		v := p.Float(d.Name, d.Low)
		lo, hi := d.Low, d.High
		if d.Log {
			v, lo, hi = math.Log(v), math.Log(lo), math.Log(hi)
		}
		if hi > lo {
			u[i] = math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
		}
	}
	return u
}

// Decode maps a unit-cube point back to params, rounding integer dimensions
func (s Space) Decode(u []float64) estimator.Params {
	p := make(estimator.Params, len(s))
	for i, d := range s {
		x := math.Max(0, math.Min(1, u[i]))
		var v float64
		if d.Log {
			v = math.Exp(math.Log(d.Low) + x*(math.Log(d.High)-math.Log(d.Low)))
		} else {
			v = d.Low + x*(d.High-d.Low)
		}
		if d.Integer {
			v = math.Round(v)
		}
		p[d.Name] = v
	}
	return p
}
