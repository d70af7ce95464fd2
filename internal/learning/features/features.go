package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"autoforge/internal/dataset"
	"autoforge/internal/logger"
)

// StepKind 派生特征的种类
type StepKind string

const (
	StepTemporal    StepKind = "temporal"
	StepLog1p       StepKind = "log1p"
	StepSqrt        StepKind = "sqrt"
	StepInteraction StepKind = "interaction"
	StepSquare      StepKind = "square"
)

// TemporalPart 时间列拆出的分量
type TemporalPart string

const (
	PartYear    TemporalPart = "year"
	PartMonth   TemporalPart = "month"
	PartDay     TemporalPart = "day"
	PartWeekday TemporalPart = "weekday"
	PartHour    TemporalPart = "hour"
)

// Step 一个派生特征
type Step struct {
	Kind   StepKind
	Name   string
	Source string
	Other  string
	Part   TemporalPart
}

// Plan 在训练集上拟合的特征工程计划, 预测时按相同步骤重放
type Plan struct {
	Steps []Step
}

// Names returns the derived column names in order
func (p *Plan) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Name
	}
	return out
}

// Engineer 特征工程器
type Engineer struct {
	MaxInteractionColumns int
	SkewLog               float64
	SkewSqrt              float64
	logger                logger.Logger
}

// NewEngineer creates an engineer with the default caps
func NewEngineer(log logger.Logger) *Engineer {
	return &Engineer{
		MaxInteractionColumns: 5,
		SkewLog:               1.0,
		SkewSqrt:              0.5,
		logger:                logger.OrDefault(log),
	}
}

// Fit derives a plan from the training rows; excluded columns (target, time index) are never used
func (e *Engineer) Fit(train *dataset.Dataset, exclude ...string) *Plan {
	skip := make(map[string]bool, len(exclude))
	for _, n := range exclude {
		skip[n] = true
	}
	plan := &Plan{}
	taken := make(map[string]bool)
	for _, n := range train.Names() {
		taken[n] = true
	}
	add := func(s Step) {
		if taken[s.Name] {
			return
		}
		taken[s.Name] = true
		plan.Steps = append(plan.Steps, s)
	}

	type scored struct {
		name     string
		variance float64
	}
	var numeric []scored

	for _, col := range train.Columns() {
		if skip[col.Name] {
			continue
		}
		switch col.Type {
		case dataset.Datetime:
			for _, part := range []TemporalPart{PartYear, PartMonth, PartDay, PartWeekday, PartHour} {
				add(Step{Kind: StepTemporal, Name: col.Name + "_" + string(part), Source: col.Name, Part: part})
			}
		case dataset.Numeric:
			vals := present(col.Num)
			if len(vals) < 3 {
				continue
			}
			v := stat.Variance(vals, nil)
			if v == 0 || math.IsNaN(v) {
				continue
			}
			numeric = append(numeric, scored{col.Name, v})
			min := vals[0]
			for _, x := range vals {
				min = math.Min(min, x)
			}
			if min < 0 {
				continue
			}
			skew := stat.Skew(vals, nil)
			switch {
			case skew > e.SkewLog:
				add(Step{Kind: StepLog1p, Name: col.Name + "_log1p", Source: col.Name})
			case skew > e.SkewSqrt:
				add(Step{Kind: StepSqrt, Name: col.Name + "_sqrt", Source: col.Name})
			}
		}
	}

	sort.SliceStable(numeric, func(i, j int) bool { return numeric[i].variance > numeric[j].variance })
	if len(numeric) > e.MaxInteractionColumns {
		numeric = numeric[:e.MaxInteractionColumns]
	}
	for i := range numeric {
		add(Step{Kind: StepSquare, Name: numeric[i].name + "_sq", Source: numeric[i].name})
		for j := i + 1; j < len(numeric); j++ {
			add(Step{
				Kind:   StepInteraction,
				Name:   numeric[i].name + "_x_" + numeric[j].name,
				Source: numeric[i].name,
				Other:  numeric[j].name,
			})
		}
	}
	e.logger.Debug("feature plan fitted", "derived", len(plan.Steps))
	return plan
}

func present(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

// Apply appends the derived columns; missing inputs give NaN outputs
func (p *Plan) Apply(d *dataset.Dataset) (*dataset.Dataset, error) {
	if p == nil || len(p.Steps) == 0 {
		return d, nil
	}
	cols := make([]*dataset.Series, 0, len(p.Steps))
	for _, s := range p.Steps {
		src, ok := d.Column(s.Source)
		if !ok {
			return nil, fmt.Errorf("feature %s: source column %q not found", s.Name, s.Source)
		}
		out := make([]float64, d.Len())
		switch s.Kind {
		case StepTemporal:
			if src.Type != dataset.Datetime {
				return nil, fmt.Errorf("feature %s: column %q is not a datetime", s.Name, s.Source)
			}
			for i, t := range src.Time {
				out[i] = temporal(t, s.Part)
			}
		case StepLog1p, StepSqrt, StepSquare:
			if src.Type != dataset.Numeric {
				return nil, fmt.Errorf("feature %s: column %q is not numeric", s.Name, s.Source)
			}
			for i, x := range src.Num {
				out[i] = unary(s.Kind, x)
			}
		case StepInteraction:
			other, ok := d.Column(s.Other)
			if !ok || other.Type != dataset.Numeric || src.Type != dataset.Numeric {
				return nil, fmt.Errorf("feature %s: numeric columns %q and %q required", s.Name, s.Source, s.Other)
			}
			for i := range out {
				out[i] = src.Num[i] * other.Num[i]
			}
		default:
			return nil, fmt.Errorf("feature %s: unknown step kind %q", s.Name, s.Kind)
		}
		cols = append(cols, dataset.NewNumeric(s.Name, out))
	}
	return d.With(cols...)
}

func temporal(t time.Time, part TemporalPart) float64 {
	if t.IsZero() {
		return math.NaN()
	}
	switch part {
	case PartYear:
		return float64(t.Year())
	case PartMonth:
		return float64(t.Month())
	case PartDay:
		return float64(t.Day())
	case PartWeekday:
		return float64(t.Weekday())
	default:
		return float64(t.Hour())
	}
}

func unary(kind StepKind, x float64) float64 {
	switch kind {
	case StepLog1p:
		// 训练集非负, 预测时的负值截断到 0
		return math.Log1p(math.Max(x, 0))
	case StepSqrt:
		return math.Sqrt(math.Max(x, 0))
	default:
		return x * x
	}
}
