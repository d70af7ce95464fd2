package ensemble

import (
	"fmt"

	"autoforge/internal/learning/estimator"
)

// Voting 投票集成. 软投票平均概率或回归值, 硬投票按权重计票
type Voting struct {
	Task     estimator.Task
	NClasses int
	Names    []string
	Models   []estimator.Model
	Weights  []float64
	Soft     bool
}

// NewVoting combines already constructed models; nil weights mean equal weights.
// Soft voting is used for classification only when every member reports probabilities.
func NewVoting(task estimator.Task, nClasses int, names []string, models []estimator.Model, weights []float64) (*Voting, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("voting needs at least one model")
	}
	if weights == nil {
		weights = make([]float64, len(models))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(models) {
		return nil, fmt.Errorf("voting has %d models but %d weights", len(models), len(weights))
	}
	total := 0.0
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("voting weight %g is negative", w)
		}
		total += w
	}
	if total == 0 {
		return nil, fmt.Errorf("voting weights sum to zero")
	}
	norm := make([]float64, len(weights))
	for i, w := range weights {
		norm[i] = w / total
	}

	soft := true
	if task == estimator.TaskClassification {
		for _, m := range models {
			if _, ok := m.(estimator.ProbabilisticModel); !ok {
				soft = false
			}
		}
	}
	return &Voting{
		Task:     task,
		NClasses: nClasses,
		Names:    names,
		Models:   models,
		Weights:  norm,
		Soft:     soft,
	}, nil
}

// Fit refits every member on the same data
func (v *Voting) Fit(X [][]float64, y []float64) error {
	for i, m := range v.Models {
		if err := m.Fit(X, y); err != nil {
			return fmt.Errorf("member %s: %w", v.memberName(i), err)
		}
	}
	return nil
}

// FitWeighted 成员支持样本权重时使用权重
func (v *Voting) FitWeighted(X [][]float64, y, w []float64) error {
	for i, m := range v.Models {
		if _, err := estimator.FitWithWeights(m, X, y, w); err != nil {
			return fmt.Errorf("member %s: %w", v.memberName(i), err)
		}
	}
	return nil
}

func (v *Voting) memberName(i int) string {
	if i < len(v.Names) {
		return v.Names[i]
	}
	return fmt.Sprintf("#%d", i)
}

// PredictProba 软投票为加权平均概率, 硬投票为加权票数比例
func (v *Voting) PredictProba(X [][]float64) ([][]float64, error) {
	if v.Task != estimator.TaskClassification {
		return nil, fmt.Errorf("voting regressor has no probabilities")
	}
	out := make([][]float64, len(X))
	for i := range out {
		out[i] = make([]float64, v.NClasses)
	}
	for j, m := range v.Models {
		w := v.Weights[j]
		if v.Soft {
			proba, err := m.(estimator.ProbabilisticModel).PredictProba(X)
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", v.memberName(j), err)
			}
			proba = estimator.PadProba(proba, v.NClasses)
			for i, row := range proba {
				for c := 0; c < v.NClasses; c++ {
					out[i][c] += w * row[c]
				}
			}
			continue
		}
		pred, err := m.Predict(X)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", v.memberName(j), err)
		}
		for i, p := range pred {
			if c := int(p); c >= 0 && c < v.NClasses {
				out[i][c] += w
			}
		}
	}
	return out, nil
}

// Predict 预测
func (v *Voting) Predict(X [][]float64) ([]float64, error) {
	if v.Task == estimator.TaskClassification {
		proba, err := v.PredictProba(X)
		if err != nil {
			return nil, err
		}
		return estimator.LabelsFromProba(proba), nil
	}
	out := make([]float64, len(X))
	for j, m := range v.Models {
		pred, err := m.Predict(X)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", v.memberName(j), err)
		}
		for i, p := range pred {
			out[i] += v.Weights[j] * p
		}
	}
	return out, nil
}

// GetParams 获取参数
func (v *Voting) GetParams() estimator.Params {
	soft := 0.0
	if v.Soft {
		soft = 1
	}
	return estimator.Params{"n_members": float64(len(v.Models)), "soft": soft}
}
