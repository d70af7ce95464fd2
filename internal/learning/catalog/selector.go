package catalog

import (
	"fmt"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	"autoforge/internal/logger"
)

// Skipped 被跳过的候选及原因
type Skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Selection 选择结果, 顺序不代表偏好
type Selection struct {
	Selected []Candidate
	Skipped  []Skipped
}

// Names returns the selected candidate names
func (s Selection) Names() []string {
	out := make([]string, len(s.Selected))
	for i, c := range s.Selected {
		out[i] = c.Name
	}
	return out
}

// Selector 按问题类型与数据规模过滤注册表
type Selector struct {
	caps   config.Capabilities
	logger logger.Logger
}

// NewSelector creates a selector bound to the startup capability descriptor
func NewSelector(caps config.Capabilities, log logger.Logger) *Selector {
	return &Selector{caps: caps, logger: logger.OrDefault(log)}
}

// Select filters the registry. Unavailable candidates are skipped and logged, never fatal.
func (s *Selector) Select(pt dataset.ProblemType, nSamples, nClasses int) Selection {
	var sel Selection
	for _, c := range ForProblem(pt) {
		if reason := s.reject(c, nSamples, nClasses); reason != "" {
			s.logger.Info("candidate skipped", "candidate", c.Name, "problem_type", pt, "reason", reason)
			sel.Skipped = append(sel.Skipped, Skipped{Name: c.Name, Reason: reason})
			continue
		}
		sel.Selected = append(sel.Selected, c)
	}
	return sel
}

func (s *Selector) reject(c Candidate, nSamples, nClasses int) string {
	switch {
	case nSamples < c.MinSamples:
		return fmt.Sprintf("needs at least %d samples, have %d", c.MinSamples, nSamples)
	case c.MaxSamples > 0 && nSamples > c.MaxSamples:
		return fmt.Sprintf("scales poorly beyond %d samples, have %d", c.MaxSamples, nSamples)
	case c.ProblemType == dataset.Classification && nClasses > 2 && !c.SupportsMulticlass:
		return "binary only"
	case !s.caps.Has(c.RequiresCapability):
		return fmt.Sprintf("optional capability %s unavailable", c.RequiresCapability)
	}
	return ""
}
