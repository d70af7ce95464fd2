package config

import "autoforge/internal/logger"

// Capability names an optional component that may be disabled at startup
type Capability string

const (
	CapNone                  Capability = ""
	CapBayesianSearch        Capability = "bayesian_search"
	CapSyntheticOversampling Capability = "synthetic_oversampling"
	CapGradientBoosting      Capability = "gradient_boosting"
	CapAdditiveTrend         Capability = "additive_trend"
)

// Capabilities 可选组件的能力描述, 启动时解析一次后按值传递
type Capabilities struct {
	BayesianSearch        bool `yaml:"bayesian_search"`
	SyntheticOversampling bool `yaml:"synthetic_oversampling"`
	GradientBoosting      bool `yaml:"gradient_boosting"`
	AdditiveTrend         bool `yaml:"additive_trend"`
}

// DefaultCapabilities enables every optional component
func DefaultCapabilities() Capabilities {
	return Capabilities{
		BayesianSearch:        true,
		SyntheticOversampling: true,
		GradientBoosting:      true,
		AdditiveTrend:         true,
	}
}

// Has reports whether a capability is available; CapNone is always available
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapNone:
		return true
	case CapBayesianSearch:
		return c.BayesianSearch
	case CapSyntheticOversampling:
		return c.SyntheticOversampling
	case CapGradientBoosting:
		return c.GradientBoosting
	case CapAdditiveTrend:
		return c.AdditiveTrend
	default:
		return false
	}
}

// Without returns a copy with the given capability disabled
func (c Capabilities) Without(cap Capability) Capabilities {
	switch cap {
	case CapBayesianSearch:
		c.BayesianSearch = false
	case CapSyntheticOversampling:
		c.SyntheticOversampling = false
	case CapGradientBoosting:
		c.GradientBoosting = false
	case CapAdditiveTrend:
		c.AdditiveTrend = false
	}
	return c
}

// ResolveCapabilities logs the resolved descriptor once at startup and returns it
func ResolveCapabilities(c *Config, log logger.Logger) Capabilities {
	caps := c.Capabilities
	logger.OrDefault(log).Info("capabilities resolved",
		"bayesian_search", caps.BayesianSearch,
		"synthetic_oversampling", caps.SyntheticOversampling,
		"gradient_boosting", caps.GradientBoosting,
		"additive_trend", caps.AdditiveTrend)
	return caps
}
