package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"autoforge/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App          AppConfig      `yaml:"app"`
	Pipeline     PipelineConfig `yaml:"pipeline"`
	Thresholds   Thresholds     `yaml:"thresholds"`
	Capabilities Capabilities   `yaml:"capabilities"`
	Registry     RegistryConfig `yaml:"registry"`
	Cache        CacheConfig    `yaml:"cache"`
	Database     DatabaseConfig `yaml:"database"`
	Monitor      MonitorConfig  `yaml:"monitor"`
	Metrics      MetricsConfig  `yaml:"metrics"`
	Service      ServiceConfig  `yaml:"service"`
	Logging      logger.Config  `yaml:"logging"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env" validate:"omitempty,oneof=development test production"`
}

// PipelineConfig controls the AutoML stage pipeline
type PipelineConfig struct {
	RandomSeed         int64   `yaml:"random_seed"`
	TestFraction       float64 `yaml:"test_fraction" validate:"gt=0,lt=1"`
	CVFolds            int     `yaml:"cv_folds" validate:"gte=2,lte=20"`
	Workers            int     `yaml:"workers" validate:"gte=0"`
	FeatureEngineering bool    `yaml:"feature_engineering"`
	HandleImbalance    bool    `yaml:"handle_imbalance"`
	CrossValidate      bool    `yaml:"cross_validate"`
	Tuning             bool    `yaml:"tuning"`
	TuningMethod       string  `yaml:"tuning_method" validate:"oneof=grid random bayesian"`
	TuningIterations   int     `yaml:"tuning_iterations" validate:"gte=1"`
	Ensemble           bool    `yaml:"ensemble"`
	EnsembleStrategy   string  `yaml:"ensemble_strategy" validate:"oneof=auto voting stacking blending"`
	EnsembleTopK       int     `yaml:"ensemble_top_k" validate:"gte=2"`
	Explain            bool    `yaml:"explain"`
	ForecastHorizon    int     `yaml:"forecast_horizon" validate:"gte=1"`
	ClusterMaxK        int     `yaml:"cluster_max_k" validate:"gte=2"`
	LearningCurve      bool    `yaml:"learning_curve"`
}

// Thresholds holds the heuristic constants of the pipeline as configurable defaults
type Thresholds struct {
	ClassificationMaxDistinct   int     `yaml:"classification_max_distinct" validate:"gte=2"`
	ClassificationDistinctRatio float64 `yaml:"classification_distinct_ratio" validate:"gt=0,lt=1"`
	MinRows                     int     `yaml:"min_rows" validate:"gte=2"`
	MaxTargetMissing            float64 `yaml:"max_target_missing" validate:"gte=0,lte=1"`
	OneHotMaxCardinality        int     `yaml:"onehot_max_cardinality" validate:"gte=1"`

	ImbalanceBalanced float64 `yaml:"imbalance_balanced" validate:"gt=0,lte=1"`
	ImbalanceMild     float64 `yaml:"imbalance_mild" validate:"gt=0,lte=1"`
	ImbalanceModerate float64 `yaml:"imbalance_moderate" validate:"gt=0,lte=1"`

	OverfitGap             float64 `yaml:"overfit_gap" validate:"gt=0"`
	ConvergenceImprovement float64 `yaml:"convergence_improvement" validate:"gt=0"`
	EnsembleVotingRows     int     `yaml:"ensemble_voting_rows" validate:"gte=1"`

	DriftAlertRatio          float64 `yaml:"drift_alert_ratio" validate:"gte=0,lte=1"`
	DriftAlpha               float64 `yaml:"drift_alpha" validate:"gt=0,lt=1"`
	PSIThreshold             float64 `yaml:"psi_threshold" validate:"gt=0"`
	PSIBins                  int     `yaml:"psi_bins" validate:"gte=10"`
	PredictionDriftThreshold float64 `yaml:"prediction_drift_threshold" validate:"gt=0"`
	PerformanceDegradation   float64 `yaml:"performance_degradation" validate:"gt=0,lt=1"`
	PerformanceBaseline      int     `yaml:"performance_baseline_window" validate:"gte=1"`

	ExplainSampleCap    int `yaml:"explain_sample_cap" validate:"gte=10"`
	PermutationRepeats  int `yaml:"permutation_repeats" validate:"gte=1"`
	ShapleySamples      int `yaml:"shapley_samples" validate:"gte=1"`
	SilhouetteSampleCap int `yaml:"silhouette_sample_cap" validate:"gte=10"`
}

// RegistryConfig represents the model registry directory
type RegistryConfig struct {
	Dir            string `yaml:"dir" validate:"required"`
	BackgroundRows int    `yaml:"background_rows" validate:"gte=1"`
}

// CacheConfig represents the cross-validation result cache
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend" validate:"oneof=memory redis"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries" validate:"gte=1"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// DatabaseConfig represents the run-history store
type DatabaseConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN     string        `yaml:"dsn"`
	MaxOpen int           `yaml:"max_open"`
	MaxIdle int           `yaml:"max_idle"`
	Timeout time.Duration `yaml:"timeout"`
}

// MonitorConfig represents drift monitoring configuration
type MonitorConfig struct {
	DriftMethod string `yaml:"drift_method" validate:"oneof=ks psi"`
	Schedule    string `yaml:"schedule"`
}

// MetricsConfig represents Prometheus configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// ServiceConfig represents the train/predict service boundary
type ServiceConfig struct {
	TrainRatePerMinute int `yaml:"train_rate_per_minute" validate:"gte=1"`
	TrainBurst         int `yaml:"train_burst" validate:"gte=1"`
}

// Default returns the configuration used when no file is supplied
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "autoforge", Version: "1.0.0", Env: "development"},
		Pipeline: PipelineConfig{
			RandomSeed:         42,
			TestFraction:       0.2,
			CVFolds:            5,
			FeatureEngineering: false,
			HandleImbalance:    true,
			CrossValidate:      true,
			Tuning:             true,
			TuningMethod:       "bayesian",
			TuningIterations:   15,
			Ensemble:           false,
			EnsembleStrategy:   "auto",
			EnsembleTopK:       3,
			Explain:            true,
			ForecastHorizon:    12,
			ClusterMaxK:        8,
			LearningCurve:      false,
		},
		Thresholds:   DefaultThresholds(),
		Capabilities: DefaultCapabilities(),
		Registry:     RegistryConfig{Dir: "models", BackgroundRows: 100},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			TTL:        time.Hour,
			MaxEntries: 1024,
			Redis:      RedisConfig{Addr: "localhost:6379", PoolSize: 10},
		},
		Database: DatabaseConfig{
			Enabled: false,
			Driver:  "sqlite",
			DSN:     "autoforge.db",
			MaxOpen: 4,
			MaxIdle: 2,
			Timeout: 5 * time.Second,
		},
		Monitor: MonitorConfig{DriftMethod: "ks", Schedule: "0 0 * * * *"},
		Metrics: MetricsConfig{Enabled: false, Addr: ":9090", Path: "/metrics"},
		Service: ServiceConfig{TrainRatePerMinute: 30, TrainBurst: 4},
		Logging: logger.DefaultConfig,
	}
}

// DefaultThresholds returns the documented heuristic defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		ClassificationMaxDistinct:   20,
		ClassificationDistinctRatio: 0.05,
		MinRows:                     10,
		MaxTargetMissing:            0.5,
		OneHotMaxCardinality:        10,
		ImbalanceBalanced:           0.8,
		ImbalanceMild:               0.3,
		ImbalanceModerate:           0.1,
		OverfitGap:                  0.15,
		ConvergenceImprovement:      0.01,
		EnsembleVotingRows:          10000,
		DriftAlertRatio:             0.1,
		DriftAlpha:                  0.05,
		PSIThreshold:                0.2,
		PSIBins:                     10,
		PredictionDriftThreshold:    0.1,
		PerformanceDegradation:      0.1,
		PerformanceBaseline:         3,
		ExplainSampleCap:            500,
		PermutationRepeats:          5,
		ShapleySamples:              64,
		SilhouetteSampleCap:         2000,
	}
}

// Load loads configuration from a YAML file on top of the defaults.
// A missing file yields the defaults; environment overrides are applied afterwards.
func Load(filename string) (*Config, error) {
	config := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	NewEnvManager("").Apply(config)

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}
