package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "autoforge/internal/errors"
	"autoforge/internal/logger"
	"autoforge/internal/testutils"
)

func TestLoadConfig(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	// 创建测试配置文件
	configContent := `
app:
  name: "autoforge-test"
  env: "test"

pipeline:
  cv_folds: 3
  tuning_method: random
  tuning_iterations: 8
  ensemble: true
  ensemble_strategy: stacking

thresholds:
  drift_alpha: 0.01
  psi_bins: 20

registry:
  dir: "/tmp/autoforge-models"

monitor:
  drift_method: psi
`
	configPath := suite.CreateTempFile("config.yaml", configContent)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "autoforge-test", cfg.App.Name)
	assert.Equal(t, 3, cfg.Pipeline.CVFolds)
	assert.Equal(t, "random", cfg.Pipeline.TuningMethod)
	assert.Equal(t, 8, cfg.Pipeline.TuningIterations)
	assert.True(t, cfg.Pipeline.Ensemble)
	assert.Equal(t, "stacking", cfg.Pipeline.EnsembleStrategy)
	assert.Equal(t, 0.01, cfg.Thresholds.DriftAlpha)
	assert.Equal(t, 20, cfg.Thresholds.PSIBins)
	assert.Equal(t, "/tmp/autoforge-models", cfg.Registry.Dir)
	assert.Equal(t, "psi", cfg.Monitor.DriftMethod)

	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 0.2, cfg.Pipeline.TestFraction)
	assert.Equal(t, 0.8, cfg.Thresholds.ImbalanceBalanced)
	assert.Equal(t, DefaultCapabilities(), cfg.Capabilities)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	cfg, err := Load(filepath.Join(suite.TempDir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
	assert.Equal(t, DefaultThresholds(), cfg.Thresholds)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	_, err := Load(suite.CreateTempFile("bad.yaml", "pipeline: [1, 2"))
	assert.Error(t, err)
}

func TestLoadConfigWithEnvironmentOverride(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	t.Setenv("AUTOFORGE_WORKERS", "3")
	t.Setenv("AUTOFORGE_CAP_BAYESIAN", "false")
	t.Setenv("AUTOFORGE_REGISTRY_DIR", "/srv/models")
	t.Setenv("AUTOFORGE_LOG_LEVEL", "debug")

	configPath := suite.CreateTempFile("config.yaml", "pipeline:\n  workers: 8\n")
	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.False(t, cfg.Capabilities.BayesianSearch)
	assert.False(t, cfg.Capabilities.Has(CapBayesianSearch))
	assert.Equal(t, "/srv/models", cfg.Registry.Dir)
	assert.Equal(t, logger.LogLevel("debug"), cfg.Logging.Level)
}

func TestLoadDotEnv(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	const key = "AUTOFORGE_DOTENV_CHECK"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := suite.CreateTempFile(".env", key+"=from-file\n")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv(key))

	// 不存在的文件被忽略
	assert.NoError(t, LoadDotEnv(filepath.Join(suite.TempDir, "missing.env")))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		valid  bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, valid: true},
		{name: "single fold", mutate: func(c *Config) { c.Pipeline.CVFolds = 1 }},
		{name: "test fraction out of range", mutate: func(c *Config) { c.Pipeline.TestFraction = 1.5 }},
		{name: "unknown tuning method", mutate: func(c *Config) { c.Pipeline.TuningMethod = "evolutionary" }},
		{name: "ensemble of one", mutate: func(c *Config) { c.Pipeline.EnsembleTopK = 1 }},
		{name: "too few psi bins", mutate: func(c *Config) { c.Thresholds.PSIBins = 5 }},
		{name: "imbalance thresholds out of order", mutate: func(c *Config) {
			c.Thresholds.ImbalanceMild = 0.05
		}},
		{name: "database without dsn", mutate: func(c *Config) {
			c.Database.Enabled = true
			c.Database.DSN = ""
		}},
		{name: "redis without address", mutate: func(c *Config) {
			c.Cache.Backend = "redis"
			c.Cache.Redis.Addr = ""
		}},
		{name: "unknown database driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid))
		})
	}
}

func TestCapabilities(t *testing.T) {
	caps := DefaultCapabilities()
	assert.True(t, caps.Has(CapNone))
	assert.True(t, caps.Has(CapBayesianSearch))

	reduced := caps.Without(CapBayesianSearch).Without(CapGradientBoosting)
	assert.False(t, reduced.Has(CapBayesianSearch))
	assert.False(t, reduced.Has(CapGradientBoosting))
	assert.True(t, reduced.Has(CapSyntheticOversampling))
	assert.True(t, caps.Has(CapBayesianSearch), "Without returns a copy")

	cfg := Default()
	cfg.Capabilities = reduced
	assert.Equal(t, reduced, ResolveCapabilities(cfg, logger.NewNop()))
}
