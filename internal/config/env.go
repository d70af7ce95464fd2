package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"autoforge/internal/logger"
)

// EnvManager manages environment variable configuration
type EnvManager struct {
	prefix string
}

// NewEnvManager creates a new environment variable manager
func NewEnvManager(prefix string) *EnvManager {
	if prefix == "" {
		prefix = "AUTOFORGE_"
	}
	return &EnvManager{prefix: prefix}
}

// LoadDotEnv loads variables from .env files without overriding the process environment
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// GetString gets a string environment variable
func (em *EnvManager) GetString(key string, defaultValue string) string {
	value := os.Getenv(em.prefix + strings.ToUpper(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetInt gets an integer environment variable
func (em *EnvManager) GetInt(key string, defaultValue int) int {
	if intValue, err := strconv.Atoi(em.GetString(key, "")); err == nil {
		return intValue
	}
	return defaultValue
}

// GetInt64 gets an int64 environment variable
func (em *EnvManager) GetInt64(key string, defaultValue int64) int64 {
	if v, err := strconv.ParseInt(em.GetString(key, ""), 10, 64); err == nil {
		return v
	}
	return defaultValue
}

// GetFloat gets a float environment variable
func (em *EnvManager) GetFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(em.GetString(key, ""), 64); err == nil {
		return v
	}
	return defaultValue
}

// GetBool gets a boolean environment variable
func (em *EnvManager) GetBool(key string, defaultValue bool) bool {
	if boolValue, err := strconv.ParseBool(em.GetString(key, "")); err == nil {
		return boolValue
	}
	return defaultValue
}

// GetDuration gets a duration environment variable
func (em *EnvManager) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if duration, err := time.ParseDuration(em.GetString(key, "")); err == nil {
		return duration
	}
	return defaultValue
}

// SetString sets a string environment variable
func (em *EnvManager) SetString(key string, value string) error {
	return os.Setenv(em.prefix+strings.ToUpper(key), value)
}

// Apply overrides config fields from the environment
func (em *EnvManager) Apply(c *Config) {
	c.App.Env = em.GetString("env", c.App.Env)

	c.Pipeline.RandomSeed = em.GetInt64("seed", c.Pipeline.RandomSeed)
	c.Pipeline.Workers = em.GetInt("workers", c.Pipeline.Workers)
	c.Pipeline.CVFolds = em.GetInt("cv_folds", c.Pipeline.CVFolds)
	c.Pipeline.TestFraction = em.GetFloat("test_fraction", c.Pipeline.TestFraction)
	c.Pipeline.TuningMethod = em.GetString("tuning_method", c.Pipeline.TuningMethod)

	c.Capabilities.BayesianSearch = em.GetBool("cap_bayesian", c.Capabilities.BayesianSearch)
	c.Capabilities.SyntheticOversampling = em.GetBool("cap_smote", c.Capabilities.SyntheticOversampling)
	c.Capabilities.GradientBoosting = em.GetBool("cap_boosting", c.Capabilities.GradientBoosting)
	c.Capabilities.AdditiveTrend = em.GetBool("cap_additive_trend", c.Capabilities.AdditiveTrend)

	c.Registry.Dir = em.GetString("registry_dir", c.Registry.Dir)

	c.Cache.Backend = em.GetString("cache_backend", c.Cache.Backend)
	c.Cache.TTL = em.GetDuration("cache_ttl", c.Cache.TTL)
	c.Cache.Redis.Addr = em.GetString("redis_addr", c.Cache.Redis.Addr)
	c.Cache.Redis.Password = em.GetString("redis_password", c.Cache.Redis.Password)

	c.Database.Enabled = em.GetBool("db_enabled", c.Database.Enabled)
	c.Database.Driver = em.GetString("db_driver", c.Database.Driver)
	c.Database.DSN = em.GetString("db_dsn", c.Database.DSN)

	c.Monitor.DriftMethod = em.GetString("drift_method", c.Monitor.DriftMethod)
	c.Metrics.Enabled = em.GetBool("metrics_enabled", c.Metrics.Enabled)
	c.Metrics.Addr = em.GetString("metrics_addr", c.Metrics.Addr)

	c.Logging.Level = logger.LogLevel(em.GetString("log_level", string(c.Logging.Level)))
	c.Logging.Format = logger.LogFormat(em.GetString("log_format", string(c.Logging.Format)))
}
