package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "autoforge/internal/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks struct-tag ranges and the cross-field rules the tags cannot express
func Validate(c *Config) error {
	if err := structValidator().Struct(c); err != nil {
		var msgs []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			msgs = append(msgs, err.Error())
		}
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeConfigInvalid, "invalid configuration", strings.Join(msgs, "; "), err)
	}

	t := c.Thresholds
	if !(t.ImbalanceModerate < t.ImbalanceMild && t.ImbalanceMild < t.ImbalanceBalanced) {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"imbalance thresholds must increase: moderate %.2f < mild %.2f < balanced %.2f",
			t.ImbalanceModerate, t.ImbalanceMild, t.ImbalanceBalanced)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "database.dsn is required when the run store is enabled")
	}
	if c.Cache.Enabled && c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "cache.redis.addr is required for the redis backend")
	}
	return nil
}
