package problem

import (
	"autoforge/internal/config"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
)

// Options 检测选项
type Options struct {
	// Override 调用方强制指定的问题类型, 为空时自动检测
	Override dataset.ProblemType
	// TimeColumn 非空且目标为数值时视为时间序列问题
	TimeColumn string
}

// Detector 问题类型检测器
type Detector struct {
	thresholds config.Thresholds
}

// NewDetector 创建检测器
func NewDetector(thresholds config.Thresholds) *Detector {
	return &Detector{thresholds: thresholds}
}

// Detect 根据目标列判定问题类型. 目标为空字符串时为聚类问题.
// 覆盖值同样要经过行数与缺失率校验.
func (d *Detector) Detect(ds *dataset.Dataset, target string, opts Options) (dataset.ProblemType, error) {
	if target == "" {
		if opts.Override != "" && opts.Override != dataset.Clustering {
			return "", apperrors.Newf(apperrors.ErrCodeValidation, "problem type %s requires a target column", opts.Override)
		}
		if ds.Len() < d.thresholds.MinRows {
			return "", insufficient(ds.Len(), d.thresholds.MinRows)
		}
		return dataset.Clustering, nil
	}

	col, ok := ds.Column(target)
	if !ok {
		return "", apperrors.Newf(apperrors.ErrCodeValidation, "target column %q not found", target).
			WithContext("columns", ds.Names())
	}

	total := col.Len()
	missing := col.MissingCount()
	if total > 0 && float64(missing)/float64(total) > d.thresholds.MaxTargetMissing {
		return "", apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInsufficientData,
			"target column is mostly missing",
			"missing fraction exceeds limit", nil).
			WithContext("missing", missing).
			WithContext("total", total).
			WithContext("limit", d.thresholds.MaxTargetMissing)
	}
	usable := total - missing
	if usable < d.thresholds.MinRows {
		return "", insufficient(usable, d.thresholds.MinRows)
	}

	if opts.Override != "" {
		if !opts.Override.Valid() {
			return "", apperrors.Newf(apperrors.ErrCodeValidation, "unknown problem type %q", opts.Override)
		}
		if opts.Override == dataset.Regression || opts.Override == dataset.TimeSeries {
			if col.Type != dataset.Numeric {
				return "", apperrors.Newf(apperrors.ErrCodeValidation, "%s requires a numeric target, %q is %s", opts.Override, target, col.Type)
			}
		}
		return opts.Override, nil
	}

	if opts.TimeColumn != "" && col.Type == dataset.Numeric {
		if _, ok := ds.Column(opts.TimeColumn); !ok {
			return "", apperrors.Newf(apperrors.ErrCodeValidation, "time column %q not found", opts.TimeColumn)
		}
		return dataset.TimeSeries, nil
	}

	return d.classify(col), nil
}

// classify 应用数值目标的判定规则
func (d *Detector) classify(col *dataset.Series) dataset.ProblemType {
	if col.Type != dataset.Numeric {
		return dataset.Classification
	}
	usable := col.Len() - col.MissingCount()
	distinct := len(col.Distinct())
	if distinct <= d.thresholds.ClassificationMaxDistinct {
		return dataset.Classification
	}
	if float64(distinct)/float64(usable) < d.thresholds.ClassificationDistinctRatio {
		return dataset.Classification
	}
	return dataset.Regression
}

func insufficient(rows, min int) error {
	return apperrors.Newf(apperrors.ErrCodeInsufficientData, "need at least %d usable rows, got %d", min, rows).
		WithContext("rows", rows)
}
