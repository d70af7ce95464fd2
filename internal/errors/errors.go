package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode 定义错误代码类型
type ErrorCode string

// 错误代码常量
const (
	// 通用错误
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// 数据校验错误, 在任何训练开始之前终止流水线
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeInsufficientData ErrorCode = "INSUFFICIENT_DATA"

	// 流水线阶段错误
	ErrCodePreprocessing       ErrorCode = "PREPROCESSING_FAILED"
	ErrCodeCandidateFailure    ErrorCode = "CANDIDATE_FAILURE"
	ErrCodeAllCandidatesFailed ErrorCode = "ALL_CANDIDATES_FAILED"
	ErrCodeOptionalDependency  ErrorCode = "OPTIONAL_DEPENDENCY_MISSING"
	ErrCodeDriftComputation    ErrorCode = "DRIFT_COMPUTATION_ERROR"

	// 模型注册表与存储错误
	ErrCodeModelNotFound ErrorCode = "MODEL_NOT_FOUND"
	ErrCodePersistence   ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeDBQuery       ErrorCode = "DB_QUERY_ERROR"
	ErrCodeCacheMiss     ErrorCode = "CACHE_MISS"

	// 服务边界
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
)

// ErrorSeverity 定义错误严重程度
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError 应用错误结构
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Stage     string                 `json:"stage,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误代码匹配, 使 errors.Is(err, ErrValidation) 可用
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code || (t.Code == ErrCodeValidation && e.Code == ErrCodeInsufficientData)
}

// NewAppError 创建新的应用错误
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// NewAppErrorWithDetails 创建带详细信息的应用错误
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// Newf 使用格式化消息创建应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return NewAppError(code, fmt.Sprintf(format, args...), nil)
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStage 标记出错的流水线阶段
func (e *AppError) WithStage(stage string) *AppError {
	e.Stage = stage
	return e
}

// IsFatal 判断错误是否终止整个流水线
func (e *AppError) IsFatal() bool {
	switch e.Code {
	case ErrCodeCandidateFailure, ErrCodeOptionalDependency, ErrCodeDriftComputation, ErrCodeCacheMiss:
		return false
	default:
		return true
	}
}

// getSeverityByCode 根据错误代码确定严重程度
func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeAllCandidatesFailed, ErrCodePersistence:
		return SeverityCritical
	case ErrCodeValidation, ErrCodeInsufficientData, ErrCodePreprocessing, ErrCodeConfigInvalid, ErrCodeDBQuery:
		return SeverityHigh
	case ErrCodeCandidateFailure, ErrCodeDriftComputation, ErrCodeModelNotFound, ErrCodeRateLimited:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// 预定义的哨兵错误, 用于 errors.Is 比较
var (
	ErrValidation          = &AppError{Code: ErrCodeValidation, Message: "validation failed"}
	ErrInsufficientData    = &AppError{Code: ErrCodeInsufficientData, Message: "insufficient data"}
	ErrCandidateFailure    = &AppError{Code: ErrCodeCandidateFailure, Message: "candidate failed"}
	ErrAllCandidatesFailed = &AppError{Code: ErrCodeAllCandidatesFailed, Message: "all candidates failed"}
	ErrOptionalDependency  = &AppError{Code: ErrCodeOptionalDependency, Message: "optional dependency missing"}
	ErrDriftComputation    = &AppError{Code: ErrCodeDriftComputation, Message: "drift computation failed"}
	ErrModelNotFound       = &AppError{Code: ErrCodeModelNotFound, Message: "model not found"}
	ErrCacheMiss           = &AppError{Code: ErrCodeCacheMiss, Message: "cache miss"}
)

// WrapError 包装标准错误为应用错误
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，直接返回
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	return NewAppError(code, message, err)
}

// IsAppError 检查是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode 沿包装链判断错误是否属于给定代码
func IsCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &AppError{Code: code})
}
