package errors

import (
	"fmt"
	"testing"
)

func BenchmarkNewAppError(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewAppError(ErrCodeCandidateFailure, "test error", nil)
	}
}

func BenchmarkIsCode(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", NewAppError(ErrCodeInsufficientData, "rows", nil))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = IsCode(err, ErrCodeValidation)
	}
}
