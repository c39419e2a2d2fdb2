package service

import (
	"errors"
	"fmt"
)

// 业务错误。处理器通过 errors.Is 把它们映射为 HTTP 状态码。
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotPDF       = fmt.Errorf("only PDF files are allowed: %w", ErrInvalidInput)

	ErrChatNotFound = errors.New("chat not found")

	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrRetrievalUnavailable = fmt.Errorf("retrieval unavailable: %w", ErrServiceUnavailable)
	ErrReformulationFailed  = fmt.Errorf("question reformulation failed: %w", ErrServiceUnavailable)
	ErrGenerationFailed     = fmt.Errorf("answer generation failed: %w", ErrServiceUnavailable)
	ErrIngestionFailed      = fmt.Errorf("document ingestion failed: %w", ErrServiceUnavailable)
)

// wrap 把底层错误挂到业务错误下，两者都可以被 errors.Is 识别。
func wrap(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}
