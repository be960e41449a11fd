// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: request, validation, upstream, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因（ログ用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeGone              = "GONE"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeUpstreamFailure   = "UPSTREAM_FAILURE"
	ErrCodeFatal             = "FATAL"
	ErrCodeQueueUnavailable  = "QUEUE_UNAVAILABLE"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// HasCode はerrのチェーン中のAPIErrorが指定コードを持つかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewNotFoundError はリクエスト未検出エラーを生成する。
func NewNotFoundError(requestID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("content request not found: %s", requestID),
		Category: "request",
		Action:   "Check the request id or create a new request.",
	}
}

// NewGoneError は承認期限切れエラーを生成する。
func NewGoneError(requestID string) *APIError {
	return &APIError{
		Code:     ErrCodeGone,
		Message:  fmt.Sprintf("content request has expired: %s", requestID),
		Category: "request",
		Action:   "Generate the content again from the dashboard.",
	}
}

// NewInvalidTransitionError は不正な状態遷移（または競合）エラーを生成する。
func NewInvalidTransitionError(requestID string, current, next Status) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("cannot move request %s from %s to %s", requestID, current, next),
		Category: "request",
		Action:   "Reload the request to see its current status.",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("invalid %s: %s", field, reason),
		Category: "validation",
		Action:   "Fix the request parameters and try again.",
	}
}

// NewUpstreamFailureError は外部サービス呼び出しの失敗を生成する。
func NewUpstreamFailureError(operation string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailure,
		Message:  fmt.Sprintf("%s failed", operation),
		Category: "upstream",
		Action:   "Please try again later.",
		Err:      cause,
	}
}

// NewFatalError は処理を継続できない内部状態の不整合を生成する。
func NewFatalError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFatal,
		Message:  reason,
		Category: "system",
		Action:   "Contact the administrator.",
	}
}

// NewQueueUnavailableError はジョブキューへの投入に失敗した場合のエラーを生成する。
func NewQueueUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeQueueUnavailable,
		Message:  "the job queue is not accepting work",
		Category: "system",
		Action:   "Please wait a moment and try again.",
		Err:      cause,
	}
}
