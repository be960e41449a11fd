// Package generator は文字起こしとソース情報から3種類の派生テキストを生成する
// 言語モデルクライアントを提供する。
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrIncompleteOutput はモデルの出力が不完全（キー欠落・空文字・JSON不正）であることを表す。
// 再試行で解消する可能性があるため、リトライ対象として扱う。
var ErrIncompleteOutput = errors.New("generator: incomplete model output")

// ErrNotConfigured はAPIキーなどの必須設定が無いことを表す。
var ErrNotConfigured = errors.New("generator: not configured")

// Input は生成に使用するソース情報。
type Input struct {
	SourceURL  string
	Title      string
	Author     string
	Transcript string
}

// Artifacts はモデルが生成した3種類のテキスト。
type Artifacts struct {
	BlogPost         string
	ShortPost        string
	ProfessionalPost string
}

// Complete は3種類すべてが空でないかを返す。
func (a Artifacts) Complete() bool {
	return a.BlogPost != "" && a.ShortPost != "" && a.ProfessionalPost != ""
}

// HTTPStatusError は生成APIが2xx以外を返したことを表す。
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("generator: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// wireArtifacts はモデルに要求するJSONの形。
type wireArtifacts struct {
	BlogPost     string `json:"blogPost"`
	Tweet        string `json:"tweet"`
	LinkedinPost string `json:"linkedinPost"`
}

// DecodeArtifacts はモデル出力からArtifactsを取り出す。
// コードフェンスや前後の文章に囲まれたJSONも受け付ける。
// JSONとして解釈できない場合やキーが欠けている場合はErrIncompleteOutputを返す。
func DecodeArtifacts(content string) (Artifacts, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Artifacts{}, fmt.Errorf("%w: empty content", ErrIncompleteOutput)
	}

	var wire wireArtifacts
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		candidate := extractJSONObject(trimmed)
		if candidate == "" {
			return Artifacts{}, fmt.Errorf("%w: %v", ErrIncompleteOutput, err)
		}
		if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
			return Artifacts{}, fmt.Errorf("%w: %v", ErrIncompleteOutput, err)
		}
	}

	out := Artifacts{
		BlogPost:         strings.TrimSpace(wire.BlogPost),
		ShortPost:        strings.TrimSpace(wire.Tweet),
		ProfessionalPost: strings.TrimSpace(wire.LinkedinPost),
	}
	if !out.Complete() {
		return Artifacts{}, fmt.Errorf("%w: missing blogPost, tweet or linkedinPost", ErrIncompleteOutput)
	}
	return out, nil
}

// extractJSONObject はコードフェンスを外し、最初の{から最後の}までを返す。
func extractJSONObject(content string) string {
	s := stripCodeFence(content)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

func stripCodeFence(content string) string {
	start := strings.Index(content, "```")
	if start < 0 {
		return content
	}
	rest := content[start+3:]
	// 言語指定（```json など）を読み飛ばす
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// IsRetryable はエラーが再試行で解消し得るかを判定する。
// 不完全な出力、試行単位のタイムアウト、ネットワークエラー、429と5xxが対象。
// 呼び出し元のキャンセルと4xxは再試行しない。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIncompleteOutput) {
		return true
	}
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}

	// 接続失敗などのトランスポートエラー（*url.Errorを含む）
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
