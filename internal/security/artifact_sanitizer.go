package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ArtifactSanitizerService は生成されたテキストからマークアップを取り除くインターフェース。
// 生成物はメール本文や外部プラットフォーム向けのプレーンテキストとして扱う。
type ArtifactSanitizerService interface {
	// PlainText はタグを除去し、エンティティを復元したプレーンテキストを返す。
	// script/style要素は中身ごと除去する。同一入力に対して常に同一出力を返す。
	PlainText(raw string) string
}

// ArtifactSanitizer はbluemondayのStrictPolicyを用いたArtifactSanitizerServiceの実装。
type ArtifactSanitizer struct {
	policy *bluemonday.Policy
}

// NewArtifactSanitizer はArtifactSanitizerを生成する。
func NewArtifactSanitizer() *ArtifactSanitizer {
	return &ArtifactSanitizer{policy: bluemonday.StrictPolicy()}
}

var _ ArtifactSanitizerService = (*ArtifactSanitizer)(nil)

var excessBlankLines = regexp.MustCompile(`\n{3,}`)

// PlainText はタグを除去したプレーンテキストを返す。
func (s *ArtifactSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	stripped = strings.ReplaceAll(stripped, "\r\n", "\n")
	stripped = excessBlankLines.ReplaceAllString(stripped, "\n\n")
	return strings.TrimSpace(stripped)
}
