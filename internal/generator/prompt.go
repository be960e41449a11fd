package generator

import (
	"strings"
	"text/template"
)

// SystemPrompt はすべてのプロバイダで共通のシステムプロンプト。
const SystemPrompt = "You are ContentForge. Return ONLY valid JSON with keys: blogPost, tweet, linkedinPost."

const userPromptTemplate = `Source URL: {{.SourceURL}}
{{- if .Title}}
Title: {{.Title}}
{{- end}}
{{- if .Author}}
Author: {{.Author}}
{{- end}}
{{if .Transcript}}Transcript:
{{.Transcript}}{{else}}Transcript: (not available){{end}}

Write:
- blogPost: 100-200 words, clear headings, actionable.
- tweet: a single short post, no hashtags.
- linkedinPost: <= 300 chars, professional tone, 3-6 bullet points, CTA at end.

Output JSON only.`

var userPrompt = template.Must(template.New("user").Parse(userPromptTemplate))

// BuildUserPrompt は入力からユーザープロンプトを組み立てる。
func BuildUserPrompt(in Input) (string, error) {
	var sb strings.Builder
	if err := userPrompt.Execute(&sb, in); err != nil {
		return "", err
	}
	return sb.String(), nil
}
