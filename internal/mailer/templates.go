package mailer

import (
	"html/template"
	"strings"

	"github.com/hitoshi/contentforge/internal/model"
)

// ApprovalData は承認依頼メールの差し込みデータ。
type ApprovalData struct {
	To               string
	RequestID        string
	SourceURL        string
	Title            string
	BlogPost         string
	ShortPost        string
	ProfessionalPost string
	ApproveURL       string
	RejectURL        string
}

// PublishedData は公開完了メールの差し込みデータ。
type PublishedData struct {
	To               string
	RequestID        string
	SourceURL        string
	BlogPost         string
	ShortPost        string
	ProfessionalPost string
	Results          map[string]model.PublishResult
}

var templates = template.Must(template.New("mail").Funcs(template.FuncMap{
	"preview": preview,
}).Parse(`
{{define "approval"}}<!doctype html><html><head><meta charset="utf-8"/></head>
<body style="font-family:Arial,sans-serif;line-height:1.6;max-width:600px;margin:0 auto;padding:20px;">
<h1>ContentForge</h1>
<p>Your AI-generated content is ready{{if .Title}} for <strong>{{.Title}}</strong>{{end}}.</p>
<h2>Blog Post Preview</h2>
<p style="white-space:pre-wrap;">{{preview .BlogPost 500}}</p>
<h2>Tweet</h2>
<p>{{.ShortPost}}</p>
<h2>LinkedIn Post</h2>
<p style="white-space:pre-wrap;">{{preview .ProfessionalPost 300}}</p>
<p style="text-align:center;margin:40px 0;">
<a href="{{.ApproveURL}}" style="background:#4CAF50;color:#fff;padding:15px 40px;text-decoration:none;border-radius:5px;">Approve &amp; Publish</a>
<a href="{{.RejectURL}}" style="background:#f44336;color:#fff;padding:15px 40px;text-decoration:none;border-radius:5px;">Reject</a>
</p>
<p><strong>This link expires in 24 hours.</strong><br>Request ID: <code>{{.RequestID}}</code></p>
</body></html>{{end}}

{{define "published"}}<!doctype html><html><head><meta charset="utf-8"/></head>
<body style="font-family:Arial,sans-serif;line-height:1.6;">
<h2>Published successfully</h2>
<p>Request ID: <code>{{.RequestID}}</code></p>
<h3>Destinations</h3>
<ul>
{{with index .Results "blog"}}<li>Blog: <a href="{{.URL}}">{{.URL}}</a></li>{{end}}
{{with index .Results "tweet"}}<li>Tweet: <a href="{{.URL}}">{{.URL}}</a></li>{{end}}
{{with index .Results "linkedin"}}<li>LinkedIn: <a href="{{.URL}}">{{.URL}}</a></li>{{end}}
</ul>
<h3>Content</h3>
<h4>Blog</h4>
<pre style="white-space:pre-wrap;">{{.BlogPost}}</pre>
<h4>Tweet</h4>
<pre style="white-space:pre-wrap;">{{.ShortPost}}</pre>
<h4>LinkedIn</h4>
<pre style="white-space:pre-wrap;">{{.ProfessionalPost}}</pre>
<p>Original video: <a href="{{.SourceURL}}">{{.SourceURL}}</a></p>
</body></html>{{end}}
`))

// ApprovalEmail は承認依頼メールを組み立てる。
func ApprovalEmail(data ApprovalData) (Message, error) {
	html, err := render("approval", data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      data.To,
		Subject: "Your AI-Generated Content is Ready!",
		HTML:    html,
	}, nil
}

// PublishedEmail は公開完了メールを組み立てる。
func PublishedEmail(data PublishedData) (Message, error) {
	html, err := render("published", data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      data.To,
		Subject: "Your Content is Live!",
		HTML:    html,
	}, nil
}

func render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// preview はlimit文字（rune単位）を超える場合に切り詰めて"..."を付ける。
func preview(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
