package handler

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/contentforge/internal/model"
)

// page は承認リンクの結果ページの内容。
type page struct {
	Title     string
	Message   string
	RequestID string
	Accent    string
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} | ContentForge</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: #f4f5f7; color: #1f2933; margin: 0; padding: 48px 16px; }
.card { max-width: 520px; margin: 0 auto; background: #fff; border-radius: 12px; padding: 32px; box-shadow: 0 2px 10px rgba(0,0,0,0.08); text-align: center; border-top: 6px solid {{.Accent}}; }
h1 { font-size: 24px; margin: 0 0 12px; }
p { line-height: 1.6; color: #52606d; }
small { color: #9aa5b1; }
</style>
</head>
<body>
<div class="card">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .RequestID}}<p><small>Request ID: {{.RequestID}}</small></p>{{end}}
</div>
</body>
</html>
`))

func pageApproved(id string) page {
	return page{
		Title:     "Content Approved",
		Message:   "Your content has been approved. Head back to the dashboard to publish it.",
		RequestID: id,
		Accent:    "#2f9e44",
	}
}

func pageRejected(id string) page {
	return page{
		Title:     "Content Rejected",
		Message:   "The generated content was rejected and will not be published. You can start a new request from the dashboard.",
		RequestID: id,
		Accent:    "#868e96",
	}
}

func pageExpired(id string) page {
	return page{
		Title:     "Link Expired",
		Message:   "This approval link has expired or the request could not be found. Please generate the content again.",
		RequestID: id,
		Accent:    "#f08c00",
	}
}

func pageAlreadyProcessed(id string, status model.Status) page {
	msg := "This request has already been processed."
	if status != "" {
		msg = "This request has already been processed (current status: " + string(status) + ")."
	}
	return page{Title: "Already Processed", Message: msg, RequestID: id, Accent: "#1c7ed6"}
}

func pageInvalid(id string) page {
	return page{
		Title:     "Invalid Link",
		Message:   "This approval link is incomplete or malformed. Please use the buttons in the approval email.",
		RequestID: id,
		Accent:    "#e03131",
	}
}

func pageError(id string) page {
	return page{
		Title:     "Something Went Wrong",
		Message:   "We could not record your decision. Please try the link again in a moment.",
		RequestID: id,
		Accent:    "#e03131",
	}
}

// renderPage は結果ページを書き込む。
func renderPage(logger *slog.Logger, w http.ResponseWriter, status int, p page) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		logger.Error("結果ページの描画に失敗しました", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
