package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/contentforge/internal/model"
)

// ContentSubmitter は新規リクエストを受け付ける。
type ContentSubmitter interface {
	Submit(ctx context.Context, sourceURL, userEmail string) (*model.ContentRequest, error)
}

// ContentReader はリクエストを取得する。存在しない場合はNotFoundを返す。
type ContentReader interface {
	Get(ctx context.Context, id string) (*model.ContentRequest, error)
}

// StatusReader は最新のライブステータスを取得する。
type StatusReader interface {
	Latest(ctx context.Context, requestID string) (*model.StatusEvent, error)
}

// ContentHandler はコンテンツリクエストの作成と参照を扱う。
type ContentHandler struct {
	submitter ContentSubmitter
	reader    ContentReader
	statuses  StatusReader
	logger    *slog.Logger
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(submitter ContentSubmitter, reader ContentReader, statuses StatusReader, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{submitter: submitter, reader: reader, statuses: statuses, logger: logger}
}

type createContentRequest struct {
	YoutubeURL string `json:"youtubeUrl"`
	UserEmail  string `json:"userEmail"`
}

type createContentResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// CreateContent は新規リクエストを受け付ける。
// POST /create-content
func (h *ContentHandler) CreateContent(w http.ResponseWriter, r *http.Request) {
	var body createContentRequest
	if err := decodeJSON(w, r, &body); err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}

	req, err := h.submitter.Submit(r.Context(), body.YoutubeURL, body.UserEmail)
	if err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createContentResponse{
		Success:   true,
		Message:   "Content generation started. You will receive an email when it is ready for review.",
		RequestID: req.RequestID,
	})
}

// GetContent はリクエストの現在の内容を返す。
// GET /content?id= および GET /content/{id}
func (h *ContentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	id := requestIDParam(r)
	if id == "" {
		handleServiceError(h.logger, w, r, model.NewValidationError("id", "is required"))
		return
	}

	req, err := h.reader.Get(r.Context(), id)
	if err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: req})
}

// GetStatus は最新のライブステータスを返す。
// GET /content/{id}/status
func (h *ContentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := requestIDParam(r)
	if id == "" {
		handleServiceError(h.logger, w, r, model.NewValidationError("id", "is required"))
		return
	}

	ev, err := h.statuses.Latest(r.Context(), id)
	if err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}
	if ev == nil {
		handleServiceError(h.logger, w, r, model.NewNotFoundError(id))
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: ev})
}

// requestIDParam はURLパスまたはクエリ文字列からリクエストIDを取り出す。
func requestIDParam(r *http.Request) string {
	if id := chi.URLParam(r, "id"); id != "" {
		return strings.TrimSpace(id)
	}
	return strings.TrimSpace(r.URL.Query().Get("id"))
}
