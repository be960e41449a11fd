package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/contentforge/internal/model"
)

// PublishTrigger は承認済みリクエストの公開を開始する。
type PublishTrigger interface {
	Trigger(ctx context.Context, id string, handles model.Handles) (*model.ContentRequest, error)
}

// PublishHandler は公開開始のHTTPハンドラー。
type PublishHandler struct {
	trigger PublishTrigger
	logger  *slog.Logger
}

// NewPublishHandler はPublishHandlerを生成する。
func NewPublishHandler(trigger PublishTrigger, logger *slog.Logger) *PublishHandler {
	return &PublishHandler{trigger: trigger, logger: logger}
}

type publishRequest struct {
	RequestID string         `json:"requestId"`
	Handles   *model.Handles `json:"handles"`
}

type publishResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
}

// Publish は公開を開始する。公開処理はpublishジョブで行い、投入できない場合は同期的に行う。
// POST /publish
func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var body publishRequest
	if err := decodeJSON(w, r, &body); err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}
	id := strings.TrimSpace(body.RequestID)
	if id == "" {
		handleServiceError(h.logger, w, r, model.NewValidationError("requestId", "is required"))
		return
	}

	var handles model.Handles
	if body.Handles != nil {
		handles = *body.Handles
	}

	if _, err := h.trigger.Trigger(r.Context(), id, handles); err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, publishResponse{Success: true, RequestID: id})
}
