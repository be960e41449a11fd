package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/contentforge/internal/approval"
	"github.com/hitoshi/contentforge/internal/model"
)

// ApprovalService は承認依頼の送信と承認結果の記録を行う。
type ApprovalService interface {
	RequestNotification(ctx context.Context, id string) (*model.ContentRequest, error)
	RecordDecision(ctx context.Context, id string, action approval.Action) (approval.Decision, error)
}

// ApprovalHandler は承認フローのHTTPハンドラー。
type ApprovalHandler struct {
	service ApprovalService
	logger  *slog.Logger
}

// NewApprovalHandler はApprovalHandlerを生成する。
func NewApprovalHandler(service ApprovalService, logger *slog.Logger) *ApprovalHandler {
	return &ApprovalHandler{service: service, logger: logger}
}

type sendApprovalRequest struct {
	RequestID string `json:"requestId"`
}

type sendApprovalResponse struct {
	Success   bool         `json:"success"`
	RequestID string       `json:"requestId"`
	Status    model.Status `json:"status"`
}

// SendApprovalEmail は承認依頼メールを送信する。
// POST /send-approval-email
func (h *ApprovalHandler) SendApprovalEmail(w http.ResponseWriter, r *http.Request) {
	var body sendApprovalRequest
	if err := decodeJSON(w, r, &body); err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}
	id := strings.TrimSpace(body.RequestID)
	if id == "" {
		handleServiceError(h.logger, w, r, model.NewValidationError("requestId", "is required"))
		return
	}

	req, err := h.service.RequestNotification(r.Context(), id)
	if err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sendApprovalResponse{
		Success:   true,
		RequestID: req.RequestID,
		Status:    req.Status,
	})
}

// Approve はメール内のリンクから承認・却下を記録し、結果をHTMLページで返す。
// GET /api/approve?id=&action=
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	action, err := approval.ParseAction(r.URL.Query().Get("action"))
	if id == "" || err != nil {
		renderPage(h.logger, w, http.StatusBadRequest, pageInvalid(""))
		return
	}

	decision, err := h.service.RecordDecision(r.Context(), id, action)
	if err != nil {
		status, page := decisionErrorPage(id, decision, err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("承認結果の記録に失敗しました",
				slog.String("request_id", id),
				slog.String("error", err.Error()),
			)
		}
		renderPage(h.logger, w, status, page)
		return
	}

	if decision.Outcome == approval.OutcomeRejected {
		renderPage(h.logger, w, http.StatusOK, pageRejected(id))
		return
	}
	renderPage(h.logger, w, http.StatusOK, pageApproved(id))
}

// decisionErrorPage は記録失敗の理由に応じたステータスとページを返す。
func decisionErrorPage(id string, d approval.Decision, err error) (int, page) {
	switch {
	case model.HasCode(err, model.ErrCodeNotFound), model.HasCode(err, model.ErrCodeGone):
		return http.StatusGone, pageExpired(id)
	case model.HasCode(err, model.ErrCodeInvalidTransition):
		return http.StatusConflict, pageAlreadyProcessed(id, d.Status)
	case model.HasCode(err, model.ErrCodeValidation):
		return http.StatusBadRequest, pageInvalid(id)
	default:
		return http.StatusInternalServerError, pageError(id)
	}
}
