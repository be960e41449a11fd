// Package approval はメールリンクによる承認・却下の受付を提供する。
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/contentforge/internal/content"
	"github.com/hitoshi/contentforge/internal/mailer"
	"github.com/hitoshi/contentforge/internal/metrics"
	"github.com/hitoshi/contentforge/internal/model"
)

// Action はメールリンクで指定される操作。
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction はクエリ文字列の操作名を検証する。
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	default:
		return "", model.NewValidationError("action", "must be approve or reject")
	}
}

// Outcome は承認リンクのクリック結果。
type Outcome string

const (
	OutcomeApproved         Outcome = "approved"
	OutcomeRejected         Outcome = "rejected"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeExpired          Outcome = "expired"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// Decision はRecordDecisionの結果。
// エラー時もOutcomeと（分かる範囲で）現在の状態を返す。
type Decision struct {
	Outcome Outcome
	Status  model.Status
	Record  *model.ContentRequest
}

// Mailer はメールを送信する。
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// mailTimeout はメール送信1回あたりのタイムアウト。
const mailTimeout = 15 * time.Second

// Gate は承認依頼の送信と承認・却下の記録を行う。
type Gate struct {
	engine  *content.Engine
	mailer  Mailer
	baseURL string
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewGate はGateを生成する。baseURLは承認リンクの生成に使用する。
func NewGate(engine *content.Engine, m Mailer, baseURL string, collector metrics.MetricsCollector, logger *slog.Logger) *Gate {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if m == nil {
		m = mailer.Nop{}
	}
	return &Gate{
		engine:  engine,
		mailer:  m,
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: collector,
		logger:  logger,
	}
}

// RequestNotification はgeneratedのリクエストをpending_approvalへ進め、承認依頼メールを送信する。
// 遷移に成功した呼び出しだけがメールを送る。送信失敗はログに記録し、遷移は維持する。
func (g *Gate) RequestNotification(ctx context.Context, id string) (*model.ContentRequest, error) {
	req, err := g.engine.ApplyTransition(ctx, id,
		[]model.Status{model.StatusGenerated}, model.StatusPendingApproval, nil)
	if err != nil {
		return nil, err
	}

	msg, err := mailer.ApprovalEmail(mailer.ApprovalData{
		To:               req.UserEmail,
		RequestID:        req.RequestID,
		SourceURL:        req.SourceURL,
		Title:            req.Title,
		BlogPost:         req.BlogPost,
		ShortPost:        req.ShortPost,
		ProfessionalPost: req.ProfessionalPost,
		ApproveURL:       g.DecisionURL(req.RequestID, ActionApprove),
		RejectURL:        g.DecisionURL(req.RequestID, ActionReject),
	})
	if err != nil {
		g.notificationFailed(req.RequestID, fmt.Errorf("承認メールの生成に失敗しました: %w", err))
		return req, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, mailTimeout)
	defer cancel()
	if err := g.mailer.Send(sendCtx, msg); err != nil {
		g.notificationFailed(req.RequestID, err)
		return req, nil
	}

	g.logger.Info("承認依頼メールを送信しました",
		slog.String("request_id", req.RequestID),
	)
	return req, nil
}

// DecisionURL は承認・却下リンクのURLを返す。
func (g *Gate) DecisionURL(id string, action Action) string {
	q := url.Values{}
	q.Set("id", id)
	q.Set("action", string(action))
	return g.baseURL + "/api/approve?" + q.Encode()
}

// RecordDecision は承認・却下を記録する。
// 期限切れの判定は読み込み時と書き込み直前の両方で行い、期限切れの場合は状態を変更しない。
func (g *Gate) RecordDecision(ctx context.Context, id string, action Action) (Decision, error) {
	next := model.StatusApproved
	outcome := OutcomeApproved
	if action == ActionReject {
		next = model.StatusRejected
		outcome = OutcomeRejected
	}

	current, err := g.engine.Get(ctx, id)
	if err != nil {
		if model.HasCode(err, model.ErrCodeNotFound) {
			return Decision{Outcome: OutcomeNotFound}, err
		}
		return Decision{}, err
	}

	if d, err := g.precheck(current, next); err != nil {
		return d, err
	}

	updated, err := g.engine.ApplyTransition(ctx, id,
		[]model.Status{model.StatusPendingApproval}, next,
		func(r *model.ContentRequest) error {
			now := g.engine.Now()
			if r.IsExpiredAt(now) {
				return model.NewGoneError(id)
			}
			r.DecidedAt = &now
			return nil
		})
	if err != nil {
		// 読み込み後に他の書き込みが確定した場合は最新の状態で結果を判定する
		if latest, getErr := g.engine.Get(ctx, id); getErr == nil {
			if d, preErr := g.precheck(latest, next); preErr != nil {
				return d, preErr
			}
		}
		if model.HasCode(err, model.ErrCodeGone) {
			return Decision{Outcome: OutcomeExpired, Status: current.Status, Record: current}, err
		}
		return Decision{Outcome: OutcomeAlreadyProcessed, Status: current.Status, Record: current}, err
	}

	g.logger.Info("承認結果を記録しました",
		slog.String("request_id", id),
		slog.String("action", string(action)),
	)
	return Decision{Outcome: outcome, Status: updated.Status, Record: updated}, nil
}

// precheck は書き込み前の状態から期限切れ・処理済みを判定する。
func (g *Gate) precheck(req *model.ContentRequest, next model.Status) (Decision, error) {
	if req.Status == model.StatusExpired || (req.Status == model.StatusPendingApproval && req.IsExpiredAt(g.engine.Now())) {
		return Decision{Outcome: OutcomeExpired, Status: req.Status, Record: req}, model.NewGoneError(req.RequestID)
	}
	if req.Status != model.StatusPendingApproval {
		return Decision{Outcome: OutcomeAlreadyProcessed, Status: req.Status, Record: req},
			model.NewInvalidTransitionError(req.RequestID, req.Status, next)
	}
	return Decision{}, nil
}

func (g *Gate) notificationFailed(id string, err error) {
	g.metrics.RecordNotificationFailure("approval_email")
	if errors.Is(err, mailer.ErrNotConfigured) {
		g.logger.Warn("メール送信が未設定のため承認依頼メールを送信しませんでした",
			slog.String("request_id", id),
		)
		return
	}
	g.logger.Error("承認依頼メールの送信に失敗しました",
		slog.String("request_id", id),
		slog.String("error", err.Error()),
	)
}
