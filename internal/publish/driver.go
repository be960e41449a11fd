// Package publish は承認済みコンテンツの（シミュレートされた）公開を行う。
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/hitoshi/contentforge/internal/content"
	"github.com/hitoshi/contentforge/internal/mailer"
	"github.com/hitoshi/contentforge/internal/metrics"
	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/worker/dispatch"
)

// DefaultHandle はハンドル未指定時に使用する既定のハンドル。
const DefaultHandle = "contentforge"

const (
	enqueueTimeout = 5 * time.Second
	mailTimeout    = 15 * time.Second
)

// Mailer はメールを送信する。
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Enqueuer はジョブをキューに投入する。
type Enqueuer interface {
	Enqueue(ctx context.Context, job dispatch.Job) error
}

// Driver は公開の受付と実行を行う。
type Driver struct {
	engine         *content.Engine
	enqueuer       Enqueuer
	mailer         Mailer
	fallbackHandle string
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
}

// NewDriver はDriverを生成する。fallbackHandleが空の場合はDefaultHandleを使用する。
func NewDriver(
	engine *content.Engine,
	enqueuer Enqueuer,
	m Mailer,
	fallbackHandle string,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Driver {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if m == nil {
		m = mailer.Nop{}
	}
	fallbackHandle = NormalizeHandle(fallbackHandle)
	if fallbackHandle == "" {
		fallbackHandle = DefaultHandle
	}
	return &Driver{
		engine:         engine,
		enqueuer:       enqueuer,
		mailer:         m,
		fallbackHandle: fallbackHandle,
		metrics:        collector,
		logger:         logger,
	}
}

// Trigger はapprovedのリクエストにハンドルを記録してpublishingへ進め、publishジョブを投入する。
// キューへの投入に失敗した場合はその場で公開を実行する。
// publishingへ進んだ後はTriggerを再試行できないため、投入失敗をエラーとして返さない。
func (d *Driver) Trigger(ctx context.Context, id string, handles model.Handles) (*model.ContentRequest, error) {
	req, err := d.engine.ApplyTransition(ctx, id,
		[]model.Status{model.StatusApproved}, model.StatusPublishing,
		func(r *model.ContentRequest) error {
			h := handles
			r.Handles = &h
			return nil
		})
	if err != nil {
		return nil, err
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	err = d.enqueuer.Enqueue(enqueueCtx, dispatch.Job{Kind: dispatch.KindPublish, RequestID: id})
	if err == nil {
		return req, nil
	}

	d.logger.Warn("公開ジョブの投入に失敗したため同期的に公開します",
		slog.String("request_id", id),
		slog.String("error", err.Error()),
	)
	if err := d.Execute(ctx, id); err != nil {
		d.logger.Error("同期的な公開に失敗しました",
			slog.String("request_id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return d.engine.Get(ctx, id)
}

// Execute はpublishingのリクエストの公開結果を記録してpublishedへ進める。
// 3種類の生成物が揃っていない場合はFatalを返し、何も書き込まない。
// 完了メールはベストエフォートで送信する。
func (d *Driver) Execute(ctx context.Context, id string) error {
	current, err := d.engine.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == model.StatusPublishing && !current.HasArtifacts() {
		return model.NewFatalError(fmt.Sprintf("request %s has no generated content to publish", id))
	}

	published, err := d.engine.ApplyTransitionWithMessage(ctx, id,
		[]model.Status{model.StatusPublishing}, model.StatusPublished,
		func(r *model.ContentRequest) error {
			if !r.HasArtifacts() {
				return model.NewFatalError(fmt.Sprintf("request %s has no generated content to publish", id))
			}
			now := d.engine.Now()
			r.Results = d.buildResults(r, now)
			r.PublishedAt = &now
			return nil
		}, "Published successfully.")
	if err != nil {
		return err
	}
	d.metrics.RecordPublished()

	d.sendCompletion(ctx, published)
	return nil
}

// buildResults は全プラットフォームで同一の時刻を使って公開結果を組み立てる。
func (d *Driver) buildResults(r *model.ContentRequest, at time.Time) map[string]model.PublishResult {
	var h model.Handles
	if r.Handles != nil {
		h = *r.Handles
	}
	devto := d.handleOrFallback(h.DevTo)
	x := d.handleOrFallback(h.X)
	linkedIn := d.handleOrFallback(h.LinkedIn)

	return map[string]model.PublishResult{
		model.ResultBlog: {
			Platform:    "Dev.to",
			Handle:      devto,
			URL:         fmt.Sprintf("https://dev.to/%s/article-%s", devto, r.RequestID),
			Published:   true,
			PublishedAt: at,
		},
		model.ResultTweet: {
			Platform:    "X",
			Handle:      x,
			URL:         fmt.Sprintf("https://x.com/%s/status/%s", x, r.RequestID),
			Published:   true,
			PublishedAt: at,
		},
		model.ResultLinkedIn: {
			Platform:    "LinkedIn",
			Handle:      linkedIn,
			URL:         fmt.Sprintf("https://linkedin.com/in/%s", linkedIn),
			Published:   true,
			PublishedAt: at,
		},
	}
}

func (d *Driver) handleOrFallback(raw string) string {
	if h := NormalizeHandle(raw); h != "" {
		return h
	}
	return d.fallbackHandle
}

// NormalizeHandle は前後の空白と先頭の@を1つ取り除き、残りの空白をすべて除去する。
func NormalizeHandle(raw string) string {
	h := strings.TrimSpace(raw)
	h = strings.TrimPrefix(h, "@")
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, h)
}

func (d *Driver) sendCompletion(ctx context.Context, req *model.ContentRequest) {
	msg, err := mailer.PublishedEmail(mailer.PublishedData{
		To:               req.UserEmail,
		RequestID:        req.RequestID,
		SourceURL:        req.SourceURL,
		BlogPost:         req.BlogPost,
		ShortPost:        req.ShortPost,
		ProfessionalPost: req.ProfessionalPost,
		Results:          req.Results,
	})
	if err == nil {
		sendCtx, cancel := context.WithTimeout(ctx, mailTimeout)
		defer cancel()
		err = d.mailer.Send(sendCtx, msg)
	}
	if err == nil {
		d.logger.Info("公開完了メールを送信しました", slog.String("request_id", req.RequestID))
		return
	}

	d.metrics.RecordNotificationFailure("published_email")
	if errors.Is(err, mailer.ErrNotConfigured) {
		d.logger.Warn("メール送信が未設定のため公開完了メールを送信しませんでした",
			slog.String("request_id", req.RequestID),
		)
		return
	}
	d.logger.Error("公開完了メールの送信に失敗しました",
		slog.String("request_id", req.RequestID),
		slog.String("error", err.Error()),
	)
}
