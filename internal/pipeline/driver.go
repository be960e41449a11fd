// Package pipeline は受付から生成完了までの処理を駆動する。
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hitoshi/contentforge/internal/content"
	"github.com/hitoshi/contentforge/internal/generator"
	"github.com/hitoshi/contentforge/internal/metadata"
	"github.com/hitoshi/contentforge/internal/metrics"
	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/worker/dispatch"
)

// Transcriber はソースURLの文字起こしを取得する。
type Transcriber interface {
	Transcribe(ctx context.Context, sourceURL string) (string, error)
}

// MetadataFetcher はソースURLのタイトルと投稿者を取得する。
type MetadataFetcher interface {
	Fetch(ctx context.Context, sourceURL string) (metadata.Metadata, error)
}

// Generator は3種類の派生テキストを生成する。1回の呼び出しで再試行はしない。
type Generator interface {
	Generate(ctx context.Context, in generator.Input) (generator.Artifacts, error)
}

// Sanitizer は生成物をプレーンテキストに正規化する。
type Sanitizer interface {
	PlainText(raw string) string
}

// Enqueuer はジョブをキューに投入する。
type Enqueuer interface {
	Enqueue(ctx context.Context, job dispatch.Job) error
}

// Options はDriverのタイムアウトと再試行の設定。
type Options struct {
	TranscriptTimeout   time.Duration
	MetadataTimeout     time.Duration
	GenerationTimeout   time.Duration
	MaxAttempts         int
	InitialBackoff      time.Duration
	AutoRequestApproval bool
	// StallAfter は処理途中のレコードを停止したとみなすまでの無更新時間。
	StallAfter          time.Duration
}

// DefaultOptions は既定の設定を返す。
func DefaultOptions() Options {
	return Options{
		TranscriptTimeout: 45 * time.Second,
		MetadataTimeout:   10 * time.Second,
		GenerationTimeout: 60 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		StallAfter:        15 * time.Minute,
	}
}

// noSourceMessage は文字起こしもメタデータも得られなかった場合の記録内容。
const noSourceMessage = "no transcript and no metadata available for the source"

// Driver はqueuedのリクエストをgeneratedまで進める。
type Driver struct {
	engine      *content.Engine
	transcriber Transcriber
	metadata    MetadataFetcher
	generator   Generator
	sanitizer   Sanitizer
	enqueuer    Enqueuer
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	opts        Options
}

// NewDriver はDriverを生成する。
func NewDriver(
	engine *content.Engine,
	transcriber Transcriber,
	metadataFetcher MetadataFetcher,
	gen Generator,
	sanitizer Sanitizer,
	enqueuer Enqueuer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Driver {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	def := DefaultOptions()
	if opts.TranscriptTimeout <= 0 {
		opts.TranscriptTimeout = def.TranscriptTimeout
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = def.MetadataTimeout
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = def.GenerationTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.StallAfter <= 0 {
		opts.StallAfter = def.StallAfter
	}
	return &Driver{
		engine:      engine,
		transcriber: transcriber,
		metadata:    metadataFetcher,
		generator:   gen,
		sanitizer:   sanitizer,
		enqueuer:    enqueuer,
		metrics:     collector,
		logger:      logger,
		opts:        opts,
	}
}

// Process はgenerateジョブのハンドラ。
// 生成段階に入った後の失敗はgenerating→errorとして記録する。
// 成功時、自動承認依頼が有効であればrequest_approvalジョブを投入する。
func (d *Driver) Process(ctx context.Context, id string) error {
	generated, reachedGenerating, err := d.run(ctx, id)
	if err != nil {
		if reachedGenerating {
			d.recordFailure(ctx, id, err)
		}
		return err
	}
	if !generated || !d.opts.AutoRequestApproval || d.enqueuer == nil {
		return nil
	}
	if err := d.enqueuer.Enqueue(ctx, dispatch.Job{Kind: dispatch.KindRequestApproval, RequestID: id}); err != nil {
		d.logger.Error("承認依頼ジョブの投入に失敗しました",
			slog.String("request_id", id),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Run はqueuedのリクエストを文字起こし・メタデータ取得・生成の順に進める。
// 文字起こしもメタデータも得られない場合はerrorを記録してnilを返す。
// 生成の最終失敗はUpstreamFailureを返し、記録は呼び出し元が行う。
func (d *Driver) Run(ctx context.Context, id string) error {
	_, _, err := d.run(ctx, id)
	return err
}

func (d *Driver) run(ctx context.Context, id string) (generated, reachedGenerating bool, err error) {
	req, err := d.begin(ctx, id)
	if err != nil {
		return false, false, err
	}

	transcript := d.fetchTranscript(ctx, req)
	md, mdErr := d.fetchMetadata(ctx, req)

	req, err = d.engine.ApplyTransition(ctx, id,
		[]model.Status{model.StatusTranscribing}, model.StatusGenerating,
		func(r *model.ContentRequest) error {
			r.Transcript = transcript
			r.Title = md.Title
			r.Author = md.Author
			return nil
		})
	if err != nil {
		return false, false, err
	}

	if transcript == "" && mdErr != nil {
		d.logger.Warn("文字起こしとメタデータのいずれも取得できませんでした",
			slog.String("request_id", id),
			slog.String("error", mdErr.Error()),
		)
		_, err := d.engine.ApplyTransitionWithMessage(ctx, id,
			[]model.Status{model.StatusGenerating}, model.StatusError,
			func(r *model.ContentRequest) error {
				r.Error = noSourceMessage
				return nil
			}, "Could not read the video. Please try another URL.")
		return false, true, err
	}

	artifacts, err := d.generate(ctx, req)
	if err != nil {
		return false, true, model.NewUpstreamFailureError("content generation", err)
	}

	_, err = d.engine.ApplyTransition(ctx, id,
		[]model.Status{model.StatusGenerating}, model.StatusGenerated,
		func(r *model.ContentRequest) error {
			r.BlogPost = artifacts.BlogPost
			r.ShortPost = artifacts.ShortPost
			r.ProfessionalPost = artifacts.ProfessionalPost
			expiresAt := d.engine.Now().Add(model.ApprovalTTL)
			r.ExpiresAt = &expiresAt
			r.Error = ""
			return nil
		})
	if err != nil {
		return false, true, err
	}
	return true, true, nil
}

// begin はqueuedをtranscribingへ進める。
// StallAfter以上更新のないtranscribingのレコードは文字起こしからやり直す。
func (d *Driver) begin(ctx context.Context, id string) (*model.ContentRequest, error) {
	current, err := d.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == model.StatusTranscribing && d.stalled(current) {
		d.logger.Info("停止していたリクエストの文字起こしを再開します",
			slog.String("request_id", id),
			slog.Time("updated_at", current.UpdatedAt),
		)
		return current, nil
	}
	return d.engine.ApplyTransition(ctx, id,
		[]model.Status{model.StatusQueued}, model.StatusTranscribing, nil)
}

func (d *Driver) stalled(req *model.ContentRequest) bool {
	return d.engine.Now().Sub(req.UpdatedAt) >= d.opts.StallAfter
}

func (d *Driver) fetchTranscript(ctx context.Context, req *model.ContentRequest) string {
	ctx, cancel := context.WithTimeout(ctx, d.opts.TranscriptTimeout)
	defer cancel()

	transcript, err := d.transcriber.Transcribe(ctx, req.SourceURL)
	if err != nil {
		// 文字起こし無しでも生成は継続する
		d.logger.Warn("文字起こしの取得に失敗しました",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return transcript
}

func (d *Driver) fetchMetadata(ctx context.Context, req *model.ContentRequest) (metadata.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.MetadataTimeout)
	defer cancel()

	md, err := d.metadata.Fetch(ctx, req.SourceURL)
	if err != nil {
		d.logger.Warn("メタデータの取得に失敗しました",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
		return metadata.Metadata{}, err
	}
	return md, nil
}

// generate は試行ごとのタイムアウト付きで生成を呼び出し、再試行可能な失敗は指数バックオフで再試行する。
func (d *Driver) generate(ctx context.Context, req *model.ContentRequest) (generator.Artifacts, error) {
	in := generator.Input{
		SourceURL:  req.SourceURL,
		Title:      req.Title,
		Author:     req.Author,
		Transcript: req.Transcript,
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.opts.InitialBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.opts.MaxAttempts-1)), ctx)

	attempt := 0
	op := func() (generator.Artifacts, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.GenerationTimeout)
		defer cancel()

		start := time.Now()
		out, err := d.generator.Generate(attemptCtx, in)
		d.metrics.RecordGenerationLatency(time.Since(start))
		if err == nil {
			out = d.normalize(out)
			if !out.Complete() {
				err = fmt.Errorf("%w: empty after normalization", generator.ErrIncompleteOutput)
			}
		}
		if err == nil {
			d.metrics.RecordGenerationAttempt("success")
			return out, nil
		}

		retryable := generator.IsRetryable(err)
		d.logger.Warn("生成に失敗しました",
			slog.String("request_id", req.RequestID),
			slog.Int("attempt", attempt),
			slog.Bool("retryable", retryable),
			slog.String("error", err.Error()),
		)
		if !retryable {
			d.metrics.RecordGenerationAttempt("permanent_failure")
			return generator.Artifacts{}, backoff.Permanent(err)
		}
		d.metrics.RecordGenerationAttempt("retryable_failure")
		return generator.Artifacts{}, err
	}

	out, err := backoff.RetryWithData(op, policy)
	if err != nil {
		return generator.Artifacts{}, fmt.Errorf("%d回の試行で生成に失敗しました: %w", attempt, err)
	}
	return out, nil
}

func (d *Driver) normalize(a generator.Artifacts) generator.Artifacts {
	if d.sanitizer == nil {
		return a
	}
	return generator.Artifacts{
		BlogPost:         d.sanitizer.PlainText(a.BlogPost),
		ShortPost:        d.sanitizer.PlainText(a.ShortPost),
		ProfessionalPost: d.sanitizer.PlainText(a.ProfessionalPost),
	}
}

// recordFailure は生成段階の失敗をerror状態として記録する。
func (d *Driver) recordFailure(ctx context.Context, id string, cause error) {
	_, err := d.engine.ApplyTransitionWithMessage(ctx, id,
		[]model.Status{model.StatusGenerating}, model.StatusError,
		func(r *model.ContentRequest) error {
			r.Error = cause.Error()
			return nil
		}, "Content generation failed. Please try again.")
	if err != nil {
		d.logger.Error("失敗状態の記録に失敗しました",
			slog.String("request_id", id),
			slog.String("error", err.Error()),
		)
	}
}
