package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/contentforge/internal/content"
	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/repository"
	"github.com/hitoshi/contentforge/internal/worker/dispatch"
)

// interruptedMessage は生成中に停止したレコードへ記録する内容。
const interruptedMessage = "content generation was interrupted before completion"

// ResumeResult は1回の再開処理の集計。
type ResumeResult struct {
	Scanned     int
	Requeued    int
	Interrupted int
	Failed      int
}

// Resumer は生成ジョブが投入されないまま、または処理途中で止まったリクエストを再開する。
// queued・transcribingはgenerateジョブを再投入し、generatingはerrorとして記録する。
// 対象はStallAfter以上更新のないレコードに限る。
type Resumer struct {
	engine     *content.Engine
	index      repository.IndexRepository
	enqueuer   Enqueuer
	stallAfter time.Duration
	logger     *slog.Logger

	// requeued は再投入した時刻。同じレコードをstallAfter以内に再投入しない
	requeued map[string]time.Time
}

// NewResumer はResumerを生成する。stallAfterが0以下の場合は既定値を使用する。
func NewResumer(engine *content.Engine, index repository.IndexRepository, enqueuer Enqueuer, stallAfter time.Duration, logger *slog.Logger) *Resumer {
	if stallAfter <= 0 {
		stallAfter = DefaultOptions().StallAfter
	}
	return &Resumer{
		engine:     engine,
		index:      index,
		enqueuer:   enqueuer,
		stallAfter: stallAfter,
		logger:     logger,
		requeued:   make(map[string]time.Time),
	}
}

// Start はinterval間隔で再開処理を実行する。起動直後にも1回実行する。
func (r *Resumer) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.stallAfter
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("停止リクエストの再開処理を開始しました",
		slog.Duration("interval", interval),
		slog.Duration("stall_after", r.stallAfter),
	)

	r.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("停止リクエストの再開処理を停止しました")
			return
		case <-ticker.C:
			r.runAndLog(ctx)
		}
	}
}

func (r *Resumer) runAndLog(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("停止リクエストの再開処理に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はインデックスを走査して停止中のリクエストを1回処理する。
// 個別のIDの失敗はログに記録し、走査は継続する。並行に呼び出してはならない。
func (r *Resumer) RunOnce(ctx context.Context) (ResumeResult, error) {
	var res ResumeResult

	ids, err := r.index.List(ctx)
	if err != nil {
		return res, err
	}
	res.Scanned = len(ids)

	now := r.engine.Now()
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
		if ctx.Err() != nil {
			break
		}
		req, err := r.engine.Get(ctx, id)
		if err != nil {
			if !model.HasCode(err, model.ErrCodeNotFound) {
				res.Failed++
				r.logger.Error("リクエストの取得に失敗しました",
					slog.String("request_id", id),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if now.Sub(req.UpdatedAt) < r.stallAfter {
			continue
		}

		switch req.Status {
		case model.StatusQueued, model.StatusTranscribing:
			if at, ok := r.requeued[id]; ok && now.Sub(at) < r.stallAfter {
				continue
			}
			if err := r.requeue(ctx, req); err != nil {
				res.Failed++
				continue
			}
			r.requeued[id] = now
			res.Requeued++
		case model.StatusGenerating:
			done, err := r.interrupt(ctx, req)
			if err != nil {
				res.Failed++
				continue
			}
			if done {
				res.Interrupted++
			}
		}
	}

	for id := range r.requeued {
		if _, ok := seen[id]; !ok {
			delete(r.requeued, id)
		}
	}

	if res.Requeued > 0 || res.Interrupted > 0 || res.Failed > 0 {
		r.logger.Info("停止リクエストの再開処理が完了しました",
			slog.Int("scanned", res.Scanned),
			slog.Int("requeued", res.Requeued),
			slog.Int("interrupted", res.Interrupted),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

func (r *Resumer) requeue(ctx context.Context, req *model.ContentRequest) error {
	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	err := r.enqueuer.Enqueue(enqueueCtx, dispatch.Job{Kind: dispatch.KindGenerate, RequestID: req.RequestID})
	if err != nil {
		r.logger.Error("生成ジョブの再投入に失敗しました",
			slog.String("request_id", req.RequestID),
			slog.String("status", string(req.Status)),
			slog.String("error", err.Error()),
		)
		return err
	}
	r.logger.Warn("停止していたリクエストの生成ジョブを再投入しました",
		slog.String("request_id", req.RequestID),
		slog.String("status", string(req.Status)),
	)
	return nil
}

func (r *Resumer) interrupt(ctx context.Context, req *model.ContentRequest) (bool, error) {
	_, err := r.engine.ApplyTransitionWithMessage(ctx, req.RequestID,
		[]model.Status{model.StatusGenerating}, model.StatusError,
		func(c *model.ContentRequest) error {
			c.Error = interruptedMessage
			return nil
		}, "Content generation failed. Please try again.")
	if err != nil {
		if model.HasCode(err, model.ErrCodeInvalidTransition) {
			// 読み込み後に生成が完了した
			return false, nil
		}
		r.logger.Error("停止した生成の記録に失敗しました",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	r.logger.Warn("停止していた生成をerrorとして記録しました",
		slog.String("request_id", req.RequestID),
	)
	return true, nil
}
