// Package expiry は承認期限を過ぎたリクエストを定期的に失効させる。
package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/contentforge/internal/content"
	"github.com/hitoshi/contentforge/internal/metrics"
	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/repository"
)

// DefaultInterval はスイープの既定の実行間隔。
const DefaultInterval = 10 * time.Minute

// Result は1回のスイープの集計。
type Result struct {
	Scanned int
	Expired int
	Pruned  int
	Failed  int
}

// Sweeper はインデックスを走査して期限切れのリクエストをexpiredへ遷移させる。
// 終端状態・存在しないレコードのIDはインデックスから取り除く。
type Sweeper struct {
	engine  *content.Engine
	index   repository.IndexRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewSweeper はSweeperを生成する。
func NewSweeper(engine *content.Engine, index repository.IndexRepository, collector metrics.MetricsCollector, logger *slog.Logger) *Sweeper {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Sweeper{engine: engine, index: index, metrics: collector, logger: logger}
}

// Start はinterval間隔でスイープを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("期限切れスイープを開始しました", slog.Duration("interval", interval))

	s.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("期限切れスイープを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Sweeper) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("期限切れスイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はスイープを1回実行する。
// 個別のIDの失敗はログに記録し、サイクルは継続する。
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	ids, err := s.index.List(ctx)
	if err != nil {
		return res, err
	}
	res.Scanned = len(ids)

	now := s.engine.Now()
	var prune []string
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		drop, expired, err := s.sweepOne(ctx, id, now)
		if err != nil {
			res.Failed++
			s.logger.Error("リクエストのスイープに失敗しました",
				slog.String("request_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if expired {
			res.Expired++
		}
		if drop {
			prune = append(prune, id)
		}
	}

	if len(prune) > 0 {
		if err := s.index.Remove(ctx, prune...); err != nil {
			s.logger.Error("インデックスの更新に失敗しました",
				slog.Int("count", len(prune)),
				slog.String("error", err.Error()),
			)
		} else {
			res.Pruned = len(prune)
		}
	}

	s.metrics.RecordExpired(res.Expired)
	s.metrics.RecordIndexPruned(res.Pruned)
	s.logger.Info("期限切れスイープが完了しました",
		slog.Int("scanned", res.Scanned),
		slog.Int("expired", res.Expired),
		slog.Int("pruned", res.Pruned),
		slog.Int("failed", res.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// sweepOne は1件を判定し、インデックスから外すべきか・失効させたかを返す。
func (s *Sweeper) sweepOne(ctx context.Context, id string, now time.Time) (drop, expired bool, err error) {
	req, err := s.engine.Get(ctx, id)
	if err != nil {
		if model.HasCode(err, model.ErrCodeNotFound) {
			return true, false, nil
		}
		return false, false, err
	}

	if req.Status.IsTerminal() {
		return true, false, nil
	}
	if !req.IsExpiredAt(now) {
		return false, false, nil
	}

	if _, err := s.engine.Expire(ctx, id, now); err != nil {
		if model.HasCode(err, model.ErrCodeInvalidTransition) {
			// 読み込み後に他の遷移が確定した。次回のサイクルで再判定する
			return false, false, nil
		}
		return false, false, err
	}
	return true, true, nil
}
