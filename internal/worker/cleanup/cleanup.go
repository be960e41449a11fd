// Package cleanup はライブステータスの自動削除ジョブを提供する。
// 保持期間（デフォルト7日）を超過したステータス行を日次バッチで削除する。
// コンテンツリクエスト本体は削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultRetention はステータスの既定の保持期間。
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultInterval はジョブの既定の実行間隔。
	DefaultInterval = 24 * time.Hour
)

// StatusPurger は古いステータスを削除するストア。
type StatusPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したライブステータスの削除ジョブ。
// 冪等であり、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	store     StatusPurger
	logger    *slog.Logger
	now       func() time.Time
	Retention time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。retentionが0以下の場合は既定値を使う。
func NewCleanupJob(store StatusPurger, retention time.Duration, logger *slog.Logger) *CleanupJob {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &CleanupJob{
		store:     store,
		logger:    logger,
		now:       time.Now,
		Retention: retention,
	}
}

// Run はtsがRetentionより古いステータスを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().Add(-j.Retention)

	deleted, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("ステータスクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("ステータスクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("ステータスクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はinterval間隔でRunを実行する。起動直後にも1回実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
