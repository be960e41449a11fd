package content

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/contentforge/internal/metrics"
	"github.com/hitoshi/contentforge/internal/model"
)

// StatusWriter はライブステータスの書き込み先。
type StatusWriter interface {
	Put(ctx context.Context, event model.StatusEvent) error
}

// StatusNotifier はライブステータスをベストエフォートで配信する。
// 書き込みの失敗はログに記録して破棄し、呼び出し元には返さない。
type StatusNotifier struct {
	writer  StatusWriter
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	timeout time.Duration
}

// NewStatusNotifier はStatusNotifierを生成する。
func NewStatusNotifier(writer StatusWriter, logger *slog.Logger, collector metrics.MetricsCollector) *StatusNotifier {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &StatusNotifier{
		writer:  writer,
		logger:  logger,
		metrics: collector,
		timeout: 2 * time.Second,
	}
}

// Notify はステータスを書き込む。失敗しても処理を継続する。
func (n *StatusNotifier) Notify(ctx context.Context, event model.StatusEvent) {
	if n == nil || n.writer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.writer.Put(ctx, event); err != nil {
		n.metrics.RecordNotificationFailure("status")
		n.logger.Warn("ステータスの配信に失敗しました",
			slog.String("request_id", event.RequestID),
			slog.String("stage", event.Stage),
			slog.String("error", err.Error()),
		)
	}
}
