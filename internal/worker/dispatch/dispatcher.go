// Package dispatch はパイプライン各段を非同期に実行する型付きジョブキューを提供する。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Kind はジョブの種類。
type Kind string

const (
	// KindGenerate は文字起こしから生成完了までを実行する。
	KindGenerate Kind = "generate"
	// KindRequestApproval は承認依頼メールを送信する。
	KindRequestApproval Kind = "request_approval"
	// KindPublish はシミュレート公開を実行する。
	KindPublish Kind = "publish"
)

// ErrClosed は停止済みのDispatcherへの投入を表す。
var ErrClosed = errors.New("dispatch: dispatcher is stopped")

// Job はキューに積まれる1件の処理依頼。
type Job struct {
	Kind       Kind
	RequestID  string
	EnqueuedAt time.Time
}

// HandlerFunc は1件のジョブを処理する。
type HandlerFunc func(ctx context.Context, requestID string) error

// Dispatcher は固定数のワーカーで有界キューのジョブを処理する。
// ハンドラのエラーはログに記録され、後続のジョブには影響しない。
type Dispatcher struct {
	queue    chan Job
	done     chan struct{}
	stopOnce sync.Once
	workers  int
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[Kind]HandlerFunc
}

// NewDispatcher はDispatcherを生成する。
// workersが0以下の場合は4、queueSizeが0以下の場合は100を使用する。
func NewDispatcher(workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Dispatcher{
		queue:    make(chan Job, queueSize),
		done:     make(chan struct{}),
		workers:  workers,
		logger:   logger,
		handlers: make(map[Kind]HandlerFunc),
	}
}

// Handle はジョブ種別のハンドラを登録する。Start前に呼び出す。
func (d *Dispatcher) Handle(kind Kind, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Enqueue はジョブをキューに積む。キューが満杯の場合はctxが終了するまで待つ。
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case <-d.done:
		return ErrClosed
	default:
	}
	select {
	case <-d.done:
		return ErrClosed
	case d.queue <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ジョブの投入がタイムアウトしました: %w", ctx.Err())
	}
}

// Start はワーカーを起動し、ctxがキャンセルされるまでジョブを処理する。
// 停止時はキューに残ったジョブを処理し終えてから戻る。
// ハンドラにはキャンセルされないコンテキストを渡し、処理の途中で中断しない。
func (d *Dispatcher) Start(ctx context.Context) {
	jobCtx := context.WithoutCancel(ctx)

	d.logger.Info("ジョブディスパッチャを開始しました",
		slog.Int("workers", d.workers),
		slog.Int("queue_size", cap(d.queue)),
	)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-d.queue:
					d.run(jobCtx, job)
				case <-d.done:
					return
				}
			}
		}()
	}

	<-ctx.Done()
	d.Stop()
	wg.Wait()
	d.drain(jobCtx)

	d.logger.Info("ジョブディスパッチャを停止しました")
}

// Stop は新規の投入を締め切る。
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

// drain は停止後にキューへ残ったジョブを処理する。
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case job := <-d.queue:
			d.run(ctx, job)
		default:
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	d.mu.RLock()
	h, ok := d.handlers[job.Kind]
	d.mu.RUnlock()
	if !ok {
		d.logger.Error("未知のジョブ種別のため破棄しました",
			slog.String("kind", string(job.Kind)),
			slog.String("request_id", job.RequestID),
		)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("ジョブ処理中にパニックが発生しました",
				slog.String("kind", string(job.Kind)),
				slog.String("request_id", job.RequestID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	start := time.Now()
	if err := h(ctx, job.RequestID); err != nil {
		d.logger.Error("ジョブの処理に失敗しました",
			slog.String("kind", string(job.Kind)),
			slog.String("request_id", job.RequestID),
			slog.String("error", err.Error()),
		)
		return
	}
	d.logger.Info("ジョブを処理しました",
		slog.String("kind", string(job.Kind)),
		slog.String("request_id", job.RequestID),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		slog.Float64("wait_ms", float64(start.Sub(job.EnqueuedAt).Milliseconds())),
	)
}
