package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/contentforge/internal/metrics"
	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/repository"
)

// Mutator は遷移時にレコードのコピーへ変更を加える。
// エラーを返すと遷移は中止され、何も書き込まれない。
type Mutator func(req *model.ContentRequest) error

// Engine はコンテンツリクエストの状態遷移エンジン。
type Engine struct {
	repo     repository.ContentRepository
	index    repository.IndexRepository
	notifier *StatusNotifier
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
	newID    func() (string, error)
}

// Option はEngineの設定を変更する。
type Option func(*Engine)

// WithClock は現在時刻の取得方法を差し替える。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator はリクエストIDの生成方法を差し替える。
func WithIDGenerator(gen func() (string, error)) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewEngine はEngineを生成する。
func NewEngine(
	repo repository.ContentRepository,
	index repository.IndexRepository,
	notifier *StatusNotifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	e := &Engine{
		repo:     repo,
		index:    index,
		notifier: notifier,
		metrics:  collector,
		logger:   logger,
		now:      time.Now,
		newID:    newRequestID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newRequestID は時系列順に並ぶUUIDv7を生成する。
func newRequestID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Now はエンジンの時計で現在時刻を返す。
// 永続化後も同一値に復元できるようUTCのミリ秒精度に丸める。
func (e *Engine) Now() time.Time {
	return e.now().UTC().Truncate(time.Millisecond)
}

// Create はqueued状態の新規レコードを作成する。
// インデックスへの追加に失敗してもレコードの作成は成功として扱う。
func (e *Engine) Create(ctx context.Context, sourceURL, userEmail string) (*model.ContentRequest, error) {
	id, err := e.newID()
	if err != nil {
		return nil, fmt.Errorf("リクエストIDの生成に失敗しました: %w", err)
	}

	now := e.Now()
	req := &model.ContentRequest{
		RequestID: id,
		UserEmail: userEmail,
		SourceURL: sourceURL,
		Status:    model.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("コンテンツリクエストの作成に失敗しました: %w", err)
	}

	if err := e.index.Add(ctx, id); err != nil {
		e.logger.Error("インデックスへの追加に失敗しました",
			slog.String("request_id", id),
			slog.String("error", err.Error()),
		)
	}

	e.notify(ctx, req, StageMessage(model.StatusQueued))

	e.logger.Info("コンテンツリクエストを作成しました",
		slog.String("request_id", id),
		slog.String("source_url", sourceURL),
	)
	return req, nil
}

// Get は指定IDのレコードを返す。存在しない場合はNotFoundを返す。
func (e *Engine) Get(ctx context.Context, id string) (*model.ContentRequest, error) {
	req, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("コンテンツリクエストの取得に失敗しました: %w", err)
	}
	if req == nil {
		return nil, model.NewNotFoundError(id)
	}
	return req, nil
}

// ApplyTransition は現在状態がexpectedに含まれ、かつ遷移表にある場合に限りnextへ遷移する。
// mutateは読み込んだレコードのコピーに適用され、書き込みは読み込んだ状態を条件とする
// 比較交換で行う。先に別の書き込みが確定していた場合はInvalidTransitionを返し、
// 保存済みレコードは変更されない。
func (e *Engine) ApplyTransition(
	ctx context.Context,
	id string,
	expected []model.Status,
	next model.Status,
	mutate Mutator,
) (*model.ContentRequest, error) {
	return e.apply(ctx, id, expected, next, mutate, StageMessage(next))
}

// ApplyTransitionWithMessage はライブステータスのメッセージを指定してApplyTransitionを行う。
func (e *Engine) ApplyTransitionWithMessage(
	ctx context.Context,
	id string,
	expected []model.Status,
	next model.Status,
	mutate Mutator,
	message string,
) (*model.ContentRequest, error) {
	return e.apply(ctx, id, expected, next, mutate, message)
}

func (e *Engine) apply(
	ctx context.Context,
	id string,
	expected []model.Status,
	next model.Status,
	mutate Mutator,
	message string,
) (*model.ContentRequest, error) {
	current, err := e.Get(ctx, id)
	if err != nil {
		e.recordRejected(next, err)
		return nil, err
	}

	if !slices.Contains(expected, current.Status) || !CanTransition(current.Status, next) {
		err := model.NewInvalidTransitionError(id, current.Status, next)
		e.recordRejected(next, err)
		return nil, err
	}

	updated := current.Clone()
	if mutate != nil {
		if err := mutate(updated); err != nil {
			e.recordRejected(next, err)
			return nil, err
		}
	}
	// mutatorによるID・状態の書き換えは無視する
	updated.RequestID = current.RequestID
	updated.Status = next
	updated.UpdatedAt = e.Now()

	ok, err := e.repo.CompareAndSwap(ctx, updated, current.Status)
	if err != nil {
		return nil, fmt.Errorf("状態遷移の書き込みに失敗しました: %w", err)
	}
	if !ok {
		// 読み込み後に別の遷移が確定した
		err := model.NewInvalidTransitionError(id, current.Status, next)
		e.recordRejected(next, err)
		return nil, err
	}

	e.metrics.RecordTransition(string(current.Status), string(next))
	e.logger.Info("状態遷移が確定しました",
		slog.String("request_id", id),
		slog.String("from", string(current.Status)),
		slog.String("to", string(next)),
	)

	e.notify(ctx, updated, message)
	return updated, nil
}

// Expire はexpiresAtを過ぎたレコードをexpiredへ遷移させる。期限切れスイープ専用。
// 比較交換の直前にも期限を再確認するため、期限前のレコードを失効させることはない。
func (e *Engine) Expire(ctx context.Context, id string, now time.Time) (*model.ContentRequest, error) {
	return e.ApplyTransition(ctx, id, Expirable(), model.StatusExpired, func(req *model.ContentRequest) error {
		if !req.IsExpiredAt(now) {
			return model.NewInvalidTransitionError(id, req.Status, model.StatusExpired)
		}
		at := now.UTC().Truncate(time.Millisecond)
		req.ExpiredAt = &at
		return nil
	})
}

// Notify は遷移を伴わないライブステータスを配信する。
func (e *Engine) Notify(ctx context.Context, req *model.ContentRequest, message string) {
	e.notify(ctx, req, message)
}

func (e *Engine) notify(ctx context.Context, req *model.ContentRequest, message string) {
	e.notifier.Notify(ctx, model.StatusEvent{
		RequestID: req.RequestID,
		Stage:     string(req.Status),
		Message:   message,
		TS:        e.Now(),
	})
}

func (e *Engine) recordRejected(next model.Status, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		e.metrics.RecordTransitionRejected(string(next), apiErr.Code)
	}
}
