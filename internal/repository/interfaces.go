// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/contentforge/internal/model"
)

// ErrDuplicateRequest は同一IDのレコードが既に存在する場合に返される。
var ErrDuplicateRequest = errors.New("content request already exists")

// ContentRepository はコンテンツリクエストの永続化インターフェース。
// レコードは削除されない。
type ContentRepository interface {
	// FindByID は指定IDのレコードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ContentRequest, error)

	// Create は新規レコードを書き込む。既に存在する場合はErrDuplicateRequestを返す。
	Create(ctx context.Context, req *model.ContentRequest) error

	// CompareAndSwap は保存済みstatusがexpectedと一致する場合に限りreqで置き換える。
	// 置き換えた場合はtrue、statusが一致しない（またはレコードがない）場合はfalseを返す。
	CompareAndSwap(ctx context.Context, req *model.ContentRequest, expected model.Status) (bool, error)
}

// IndexRepository は期限切れスイープ用のリクエストID集合。
// 真実の情報源ではなく、エントリの欠落はレコードの欠落を意味しない。
type IndexRepository interface {
	// Add はIDを追加する。既に存在する場合は何もしない。
	Add(ctx context.Context, id string) error
	// List は登録順に全IDを返す。
	List(ctx context.Context) ([]string, error)
	// Remove は指定IDを取り除く。
	Remove(ctx context.Context, ids ...string) error
}

// StatusRepository はライブステータスの永続化インターフェース。
// リクエストごとに最新の1件のみを保持する。
type StatusRepository interface {
	// Put は最新ステータスを書き込む（後勝ち）。
	Put(ctx context.Context, event model.StatusEvent) error
	// Latest は最新ステータスを返す。見つからない場合はnilを返す。
	Latest(ctx context.Context, requestID string) (*model.StatusEvent, error)
	// DeleteOlderThan はcutoffより古いステータスを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
