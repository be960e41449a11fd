package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/contentforge/internal/model"
)

// SQLStatusRepo はcontent_statusテーブルを使用したライブステータスリポジトリ。
type SQLStatusRepo struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQLStatusRepo はSQLStatusRepoを生成する。
func NewSQLStatusRepo(db *sql.DB, dialect Dialect) *SQLStatusRepo {
	return &SQLStatusRepo{db: db, sb: statementBuilder(dialect)}
}

var _ StatusRepository = (*SQLStatusRepo)(nil)

// Put は最新ステータスをUPSERTする。
func (r *SQLStatusRepo) Put(ctx context.Context, event model.StatusEvent) error {
	query, args, err := r.sb.Insert("content_status").
		Columns("request_id", "stage", "message", "ts").
		Values(event.RequestID, event.Stage, event.Message, toMillis(event.TS)).
		Suffix("ON CONFLICT (request_id) DO UPDATE SET stage = excluded.stage, message = excluded.message, ts = excluded.ts").
		ToSql()
	if err != nil {
		return fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ステータスの書き込みに失敗しました: %w", err)
	}
	return nil
}

// Latest は最新ステータスを返す。見つからない場合はnilを返す。
func (r *SQLStatusRepo) Latest(ctx context.Context, requestID string) (*model.StatusEvent, error) {
	query, args, err := r.sb.Select("request_id", "stage", "message", "ts").
		From("content_status").
		Where(sq.Eq{"request_id": requestID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	var ev model.StatusEvent
	var ts int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&ev.RequestID, &ev.Stage, &ev.Message, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ステータスの取得に失敗しました: %w", err)
	}
	ev.TS = fromMillis(ts)
	return &ev, nil
}

// DeleteOlderThan はcutoffより古いステータスを削除する。
func (r *SQLStatusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := r.sb.Delete("content_status").
		Where(sq.Lt{"ts": toMillis(cutoff)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("ステータスの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}
