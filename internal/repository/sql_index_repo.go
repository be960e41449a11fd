package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// SQLIndexRepo はcontent_indexテーブルを使用したリクエストインデックス。
type SQLIndexRepo struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewSQLIndexRepo はSQLIndexRepoを生成する。
func NewSQLIndexRepo(db *sql.DB, dialect Dialect) *SQLIndexRepo {
	return &SQLIndexRepo{db: db, sb: statementBuilder(dialect), now: time.Now}
}

var _ IndexRepository = (*SQLIndexRepo)(nil)

// Add はIDを追加する。既に存在する場合は何もしない。
func (r *SQLIndexRepo) Add(ctx context.Context, id string) error {
	query, args, err := r.sb.Insert("content_index").
		Columns("request_id", "added_at").
		Values(id, toMillis(r.now())).
		Suffix("ON CONFLICT (request_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("インデックスへの追加に失敗しました: %w", err)
	}
	return nil
}

// List は登録順に全IDを返す。
func (r *SQLIndexRepo) List(ctx context.Context) ([]string, error) {
	query, args, err := r.sb.Select("request_id").
		From("content_index").
		OrderBy("added_at", "request_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("インデックスの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("インデックスの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("インデックスの走査に失敗しました: %w", err)
	}
	return ids, nil
}

// Remove は指定IDを取り除く。
func (r *SQLIndexRepo) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := r.sb.Delete("content_index").
		Where(sq.Eq{"request_id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("インデックスからの削除に失敗しました: %w", err)
	}
	return nil
}
