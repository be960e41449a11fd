package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/contentforge/internal/model"
)

// SQLContentRepo はcontent_requestsテーブルを使用したコンテンツリポジトリ。
// レコード全体はpayload列にJSONで保存し、status/expires_atは検索と条件付き更新のために列へ複製する。
type SQLContentRepo struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQLContentRepo はSQLContentRepoを生成する。
func NewSQLContentRepo(db *sql.DB, dialect Dialect) *SQLContentRepo {
	return &SQLContentRepo{db: db, sb: statementBuilder(dialect)}
}

var _ ContentRepository = (*SQLContentRepo)(nil)

// FindByID は指定IDのレコードを取得する。見つからない場合はnilを返す。
func (r *SQLContentRepo) FindByID(ctx context.Context, id string) (*model.ContentRequest, error) {
	query, args, err := r.sb.Select("payload").
		From("content_requests").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	var payload string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンテンツリクエストの取得に失敗しました: %w", err)
	}

	var req model.ContentRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, fmt.Errorf("コンテンツリクエストのデコードに失敗しました: %w", err)
	}
	return &req, nil
}

// Create は新規レコードを書き込む。既に存在する場合はErrDuplicateRequestを返す。
func (r *SQLContentRepo) Create(ctx context.Context, req *model.ContentRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("コンテンツリクエストのエンコードに失敗しました: %w", err)
	}

	query, args, err := r.sb.Insert("content_requests").
		Columns("id", "status", "user_email", "source_url", "expires_at", "created_at", "updated_at", "payload").
		Values(
			req.RequestID,
			string(req.Status),
			req.UserEmail,
			req.SourceURL,
			nullableMillis(req.ExpiresAt),
			toMillis(req.CreatedAt),
			toMillis(req.UpdatedAt),
			string(payload),
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("コンテンツリクエストの作成に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("作成件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return ErrDuplicateRequest
	}
	return nil
}

// CompareAndSwap は保存済みstatusがexpectedと一致する場合に限りレコードを置き換える。
// WHERE句でstatusを照合するため、先にコミットした書き込みを上書きすることはない。
func (r *SQLContentRepo) CompareAndSwap(ctx context.Context, req *model.ContentRequest, expected model.Status) (bool, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("コンテンツリクエストのエンコードに失敗しました: %w", err)
	}

	query, args, err := r.sb.Update("content_requests").
		Set("status", string(req.Status)).
		Set("expires_at", nullableMillis(req.ExpiresAt)).
		Set("updated_at", toMillis(req.UpdatedAt)).
		Set("payload", string(payload)).
		Where(sq.Eq{"id": req.RequestID}).
		Where(sq.Eq{"status": string(expected)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("コンテンツリクエストの更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}
