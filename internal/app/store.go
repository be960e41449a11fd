package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/contentforge/internal/config"
	"github.com/hitoshi/contentforge/internal/database"
	"github.com/hitoshi/contentforge/internal/repository"
)

// stores はSTORE_DRIVERに応じて選択された永続化層。
type stores struct {
	content repository.ContentRepository
	index   repository.IndexRepository
	status  repository.StatusRepository
	health  interface {
		PingContext(ctx context.Context) error
	}
	close func() error
}

// storeDSN はドライバごとの接続先を返す。
func storeDSN(cfg *config.Config) string {
	if cfg.StoreDriver == config.StoreSQLite {
		return cfg.SQLitePath
	}
	return cfg.DatabaseURL
}

// openStores はSTORE_DRIVERに応じたストアを開く。
// sqliteは単一ファイルのため起動時にマイグレーションを適用する。
// postgresはmigrateサブコマンドで事前に適用しておく必要がある。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		slog.Warn("メモリストアで起動します。再起動するとデータは失われます")
		mem := repository.NewMemoryStore()
		return &stores{
			content: mem,
			index:   mem,
			status:  mem,
			health:  mem,
			close:   func() error { return nil },
		}, nil
	}

	dsn := storeDSN(cfg)
	if cfg.StoreDriver == config.StoreSQLite {
		if _, err := database.RunMigrations(cfg.StoreDriver, dsn); err != nil {
			return nil, fmt.Errorf("sqliteのマイグレーションに失敗しました: %w", err)
		}
	}

	db, err := database.Open(cfg.StoreDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続のオープンに失敗しました: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの接続に失敗しました: %w", err)
	}

	dialect, err := repository.ParseDialect(cfg.StoreDriver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Info("データベース接続を確立しました", slog.String("driver", cfg.StoreDriver))

	return &stores{
		content: repository.NewSQLContentRepo(db, dialect),
		index:   repository.NewSQLIndexRepo(db, dialect),
		status:  repository.NewSQLStatusRepo(db, dialect),
		health:  db,
		close:   db.Close,
	}, nil
}
