// Package database はストアの接続とスキーマのマイグレーションを扱う。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigrationURL はgolang-migrateに渡す接続URLを返す。sqliteはファイルパスにスキームを付与する。
func MigrationURL(driver, dsn string) string {
	if driver == "sqlite" {
		return "sqlite://" + dsn
	}
	return dsn
}

// NewMigrator はmigrations/<driver>のSQLを読み込むmigrateインスタンスを生成する。
func NewMigrator(driver, dsn string) (*migrate.Migrate, error) {
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("マイグレーション非対応のドライバです: %s", driver)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションソースの読み込みに失敗しました: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, MigrationURL(driver, dsn))
	if err != nil {
		return nil, fmt.Errorf("マイグレーションの初期化に失敗しました: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後のバージョンを返す。
// 最新の場合は何もしない。
func RunMigrations(driver, dsn string) (uint, error) {
	m, err := NewMigrator(driver, dsn)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("マイグレーションの適用に失敗しました: %w", err)
	}
	return currentVersion(m)
}

// Version は適用済みのバージョンを返す。未適用の場合は0を返す。
func Version(driver, dsn string) (uint, error) {
	m, err := NewMigrator(driver, dsn)
	if err != nil {
		return 0, err
	}
	defer m.Close()
	return currentVersion(m)
}

func currentVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("マイグレーションバージョンの取得に失敗しました: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("マイグレーション %d が途中で失敗しています。手動での修復が必要です", v)
	}
	return v, nil
}
