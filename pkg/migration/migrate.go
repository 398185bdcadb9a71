// Package migration はデータベースのスキーママイグレーションを管理する。
// embed.FSからSQLファイルを読み込み、golang-migrateで適用状態を追跡する。
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Dialect はマイグレーション対象のデータベース種別を表す。
type Dialect string

const (
	// DialectSQLite はmodernc.org/sqliteを表す。
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres はpgx経由のPostgreSQLを表す。
	DialectPostgres Dialect = "pgx"
)

// Run はembedされたマイグレーションファイルを順序通りに適用する。
// 未適用のマイグレーションのみ実行し、適用済みのものはスキップする。
// ファイル名形式: 000001_description.up.sql
func Run(db *sql.DB, dialect Dialect, fsys fs.FS, dir string, logger *zap.Logger) error {
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの読み込みに失敗: %w", err)
	}

	driver, err := newDriver(db, dialect)
	if err != nil {
		return fmt.Errorf("マイグレーションドライバの生成に失敗: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		return fmt.Errorf("マイグレータの生成に失敗: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}
	logger.Info("マイグレーションを適用しました",
		zap.String("dialect", string(dialect)),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)

	return nil
}

// newDriver はDialectに対応するmigrateのデータベースドライバを生成する。
func newDriver(db *sql.DB, dialect Dialect) (database.Driver, error) {
	switch dialect {
	case DialectSQLite:
		return migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case DialectPostgres:
		return migratepgx.WithInstance(db, &migratepgx.Config{})
	default:
		return nil, fmt.Errorf("未対応のデータベース種別です: %s", dialect)
	}
}
