package migration

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// testMigrations はテスト用のマイグレーションファイル。
var testMigrations = fstest.MapFS{
	"migrations/000001_create_items.up.sql":   {Data: []byte(`CREATE TABLE items (id TEXT PRIMARY KEY);`)},
	"migrations/000001_create_items.down.sql": {Data: []byte(`DROP TABLE items;`)},
	"migrations/000002_add_name.up.sql":       {Data: []byte(`ALTER TABLE items ADD COLUMN name TEXT NOT NULL DEFAULT '';`)},
	"migrations/000002_add_name.down.sql":     {Data: []byte(`ALTER TABLE items DROP COLUMN name;`)},
}

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDB接続に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRun はRun関数を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("全てのマイグレーションが適用されること", func(t *testing.T) {
		t.Parallel()

		db := openMemoryDB(t)
		if err := Run(db, DialectSQLite, testMigrations, "migrations", zap.NewNop()); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}

		if _, err := db.Exec(`INSERT INTO items (id, name) VALUES ('1', 'first')`); err != nil {
			t.Fatalf("マイグレーション後のINSERTに失敗: %v", err)
		}
	})

	t.Run("2回実行しても適用済みのものはスキップされること", func(t *testing.T) {
		t.Parallel()

		db := openMemoryDB(t)
		if err := Run(db, DialectSQLite, testMigrations, "migrations", zap.NewNop()); err != nil {
			t.Fatalf("1回目のRun()でエラーが発生: %v", err)
		}
		if err := Run(db, DialectSQLite, testMigrations, "migrations", zap.NewNop()); err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
	})

	t.Run("未対応のDialectでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		db := openMemoryDB(t)
		if err := Run(db, Dialect("mysql"), testMigrations, "migrations", zap.NewNop()); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("存在しないディレクトリでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		db := openMemoryDB(t)
		if err := Run(db, DialectSQLite, testMigrations, "missing", zap.NewNop()); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
	})
}
