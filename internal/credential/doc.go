// Package credential はユーザー名とパスワードハッシュの組を保持する
// Credential Storeを提供する。
//
// DATABASE_URLに応じてSQLite（modernc.org/sqlite）またはPostgreSQL（pgx）を使用する。
// スキーマはembedされたマイグレーションで管理する。
package credential
