package credential

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/topicdigest/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound はユーザーが存在しないことを表す。
	ErrNotFound = errors.New("ユーザーが見つかりません")
	// ErrAlreadyExists は同じユーザー名のユーザーが既に存在することを表す。
	ErrAlreadyExists = errors.New("ユーザーは既に存在します")
)

// Credential はユーザー名とパスワードハッシュの組。ユーザー名ごとに1件のみ存在する。
type Credential struct {
	// Username はログインに使用する一意なユーザー名。
	Username string
	// PasswordHash はargon2idでエンコードされたパスワードハッシュ。
	PasswordHash string
}

// Store はCredentialの永続化を担当する。
type Store struct {
	// db はデータベース接続。
	db *sql.DB
	// dialect は接続先のデータベース種別。
	dialect migration.Dialect
	// builder はdialectに合わせたプレースホルダ形式のクエリビルダ。
	builder sq.StatementBuilderType
}

// Open はDATABASE_URLからデータベースに接続し、スキーマを適用したStoreを返す。
//
// 対応する形式:
//   - postgres://... / postgresql://... : PostgreSQL（pgx）
//   - sqlite:///relative.db / sqlite:////absolute.db : SQLite
//   - :memory: またはファイルパス : SQLite
func Open(databaseURL string, logger *zap.Logger) (*Store, error) {
	driverName, dsn, dialect := parseDatabaseURL(databaseURL)

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if dialect == migration.DialectSQLite {
		// SQLiteは書き込みを単一接続に制限する。:memory:では接続ごとに別DBになるため必須。
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	s, err := New(db, dialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New は既存の接続からStoreを生成し、スキーマを適用する。
func New(db *sql.DB, dialect migration.Dialect, logger *zap.Logger) (*Store, error) {
	if err := migration.Run(db, dialect, migrationsFS, "migrations", logger); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	builder := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if dialect == migration.DialectPostgres {
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}

	return &Store{
		db:      db,
		dialect: dialect,
		builder: builder,
	}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Get はユーザー名に対応するCredentialを返す。存在しない場合はErrNotFoundを返す。
func (s *Store) Get(ctx context.Context, username string) (Credential, error) {
	query, args, err := s.builder.
		Select("username", "password_hash").
		From("users").
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return Credential{}, fmt.Errorf("クエリの組み立てに失敗: %w", err)
	}

	var c Credential
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&c.Username, &c.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return c, nil
}

// Exists はユーザー名に対応するCredentialが存在するかを返す。
func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	query, args, err := s.builder.
		Select("COUNT(*)").
		From("users").
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("クエリの組み立てに失敗: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("ユーザーの存在確認に失敗: %w", err)
	}
	return count > 0, nil
}

// Create は新しいCredentialを登録する。同じユーザー名が存在する場合はErrAlreadyExistsを返す。
func (s *Store) Create(ctx context.Context, c Credential) error {
	if strings.TrimSpace(c.Username) == "" {
		return errors.New("ユーザー名が空です")
	}
	if c.PasswordHash == "" {
		return errors.New("パスワードハッシュが空です")
	}

	query, args, err := s.builder.
		Insert("users").
		Columns("username", "password_hash").
		Values(c.Username, c.PasswordHash).
		ToSql()
	if err != nil {
		return fmt.Errorf("クエリの組み立てに失敗: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return nil
}

// UpdatePassword はユーザーのパスワードハッシュを置き換える。
// ユーザーが存在しない場合はErrNotFoundを返す。
func (s *Store) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	if passwordHash == "" {
		return errors.New("パスワードハッシュが空です")
	}

	query, args, err := s.builder.
		Update("users").
		Set("password_hash", passwordHash).
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return fmt.Errorf("クエリの組み立てに失敗: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("パスワードの更新に失敗: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// parseDatabaseURL はDATABASE_URLをdatabase/sqlのドライバ名とDSNに変換する。
func parseDatabaseURL(databaseURL string) (driverName, dsn string, dialect migration.Dialect) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return "pgx", databaseURL, migration.DialectPostgres
	}

	path := databaseURL
	if rest, ok := strings.CutPrefix(path, "sqlite:///"); ok {
		path = rest
	} else if rest, ok := strings.CutPrefix(path, "sqlite://"); ok {
		path = rest
	}

	if path == "" || path == ":memory:" {
		return "sqlite", ":memory:", migration.DialectSQLite
	}
	return "sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path), migration.DialectSQLite
}

// isUniqueViolation は一意制約違反のエラーかを判定する。
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
