package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/nao1215/topicdigest/internal/credential"
	"github.com/nao1215/topicdigest/pkg/middleware"
)

// DefaultTokenTTL はアクセストークンのデフォルトの有効期間（1440分）。
const DefaultTokenTTL = 1440 * time.Minute

// TokenType はトークンレスポンスのtoken_type。
const TokenType = "bearer"

var (
	// ErrInvalidCredentials はユーザー名またはパスワードが誤っていることを表す。
	ErrInvalidCredentials = errors.New("ユーザー名またはパスワードが正しくありません")
	// ErrInvalidToken はトークンの署名不正、期限切れ、subクレーム欠落、
	// またはユーザーが存在しないことを表す。
	ErrInvalidToken = middleware.ErrInvalidToken
	// ErrPasswordTooShort は新しいパスワードがMinPasswordLength未満であることを表す。
	ErrPasswordTooShort = fmt.Errorf("パスワードは%d文字以上にしてください", MinPasswordLength)
)

// MinPasswordLength は変更後のパスワードに求める最小文字数。
const MinPasswordLength = 5

// CredentialStore はAuthenticatorが参照するCredential Store。
type CredentialStore interface {
	Get(ctx context.Context, username string) (credential.Credential, error)
	Exists(ctx context.Context, username string) (bool, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) error
}

// Token はログイン成功時に発行されるアクセストークン。
type Token struct {
	// AccessToken は署名済みのJWT文字列。
	AccessToken string
	// Subject はトークンの持ち主のユーザー名。
	Subject string
	// IssuedAt は発行日時。
	IssuedAt time.Time
	// ExpiresAt は有効期限。この時刻以降トークンは無効になる。
	ExpiresAt time.Time
}

// Authenticator はパスワード認証とアクセストークンの発行・検証を行う。
type Authenticator struct {
	// store はユーザー名とパスワードハッシュを保持するストア。
	store CredentialStore
	// secret はトークン署名用の秘密鍵。
	secret string
	// ttl はトークンの有効期間。
	ttl time.Duration
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// Option はAuthenticatorの設定を変更する関数。
type Option func(*Authenticator)

// WithClock は現在時刻を返す関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// New は新しいAuthenticatorを生成する。ttlが0以下の場合はDefaultTokenTTLを使用する。
func New(store CredentialStore, secret string, ttl time.Duration, opts ...Option) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("トークン署名用の秘密鍵が空です")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	a := &Authenticator{
		store:  store,
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Login はパスワードを検証し、成功した場合はアクセストークンを発行する。
func (a *Authenticator) Login(ctx context.Context, username, password string) (Token, error) {
	cred, err := a.store.Get(ctx, username)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return Token{}, ErrInvalidCredentials
		}
		return Token{}, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}

	if !CheckPassword(password, cred.PasswordHash) {
		return Token{}, ErrInvalidCredentials
	}

	issuedAt := a.now().UTC().Truncate(time.Second)
	accessToken, err := middleware.GenerateJWT(a.secret, cred.Username, issuedAt, a.ttl)
	if err != nil {
		return Token{}, err
	}

	return Token{
		AccessToken: accessToken,
		Subject:     cred.Username,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(a.ttl),
	}, nil
}

// Verify はアクセストークンを検証し、トークンの持ち主のユーザー名を返す。
// 署名と有効期限に加え、ユーザーがまだストアに存在するかを確認する。
func (a *Authenticator) Verify(ctx context.Context, tokenString string) (string, error) {
	claims, err := middleware.ParseJWT(a.secret, tokenString, a.now())
	if err != nil {
		return "", err
	}

	exists, err := a.store.Exists(ctx, claims.Subject)
	if err != nil {
		return "", fmt.Errorf("ユーザーの存在確認に失敗: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: ユーザー %q が存在しません", ErrInvalidToken, claims.Subject)
	}

	return claims.Subject, nil
}

// ChangePassword は現在のパスワードを確認したうえで新しいパスワードに置き換える。
// 現在のパスワードが誤っている場合はErrInvalidCredentialsを返す。
// 発行済みのトークンは有効期限まで引き続き有効。
func (a *Authenticator) ChangePassword(ctx context.Context, username, current, next string) error {
	if utf8.RuneCountInString(next) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	cred, err := a.store.Get(ctx, username)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	if !CheckPassword(current, cred.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := a.store.UpdatePassword(ctx, username, hash); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}
