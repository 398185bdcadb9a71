package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はアクセストークンのクレーム（ペイロード）を表す。
// subクレームにユーザー名を格納する。
type JWTClaims struct {
	jwt.RegisteredClaims
}

const (
	// contextKeyUsername はGinコンテキストにユーザー名を格納するためのキー。
	contextKeyUsername = "username"
	// credentialsErrorDetail は認証失敗時に返すメッセージ。
	credentialsErrorDetail = "Could not validate credentials"
)

var (
	// ErrInvalidToken は署名不正、期限切れ、クレーム欠落などでトークンを受け付けないことを表す。
	// TokenVerifierはこのエラーをラップして返す。それ以外のエラーは検証処理自体の失敗として扱う。
	ErrInvalidToken = errors.New("トークンが無効です")

	// errMissingSubject はsubクレームが無いトークンを表す。
	errMissingSubject = errors.New("subクレームがありません")
)

// GenerateJWT はユーザー名からHS256で署名したアクセストークンを生成する。
// 有効期限は issuedAt + ttl になる。
func GenerateJWT(secret, username string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はアクセストークンの署名と有効期限を検証し、クレームを返す。
// 署名アルゴリズムはHS256のみ受け付け、expとsubは必須とする。
// nowは有効期限の判定に使用する現在時刻。
func ParseJWT(secret, tokenString string, now time.Time) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, errMissingSubject)
	}
	return claims, nil
}

// TokenVerifier はアクセストークンを検証してユーザー名を返す。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// JWTAuth はBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "username" を設定する。
func JWTAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Authenticate(c, verifier) {
			return
		}
		c.Next()
	}
}

// Authenticate はリクエストのBearerトークンを検証する。
// トークンが無効な場合は401、検証処理自体が失敗した場合は500を返して
// リクエストを中断し、falseを返す。
// ルートごとに認証要否が変わるハンドラから直接呼び出す。
func Authenticate(c *gin.Context, verifier TokenVerifier) bool {
	tokenString, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		abortUnauthorized(c)
		return false
	}

	username, err := verifier.Verify(c.Request.Context(), tokenString)
	if errors.Is(err, ErrInvalidToken) {
		abortUnauthorized(c)
		return false
	}
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"detail": "Internal Server Error",
		})
		return false
	}

	c.Set(contextKeyUsername, username)
	return true
}

// GetUsername はGinコンテキストから認証済みユーザー名を取得する。
// JWTAuthまたはAuthenticateが事前に適用されている必要がある。
func GetUsername(c *gin.Context) string {
	username, _ := c.Get(contextKeyUsername)
	if name, ok := username.(string); ok {
		return name
	}
	return ""
}

// bearerToken はAuthorizationヘッダーからトークン部分を取り出す。
// スキーム名の大文字小文字は区別しない。
func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "bearer") {
		return "", false
	}
	return fields[1], true
}

// abortUnauthorized は401レスポンスを返してリクエストを中断する。
func abortUnauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"detail": credentialsErrorDetail,
	})
}
