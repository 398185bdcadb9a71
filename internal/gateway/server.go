package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/auth"
	"github.com/nao1215/topicdigest/internal/metrics"
	"github.com/nao1215/topicdigest/pkg/middleware"
)

// maxRequestBody はクライアントから受け付けるリクエストボディの上限（バイト）。
const maxRequestBody = 1 << 20

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Authenticator はログインとトークン検証を行う。
type Authenticator interface {
	Login(ctx context.Context, username, password string) (auth.Token, error)
	Verify(ctx context.Context, token string) (string, error)
	ChangePassword(ctx context.Context, username, current, next string) error
}

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// authenticator はログインとトークン検証を行う。
	authenticator Authenticator
	// forwarder はblogサービスへの転送を行う。
	forwarder *Forwarder
	// logger は構造化ロガー。
	logger *zap.Logger
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(port string, authenticator Authenticator, forwarder *Forwarder, allowedOrigins []string, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(metrics.GinMiddleware())
	router.Use(middleware.CORS(allowedOrigins))

	s := &Server{
		router:        router,
		port:          port,
		authenticator: authenticator,
		forwarder:     forwarder,
		logger:        logger,
	}
	s.setupRoutes()

	return s
}

// Handler はルーターをhttp.Handlerとして返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// setupRoutes はAPIルーティングを設定する。
// 明示的なルートに一致しないリクエストはすべてblogサービスへ転送する。
func (s *Server) setupRoutes() {
	// トークン発行（認証不要）
	s.router.POST("/token", s.handleLogin())

	// 認証済みユーザー情報
	s.router.GET("/users/me", middleware.JWTAuth(s.authenticator), s.handleGetCurrentUser())
	s.router.PUT("/users/me/password", middleware.JWTAuth(s.authenticator), s.handleChangePassword())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// blogサービスへの転送
	s.router.NoRoute(s.handleForward())
}

// handleLogin はフォームのusernameとpasswordでログインし、アクセストークンを返すハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.PostForm("username")
		password := c.PostForm("password")
		if username == "" || password == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "usernameとpasswordは必須です"})
			return
		}

		token, err := s.authenticator.Login(c.Request.Context(), username, password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			metrics.ObserveLogin(metrics.OutcomeFailure)
			c.Header("WWW-Authenticate", "Bearer")
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
			return
		}
		if err != nil {
			metrics.ObserveLogin(metrics.OutcomeFailure)
			s.logger.Error("ログイン処理に失敗しました", zap.String("username", username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "ログイン処理に失敗しました"})
			return
		}

		metrics.ObserveLogin(metrics.OutcomeSuccess)
		c.JSON(http.StatusOK, gin.H{
			"access_token": token.AccessToken,
			"token_type":   auth.TokenType,
		})
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
// パスワードハッシュは返さない。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": middleware.GetUsername(c)})
	}
}

// changePasswordRequest はパスワード変更のリクエストボディ。
type changePasswordRequest struct {
	// CurrentPassword は現在のパスワード。
	CurrentPassword string `json:"current_password" binding:"required"`
	// NewPassword は新しいパスワード。
	NewPassword string `json:"new_password" binding:"required"`
}

// handleChangePassword は認証済みユーザーのパスワードを変更するハンドラを返す。
func (s *Server) handleChangePassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "current_passwordとnew_passwordは必須です"})
			return
		}

		username := middleware.GetUsername(c)
		err := s.authenticator.ChangePassword(c.Request.Context(), username, req.CurrentPassword, req.NewPassword)
		switch {
		case err == nil:
			s.logger.Info("パスワードを変更しました", zap.String("username", username))
			c.JSON(http.StatusOK, gin.H{"detail": "Password updated"})
		case errors.Is(err, auth.ErrPasswordTooShort):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusForbidden, gin.H{"detail": "Incorrect password"})
		default:
			s.logger.Error("パスワードの変更に失敗しました", zap.String("username", username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "パスワードの変更に失敗しました"})
		}
	}
}

// handleForward はリクエストをblogサービスへ転送するハンドラを返す。
// 書き込み系メソッドはBearerトークンによる認証を必須とする。
func (s *Server) handleForward() gin.HandlerFunc {
	return func(c *gin.Context) {
		var caller string
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead:
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if !middleware.Authenticate(c, s.authenticator) {
				return
			}
			caller = middleware.GetUsername(c)
		default:
			c.JSON(http.StatusMethodNotAllowed, gin.H{"detail": "Method Not Allowed"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"detail": "リクエストボディの読み取りに失敗しました"})
			return
		}

		resp, err := s.forwarder.Forward(c.Request.Context(), Request{
			Method: c.Request.Method,
			Path:   strings.TrimPrefix(c.Request.URL.Path, "/"),
			Header: c.Request.Header,
			Query:  c.Request.URL.RawQuery,
			Body:   body,
			Caller: caller,
		})
		if err != nil {
			s.writeForwardError(c, err)
			return
		}

		c.Data(resp.Status, resp.ContentType, resp.Body)
	}
}

// writeForwardError は転送エラーをHTTPレスポンスに変換する。
// 転送先のエラーはステータスとボディをそのまま返す。
func (s *Server) writeForwardError(c *gin.Context, err error) {
	var upstreamErr *UpstreamError
	switch {
	case errors.As(err, &upstreamErr):
		contentType := upstreamErr.ContentType
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		c.Data(upstreamErr.Status, contentType, upstreamErr.Body)
	case errors.Is(err, ErrInvalidBody):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"detail": "Upstream service unavailable"})
	default:
		s.logger.Error("転送に失敗しました", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "転送に失敗しました"})
	}
}
