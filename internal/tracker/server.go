package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/metrics"
	"github.com/nao1215/topicdigest/internal/search"
	"github.com/nao1215/topicdigest/internal/summarizer"
	"github.com/nao1215/topicdigest/pkg/middleware"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Runner はパイプラインを1回実行する。
type Runner interface {
	Run(ctx context.Context, req Request) (Outcome, error)
}

// Server はトピック追跡パイプラインのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// pipeline はリクエストごとに実行するパイプライン。
	pipeline Runner
	// logger は構造化ロガー。
	logger *zap.Logger
}

// NewServer は新しいパイプラインサーバーを生成する。
func NewServer(port string, pipeline Runner, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(metrics.GinMiddleware())

	s := &Server{
		router:   router,
		port:     port,
		pipeline: pipeline,
		logger:   logger,
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
func (s *Server) setupRoutes() {
	s.router.POST("/search-and-summarize", s.handleSearchAndSummarize())

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "topictracker"})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// topicRequest はPOST /search-and-summarizeのリクエストボディ。
type topicRequest struct {
	// Topic は検索するトピック。
	Topic string `json:"topic" binding:"required"`
	// Email は要約の送り先。
	Email string `json:"email" binding:"required,email"`
}

// handleSearchAndSummarize はパイプラインを同期的に実行し、結果をHTTPレスポンスに変換する。
func (s *Server) handleSearchAndSummarize() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req topicRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "リクエストボディが不正です: " + err.Error()})
			return
		}
		topic := strings.TrimSpace(req.Topic)
		if topic == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "topicは必須です"})
			return
		}

		outcome, err := s.pipeline.Run(c.Request.Context(), Request{Topic: topic, Email: req.Email})
		if err != nil {
			status, detail := errorResponse(err)
			s.logger.Warn("パイプラインが失敗しました",
				zap.String("run_id", outcome.RunID),
				zap.Int("status", status),
				zap.Error(err),
			)
			c.JSON(status, gin.H{"detail": detail})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message": fmt.Sprintf("Request Accepted. Summary and links will be sent to %s.", req.Email),
		})
	}
}

// errorResponse はパイプラインのエラーをHTTPステータスと詳細メッセージに変換する。
func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, summarizer.ErrNoArticlesFound):
		return http.StatusNotFound, "NoArticlesFound"
	case errors.Is(err, search.ErrSearchProvider):
		return http.StatusBadGateway, "Search provider error"
	case errors.Is(err, summarizer.ErrSummarization):
		return http.StatusBadGateway, "Summarization failed"
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		switch stageErr.Stage {
		case StageFetching:
			return http.StatusBadGateway, "Search provider error"
		case StageSummarizing:
			return http.StatusBadGateway, "Summarization failed"
		case StagePublishing:
			return http.StatusInternalServerError, "Failed to publish notification"
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}
