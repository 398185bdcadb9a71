// API Gatewayサービスのエントリポイント。
// ユーザー名とパスワードによるログイン、アクセストークンの発行、
// blogサービスへのリクエスト転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/auth"
	"github.com/nao1215/topicdigest/internal/config"
	"github.com/nao1215/topicdigest/internal/credential"
	"github.com/nao1215/topicdigest/internal/gateway"
	"github.com/nao1215/topicdigest/pkg/logging"
)

func main() {
	cfg, err := config.LoadGateway(".")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(cfg.Development)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Gatewayサービスの起動に失敗", zap.Error(err))
	}
}

func run(cfg config.Gateway, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := credential.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	authn, err := auth.New(store, cfg.SecretKey, cfg.TokenTTL)
	if err != nil {
		return err
	}

	forwarder := gateway.NewForwarder(cfg.BlogServiceHost, cfg.UpstreamTimeout, logger)
	server := gateway.NewServer(cfg.Port, authn, forwarder, cfg.AllowedOrigins, logger)

	logger.Info("Gatewayサービスを起動します",
		zap.String("port", cfg.Port),
		zap.String("blog_service_host", cfg.BlogServiceHost),
	)
	if err := server.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("Gatewayサービスを停止しました")
	return nil
}
