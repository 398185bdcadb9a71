// トピック追跡サービスのエントリポイント。
// トピックとメールアドレスを受け取り、記事の検索と要約を行い、
// 通知メッセージをブローカーに発行する。
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

	"github.com/nao1215/topicdigest/internal/broker"
	"github.com/nao1215/topicdigest/internal/config"
	"github.com/nao1215/topicdigest/internal/llm"
	"github.com/nao1215/topicdigest/internal/search"
	"github.com/nao1215/topicdigest/internal/summarizer"
	"github.com/nao1215/topicdigest/internal/tracker"
	"github.com/nao1215/topicdigest/pkg/logging"
)

func main() {
	cfg, err := config.LoadTracker(".")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(cfg.Development)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("トピック追跡サービスの起動に失敗", zap.Error(err))
	}
}

func run(cfg config.Tracker, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer, err := llm.New(llm.Config{
		Endpoint: cfg.LLMEndpoint,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		Timeout:  cfg.InferenceTimeout,
	})
	if err != nil {
		return err
	}

	publisher := broker.NewPublisher(cfg.RabbitMQURL, logger)
	defer publisher.Close()

	orchestrator := tracker.NewOrchestrator(
		search.NewFetcher(search.Config{
			Endpoint:   cfg.SearchEndpoint,
			APIKey:     cfg.TavilyAPIKey,
			MaxResults: cfg.SearchMaxResults,
			Timeout:    cfg.SearchTimeout,
		}),
		summarizer.New(completer),
		publisher,
		tracker.Timeouts{
			Search:    cfg.SearchTimeout,
			Inference: cfg.InferenceTimeout,
			Publish:   cfg.PublishTimeout,
		},
		logger,
	)

	server := tracker.NewServer(cfg.Port, orchestrator, logger)

	logger.Info("トピック追跡サービスを起動します", zap.String("port", cfg.Port))
	if err := server.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("トピック追跡サービスを停止しました")
	return nil
}
