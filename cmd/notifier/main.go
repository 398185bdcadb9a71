// 通知サービスのエントリポイント。
// ブローカーのキューから通知メッセージを受け取り、要約とリンクをメールで送信する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/broker"
	"github.com/nao1215/topicdigest/internal/config"
	"github.com/nao1215/topicdigest/internal/notifier"
	"github.com/nao1215/topicdigest/pkg/logging"
)

func main() {
	cfg, err := config.LoadNotifier(".")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(cfg.Development)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("通知サービスの起動に失敗", zap.Error(err))
	}
}

func run(cfg config.Notifier, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	subscriber := broker.NewSubscriber(cfg.RabbitMQURL, logger)
	defer subscriber.Close()

	deliveries, err := subscriber.Consume(cfg.QueueName, cfg.Workers)
	if err != nil {
		return err
	}

	mailer := notifier.NewSMTPMailer(notifier.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.FromEmail,
		Password: cfg.EmailPassword,
	})
	consumer := notifier.NewConsumer(mailer, cfg.Workers, logger)

	logger.Info("通知サービスを起動します",
		zap.String("queue", cfg.QueueName),
		zap.Int("workers", cfg.Workers),
	)
	if err := consumer.Run(ctx, deliveries); err != nil {
		return err
	}
	logger.Info("通知サービスを停止しました")
	return nil
}
