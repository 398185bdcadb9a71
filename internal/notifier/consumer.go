package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/metrics"
	"github.com/nao1215/topicdigest/pkg/message"
)

// 処理結果のメトリクスラベル。
const (
	outcomeSent     = "sent"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// Consumer は配信されたメッセージをワーカー数で制限しながら処理する。
type Consumer struct {
	mailer  Mailer
	workers int
	logger  *zap.Logger
}

// NewConsumer は新しいConsumerを生成する。workersが0以下の場合は1。
func NewConsumer(mailer Mailer, workers int, logger *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{mailer: mailer, workers: workers, logger: logger}
}

// Run はdeliveriesが閉じられるかctxがキャンセルされるまでメッセージを処理する。
// 処理中のメッセージは完了を待ってから戻る。送信はctxのキャンセルでは中断せず、
// Mailerの送信タイムアウトでのみ打ち切られる。
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	handleCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.Handle(handleCtx, d)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Handle は1件のメッセージを処理し、結果に応じてackまたはnackする。
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	logger := c.logger.With(zap.String("message_id", d.MessageId))

	n, err := decode(d.Body)
	if err != nil {
		logger.Warn("不正なメッセージを破棄します", zap.Error(err))
		metrics.ObserveNotification(outcomeRejected)
		c.nack(logger, d)
		return
	}

	if err := c.mailer.Send(ctx, n.Email, subject, composeBody(n.Summary, n.Links)); err != nil {
		logger.Error("メール送信に失敗しました", zap.String("email", n.Email), zap.Error(err))
		metrics.ObserveNotification(outcomeFailed)
		c.nack(logger, d)
		return
	}

	if err := d.Ack(false); err != nil {
		logger.Error("ackに失敗しました", zap.Error(err))
		return
	}
	metrics.ObserveNotification(outcomeSent)
	logger.Info("メールを送信しました", zap.String("email", n.Email), zap.Int("links", len(n.Links)))
}

func (c *Consumer) nack(logger *zap.Logger, d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		logger.Error("nackに失敗しました", zap.Error(err))
	}
}

// decode はメッセージをデコードし、送信に必要な項目を検証する。
func decode(body []byte) (*message.Notification, error) {
	n, err := message.Decode(body)
	if err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	addr, err := mail.ParseAddress(n.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: emailの形式が不正です: %v", message.ErrInvalid, err)
	}
	n.Email = addr.Address
	return n, nil
}
