package broker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/pkg/message"
)

// Subscriber は通知用のキューを宣言・バインドし、配信を受け取る。
type Subscriber struct {
	url    string
	dial   dialFunc
	logger *zap.Logger

	mu   sync.Mutex
	conn connection
	ch   channel
}

// NewSubscriber は新しいSubscriberを生成する。
func NewSubscriber(url string, logger *zap.Logger) *Subscriber {
	return newSubscriber(url, dialAMQP, logger)
}

func newSubscriber(url string, dial dialFunc, logger *zap.Logger) *Subscriber {
	return &Subscriber{url: url, dial: dial, logger: logger}
}

// Consume はllm_comms exchangeと永続キューqueueをsummary.emailでバインドし、
// 手動ackの配信チャネルを返す。prefetchは未ackで受け取る最大件数。
func (s *Subscriber) Consume(queue string, prefetch int) (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil, fmt.Errorf("キュー%sは既に購読中です", queue)
	}

	conn, err := s.dial(context.Background(), s.url)
	if err != nil {
		return nil, fmt.Errorf("ブローカーへの接続に失敗: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("チャネルの作成に失敗: %w", err)
	}

	deliveries, err := setupConsumer(ch, queue, prefetch)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	s.conn = conn
	s.ch = ch
	s.logger.Info("キューの購読を開始しました",
		zap.String("exchange", message.Exchange),
		zap.String("queue", queue),
		zap.String("routing_key", message.RoutingKey),
	)
	return deliveries, nil
}

func setupConsumer(ch channel, queue string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := declareExchange(ch, message.Exchange, message.ExchangeKind); err != nil {
		return nil, fmt.Errorf("exchangeの宣言に失敗: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("キューの宣言に失敗: %w", err)
	}
	if err := ch.QueueBind(q.Name, message.RoutingKey, message.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("キューのバインドに失敗: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("prefetchの設定に失敗: %w", err)
		}
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("購読の開始に失敗: %w", err)
	}
	return deliveries, nil
}

// Close はチャネルと接続を閉じる。配信チャネルもクローズされる。
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	if s.ch != nil {
		s.ch.Close()
	}
	err := s.conn.Close()
	s.conn, s.ch = nil, nil
	if err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("ブローカー接続のクローズに失敗: %w", err)
	}
	return nil
}
