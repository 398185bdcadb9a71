// Package broker はAMQP 0-9-1ブローカーへの通知メッセージの発行と購読を扱う。
package broker

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNacked はブローカーがpublisher confirmでメッセージを拒否したことを表す。
var ErrNacked = errors.New("ブローカーがメッセージを拒否しました")

// connection はAMQP接続のうち、このパッケージが使用する操作。
type connection interface {
	Channel() (channel, error)
	IsClosed() bool
	Close() error
}

// channel はAMQPチャネルのうち、このパッケージが使用する操作。
type channel interface {
	Confirm(noWait bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	// publish はメッセージを発行し、ブローカーの確認応答を待つ。
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
	Close() error
}

// defaultDialTimeout はctxに期限が無い場合の接続タイムアウト。
const defaultDialTimeout = 30 * time.Second

// dialFunc はURLからconnectionを確立する関数。
type dialFunc func(ctx context.Context, url string) (connection, error)

// dialAMQP はamqp091-goで実際のブローカーへ接続する。
// TCP接続とハンドシェイクはctxの残り時間で打ち切る。
func dialAMQP(ctx context.Context, url string) (connection, error) {
	timeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, err
	}
	return &amqpConnection{Connection: conn}, nil
}

type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{Channel: ch}, nil
}

type amqpChannel struct {
	*amqp.Channel
}

func (c *amqpChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	confirmation, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return err
	}
	// confirmモードでないチャネルではnilが返る
	if confirmation == nil {
		return nil
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

// declareExchange は通知用のtopic exchangeを宣言する。既に存在する場合は何もしない。
func declareExchange(ch channel, name, kind string) error {
	return ch.ExchangeDeclare(name, kind, true, false, false, false, nil)
}
