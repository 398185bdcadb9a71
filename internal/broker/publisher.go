package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/metrics"
	"github.com/nao1215/topicdigest/pkg/message"
)

// PublishError は発行処理のどの操作で失敗したかを表す。
type PublishError struct {
	// Op は失敗した操作（validate, encode, dial, channel, confirm, declare, publish）。
	Op string
	// Err は原因となったエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *PublishError) Error() string {
	return fmt.Sprintf("メッセージの発行に失敗 (op=%s): %v", e.Op, e.Err)
}

// Unwrap は原因となったエラーを返す。
func (e *PublishError) Unwrap() error {
	return e.Err
}

// Publisher は通知メッセージをllm_comms exchangeへ発行する。
// 接続は最初の発行時に確立し、以降の発行で再利用する。
// 発行ごとに専用のチャネルを開き、必ず閉じる。
type Publisher struct {
	url    string
	dial   dialFunc
	logger *zap.Logger

	// dialing は接続処理を1つに制限する。待機はctxでキャンセルできる。
	dialing chan struct{}

	// mu はconnを保護する。
	mu   sync.Mutex
	conn connection
}

// NewPublisher は新しいPublisherを生成する。この時点では接続しない。
func NewPublisher(url string, logger *zap.Logger) *Publisher {
	return newPublisher(url, dialAMQP, logger)
}

func newPublisher(url string, dial dialFunc, logger *zap.Logger) *Publisher {
	return &Publisher{
		url:     url,
		dial:    dial,
		logger:  logger,
		dialing: make(chan struct{}, 1),
	}
}

// Publish は通知メッセージを永続化指定で発行し、ブローカーの確認応答を待つ。
// 失敗した場合は*PublishErrorを返す。
func (p *Publisher) Publish(ctx context.Context, n message.Notification) (err error) {
	defer func() {
		if err != nil {
			metrics.ObservePublish(metrics.OutcomeFailure)
			return
		}
		metrics.ObservePublish(metrics.OutcomeSuccess)
	}()

	if err := n.Validate(); err != nil {
		return &PublishError{Op: "validate", Err: err}
	}
	body, err := n.Encode()
	if err != nil {
		return &PublishError{Op: "encode", Err: err}
	}

	conn, err := p.connection(ctx)
	if err != nil {
		return &PublishError{Op: "dial", Err: err}
	}

	ch, err := conn.Channel()
	if err != nil {
		p.drop(conn)
		return &PublishError{Op: "channel", Err: err}
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		p.drop(conn)
		return &PublishError{Op: "confirm", Err: err}
	}
	if err := declareExchange(ch, message.Exchange, message.ExchangeKind); err != nil {
		p.drop(conn)
		return &PublishError{Op: "declare", Err: err}
	}

	messageID := uuid.NewString()
	if err := ch.publish(ctx, message.Exchange, message.RoutingKey, amqp.Publishing{
		ContentType:  message.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		p.drop(conn)
		return &PublishError{Op: "publish", Err: err}
	}

	p.logger.Info("通知メッセージを発行しました",
		zap.String("exchange", message.Exchange),
		zap.String("routing_key", message.RoutingKey),
		zap.String("message_id", messageID),
	)
	return nil
}

// Close は保持している接続を閉じる。
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	if err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("ブローカー接続のクローズに失敗: %w", err)
	}
	return nil
}

// connection は保持している接続を返す。未接続または切断済みの場合は接続し直す。
// 接続待ちと接続処理はどちらもctxの期限で打ち切る。
func (p *Publisher) connection(ctx context.Context) (connection, error) {
	if conn := p.current(); conn != nil {
		return conn, nil
	}

	select {
	case p.dialing <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.dialing }()

	// 待っている間に他の発行が接続済みの場合がある
	if conn := p.current(); conn != nil {
		return conn, nil
	}

	type dialResult struct {
		conn connection
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := p.dial(ctx, p.url)
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		p.mu.Lock()
		p.conn = r.conn
		p.mu.Unlock()
		return r.conn, nil
	case <-ctx.Done():
		// 期限切れ後に確立した接続は使わずに閉じる
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// current は使用可能な接続があれば返す。
func (p *Publisher) current() connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn
	}
	return nil
}

// drop は失敗したconnを破棄し、次回の発行で接続し直すようにする。
func (p *Publisher) drop(conn connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != conn {
		return
	}
	if err := p.conn.Close(); err != nil && err != amqp.ErrClosed {
		p.logger.Warn("ブローカー接続のクローズに失敗", zap.Error(err))
	}
	p.conn = nil
}
