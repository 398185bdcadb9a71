package broker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker はdialFuncとして使えるインメモリのブローカー。
type fakeBroker struct {
	mu sync.Mutex

	dials     int
	dialErr   error
	conns     []*fakeConnection
	published []publishedMessage

	channelErr error
	declareErr error
	publishErr error

	declared []string
	bound    []string
	deliver  chan amqp.Delivery
}

type publishedMessage struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{deliver: make(chan amqp.Delivery, 1)}
}

func (b *fakeBroker) dial(context.Context, string) (connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	conn := &fakeConnection{broker: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) messages() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMessage(nil), b.published...)
}

type fakeConnection struct {
	broker   *fakeBroker
	mu       sync.Mutex
	closed   bool
	channels []*fakeChannel
}

func (c *fakeConnection) Channel() (channel, error) {
	c.broker.mu.Lock()
	err := c.broker.channelErr
	c.broker.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ch := &fakeChannel{broker: c.broker}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	return nil
}

func (c *fakeConnection) allChannelsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		if !ch.closed {
			return false
		}
	}
	return true
}

type fakeChannel struct {
	broker    *fakeBroker
	confirmed bool
	closed    bool
	prefetch  int
}

func (c *fakeChannel) Confirm(bool) error {
	c.confirmed = true
	return nil
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.broker.declareErr != nil {
		return c.broker.declareErr
	}
	if !durable {
		return errors.New("exchange must be durable")
	}
	c.broker.declared = append(c.broker.declared, name+"/"+kind)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.bound = append(c.broker.bound, name+"<-"+exchange+":"+key)
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.broker.deliver, nil
}

func (c *fakeChannel) publish(_ context.Context, exchange, key string, msg amqp.Publishing) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if !c.confirmed {
		return errors.New("channel is not in confirm mode")
	}
	if c.broker.publishErr != nil {
		return c.broker.publishErr
	}
	c.broker.published = append(c.broker.published, publishedMessage{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}
