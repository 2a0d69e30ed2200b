package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"umrah_portal/server/common/infra/mq"
	commonlog "umrah_portal/server/common/log"
)

// AMQPTransport consumes broadcasts from a topic exchange where the routing
// key is the channel name. Each subscribed channel gets its own exclusive,
// auto-deleted queue.
type AMQPTransport struct {
	url      string
	exchange string
}

func NewAMQPTransport(url, exchange string) *AMQPTransport {
	if exchange == "" {
		exchange = "broadcasts"
	}
	return &AMQPTransport{url: url, exchange: exchange}
}

func (t *AMQPTransport) Dial(_ context.Context, token string) (Conn, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	conn, err := mq.NewConnection(t.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := mq.DeclareTopicExchange(conn, t.exchange)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare exchange: %w", err)
	}
	c := &amqpConn{
		conn:      conn,
		ch:        ch,
		exchange:  t.exchange,
		consumers: map[string]string{},
		events:    make(chan Event, pusherEventBuffer),
		done:      make(chan struct{}),
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			c.finish(err)
			return
		}
		c.finish(nil)
	}()
	return c, nil
}

type amqpConn struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	mu        sync.Mutex
	consumers map[string]string

	events chan Event
	done   chan struct{}
	once   sync.Once

	errMu sync.Mutex
	err   error
}

func (c *amqpConn) Events() <-chan Event  { return c.events }
func (c *amqpConn) Done() <-chan struct{} { return c.done }

func (c *amqpConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *amqpConn) Subscribe(_ context.Context, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.consumers[channel]; ok {
		return nil
	}
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue for %s: %w", channel, err)
	}
	if err := c.ch.QueueBind(q.Name, channel, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", channel, err)
	}
	tag := "umrah-" + q.Name
	deliveries, err := c.ch.Consume(q.Name, tag, true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", channel, err)
	}
	c.consumers[channel] = tag
	go c.forward(channel, deliveries)
	return nil
}

func (c *amqpConn) Unsubscribe(_ context.Context, channel string) error {
	c.mu.Lock()
	tag, ok := c.consumers[channel]
	delete(c.consumers, channel)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.ch.Cancel(tag, false)
}

func (c *amqpConn) Ping(context.Context) error {
	if c.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	if c.ch.IsClosed() {
		return errors.New("amqp channel closed")
	}
	return nil
}

func (c *amqpConn) Close() error {
	c.finish(nil)
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

func (c *amqpConn) finish(err error) {
	c.once.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *amqpConn) forward(channel string, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		var payload broadcastPayload
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			commonlog.Warnf("event=realtime_amqp action=decode status=failed channel=%s error=%v", channel, err)
			continue
		}
		name := payload.Event
		if name == "" {
			name = d.Type
		}
		ev := Event{Channel: channel, Name: NormalizeEventName(name), Data: payload.Data}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
