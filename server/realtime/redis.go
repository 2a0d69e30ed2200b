package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	commonlog "umrah_portal/server/common/log"
)

// RedisTransport reads broadcasts straight from the Redis pub/sub channels
// the API's redis broadcaster publishes to. Channel names are prefixed with
// the broadcaster's key prefix.
type RedisTransport struct {
	client *redis.Client
	prefix string
}

func NewRedisTransport(client *redis.Client, prefix string) *RedisTransport {
	return &RedisTransport{client: client, prefix: prefix}
}

type broadcastPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (t *RedisTransport) Dial(ctx context.Context, token string) (Conn, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if err := t.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &redisConn{
		ps:     t.client.Subscribe(runCtx),
		prefix: t.prefix,
		cancel: cancel,
		events: make(chan Event, pusherEventBuffer),
		done:   make(chan struct{}),
	}
	go c.readLoop(runCtx)
	return c, nil
}

type redisConn struct {
	ps     *redis.PubSub
	prefix string
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}
	once   sync.Once

	errMu sync.Mutex
	err   error
}

func (c *redisConn) Events() <-chan Event  { return c.events }
func (c *redisConn) Done() <-chan struct{} { return c.done }

func (c *redisConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *redisConn) Subscribe(ctx context.Context, channel string) error {
	return c.ps.Subscribe(ctx, c.prefix+channel)
}

func (c *redisConn) Unsubscribe(ctx context.Context, channel string) error {
	return c.ps.Unsubscribe(ctx, c.prefix+channel)
}

func (c *redisConn) Ping(ctx context.Context) error {
	return c.ps.Ping(ctx)
}

func (c *redisConn) Close() error {
	c.finish(nil)
	c.cancel()
	return c.ps.Close()
}

func (c *redisConn) finish(err error) {
	c.once.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *redisConn) readLoop(ctx context.Context) {
	for {
		msg, err := c.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				c.finish(nil)
			} else {
				c.finish(err)
			}
			return
		}
		var payload broadcastPayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			commonlog.Warnf("event=realtime_redis action=decode status=failed channel=%s error=%v", msg.Channel, err)
			continue
		}
		ev := Event{
			Channel: strings.TrimPrefix(msg.Channel, c.prefix),
			Name:    NormalizeEventName(payload.Event),
			Data:    payload.Data,
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
