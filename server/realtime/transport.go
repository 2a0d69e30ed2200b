package realtime

import (
	"context"
	"errors"
)

var ErrNoToken = errors.New("realtime token is not available")

// Transport opens authenticated connections to the pub/sub service.
type Transport interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is one live connection. Done is closed when the connection ends for
// any reason; Err then reports why.
type Conn interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Ping(ctx context.Context) error
	Events() <-chan Event
	Done() <-chan struct{}
	Err() error
	Close() error
}
