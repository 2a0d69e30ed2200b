package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeConn struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	failChannels map[string]bool
	pingErr      error
	events       chan Event
	done         chan struct{}
	once         sync.Once
	err          error
}

func newFakeConn() *fakeConn {
	return &fakeConn{failChannels: map[string]bool{}, events: make(chan Event, 16), done: make(chan struct{})}
}

func (c *fakeConn) Subscribe(_ context.Context, ch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failChannels[ch] {
		return errors.New("forbidden")
	}
	c.subscribed = append(c.subscribed, ch)
	return nil
}

func (c *fakeConn) Unsubscribe(_ context.Context, ch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, ch)
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Events() <-chan Event  { return c.events }
func (c *fakeConn) Done() <-chan struct{} { return c.done }
func (c *fakeConn) Err() error            { return c.err }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop(err error) {
	c.err = err
	c.Close()
}

func (c *fakeConn) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

type fakeTransport struct {
	mu     sync.Mutex
	conns  []*fakeConn
	fail   bool
	tokens []string
}

func (t *fakeTransport) Dial(_ context.Context, token string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = append(t.tokens, token)
	if t.fail {
		return nil, errors.New("unavailable")
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) setFail(v bool) {
	t.mu.Lock()
	t.fail = v
	t.mu.Unlock()
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// manualTimers records scheduled reconnects instead of running them.
type manualTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
	active int
}

type manualTimer struct {
	owner   *manualTimers
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.owner.active--
	return true
}

func (m *manualTimers) after(d time.Duration, f func()) timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
	m.funcs = append(m.funcs, f)
	m.active++
	return &manualTimer{owner: m}
}

// fire runs the most recently scheduled callback.
func (m *manualTimers) fire() {
	m.mu.Lock()
	f := m.funcs[len(m.funcs)-1]
	m.active--
	m.mu.Unlock()
	f()
}

func (m *manualTimers) scheduled() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
