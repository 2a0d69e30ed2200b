package realtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(tr Transport, token string, max int) (*Manager, *manualTimers) {
	m := NewManager(tr, func() string { return token }, Config{
		PingInterval:         time.Hour,
		ReconnectBase:        100 * time.Millisecond,
		MaxReconnectAttempts: max,
	})
	timers := &manualTimers{}
	m.afterFunc = timers.after
	return m, timers
}

func TestInitializeConnectsAndResubscribes(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr, "tok", 3)
	ctx := context.Background()

	if _, err := m.Subscribe(ctx, "private-user.1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if m.Status() != StatusConnected {
		t.Fatalf("status = %s", m.Status())
	}
	if got := tr.last().subscriptions(); len(got) != 1 || got[0] != "private-user.1" {
		t.Fatalf("resubscribed = %v", got)
	}
	if tr.tokens[0] != "tok" {
		t.Fatalf("dial token = %q", tr.tokens[0])
	}
}

func TestInitializeTearsDownExistingConnection(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr, "tok", 3)
	ctx := context.Background()

	_ = m.Initialize(ctx)
	first := tr.last()
	_ = m.Initialize(ctx)

	select {
	case <-first.Done():
	default:
		t.Fatalf("expected first connection to be closed")
	}
	if len(tr.conns) != 2 || m.Status() != StatusConnected {
		t.Fatalf("conns=%d status=%s", len(tr.conns), m.Status())
	}
}

func TestInitializeWithoutToken(t *testing.T) {
	tr := &fakeTransport{}
	m, timers := newTestManager(tr, "", 3)
	if err := m.Initialize(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
	if len(timers.scheduled()) != 0 || m.Status() != StatusDisconnected {
		t.Fatalf("expected no reconnect without a token")
	}
}

func TestReconnectBackoffIsExponential(t *testing.T) {
	tr := &fakeTransport{}
	tr.setFail(true)
	m, timers := newTestManager(tr, "tok", 3)

	_ = m.Initialize(context.Background())
	timers.fire()
	timers.fire()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	got := timers.scheduled()
	if len(got) != len(want) {
		t.Fatalf("scheduled = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scheduled = %v, want %v", got, want)
		}
	}
	if m.Status() != StatusReconnecting || m.Attempts() != 3 {
		t.Fatalf("status=%s attempts=%d", m.Status(), m.Attempts())
	}
}

func TestReconnectCapLeavesErrorWithoutTimer(t *testing.T) {
	tr := &fakeTransport{}
	tr.setFail(true)
	m, timers := newTestManager(tr, "tok", 2)

	_ = m.Initialize(context.Background())
	timers.fire()
	timers.fire()

	if m.Status() != StatusError {
		t.Fatalf("status = %s, want error", m.Status())
	}
	scheduled := len(timers.scheduled())
	m.triggerReconnect()
	if m.Status() != StatusError {
		t.Fatalf("status = %s after extra trigger", m.Status())
	}
	if len(timers.scheduled()) != scheduled {
		t.Fatalf("a timer was scheduled past the cap")
	}

	tr.setFail(false)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("manual initialize: %v", err)
	}
	if m.Status() != StatusConnected || m.Attempts() != 0 {
		t.Fatalf("status=%s attempts=%d after recovery", m.Status(), m.Attempts())
	}
}

func TestTriggerReconnectIsGuarded(t *testing.T) {
	tr := &fakeTransport{}
	m, timers := newTestManager(tr, "tok", 5)
	_ = m.Initialize(context.Background())

	m.triggerReconnect()
	m.triggerReconnect()
	if got := len(timers.scheduled()); got != 1 {
		t.Fatalf("scheduled %d reconnects, want 1", got)
	}
}

func TestConnectionLossReconnects(t *testing.T) {
	tr := &fakeTransport{}
	m, timers := newTestManager(tr, "tok", 5)
	_ = m.Initialize(context.Background())
	_, _ = m.Subscribe(context.Background(), "private-chat.9")

	tr.last().drop(errors.New("reset"))
	if !waitFor(func() bool { return m.Status() == StatusReconnecting }) {
		t.Fatalf("status = %s, want reconnecting", m.Status())
	}
	timers.fire()
	if m.Status() != StatusConnected || m.Attempts() != 0 {
		t.Fatalf("status=%s attempts=%d", m.Status(), m.Attempts())
	}
	if got := tr.last().subscriptions(); len(got) != 1 || got[0] != "private-chat.9" {
		t.Fatalf("resubscribed = %v", got)
	}
}

func TestDisconnectIsTerminal(t *testing.T) {
	tr := &fakeTransport{}
	m, timers := newTestManager(tr, "tok", 5)
	_ = m.Initialize(context.Background())
	sub, _ := m.Subscribe(context.Background(), "private-user.1")

	m.Disconnect()
	m.triggerReconnect()

	if m.Status() != StatusDisconnected || len(timers.scheduled()) != 0 {
		t.Fatalf("status=%s timers=%d", m.Status(), len(timers.scheduled()))
	}
	if len(m.Channels()) != 0 {
		t.Fatalf("channels not cleared")
	}
	if sub.Publish(Event{Name: "x"}) {
		t.Fatalf("subscription should be closed")
	}
}

func TestSubscribeReturnsCachedHandle(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr, "tok", 5)
	_ = m.Initialize(context.Background())

	a, _ := m.Subscribe(context.Background(), "private-chat.1")
	b, _ := m.Subscribe(context.Background(), "private-chat.1")
	if a != b {
		t.Fatalf("expected cached handle")
	}
	if got := tr.last().subscriptions(); len(got) != 1 {
		t.Fatalf("subscribed %d times, want 1", len(got))
	}
}

func TestSubscribeErrorKeepsConnection(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr, "tok", 5)
	_ = m.Initialize(context.Background())
	tr.last().failChannels["private-chat.2"] = true

	sub, err := m.Subscribe(context.Background(), "private-chat.2")
	if err != nil || sub == nil {
		t.Fatalf("subscribe err = %v", err)
	}
	if m.Status() != StatusConnected {
		t.Fatalf("status = %s", m.Status())
	}
	if len(m.Channels()) != 1 {
		t.Fatalf("failed channel should stay tracked")
	}
}

func TestUnsubscribeChecksPrefixes(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr, "tok", 5)
	_ = m.Initialize(context.Background())
	_, _ = m.Subscribe(context.Background(), "presence-chat.4")
	_, _ = m.Subscribe(context.Background(), "private-user.1")

	m.Unsubscribe(context.Background(), "chat.4")
	m.Unsubscribe(context.Background(), "user.1")

	if len(m.Channels()) != 0 {
		t.Fatalf("channels left: %v", m.Channels())
	}
	conn := tr.last()
	if len(conn.unsubscribed) != 2 || conn.unsubscribed[0] != "presence-chat.4" || conn.unsubscribed[1] != "private-user.1" {
		t.Fatalf("unsubscribed = %v", conn.unsubscribed)
	}
}

func TestEventsAreRoutedToSubscription(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr, "tok", 5)
	_ = m.Initialize(context.Background())
	sub, _ := m.Subscribe(context.Background(), "private-chat.1")

	got := make(chan Event, 1)
	sub.Bind(EventMessageSent, func(ev Event) { got <- ev })

	tr.last().events <- Event{Channel: "private-chat.1", Name: ".message.sent", Data: []byte(`{"id":1}`)}
	select {
	case ev := <-got:
		if string(ev.Data) != `{"id":1}` {
			t.Fatalf("data = %s", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestKeepAliveFailureTriggersReconnect(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(tr, func() string { return "tok" }, Config{PingInterval: 10 * time.Millisecond, MaxReconnectAttempts: 3})
	timers := &manualTimers{}
	m.afterFunc = timers.after

	_ = m.Initialize(context.Background())
	conn := tr.last()
	conn.mu.Lock()
	conn.pingErr = errors.New("no pong")
	conn.mu.Unlock()

	if !waitFor(func() bool { return m.Status() == StatusReconnecting }) {
		t.Fatalf("status = %s, want reconnecting", m.Status())
	}
	m.Disconnect()
}

func TestStatusListeners(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr, "tok", 5)
	var seen []Status
	cancel := m.OnStatusChange(func(s Status) { seen = append(seen, s) })
	_ = m.Initialize(context.Background())
	cancel()
	m.Disconnect()

	if len(seen) != 2 || seen[0] != StatusConnecting || seen[1] != StatusConnected {
		t.Fatalf("seen = %v", seen)
	}
}

// gatedTransport blocks every dial until release is closed.
type gatedTransport struct {
	fakeTransport
	dialing chan struct{}
	release chan struct{}
}

func (t *gatedTransport) Dial(ctx context.Context, token string) (Conn, error) {
	t.dialing <- struct{}{}
	<-t.release
	return t.fakeTransport.Dial(ctx, token)
}

func TestDisconnectDuringDialLeavesManagerDisconnected(t *testing.T) {
	tr := &gatedTransport{dialing: make(chan struct{}, 1), release: make(chan struct{})}
	m, timers := newTestManager(tr, "tok", 3)

	done := make(chan error, 1)
	go func() { done <- m.Initialize(context.Background()) }()
	<-tr.dialing
	m.Disconnect()
	close(tr.release)

	if err := <-done; err == nil {
		t.Fatalf("initialize should fail once disconnected")
	}
	if m.Status() != StatusDisconnected {
		t.Fatalf("status = %s", m.Status())
	}
	select {
	case <-tr.last().Done():
	default:
		t.Fatalf("late connection should be closed")
	}
	if len(timers.scheduled()) != 0 {
		t.Fatalf("no reconnect expected, got %v", timers.scheduled())
	}
}

func TestDisconnectBeforeDialSkipsConnecting(t *testing.T) {
	tr := &fakeTransport{}
	var m *Manager
	m = NewManager(tr, func() string {
		m.Disconnect()
		return "tok"
	}, Config{PingInterval: time.Hour, MaxReconnectAttempts: 3})
	var seen []Status
	m.OnStatusChange(func(s Status) { seen = append(seen, s) })

	if err := m.Initialize(context.Background()); err == nil {
		t.Fatalf("initialize should fail once disconnected")
	}
	if m.Status() != StatusDisconnected {
		t.Fatalf("status = %s", m.Status())
	}
	for _, s := range seen {
		if s == StatusConnecting {
			t.Fatalf("status changes = %v", seen)
		}
	}
	if len(tr.conns) != 0 {
		t.Fatalf("dialed %d times", len(tr.conns))
	}
}
