package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	commonlog "umrah_portal/server/common/log"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

var errDisconnectedDuringDial = errors.New("realtime manager disconnected during dial")

var allStatuses = []Status{StatusDisconnected, StatusConnecting, StatusConnected, StatusReconnecting, StatusError}

const (
	defaultPingInterval         = 30 * time.Second
	defaultReconnectBase        = time.Second
	defaultMaxReconnectAttempts = 5
	defaultDialTimeout          = 15 * time.Second
)

type Config struct {
	PingInterval         time.Duration
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	return c
}

type timer interface {
	Stop() bool
}

type StatusListener func(Status)

// Manager owns the single realtime connection shared by the chat and
// notification stores. Lost connections are retried with exponential
// backoff until MaxReconnectAttempts is reached; after that the status stays
// StatusError until Initialize is called again.
type Manager struct {
	transport Transport
	token     func() string
	cfg       Config
	afterFunc func(d time.Duration, f func()) timer

	mu           sync.Mutex
	conn         Conn
	connCancel   context.CancelFunc
	status       Status
	attempts     int
	reconnecting bool
	closed       bool
	timer        timer
	channels     map[string]*Subscription

	listenerMu   sync.Mutex
	listeners    map[int]StatusListener
	nextListener int
}

func NewManager(transport Transport, token func() string, cfg Config) *Manager {
	return &Manager{
		transport: transport,
		token:     token,
		cfg:       cfg.withDefaults(),
		afterFunc: func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
		status:    StatusDisconnected,
		channels:  map[string]*Subscription{},
		listeners: map[int]StatusListener{},
	}
}

// Initialize drops any existing connection and connects again with the
// current token. It also clears a terminal error state.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	old, oldCancel := m.conn, m.connCancel
	m.conn, m.connCancel = nil, nil
	m.stopTimerLocked()
	m.closed = false
	m.reconnecting = false
	m.attempts = 0
	m.mu.Unlock()

	if old != nil {
		commonlog.Infof("event=realtime action=initialize status=teardown")
		oldCancel()
		_ = old.Close()
	}
	return m.connect(ctx)
}

func (m *Manager) connect(ctx context.Context) error {
	token := m.token()
	if token == "" {
		m.setStatus(StatusDisconnected)
		commonlog.Warnf("event=realtime action=connect status=skipped reason=no_token")
		return ErrNoToken
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errDisconnectedDuringDial
	}
	changed := m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()
	if changed {
		m.emit(StatusConnecting)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	conn, err := m.transport.Dial(dialCtx, token)
	cancel()
	if err != nil {
		commonlog.Warnf("event=realtime action=connect status=failed error=%v", err)
		m.setStatus(StatusDisconnected)
		m.triggerReconnect()
		return err
	}

	m.mu.Lock()
	if m.closed {
		changed = m.setStatusLocked(StatusDisconnected)
		m.mu.Unlock()
		_ = conn.Close()
		if changed {
			m.emit(StatusDisconnected)
		}
		return errDisconnectedDuringDial
	}
	if m.conn != nil {
		m.connCancel()
		_ = m.conn.Close()
	}
	connCtx, connCancel := context.WithCancel(context.Background())
	m.conn = conn
	m.connCancel = connCancel
	m.attempts = 0
	m.reconnecting = false
	m.stopTimerLocked()
	names := m.channelNamesLocked()
	changed = m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	if changed {
		m.emit(StatusConnected)
	}
	commonlog.Infof("event=realtime action=connect status=ok channels=%d", len(names))

	go m.pump(conn)
	go m.keepAlive(connCtx, conn)

	for _, name := range names {
		m.subscribeOn(ctx, conn, name)
	}
	return nil
}

func (m *Manager) pump(conn Conn) {
	events := conn.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.route(ev)
		case <-conn.Done():
			m.connectionLost(conn, conn.Err())
			return
		}
	}
}

func (m *Manager) route(ev Event) {
	EventsReceived.WithLabelValues(NormalizeEventName(ev.Name)).Inc()
	m.mu.Lock()
	sub := m.channels[ev.Channel]
	m.mu.Unlock()
	if sub == nil {
		commonlog.Debugf("event=realtime action=route status=dropped channel=%s name=%s", ev.Channel, ev.Name)
		return
	}
	sub.Publish(ev)
}

func (m *Manager) keepAlive(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PingInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				commonlog.Warnf("event=realtime action=ping status=failed error=%v", err)
				m.connectionLost(conn, err)
				return
			}
		}
	}
}

// connectionLost handles the end of conn. Connections that were already
// replaced or closed by the manager are ignored.
func (m *Manager) connectionLost(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	cancel := m.connCancel
	m.connCancel = nil
	m.mu.Unlock()

	cancel()
	_ = conn.Close()
	commonlog.Warnf("event=realtime action=connection_lost status=disconnected error=%v", cause)
	m.setStatus(StatusDisconnected)
	m.triggerReconnect()
}

// triggerReconnect schedules the next attempt with delay base*2^attempts.
// It is a no-op while a reconnect is already pending or after Disconnect.
func (m *Manager) triggerReconnect() {
	m.mu.Lock()
	if m.closed || m.reconnecting {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.stopTimerLocked()
		changed := m.setStatusLocked(StatusError)
		attempts := m.attempts
		m.mu.Unlock()
		if changed {
			m.emit(StatusError)
		}
		commonlog.Errorf("event=realtime action=reconnect status=gave_up attempts=%d", attempts)
		return
	}
	delay := m.cfg.ReconnectBase << m.attempts
	m.attempts++
	m.reconnecting = true
	attempt := m.attempts
	m.timer = m.afterFunc(delay, m.reconnect)
	changed := m.setStatusLocked(StatusReconnecting)
	m.mu.Unlock()

	ReconnectAttempts.Inc()
	if changed {
		m.emit(StatusReconnecting)
	}
	commonlog.Infof("event=realtime action=reconnect status=scheduled attempt=%d delay=%s", attempt, delay)
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.closed || !m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = false
	m.timer = nil
	m.mu.Unlock()

	_ = m.connect(context.Background())
}

// Disconnect closes the connection and forgets every channel. The manager
// stays down until the next Initialize.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	m.reconnecting = false
	m.attempts = 0
	m.stopTimerLocked()
	conn, cancel := m.conn, m.connCancel
	m.conn, m.connCancel = nil, nil
	subs := m.channels
	m.channels = map[string]*Subscription{}
	changed := m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	if conn != nil {
		cancel()
		_ = conn.Close()
	}
	for _, sub := range subs {
		sub.Close()
	}
	if changed {
		m.emit(StatusDisconnected)
	}
	commonlog.Infof("event=realtime action=disconnect status=ok")
}

// Subscribe returns the handle for channel, creating and tracking it on first
// use. Tracked channels are subscribed again after every reconnect, so a
// failed subscription is logged and kept.
func (m *Manager) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	if channel == "" {
		return nil, errors.New("channel name is required")
	}
	m.mu.Lock()
	if sub, ok := m.channels[channel]; ok {
		m.mu.Unlock()
		return sub, nil
	}
	sub := NewSubscription(channel)
	m.channels[channel] = sub
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		m.subscribeOn(ctx, conn, channel)
	}
	return sub, nil
}

func (m *Manager) subscribeOn(ctx context.Context, conn Conn, channel string) {
	if err := conn.Subscribe(ctx, channel); err != nil {
		SubscriptionErrors.Inc()
		commonlog.Warnf("event=realtime action=subscribe status=failed channel=%s error=%v", channel, err)
		return
	}
	commonlog.Debugf("event=realtime action=subscribe status=ok channel=%s", channel)
}

// Unsubscribe accepts the channel name with or without its private- or
// presence- prefix.
func (m *Manager) Unsubscribe(ctx context.Context, channel string) {
	m.mu.Lock()
	var (
		name string
		sub  *Subscription
	)
	for _, candidate := range []string{channel, PrivatePrefix + channel, PresencePrefix + channel} {
		if s, ok := m.channels[candidate]; ok {
			name, sub = candidate, s
			break
		}
	}
	if sub == nil {
		m.mu.Unlock()
		return
	}
	delete(m.channels, name)
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Unsubscribe(ctx, name); err != nil {
			commonlog.Warnf("event=realtime action=unsubscribe status=failed channel=%s error=%v", name, err)
		}
	}
	sub.Close()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channelNamesLocked()
}

// OnStatusChange registers fn and returns its cancel func.
func (m *Manager) OnStatusChange(fn StatusListener) func() {
	m.listenerMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenerMu.Unlock()
	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	changed := m.setStatusLocked(status)
	m.mu.Unlock()
	if changed {
		m.emit(status)
	}
}

func (m *Manager) setStatusLocked(status Status) bool {
	if m.status == status {
		return false
	}
	m.status = status
	recordStatus(status)
	return true
}

func (m *Manager) emit(status Status) {
	m.listenerMu.Lock()
	listeners := make([]StatusListener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(status)
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) channelNamesLocked() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
