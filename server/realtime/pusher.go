package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	commonlog "umrah_portal/server/common/log"
)

const (
	pusherProtocol     = "7"
	pusherClientName   = "umrah-portal-go"
	pusherWriteTimeout = 10 * time.Second
	pusherEventBuffer  = 64
)

// AuthorizeFunc signs a private or presence channel subscription for the
// socket. It returns the auth signature and, for presence channels, the
// channel data.
type AuthorizeFunc func(ctx context.Context, token, socketID, channel string) (auth, channelData string, err error)

type PusherConfig struct {
	AppKey  string
	Cluster string
	// Host overrides the hosted endpoint, e.g. a self-hosted Reverb or
	// soketi server ("ws.example.com:6001").
	Host             string
	Insecure         bool
	Authorize        AuthorizeFunc
	HandshakeTimeout time.Duration
}

// PusherTransport speaks the Pusher channels protocol over a websocket.
type PusherTransport struct {
	cfg    PusherConfig
	dialer websocket.Dialer
}

func NewPusherTransport(cfg PusherConfig) *PusherTransport {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PusherTransport{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: timeout, EnableCompression: true},
	}
}

func (t *PusherTransport) URL() (string, error) {
	if strings.TrimSpace(t.cfg.AppKey) == "" {
		return "", errors.New("realtime app key is not configured")
	}
	scheme := "wss"
	if t.cfg.Insecure {
		scheme = "ws"
	}
	host := strings.TrimSpace(t.cfg.Host)
	if host == "" {
		cluster := strings.TrimSpace(t.cfg.Cluster)
		if cluster == "" {
			cluster = "mt1"
		}
		host = "ws-" + cluster + ".pusher.com"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/app/" + t.cfg.AppKey}
	q := url.Values{}
	q.Set("protocol", pusherProtocol)
	q.Set("client", pusherClientName)
	q.Set("version", "1.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type pusherMessage struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type pusherEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type pusherError struct {
	Message string `json:"message"`
	Code    *int   `json:"code"`
}

func (t *PusherTransport) Dial(ctx context.Context, token string) (Conn, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	target, err := t.URL()
	if err != nil {
		return nil, err
	}
	ws, resp, err := t.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	established, err := awaitEstablished(ctx, ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := &pusherConn{
		ws:        ws,
		socketID:  established.SocketID,
		token:     token,
		authorize: t.cfg.Authorize,
		events:    make(chan Event, pusherEventBuffer),
		pong:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	commonlog.Infof("event=realtime_pusher action=connect status=ok socket_id=%s", c.socketID)
	return c, nil
}

func awaitEstablished(ctx context.Context, ws *websocket.Conn) (pusherEstablished, error) {
	deadline := time.Now().Add(pusherWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return pusherEstablished{}, fmt.Errorf("await connection_established: %w", err)
		}
		var msg pusherMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return pusherEstablished{}, fmt.Errorf("decode handshake: %w", err)
		}
		switch msg.Event {
		case "pusher:connection_established":
			var est pusherEstablished
			if err := decodeData(msg.Data, &est); err != nil {
				return pusherEstablished{}, fmt.Errorf("decode connection_established: %w", err)
			}
			if est.SocketID == "" {
				return pusherEstablished{}, errors.New("connection_established without socket id")
			}
			return est, nil
		case "pusher:error":
			var pe pusherError
			_ = decodeData(msg.Data, &pe)
			return pusherEstablished{}, fmt.Errorf("pusher error: %s", pe.Message)
		}
	}
}

// decodeData unwraps the string-encoded JSON Pusher uses for data fields.
func decodeData(raw json.RawMessage, out any) error {
	payload := unwrapData(raw)
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func unwrapData(raw json.RawMessage) []byte {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

type pusherConn struct {
	ws        *websocket.Conn
	socketID  string
	token     string
	authorize AuthorizeFunc

	writeMu sync.Mutex
	events  chan Event
	pong    chan struct{}
	done    chan struct{}
	once    sync.Once

	errMu sync.Mutex
	err   error
}

func (c *pusherConn) Events() <-chan Event  { return c.events }
func (c *pusherConn) Done() <-chan struct{} { return c.done }

func (c *pusherConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *pusherConn) Subscribe(ctx context.Context, channel string) error {
	data := map[string]string{"channel": channel}
	if needsAuthorization(channel) {
		if c.authorize == nil {
			return fmt.Errorf("channel %s requires authorization", channel)
		}
		auth, channelData, err := c.authorize(ctx, c.token, c.socketID, channel)
		if err != nil {
			return fmt.Errorf("authorize %s: %w", channel, err)
		}
		data["auth"] = auth
		if channelData != "" {
			data["channel_data"] = channelData
		}
	}
	return c.send("pusher:subscribe", "", data)
}

func (c *pusherConn) Unsubscribe(_ context.Context, channel string) error {
	return c.send("pusher:unsubscribe", "", map[string]string{"channel": channel})
}

func (c *pusherConn) Ping(ctx context.Context) error {
	select {
	case <-c.pong:
	default:
	}
	if err := c.send("pusher:ping", "", map[string]string{}); err != nil {
		return err
	}
	select {
	case <-c.pong:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	case <-ctx.Done():
		return fmt.Errorf("pong not received: %w", ctx.Err())
	}
}

func (c *pusherConn) Close() error {
	c.finish(nil)
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *pusherConn) finish(err error) {
	c.once.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *pusherConn) send(event, channel string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(pusherMessage{Event: event, Channel: channel, Data: payload})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(pusherWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *pusherConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.finish(errors.New("connection closed by server"))
			} else {
				c.finish(err)
			}
			return
		}
		c.handle(data)
	}
}

func (c *pusherConn) handle(data []byte) {
	var msg pusherMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		commonlog.Warnf("event=realtime_pusher action=decode status=failed error=%v", err)
		return
	}
	switch msg.Event {
	case "pusher:ping":
		if err := c.send("pusher:pong", "", map[string]string{}); err != nil {
			commonlog.Warnf("event=realtime_pusher action=pong status=failed error=%v", err)
		}
	case "pusher:pong":
		select {
		case c.pong <- struct{}{}:
		default:
		}
	case "pusher_internal:subscription_succeeded":
		commonlog.Debugf("event=realtime_pusher action=subscribe status=ok channel=%s", msg.Channel)
	case "pusher:subscription_error":
		commonlog.Warnf("event=realtime_pusher action=subscribe status=failed channel=%s data=%s", msg.Channel, string(unwrapData(msg.Data)))
	case "pusher:error":
		var pe pusherError
		_ = decodeData(msg.Data, &pe)
		commonlog.Warnf("event=realtime_pusher action=server_error status=failed message=%s", pe.Message)
		// 4000-4099 tells the client not to reconnect with the same settings,
		// 4100-4199 and 4200-4299 ask it to reconnect.
		if pe.Code != nil && *pe.Code >= 4000 && *pe.Code < 4300 {
			c.finish(fmt.Errorf("pusher error %d: %s", *pe.Code, pe.Message))
			_ = c.ws.Close()
		}
	default:
		if strings.HasPrefix(msg.Event, "pusher:") || strings.HasPrefix(msg.Event, "pusher_internal:") {
			return
		}
		ev := Event{Channel: msg.Channel, Name: NormalizeEventName(msg.Event), Data: unwrapData(msg.Data)}
		select {
		case c.events <- ev:
		case <-c.done:
		}
	}
}
