package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func newPusherServer(t *testing.T, subscribed chan<- map[string]string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app/key" || r.URL.Query().Get("protocol") != "7" {
			t.Errorf("unexpected url %s", r.URL)
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteJSON(map[string]string{
			"event": "pusher:connection_established",
			"data":  `{"socket_id":"123.456","activity_timeout":120}`,
		})
		for {
			var msg struct {
				Event string            `json:"event"`
				Data  map[string]string `json:"data"`
			}
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Event {
			case "pusher:ping":
				_ = ws.WriteJSON(map[string]any{"event": "pusher:pong", "data": map[string]string{}})
			case "pusher:subscribe":
				subscribed <- msg.Data
				_ = ws.WriteJSON(map[string]string{"event": "pusher_internal:subscription_succeeded", "channel": msg.Data["channel"], "data": "{}"})
				_ = ws.WriteJSON(map[string]string{"event": "message.sent", "channel": msg.Data["channel"], "data": `{"id":5}`})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPusherTransportSubscribeAndReceive(t *testing.T) {
	subscribed := make(chan map[string]string, 1)
	srv := newPusherServer(t, subscribed)

	var authorizedSocket string
	tr := NewPusherTransport(PusherConfig{
		AppKey:   "key",
		Host:     strings.TrimPrefix(srv.URL, "http://"),
		Insecure: true,
		Authorize: func(_ context.Context, token, socketID, channel string) (string, string, error) {
			authorizedSocket = socketID
			if token != "tok" {
				t.Errorf("token = %q", token)
			}
			return "key:signature", "", nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := tr.Dial(ctx, "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Subscribe(ctx, "private-chat.1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	select {
	case data := <-subscribed:
		if data["channel"] != "private-chat.1" || data["auth"] != "key:signature" {
			t.Fatalf("subscribe payload = %v", data)
		}
	case <-ctx.Done():
		t.Fatalf("server never saw subscribe")
	}
	if authorizedSocket != "123.456" {
		t.Fatalf("authorized socket = %q", authorizedSocket)
	}

	select {
	case ev := <-conn.Events():
		if ev.Channel != "private-chat.1" || ev.Name != EventMessageSent {
			t.Fatalf("event = %+v", ev)
		}
		var payload struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.ID != 5 {
			t.Fatalf("payload = %s", ev.Data)
		}
	case <-ctx.Done():
		t.Fatalf("no event received")
	}

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestPusherTransportDoneOnServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteJSON(map[string]string{"event": "pusher:connection_established", "data": `{"socket_id":"1.1"}`})
		<-release
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	}))
	defer srv.Close()

	tr := NewPusherTransport(PusherConfig{AppKey: "key", Host: strings.TrimPrefix(srv.URL, "http://"), Insecure: true})
	conn, err := tr.Dial(context.Background(), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	close(release)

	select {
	case <-conn.Done():
		if conn.Err() == nil {
			t.Fatalf("expected a close reason")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("connection loss not reported")
	}
}

func TestPusherURL(t *testing.T) {
	u, err := NewPusherTransport(PusherConfig{AppKey: "abc", Cluster: "eu"}).URL()
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if !strings.HasPrefix(u, "wss://ws-eu.pusher.com/app/abc?") || !strings.Contains(u, "protocol=7") {
		t.Fatalf("url = %s", u)
	}
	if _, err := NewPusherTransport(PusherConfig{}).URL(); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestPusherRequiresToken(t *testing.T) {
	if _, err := NewPusherTransport(PusherConfig{AppKey: "k"}).Dial(context.Background(), ""); err != ErrNoToken {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}
