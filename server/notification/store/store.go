package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	commonlog "umrah_portal/server/common/log"
	"umrah_portal/server/common/optimistic"
	"umrah_portal/server/notification/domain"
	"umrah_portal/server/realtime"
	"umrah_portal/server/rest"
)

const DefaultSyncInterval = 60 * time.Second

// API is the subset of the notification REST client the store calls.
type API interface {
	List(ctx context.Context, token string, page int) rest.Result[rest.Page[domain.Notification]]
	UnreadCount(ctx context.Context, token string) rest.Result[rest.UnreadCount]
	MarkRead(ctx context.Context, token, id string) rest.Result[rest.Empty]
	MarkAllRead(ctx context.Context, token string) rest.Result[rest.Empty]
	Delete(ctx context.Context, token, id string) rest.Result[rest.Empty]
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (*realtime.Subscription, error)
	Unsubscribe(ctx context.Context, channel string)
}

// Store keeps the notification list and the unread badge count.
type Store struct {
	api      API
	token    func() string
	feedback func(string)

	mu      sync.RWMutex
	items   []domain.Notification
	unread  int
	page    int
	hasMore bool
	loading bool

	listenerMu sync.Mutex
	listeners  map[int]func()
	nextID     int
}

func New(api API, token func() string, feedback func(string)) *Store {
	if token == nil {
		token = func() string { return "" }
	}
	if feedback == nil {
		feedback = func(message string) {
			commonlog.Warnf("event=notification_feedback action=notify status=failed message=%q", message)
		}
	}
	return &Store{api: api, token: token, feedback: feedback, listeners: map[int]func(){}}
}

// Fetch loads a page of notifications. Page 1 replaces the list.
func (s *Store) Fetch(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	s.setLoading(true)
	res := s.api.List(ctx, s.token(), page)
	if !res.Success {
		s.setLoading(false)
		s.feedback(res.Message)
		return errors.New(res.Message)
	}

	s.mu.Lock()
	if page == 1 {
		s.items = s.items[:0]
	}
	for _, n := range res.Data.Items {
		if indexOf(s.items, string(n.ID)) < 0 {
			s.items = append(s.items, n)
		}
	}
	s.page = page
	s.hasMore = res.Data.HasMore()
	s.loading = false
	s.mu.Unlock()

	s.changed()
	return nil
}

// FetchMore loads the page after the last one fetched.
func (s *Store) FetchMore(ctx context.Context) error {
	s.mu.RLock()
	next, more := s.page+1, s.hasMore
	s.mu.RUnlock()
	if !more {
		return nil
	}
	return s.Fetch(ctx, next)
}

// HandlePush adds a pushed notification to the top. Known ids are ignored.
func (s *Store) HandlePush(n domain.Notification) bool {
	if n.ID == "" {
		return false
	}
	s.mu.Lock()
	if indexOf(s.items, string(n.ID)) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.items = append([]domain.Notification{n}, s.items...)
	if !n.IsRead {
		s.unread++
	}
	s.mu.Unlock()

	commonlog.Debugf("event=notification_store action=push status=ok id=%s type=%s", n.ID, n.Type)
	s.changed()
	return true
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	var message string
	err := optimistic.Run(ctx, optimistic.Command{
		Name: "mark notification read",
		Apply: func() func() {
			s.mu.Lock()
			i := indexOf(s.items, id)
			if i < 0 || s.items[i].IsRead {
				s.mu.Unlock()
				return nil
			}
			s.items[i].IsRead = true
			s.unread = max(s.unread-1, 0)
			s.mu.Unlock()
			s.changed()
			return func() {
				s.mu.Lock()
				if j := indexOf(s.items, id); j >= 0 {
					s.items[j].IsRead = false
				}
				s.unread++
				s.mu.Unlock()
				s.changed()
			}
		},
		Execute: func(ctx context.Context) error {
			return s.check(s.api.MarkRead(ctx, s.token(), id), &message)
		},
	})
	if err != nil {
		s.feedback(message)
	}
	return err
}

func (s *Store) MarkAllRead(ctx context.Context) error {
	var message string
	err := optimistic.Run(ctx, optimistic.Command{
		Name: "mark all notifications read",
		Apply: func() func() {
			s.mu.Lock()
			var flipped []string
			for i := range s.items {
				if !s.items[i].IsRead {
					s.items[i].IsRead = true
					flipped = append(flipped, string(s.items[i].ID))
				}
			}
			previous := s.unread
			s.unread = 0
			s.mu.Unlock()
			s.changed()
			return func() {
				s.mu.Lock()
				for _, id := range flipped {
					if j := indexOf(s.items, id); j >= 0 {
						s.items[j].IsRead = false
					}
				}
				s.unread = previous
				s.mu.Unlock()
				s.changed()
			}
		},
		Execute: func(ctx context.Context) error {
			return s.check(s.api.MarkAllRead(ctx, s.token()), &message)
		},
	})
	if err != nil {
		s.feedback(message)
	}
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	var message string
	err := optimistic.Run(ctx, optimistic.Command{
		Name: "delete notification",
		Apply: func() func() {
			s.mu.Lock()
			i := indexOf(s.items, id)
			if i < 0 {
				s.mu.Unlock()
				return nil
			}
			removed := s.items[i]
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			if !removed.IsRead {
				s.unread = max(s.unread-1, 0)
			}
			s.mu.Unlock()
			s.changed()
			return func() {
				s.mu.Lock()
				if indexOf(s.items, id) < 0 {
					at := min(i, len(s.items))
					s.items = append(s.items[:at:at], append([]domain.Notification{removed}, s.items[at:]...)...)
					if !removed.IsRead {
						s.unread++
					}
				}
				s.mu.Unlock()
				s.changed()
			}
		},
		Execute: func(ctx context.Context) error {
			return s.check(s.api.Delete(ctx, s.token(), id), &message)
		},
	})
	if err != nil {
		s.feedback(message)
	}
	return err
}

func (s *Store) check(res rest.Result[rest.Empty], message *string) error {
	if res.Success {
		return nil
	}
	*message = res.Message
	return errors.New(res.Message)
}

// RefreshUnreadCount replaces the badge count with the server's value.
func (s *Store) RefreshUnreadCount(ctx context.Context) error {
	res := s.api.UnreadCount(ctx, s.token())
	if !res.Success {
		return errors.New(res.Message)
	}
	s.mu.Lock()
	s.unread = res.Data.Count
	s.mu.Unlock()
	s.changed()
	return nil
}

// StartUnreadSync refreshes the unread count every interval until ctx is
// done or the returned stop func is called.
func (s *Store) StartUnreadSync(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.token() == "" {
					continue
				}
				if err := s.RefreshUnreadCount(ctx); err != nil {
					commonlog.Debugf("event=notification_sync action=unread_count status=failed error=%v", err)
				}
			}
		}
	}()
	return cancel
}

// Attach subscribes to the user's private channel and feeds
// notification.created pushes into the store.
func (s *Store) Attach(ctx context.Context, sub Subscriber, userID string) (func(), error) {
	channel := realtime.UserChannel(userID)
	subscription, err := sub.Subscribe(ctx, channel)
	if err != nil {
		return func() {}, err
	}
	unbind := subscription.Bind(realtime.EventNotificationCreated, s.HandleEvent)
	return unbind, nil
}

// HandleEvent decodes a notification.created push. The payload is either the
// notification or {"notification": {...}}.
func (s *Store) HandleEvent(ev realtime.Event) {
	if realtime.NormalizeEventName(ev.Name) != realtime.EventNotificationCreated {
		return
	}
	var wrapper struct {
		Notification *domain.Notification `json:"notification"`
	}
	if err := json.Unmarshal(ev.Data, &wrapper); err != nil {
		commonlog.Warnf("event=notification_store action=decode status=failed error=%v", err)
		return
	}
	if wrapper.Notification != nil {
		s.HandlePush(*wrapper.Notification)
		return
	}
	var n domain.Notification
	if err := json.Unmarshal(ev.Data, &n); err != nil {
		commonlog.Warnf("event=notification_store action=decode status=failed error=%v", err)
		return
	}
	s.HandlePush(n)
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.unread = 0
	s.page = 0
	s.hasMore = false
	s.loading = false
	s.mu.Unlock()
	s.changed()
}

func (s *Store) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Notification(nil), s.items...)
}

func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

func (s *Store) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) OnChange(fn func()) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()
	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Store) changed() {
	s.listenerMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func indexOf(items []domain.Notification, id string) int {
	for i, n := range items {
		if string(n.ID) == id {
			return i
		}
	}
	return -1
}
