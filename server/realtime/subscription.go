package realtime

import (
	"sync"

	commonlog "umrah_portal/server/common/log"
)

const (
	subscriptionQueueSize = 256
	anyEvent              = "*"
)

type Handler func(Event)

// Subscription is a channel handle. Events published to it are queued and
// handed to bound handlers by a single dispatcher goroutine, in order.
type Subscription struct {
	name  string
	queue chan Event
	done  chan struct{}
	once  sync.Once

	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
}

func NewSubscription(name string) *Subscription {
	s := &Subscription{
		name:     name,
		queue:    make(chan Event, subscriptionQueueSize),
		done:     make(chan struct{}),
		handlers: map[string]map[int]Handler{},
	}
	go s.dispatch()
	return s
}

func (s *Subscription) Name() string { return s.name }

// Bind registers h for events named event and returns the unbind func.
func (s *Subscription) Bind(event string, h Handler) func() {
	event = NormalizeEventName(event)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.handlers[event] == nil {
		s.handlers[event] = map[int]Handler{}
	}
	s.handlers[event][id] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers[event], id)
		s.mu.Unlock()
	}
}

// BindAll registers h for every event on the channel.
func (s *Subscription) BindAll(h Handler) func() {
	return s.Bind(anyEvent, h)
}

// Publish queues ev for delivery. It reports false once the subscription is
// closed.
func (s *Subscription) Publish(ev Event) bool {
	ev.Name = NormalizeEventName(ev.Name)
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			for _, h := range s.handlersFor(ev.Name) {
				s.deliver(h, ev)
			}
		}
	}
}

func (s *Subscription) handlersFor(event string) []Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Handler, 0, len(s.handlers[event])+len(s.handlers[anyEvent]))
	for _, h := range s.handlers[event] {
		out = append(out, h)
	}
	for _, h := range s.handlers[anyEvent] {
		out = append(out, h)
	}
	return out
}

func (s *Subscription) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			commonlog.Exceptionf("event=realtime_dispatch action=handle status=panic channel=%s name=%s error=%v", s.name, ev.Name, r)
		}
	}()
	h(ev)
}
