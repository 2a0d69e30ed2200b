package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"umrah_portal/server/chat/domain"
	"umrah_portal/server/common/jsonx"
	commonlog "umrah_portal/server/common/log"
	"umrah_portal/server/common/optimistic"
	"umrah_portal/server/realtime"
	"umrah_portal/server/rest"
)

// API is the subset of the chat REST client the store calls.
type API interface {
	ListChats(ctx context.Context, token string, page int) rest.Result[rest.Page[domain.Chat]]
	CreateChat(ctx context.Context, token string, in domain.CreateChatRequest) rest.Result[domain.Chat]
	Messages(ctx context.Context, token, chatID string, page int) rest.Result[rest.Page[domain.Message]]
	SendMessage(ctx context.Context, token, chatID string, in domain.SendMessageRequest) rest.Result[domain.Message]
	MarkRead(ctx context.Context, token, chatID string) rest.Result[rest.Empty]
}

// Subscriber hands out realtime channel subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (*realtime.Subscription, error)
	Unsubscribe(ctx context.Context, channel string)
}

// Feedback receives user facing failure messages.
type Feedback func(message string)

type Options struct {
	Token    func() string
	UserID   func() string
	Feedback Feedback
	Now      func() time.Time
}

type pageState struct {
	page    int
	hasMore bool
}

// Store holds the loaded chats and their messages. REST responses, local
// optimistic sends and realtime pushes all land here and are reconciled by
// message id.
type Store struct {
	api      API
	sub      Subscriber
	token    func() string
	userID   func() string
	feedback Feedback
	now      func() time.Time

	mu          sync.RWMutex
	chats       []domain.Chat
	chatsPage   pageState
	messages    map[string][]domain.Message
	pages       map[string]pageState
	currentChat string
	typing      []domain.TypingIndicator
	unbind      map[string]func()

	listenerMu sync.Mutex
	listeners  map[int]func()
	nextID     int
}

func New(api API, sub Subscriber, opts Options) *Store {
	s := &Store{
		api:       api,
		sub:       sub,
		token:     opts.Token,
		userID:    opts.UserID,
		feedback:  opts.Feedback,
		now:       opts.Now,
		messages:  map[string][]domain.Message{},
		pages:     map[string]pageState{},
		unbind:    map[string]func(){},
		listeners: map[int]func(){},
	}
	if s.token == nil {
		s.token = func() string { return "" }
	}
	if s.userID == nil {
		s.userID = func() string { return "" }
	}
	if s.feedback == nil {
		s.feedback = func(message string) {
			commonlog.Warnf("event=chat_feedback action=notify status=failed message=%q", message)
		}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// LoadChats fetches a page of chats. Page 1 replaces the list, later pages
// are merged in.
func (s *Store) LoadChats(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	res := s.api.ListChats(ctx, s.token(), page)
	if !res.Success {
		s.feedback(res.Message)
		return errors.New(res.Message)
	}

	s.mu.Lock()
	if page == 1 {
		s.chats = dedupChats(res.Data.Items)
	} else {
		for _, chat := range res.Data.Items {
			if indexOfChat(s.chats, string(chat.ID)) < 0 {
				s.chats = append(s.chats, chat)
			}
		}
	}
	s.chatsPage = pageState{page: page, hasMore: res.Data.HasMore()}
	s.mu.Unlock()

	s.changed()
	return nil
}

func (s *Store) CreateChat(ctx context.Context, in domain.CreateChatRequest) (domain.Chat, error) {
	res := s.api.CreateChat(ctx, s.token(), in)
	if !res.Success {
		s.feedback(res.Message)
		return domain.Chat{}, errors.New(res.Message)
	}
	s.prependChat(res.Data)
	return res.Data, nil
}

// SetCurrentChat opens a chat. The chat channel subscription is established
// before the chat becomes active, then the first page of messages is loaded
// and the chat is marked read.
func (s *Store) SetCurrentChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		s.mu.Lock()
		s.currentChat = ""
		s.mu.Unlock()
		s.changed()
		return nil
	}

	if err := s.watchChat(ctx, chatID); err != nil {
		commonlog.Warnf("event=chat_store action=subscribe status=failed chat_id=%s error=%v", chatID, err)
	}

	s.mu.Lock()
	s.currentChat = chatID
	s.mu.Unlock()
	s.changed()

	loadErr := s.LoadMessages(ctx, chatID, 1)
	readErr := s.MarkAsRead(ctx, chatID)
	return errors.Join(loadErr, readErr)
}

func (s *Store) watchChat(ctx context.Context, chatID string) error {
	if s.sub == nil {
		return nil
	}
	s.mu.RLock()
	_, bound := s.unbind[chatID]
	s.mu.RUnlock()
	if bound {
		return nil
	}

	sub, err := s.sub.Subscribe(ctx, realtime.ChatChannel(chatID))
	if err != nil {
		return err
	}
	unbind := sub.BindAll(s.HandleEvent)

	s.mu.Lock()
	if _, ok := s.unbind[chatID]; ok {
		s.mu.Unlock()
		unbind()
		return nil
	}
	s.unbind[chatID] = unbind
	s.mu.Unlock()
	return nil
}

// LeaveChat drops the chat channel subscription.
func (s *Store) LeaveChat(ctx context.Context, chatID string) {
	s.mu.Lock()
	unbind := s.unbind[chatID]
	delete(s.unbind, chatID)
	if s.currentChat == chatID {
		s.currentChat = ""
	}
	s.mu.Unlock()

	if unbind != nil {
		unbind()
	}
	if s.sub != nil {
		s.sub.Unsubscribe(ctx, realtime.ChatChannel(chatID))
	}
	s.changed()
}

// LoadMessages fetches a page of a chat's history. Page 1 replaces the list
// but keeps messages still being sent; later pages add older messages.
func (s *Store) LoadMessages(ctx context.Context, chatID string, page int) error {
	if page < 1 {
		page = 1
	}
	res := s.api.Messages(ctx, s.token(), chatID, page)
	if !res.Success {
		s.feedback(res.Message)
		return errors.New(res.Message)
	}

	s.mu.Lock()
	var merged []domain.Message
	if page == 1 {
		merged = dedupMessages(res.Data.Items)
		for _, m := range s.messages[chatID] {
			if m.IsTemp() && m.Status == domain.MessageStatusSending {
				merged = append(merged, m)
			}
		}
	} else {
		merged = append([]domain.Message(nil), s.messages[chatID]...)
		for _, m := range res.Data.Items {
			if indexOfMessage(merged, string(m.ID)) < 0 {
				merged = append(merged, m)
			}
		}
	}
	for i := range merged {
		if merged[i].ChatID == "" {
			merged[i].ChatID = jsonx.ID(chatID)
		}
	}
	sortMessages(merged)
	s.messages[chatID] = merged
	current := res.Data.CurrentPage
	if current == 0 {
		current = page
	}
	s.pages[chatID] = pageState{page: current, hasMore: res.Data.HasMore()}
	s.mu.Unlock()

	s.changed()
	return nil
}

// SendMessage shows the message immediately with a temporary id. The server
// copy replaces it on success; on failure it is removed and reported.
func (s *Store) SendMessage(ctx context.Context, chatID, content string, kind domain.MessageType) (domain.Message, error) {
	if kind == "" {
		kind = domain.MessageTypeText
	}
	now := s.now()
	tempID := domain.TempIDPrefix + uuid.NewString()
	temp := domain.Message{
		ID:        jsonx.ID(tempID),
		TempID:    tempID,
		ChatID:    jsonx.ID(chatID),
		SenderID:  jsonx.ID(s.userID()),
		Content:   content,
		Type:      kind,
		Status:    domain.MessageStatusSending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.messages[chatID] = append(s.messages[chatID], temp)
	s.mu.Unlock()
	s.changed()

	res := s.api.SendMessage(ctx, s.token(), chatID, domain.SendMessageRequest{Content: content, Type: kind, TempID: tempID})
	if !res.Success {
		s.mu.Lock()
		s.messages[chatID] = removeMessage(s.messages[chatID], tempID)
		s.mu.Unlock()
		s.changed()
		s.feedback(res.Message)
		commonlog.Warnf("event=chat_store action=send status=failed chat_id=%s temp_id=%s", chatID, tempID)
		return domain.Message{}, errors.New(res.Message)
	}

	confirmed := res.Data
	if confirmed.ID == "" {
		confirmed = temp
		confirmed.ID = jsonx.ID(tempID)
	}
	if confirmed.ChatID == "" {
		confirmed.ChatID = jsonx.ID(chatID)
	}
	if confirmed.Status == "" || confirmed.Status == domain.MessageStatusSending {
		confirmed.Status = domain.MessageStatusSent
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = now
	}
	confirmed.TempID = tempID

	s.mu.Lock()
	list := s.messages[chatID]
	if confirmed.ID != jsonx.ID(tempID) && indexOfMessage(list, string(confirmed.ID)) >= 0 {
		list = removeMessage(list, tempID)
	} else if i := indexOfMessage(list, tempID); i >= 0 {
		list[i] = confirmed
	} else {
		list = append(list, confirmed)
	}
	sortMessages(list)
	s.messages[chatID] = list
	s.touchChatLocked(chatID, confirmed, false)
	s.mu.Unlock()

	s.changed()
	return confirmed, nil
}

// AddMessage merges a message that arrived outside of SendMessage. It
// reports false when the message was already known.
func (s *Store) AddMessage(msg domain.Message, chatID string) bool {
	if chatID == "" {
		chatID = string(msg.ChatID)
	}
	if chatID == "" || msg.ID == "" {
		return false
	}
	if msg.ChatID == "" {
		msg.ChatID = jsonx.ID(chatID)
	}

	s.mu.Lock()
	list := s.messages[chatID]
	if indexOfMessage(list, string(msg.ID)) >= 0 {
		s.mu.Unlock()
		return false
	}
	if msg.TempID != "" {
		if i := indexOfMessage(list, msg.TempID); i >= 0 {
			list = append(list[:i], list[i+1:]...)
		}
	}
	list = append(list, msg)
	sortMessages(list)
	s.messages[chatID] = list
	own := msg.SenderID != "" && string(msg.SenderID) == s.userID()
	s.touchChatLocked(chatID, msg, chatID != s.currentChat && !own)
	s.mu.Unlock()

	s.changed()
	return true
}

// touchChatLocked records msg as the chat's latest message and moves the
// chat to the top of the list.
func (s *Store) touchChatLocked(chatID string, msg domain.Message, countUnread bool) {
	i := indexOfChat(s.chats, chatID)
	if i < 0 {
		return
	}
	chat := s.chats[i]
	last := msg
	chat.LastMessage = &last
	if !msg.CreatedAt.IsZero() {
		chat.UpdatedAt = msg.CreatedAt
	}
	if countUnread {
		chat.UnreadCount++
	}
	s.chats = append(s.chats[:i], s.chats[i+1:]...)
	s.chats = append([]domain.Chat{chat}, s.chats...)
}

// SetTyping drops indicators older than domain.TypingTTL, then adds,
// refreshes or removes the user's indicator for the chat.
func (s *Store) SetTyping(chatID, userID, userName string, isTyping bool) {
	now := s.now()

	s.mu.Lock()
	kept := s.typing[:0]
	for _, t := range s.typing {
		if now.Sub(t.Timestamp) > domain.TypingTTL {
			continue
		}
		if string(t.ChatID) == chatID && string(t.UserID) == userID {
			continue
		}
		kept = append(kept, t)
	}
	if isTyping {
		kept = append(kept, domain.TypingIndicator{
			ChatID:    jsonx.ID(chatID),
			UserID:    jsonx.ID(userID),
			UserName:  userName,
			Timestamp: now,
		})
	}
	s.typing = kept
	s.mu.Unlock()

	s.changed()
}

// TypingUsers lists the fresh indicators for a chat.
func (s *Store) TypingUsers(chatID string) []domain.TypingIndicator {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TypingIndicator
	for _, t := range s.typing {
		if string(t.ChatID) == chatID && now.Sub(t.Timestamp) <= domain.TypingTTL {
			out = append(out, t)
		}
	}
	return out
}

// MarkAsRead zeroes the unread counter right away and restores it if the
// server rejects the call.
func (s *Store) MarkAsRead(ctx context.Context, chatID string) error {
	var message string
	err := optimistic.Run(ctx, optimistic.Command{
		Name: "mark chat read",
		Apply: func() func() {
			s.mu.Lock()
			i := indexOfChat(s.chats, chatID)
			if i < 0 {
				s.mu.Unlock()
				return nil
			}
			previous := s.chats[i].UnreadCount
			s.chats[i].UnreadCount = 0
			s.mu.Unlock()
			s.changed()
			return func() {
				s.mu.Lock()
				if j := indexOfChat(s.chats, chatID); j >= 0 {
					s.chats[j].UnreadCount = previous
				}
				s.mu.Unlock()
				s.changed()
			}
		},
		Execute: func(ctx context.Context) error {
			res := s.api.MarkRead(ctx, s.token(), chatID)
			if !res.Success {
				message = res.Message
				return errors.New(res.Message)
			}
			return nil
		},
	})
	if err != nil {
		s.feedback(message)
	}
	return err
}

type typingPayload struct {
	ChatID   jsonx.ID `json:"chat_id"`
	UserID   jsonx.ID `json:"user_id"`
	UserName string   `json:"user_name"`
	IsTyping *bool    `json:"is_typing"`
	User     *struct {
		ID   jsonx.ID `json:"id"`
		Name string   `json:"name"`
	} `json:"user"`
}

type readPayload struct {
	ChatID     jsonx.ID   `json:"chat_id"`
	MessageID  jsonx.ID   `json:"message_id"`
	MessageIDs []jsonx.ID `json:"message_ids"`
	UserID     jsonx.ID   `json:"user_id"`
}

// HandleEvent applies a realtime push from a chat or user channel.
func (s *Store) HandleEvent(ev realtime.Event) {
	chatID := chatIDFromChannel(ev.Channel)
	switch realtime.NormalizeEventName(ev.Name) {
	case realtime.EventMessageSent:
		msg, err := decodeWrapped[domain.Message](ev.Data, "message")
		if err != nil {
			commonlog.Warnf("event=chat_store action=decode status=failed name=%s error=%v", ev.Name, err)
			return
		}
		if chatID == "" {
			chatID = string(msg.ChatID)
		}
		s.AddMessage(msg, chatID)
	case realtime.EventUserTyping:
		var p typingPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			commonlog.Warnf("event=chat_store action=decode status=failed name=%s error=%v", ev.Name, err)
			return
		}
		if p.User != nil {
			if p.UserID == "" {
				p.UserID = p.User.ID
			}
			if p.UserName == "" {
				p.UserName = p.User.Name
			}
		}
		if chatID == "" {
			chatID = string(p.ChatID)
		}
		if chatID == "" || p.UserID == "" || string(p.UserID) == s.userID() {
			return
		}
		s.SetTyping(chatID, string(p.UserID), p.UserName, p.IsTyping == nil || *p.IsTyping)
	case realtime.EventMessageRead:
		var p readPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			commonlog.Warnf("event=chat_store action=decode status=failed name=%s error=%v", ev.Name, err)
			return
		}
		if chatID == "" {
			chatID = string(p.ChatID)
		}
		ids := p.MessageIDs
		if p.MessageID != "" {
			ids = append(ids, p.MessageID)
		}
		s.markMessagesRead(chatID, string(p.UserID), ids)
	case realtime.EventChatCreated:
		chat, err := decodeWrapped[domain.Chat](ev.Data, "chat")
		if err != nil || chat.ID == "" {
			commonlog.Warnf("event=chat_store action=decode status=failed name=%s error=%v", ev.Name, err)
			return
		}
		s.prependChat(chat)
	}
}

// markMessagesRead flags messages as read. Without explicit ids every
// message the reader did not send is flagged.
func (s *Store) markMessagesRead(chatID, readerID string, ids []jsonx.ID) {
	if chatID == "" {
		return
	}
	wanted := map[jsonx.ID]struct{}{}
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	s.mu.Lock()
	list := s.messages[chatID]
	for i := range list {
		if len(wanted) > 0 {
			if _, ok := wanted[list[i].ID]; !ok {
				continue
			}
		} else if readerID != "" && string(list[i].SenderID) == readerID {
			continue
		}
		if !list[i].IsTemp() {
			list[i].Status = domain.MessageStatusRead
		}
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Store) prependChat(chat domain.Chat) {
	s.mu.Lock()
	if indexOfChat(s.chats, string(chat.ID)) >= 0 {
		s.mu.Unlock()
		return
	}
	s.chats = append([]domain.Chat{chat}, s.chats...)
	s.mu.Unlock()
	s.changed()
}

// AttachUserChannel routes chat events delivered on the user's private
// channel (new chats, messages for chats that are not open).
func (s *Store) AttachUserChannel(sub *realtime.Subscription) func() {
	unbinds := []func(){
		sub.Bind(realtime.EventChatCreated, s.HandleEvent),
		sub.Bind(realtime.EventMessageSent, s.HandleEvent),
	}
	return func() {
		for _, u := range unbinds {
			u()
		}
	}
}

// Reset forgets all chats and drops every chat subscription.
func (s *Store) Reset(ctx context.Context) {
	s.mu.Lock()
	unbinds := s.unbind
	s.unbind = map[string]func(){}
	s.chats = nil
	s.chatsPage = pageState{}
	s.messages = map[string][]domain.Message{}
	s.pages = map[string]pageState{}
	s.currentChat = ""
	s.typing = nil
	s.mu.Unlock()

	for chatID, unbind := range unbinds {
		unbind()
		if s.sub != nil {
			s.sub.Unsubscribe(ctx, realtime.ChatChannel(chatID))
		}
	}
	s.changed()
}

func (s *Store) Chats() []domain.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Chat(nil), s.chats...)
}

func (s *Store) Chat(chatID string) (domain.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOfChat(s.chats, chatID); i >= 0 {
		return s.chats[i], true
	}
	return domain.Chat{}, false
}

func (s *Store) HasMoreChats() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatsPage.hasMore
}

func (s *Store) Messages(chatID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.messages[chatID]...)
}

// MessagePage returns the last loaded page of a chat and whether older
// pages exist.
func (s *Store) MessagePage(chatID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.pages[chatID]
	return p.page, p.hasMore
}

func (s *Store) CurrentChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentChat
}

func (s *Store) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.chats {
		total += c.UnreadCount
	}
	return total
}

// OnChange registers fn to run after every state change.
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

func chatIDFromChannel(channel string) string {
	for _, prefix := range []string{"private-chat.", "presence-chat."} {
		if strings.HasPrefix(channel, prefix) {
			return strings.TrimPrefix(channel, prefix)
		}
	}
	return ""
}

// decodeWrapped accepts either {"<key>": {...}} or the object itself.
func decodeWrapped[T any](data []byte, key string) (T, error) {
	var out T
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return out, err
	}
	if inner, ok := wrapper[key]; ok && strings.HasPrefix(strings.TrimSpace(string(inner)), "{") {
		err := json.Unmarshal(inner, &out)
		return out, err
	}
	err := json.Unmarshal(data, &out)
	return out, err
}

func indexOfChat(chats []domain.Chat, id string) int {
	for i, c := range chats {
		if string(c.ID) == id {
			return i
		}
	}
	return -1
}

func indexOfMessage(list []domain.Message, id string) int {
	for i, m := range list {
		if string(m.ID) == id {
			return i
		}
	}
	return -1
}

func removeMessage(list []domain.Message, id string) []domain.Message {
	if i := indexOfMessage(list, id); i >= 0 {
		return append(list[:i], list[i+1:]...)
	}
	return list
}

func dedupChats(in []domain.Chat) []domain.Chat {
	out := make([]domain.Chat, 0, len(in))
	for _, c := range in {
		if indexOfChat(out, string(c.ID)) < 0 {
			out = append(out, c)
		}
	}
	return out
}

func dedupMessages(in []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(in))
	for _, m := range in {
		if indexOfMessage(out, string(m.ID)) < 0 {
			out = append(out, m)
		}
	}
	return out
}

// sortMessages orders oldest first. Messages without a timestamp go last and
// keep their position relative to each other.
func sortMessages(list []domain.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].CreatedAt, list[j].CreatedAt
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		return a.Before(b)
	})
}
