package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	commonlog "umrah_portal/server/common/log"
	"umrah_portal/server/session/domain"
	"umrah_portal/server/session/storage"
)

// AuthListener is told whether the store holds a session after every login,
// logout or hydration.
type AuthListener func(authenticated bool)

// Store caches the signed in user and token and mirrors them to durable
// storage. Token readers always go through Token so a refreshed login is
// picked up by every client.
type Store struct {
	storage storage.Storage
	now     func() time.Time

	mu            sync.RWMutex
	session       domain.Session
	authenticated bool

	listenerMu sync.Mutex
	listeners  map[int]AuthListener
	nextID     int
}

func NewStore(s storage.Storage) *Store {
	return &Store{storage: s, now: time.Now, listeners: map[int]AuthListener{}}
}

// Load hydrates the cache from storage. Unreadable or expired data leaves the
// store signed out; Load never fails.
func (s *Store) Load(ctx context.Context) {
	session, err := s.read(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.setState(domain.Session{}, false)
	case err != nil:
		commonlog.Warnf("event=session_load action=read status=failed error=%v", err)
		s.setState(domain.Session{}, false)
	case session.Expired(s.now()):
		commonlog.Infof("event=session_load action=expire status=cleared user_id=%s", session.User.ID)
		if err := s.storage.Delete(ctx, domain.SessionKeys...); err != nil {
			commonlog.Warnf("event=session_load action=clear status=failed error=%v", err)
		}
		s.setState(domain.Session{}, false)
	default:
		commonlog.Infof("event=session_load action=read status=ok user_id=%s role=%s", session.User.ID, session.User.Role)
		s.setState(session, true)
	}
	s.broadcast()
}

func (s *Store) read(ctx context.Context) (domain.Session, error) {
	rawUser, err := s.firstOf(ctx, domain.KeyUser, domain.KeyNextAuthUser)
	if err != nil {
		return domain.Session{}, err
	}
	token, err := s.firstOf(ctx, domain.KeyToken, domain.KeyNextAuthToken)
	if err != nil {
		return domain.Session{}, err
	}
	profile, err := domain.ParseProfile([]byte(rawUser))
	if err != nil {
		return domain.Session{}, err
	}
	session := domain.Session{User: profile, Token: token, TokenType: domain.DefaultTokenType}
	if tokenType, err := s.storage.Get(ctx, domain.KeyTokenType); err == nil && tokenType != "" {
		session.TokenType = tokenType
	}
	if rawExpiry, err := s.storage.Get(ctx, domain.KeyNextAuthSessionExpires); err == nil {
		session.Expiry = parseExpiry(rawExpiry)
	}
	return session, nil
}

func (s *Store) firstOf(ctx context.Context, keys ...string) (string, error) {
	for _, key := range keys {
		v, err := s.storage.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(v) != "" {
			return v, nil
		}
	}
	return "", storage.ErrNotFound
}

// SetUserData stores the user and, when token is not empty, the token with a
// fresh expiry. Listeners are notified even if persisting fails, since the
// in-memory session is already usable.
func (s *Store) SetUserData(ctx context.Context, user domain.Profile, token string) error {
	raw, err := profileJSON(user)
	if err != nil {
		return err
	}
	user.Raw = raw
	if user.Role == "" {
		if parsed, err := domain.ParseProfile(raw); err == nil {
			user.Role = parsed.Role
		}
	}

	s.mu.Lock()
	session := s.session
	session.User = user
	if token != "" {
		session.Token = token
		session.TokenType = domain.DefaultTokenType
		session.Expiry = s.now().Add(domain.TokenTTL)
	}
	s.session = session
	s.authenticated = session.Token != ""
	s.mu.Unlock()

	writes := map[string]string{
		domain.KeyUser:         string(raw),
		domain.KeyNextAuthUser: string(raw),
	}
	if token != "" {
		writes[domain.KeyToken] = token
		writes[domain.KeyNextAuthToken] = token
		writes[domain.KeyTokenType] = domain.DefaultTokenType
		writes[domain.KeyNextAuthSessionExpires] = session.Expiry.UTC().Format(time.RFC3339)
	}

	var persistErr error
	for key, value := range writes {
		if err := s.storage.Set(ctx, key, value); err != nil {
			persistErr = errors.Join(persistErr, fmt.Errorf("persist %s: %w", key, err))
		}
	}
	if persistErr != nil {
		commonlog.Errorf("event=session_store action=set_user status=failed user_id=%s error=%v", user.ID, persistErr)
	} else {
		commonlog.Infof("event=session_store action=set_user status=ok user_id=%s role=%s", user.ID, user.Role)
	}
	s.broadcast()
	return persistErr
}

// ClearStoredSession removes every session key and signs the store out.
func (s *Store) ClearStoredSession(ctx context.Context) error {
	s.setState(domain.Session{}, false)
	err := s.storage.Delete(ctx, domain.SessionKeys...)
	if err != nil {
		commonlog.Errorf("event=session_store action=clear status=failed error=%v", err)
	} else {
		commonlog.Infof("event=session_store action=clear status=ok")
	}
	s.broadcast()
	return err
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated && s.session.Token != "" && len(s.session.User.Raw) > 0
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token
}

func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.User.ID
}

// UserRole returns the normalized role, pilgrim when nobody is signed in.
func (s *Store) UserRole() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.User.Role == "" {
		return domain.RolePilgrim
	}
	return s.session.User.Role
}

func (s *Store) Session() (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.authenticated
}

// Subscribe registers fn for auth changes and returns its cancel func.
func (s *Store) Subscribe(fn AuthListener) func() {
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

func (s *Store) Preference(ctx context.Context, key string) (string, bool) {
	v, err := s.storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			commonlog.Warnf("event=session_preference action=get status=failed key=%s error=%v", key, err)
		}
		return "", false
	}
	return v, true
}

func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	if !isPreferenceKey(key) {
		return fmt.Errorf("unknown preference %q", key)
	}
	return s.storage.Set(ctx, key, value)
}

func (s *Store) setState(session domain.Session, authenticated bool) {
	s.mu.Lock()
	s.session = session
	s.authenticated = authenticated
	s.mu.Unlock()
}

func (s *Store) broadcast() {
	authenticated := s.IsAuthenticated()

	s.listenerMu.Lock()
	listeners := make([]AuthListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(authenticated)
	}
}

func isPreferenceKey(key string) bool {
	for _, k := range domain.PreferenceKeys {
		if k == key {
			return true
		}
	}
	return false
}

func profileJSON(user domain.Profile) (json.RawMessage, error) {
	if len(user.Raw) > 0 {
		return user.Raw, nil
	}
	payload := map[string]any{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
	}
	if user.Role != "" {
		payload["role"] = string(user.Role)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode user profile: %w", err)
	}
	return raw, nil
}

// parseExpiry accepts RFC 3339 or unix milliseconds.
func parseExpiry(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}
