package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"umrah_portal/server/session/domain"
	"umrah_portal/server/session/storage"
)

type brokenStorage struct{}

func (brokenStorage) Get(context.Context, string) (string, error) { return "", errors.New("disk gone") }
func (brokenStorage) Set(context.Context, string, string) error   { return errors.New("disk gone") }
func (brokenStorage) Delete(context.Context, ...string) error      { return errors.New("disk gone") }
func (brokenStorage) Close() error                                 { return nil }

func mustProfile(t *testing.T, raw string) domain.Profile {
	t.Helper()
	p, err := domain.ParseProfile([]byte(raw))
	if err != nil {
		t.Fatalf("parse profile: %v", err)
	}
	return p
}

func TestSetUserDataPersistsAllKeys(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := NewStore(mem)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	var signals []bool
	cancel := s.Subscribe(func(authenticated bool) { signals = append(signals, authenticated) })
	defer cancel()

	if err := s.SetUserData(ctx, mustProfile(t, `{"id":5,"roles":["office"]}`), "tok"); err != nil {
		t.Fatalf("set user data: %v", err)
	}
	for _, key := range domain.SessionKeys {
		if _, err := mem.Get(ctx, key); err != nil {
			t.Fatalf("key %s not persisted: %v", key, err)
		}
	}
	expiry, _ := mem.Get(ctx, domain.KeyNextAuthSessionExpires)
	if expiry != now.Add(domain.TokenTTL).Format(time.RFC3339) {
		t.Fatalf("expiry = %s", expiry)
	}
	if !s.IsAuthenticated() || s.Token() != "tok" || s.UserRole() != domain.RoleOffice {
		t.Fatalf("unexpected state auth=%v token=%q role=%q", s.IsAuthenticated(), s.Token(), s.UserRole())
	}
	if len(signals) != 1 || !signals[0] {
		t.Fatalf("signals = %v", signals)
	}
}

func TestClearStoredSession(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := NewStore(mem)
	_ = s.SetUserData(ctx, mustProfile(t, `{"id":5}`), "tok")

	var last *bool
	s.Subscribe(func(authenticated bool) { last = &authenticated })
	if err := s.ClearStoredSession(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if s.IsAuthenticated() || s.Token() != "" {
		t.Fatalf("expected signed out store")
	}
	if last == nil || *last {
		t.Fatalf("expected signed out broadcast")
	}
	for _, key := range domain.SessionKeys {
		if _, err := mem.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("key %s still present", key)
		}
	}
}

func TestLoadHydratesFromStorage(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	_ = mem.Set(ctx, domain.KeyNextAuthUser, `{"id":3,"roles":[{"name":"bus_operator"}]}`)
	_ = mem.Set(ctx, domain.KeyNextAuthToken, "tok")
	_ = mem.Set(ctx, domain.KeyNextAuthSessionExpires, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))

	s := NewStore(mem)
	s.Load(ctx)
	if !s.IsAuthenticated() || s.UserRole() != domain.RoleBusOperator || s.UserID() != "3" {
		t.Fatalf("unexpected hydrated state")
	}
}

func TestLoadClearsExpiredSession(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	_ = mem.Set(ctx, domain.KeyUser, `{"id":3}`)
	_ = mem.Set(ctx, domain.KeyToken, "tok")
	_ = mem.Set(ctx, domain.KeyNextAuthSessionExpires, time.Now().Add(-time.Minute).UTC().Format(time.RFC3339))

	s := NewStore(mem)
	s.Load(ctx)
	if s.IsAuthenticated() {
		t.Fatalf("expected expired session to be dropped")
	}
	if _, err := mem.Get(ctx, domain.KeyToken); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired token to be removed")
	}
}

func TestLoadFallsBackWhenStorageFails(t *testing.T) {
	s := NewStore(brokenStorage{})
	s.Load(context.Background())
	if s.IsAuthenticated() {
		t.Fatalf("expected unauthenticated store")
	}
	if s.UserRole() != domain.RolePilgrim {
		t.Fatalf("role = %q, want pilgrim", s.UserRole())
	}
}

func TestLoadFallsBackOnCorruptUser(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	_ = mem.Set(ctx, domain.KeyUser, `{broken`)
	_ = mem.Set(ctx, domain.KeyToken, "tok")

	s := NewStore(mem)
	s.Load(ctx)
	if s.IsAuthenticated() {
		t.Fatalf("expected unauthenticated store")
	}
}

func TestSetUserDataKeepsSessionWhenPersistFails(t *testing.T) {
	s := NewStore(brokenStorage{})
	err := s.SetUserData(context.Background(), domain.Profile{ID: "1", Name: "x"}, "tok")
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if !s.IsAuthenticated() {
		t.Fatalf("in-memory session should still be usable")
	}
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemory())
	if err := s.SetPreference(ctx, domain.KeyLocale, "en"); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	if v, ok := s.Preference(ctx, domain.KeyLocale); !ok || v != "en" {
		t.Fatalf("preference = %q %v", v, ok)
	}
	if err := s.SetPreference(ctx, "token", "x"); err == nil {
		t.Fatalf("expected unknown preference error")
	}
}
