package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, "token", "abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "user", `{"id":1}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "token")
	if err != nil || got != "abc" {
		t.Fatalf("get token = %q, %v", got, err)
	}
	if err := s.Delete(ctx, "token", "user", "never-set"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "user"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemory())
}

func TestBadgerStorage(t *testing.T) {
	b, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	exerciseStorage(t, b)
}

func TestBadgerStoragePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.Set(ctx, "locale", "en"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got, err := reopened.Get(ctx, "locale"); err != nil || got != "en" {
		t.Fatalf("get after reopen = %q, %v", got, err)
	}
}

func TestSealedStorage(t *testing.T) {
	inner := NewMemory()
	sealed := NewSealed(inner, "passphrase")
	exerciseStorage(t, sealed)

	ctx := context.Background()
	if err := sealed.Set(ctx, "token", "secret-token"); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, _ := inner.Get(ctx, "token")
	if strings.Contains(raw, "secret-token") {
		t.Fatalf("value stored in clear text: %q", raw)
	}

	wrongKey := NewSealed(inner, "other")
	if _, err := wrongKey.Get(ctx, "token"); !errors.Is(err, ErrUnsealFailed) {
		t.Fatalf("wrong key err = %v, want ErrUnsealFailed", err)
	}
}
