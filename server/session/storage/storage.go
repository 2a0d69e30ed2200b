package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage key not found")

// Storage is a durable string key/value store for session data.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
