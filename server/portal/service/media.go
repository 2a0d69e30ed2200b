package service

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"umrah_portal/server/common/infra/object"
)

const defaultPresignTTL = 15 * time.Minute

var ErrInvalidMediaKey = errors.New("invalid media key")

type presigner func(ctx context.Context, bucket, key string, ttl time.Duration) (*url.URL, error)

// MediaService hands out short lived download links for uploaded media.
type MediaService struct {
	bucket  string
	ttl     time.Duration
	presign presigner
}

func NewMediaService(client *minio.Client, bucket string, ttl time.Duration) *MediaService {
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &MediaService{
		bucket: bucket,
		ttl:    ttl,
		presign: func(ctx context.Context, bucket, key string, ttl time.Duration) (*url.URL, error) {
			return object.PresignGet(ctx, client, bucket, key, ttl)
		},
	}
}

func (s *MediaService) URL(ctx context.Context, key string) (string, error) {
	key, err := CleanMediaKey(key)
	if err != nil {
		return "", err
	}
	u, err := s.presign(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// CleanMediaKey rejects keys that escape the bucket root.
func CleanMediaKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidMediaKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", ErrInvalidMediaKey
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", ErrInvalidMediaKey
	}
	return cleaned, nil
}
