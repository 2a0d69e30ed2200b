package service

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"umrah_portal/server/common/infra/httpclient"
	commonlog "umrah_portal/server/common/log"
)

// Source tells where a landing payload came from.
type Source string

const (
	SourceOrigin   Source = "origin"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

const defaultLandingTTL = 24 * time.Hour

var (
	ErrUnknownSection = errors.New("unknown landing section")
	ErrLandingMissing = errors.New("landing data unavailable")
)

// LandingSections are the sections the public pages request.
var LandingSections = []string{"home", "packages", "offices", "testimonials", "faq", "stats"}

//go:embed fallback/*.json
var fallbackFS embed.FS

// SnapshotCache keeps the last payload the origin served successfully.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type redisSnapshots struct {
	client *redis.Client
}

func NewRedisSnapshots(client *redis.Client) SnapshotCache {
	return &redisSnapshots{client: client}
}

func (r *redisSnapshots) Get(ctx context.Context, key string) ([]byte, error) {
	return r.client.Get(ctx, key).Bytes()
}

func (r *redisSnapshots) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

type LandingService struct {
	origin *httpclient.Client
	cache  SnapshotCache
	ttl    time.Duration
}

func NewLandingService(origin *httpclient.Client, cache SnapshotCache, ttl time.Duration) *LandingService {
	if ttl <= 0 {
		ttl = defaultLandingTTL
	}
	return &LandingService{origin: origin, cache: cache, ttl: ttl}
}

// Section returns the section payload from the origin, the last good copy or
// the bundled sample data, in that order.
func (s *LandingService) Section(ctx context.Context, section, locale string) (json.RawMessage, Source, error) {
	if !isLandingSection(section) {
		return nil, "", ErrUnknownSection
	}
	key := "landing:" + locale + ":" + section

	payload, err := s.fetchOrigin(ctx, section, locale)
	if err == nil {
		if s.cache != nil {
			if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
				commonlog.Warnf("event=landing_cache action=set status=failed key=%s error=%v", key, err)
			}
		}
		return payload, SourceOrigin, nil
	}
	commonlog.Warnf("event=landing_origin action=fetch status=failed section=%s locale=%s error=%v", section, locale, err)

	if s.cache != nil {
		cached, cacheErr := s.cache.Get(ctx, key)
		switch {
		case cacheErr == nil && json.Valid(cached):
			return cached, SourceCache, nil
		case cacheErr != nil && !errors.Is(cacheErr, redis.Nil):
			commonlog.Warnf("event=landing_cache action=get status=failed key=%s error=%v", key, cacheErr)
		}
	}

	fallback, err := fallbackFS.ReadFile("fallback/" + section + ".json")
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrLandingMissing, section)
	}
	return fallback, SourceFallback, nil
}

func (s *LandingService) fetchOrigin(ctx context.Context, section, locale string) (json.RawMessage, error) {
	if s.origin == nil {
		return nil, httpclient.ErrNoEndpoint
	}
	q := url.Values{}
	if locale != "" {
		q.Set("locale", locale)
	}
	resp, err := s.origin.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   "/landing/" + url.PathEscape(section),
		Query:  q,
		Header: http.Header{"Accept-Language": []string{locale}},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpclient.StatusError{StatusCode: resp.StatusCode, Endpoint: resp.Endpoint}
	}
	if !json.Valid(resp.Body) {
		return nil, errors.New("origin returned invalid json")
	}
	return resp.Body, nil
}

func isLandingSection(section string) bool {
	for _, s := range LandingSections {
		if s == section {
			return true
		}
	}
	return false
}
