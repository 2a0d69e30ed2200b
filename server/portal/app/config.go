package app

import (
	"time"

	cmnenv "umrah_portal/server/common/env"
)

type Config struct {
	Env           string
	Port          string
	FrontendURL   string
	Locales       []string
	DefaultLocale string
	JWTSecret     string
	SecureCookies bool

	APIBaseURL      string
	APIFallbackURLs []string
	APITimeout      time.Duration
	APIRetryDelay   time.Duration

	RedisAddr     string
	RedisPassword string
	LandingTTL    time.Duration

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MediaURLTTL    time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int

	RealtimeAppKey  string
	RealtimeCluster string
	VapidPublicKey  string
	MapsAPIKey      string
}

func LoadConfig() Config {
	return Config{
		Env:                cmnenv.String("APP_ENV", "dev"),
		Port:               cmnenv.String("PORTAL_PORT", "3000"),
		FrontendURL:        cmnenv.String("FRONTEND_URL", ""),
		Locales:            cmnenv.CSV("LOCALES", []string{"ar", "en"}),
		DefaultLocale:      cmnenv.String("DEFAULT_LOCALE", "ar"),
		JWTSecret:          cmnenv.String("JWT_SECRET", ""),
		SecureCookies:      cmnenv.Bool("SECURE_COOKIES", false),
		APIBaseURL:         cmnenv.String("API_BASE_URL", "http://localhost:8000/api"),
		APIFallbackURLs:    cmnenv.CSV("API_FALLBACK_URLS", nil),
		APITimeout:         cmnenv.Millis("API_TIMEOUT_MS", 30*time.Second),
		APIRetryDelay:      cmnenv.Millis("API_RETRY_DELAY_MS", time.Second),
		RedisAddr:          cmnenv.String("REDIS_ADDR", ""),
		RedisPassword:      cmnenv.String("REDIS_PASSWORD", ""),
		LandingTTL:         cmnenv.Millis("LANDING_CACHE_TTL_MS", 24*time.Hour),
		MinioEndpoint:      cmnenv.String("MINIO_ENDPOINT", ""),
		MinioAccessKey:     cmnenv.String("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:     cmnenv.String("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:        cmnenv.String("MINIO_BUCKET", "umrah-media"),
		MinioUseSSL:        cmnenv.Bool("MINIO_USE_SSL", false),
		MediaURLTTL:        cmnenv.Millis("MEDIA_URL_TTL_MS", 15*time.Minute),
		RateLimitPerMinute: cmnenv.Int("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     cmnenv.Int("RATE_LIMIT_BURST", 30),
		RealtimeAppKey:     cmnenv.String("REALTIME_APP_KEY", ""),
		RealtimeCluster:    cmnenv.String("REALTIME_CLUSTER", "mt1"),
		VapidPublicKey:     cmnenv.String("VAPID_PUBLIC_KEY", ""),
		MapsAPIKey:         cmnenv.String("MAPS_API_KEY", ""),
	}
}
