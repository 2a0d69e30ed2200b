package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	commonauth "umrah_portal/server/common/auth"
	"umrah_portal/server/common/infra/cache"
	"umrah_portal/server/common/infra/httpclient"
	"umrah_portal/server/common/infra/object"
	commonlog "umrah_portal/server/common/log"
	"umrah_portal/server/common/middleware"
	"umrah_portal/server/portal/api"
	"umrah_portal/server/portal/service"
	"umrah_portal/server/rest"
)

type Server struct {
	HTTPServer *http.Server
	Redis      *redis.Client
	Limiter    *middleware.LimiterStore
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	origin := httpclient.New(httpclient.Config{
		BaseURL:      cfg.APIBaseURL,
		FallbackURLs: cfg.APIFallbackURLs,
		Timeout:      cfg.APITimeout,
		RetryDelay:   cfg.APIRetryDelay,
	})

	var (
		redisClient *redis.Client
		snapshots   service.SnapshotCache
	)
	if cfg.RedisAddr != "" {
		redisClient = cache.NewClient(cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := cache.Ping(ctx, redisClient); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		snapshots = service.NewRedisSnapshots(redisClient)
	}

	var media *service.MediaService
	if cfg.MinioEndpoint != "" {
		minioClient, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("initialize minio: %w", err)
		}
		if err := object.EnsureBucket(ctx, minioClient, cfg.MinioBucket); err != nil {
			return nil, fmt.Errorf("ensure media bucket: %w", err)
		}
		media = service.NewMediaService(minioClient, cfg.MinioBucket, cfg.MediaURLTTL)
	}

	var frontend http.Handler
	if cfg.FrontendURL != "" {
		target, err := url.Parse(cfg.FrontendURL)
		if err != nil || target.Host == "" {
			return nil, errors.Join(fmt.Errorf("invalid FRONTEND_URL %q", cfg.FrontendURL), err)
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			commonlog.Errorf("event=frontend_proxy action=forward status=failed path=%s error=%v", r.URL.Path, err)
			w.WriteHeader(http.StatusBadGateway)
		}
		frontend = proxy
	}

	tokens := commonauth.NewInspector(cfg.JWTSecret)
	limiter := middleware.NewLimiterStore(cfg.RateLimitPerMinute, cfg.RateLimitBurst, time.Minute)

	h := api.NewHandler(api.Deps{
		Gate:          api.NewGate(cfg.Locales, cfg.DefaultLocale, tokens, cfg.SecureCookies),
		Landing:       service.NewLandingService(origin, snapshots, cfg.LandingTTL),
		Media:         media,
		Tokens:        tokens,
		Account:       rest.NewAuthClient(rest.NewClient(origin, cfg.DefaultLocale)),
		Limiter:       limiter,
		Frontend:      frontend,
		Client: api.ClientConfig{
			APIBaseURL:      cfg.APIBaseURL,
			APIFallbackURLs: cfg.APIFallbackURLs,
			RealtimeAppKey:  cfg.RealtimeAppKey,
			RealtimeCluster: cfg.RealtimeCluster,
			VapidPublicKey:  cfg.VapidPublicKey,
			MapsAPIKey:      cfg.MapsAPIKey,
			Locales:         cfg.Locales,
			DefaultLocale:   cfg.DefaultLocale,
		},
		SecureCookies: cfg.SecureCookies,
	})

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{HTTPServer: httpServer, Redis: redisClient, Limiter: limiter}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	s.Limiter.Stop()
	if s.Redis != nil {
		err = errors.Join(err, s.Redis.Close())
	}
	return err
}
