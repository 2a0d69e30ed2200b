package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	chatstore "umrah_portal/server/chat/store"
	"umrah_portal/server/common/infra/cache"
	"umrah_portal/server/common/infra/httpclient"
	commonlog "umrah_portal/server/common/log"
	notificationstore "umrah_portal/server/notification/store"
	"umrah_portal/server/realtime"
	"umrah_portal/server/rest"
	sessiondomain "umrah_portal/server/session/domain"
	sessionservice "umrah_portal/server/session/service"
	"umrah_portal/server/session/storage"
)

const sessionRedisPrefix = "umrah:session:"

// App is the client side application state: the session, API clients, the
// realtime connection and the stores fed by them. Everything is wired here
// explicitly; nothing lives in package globals.
type App struct {
	cfg Config

	Storage       storage.Storage
	Session       *sessionservice.Store
	Auth          *rest.AuthClient
	Chats         *rest.ChatClient
	Notifications *rest.NotificationClient
	Payments      *rest.PaymentClient
	Packages      *rest.PackageClient
	Realtime      *realtime.Manager
	ChatStore     *chatstore.Store
	Inbox         *notificationstore.Store

	redis *redis.Client

	mu           sync.Mutex
	ctx          context.Context
	online       bool
	onlineUser   string
	detach       []func()
	stopAuthSync func()
}

// New builds the container. feedback receives user facing failure messages;
// nil logs them.
func New(cfg Config, feedback func(string)) (*App, error) {
	a := &App{cfg: cfg}
	if err := a.openStorage(); err != nil {
		return nil, err
	}
	api := a.restClient()
	transport, err := a.transport(api)
	if err != nil {
		_ = a.Storage.Close()
		return nil, err
	}
	a.wire(api, transport, feedback)
	return a, nil
}

func (a *App) needsRedis() bool {
	return a.cfg.SessionStorage == StorageRedis || a.cfg.RealtimeDriver == DriverRedis
}

func (a *App) redisClient() *redis.Client {
	if a.redis == nil {
		a.redis = cache.NewClient(cache.Options{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword})
	}
	return a.redis
}

func (a *App) openStorage() error {
	var (
		s   storage.Storage
		err error
	)
	switch a.cfg.SessionStorage {
	case "", StorageMemory:
		s = storage.NewMemory()
	case StorageBadger:
		s, err = storage.OpenBadger(a.cfg.SessionDir)
	case StorageRedis:
		s = storage.NewRedis(a.redisClient(), sessionRedisPrefix, false)
	default:
		return fmt.Errorf("unknown session storage %q", a.cfg.SessionStorage)
	}
	if err != nil {
		return fmt.Errorf("open session storage: %w", err)
	}
	if a.cfg.SessionSealKey != "" {
		s = storage.NewSealed(s, a.cfg.SessionSealKey)
	}
	a.Storage = s
	return nil
}

func (a *App) restClient() *rest.Client {
	httpClient := httpclient.New(httpclient.Config{
		BaseURL:      a.cfg.APIBaseURL,
		FallbackURLs: a.cfg.APIFallbackURLs,
		Timeout:      a.cfg.APITimeout,
		RetryDelay:   a.cfg.APIRetryDelay,
	})
	return rest.NewClient(httpClient, a.cfg.Locale).WithBroadcastAuthPath(a.cfg.RealtimeAuthPath)
}

func (a *App) transport(api *rest.Client) (realtime.Transport, error) {
	switch a.cfg.RealtimeDriver {
	case "", DriverPusher:
		return realtime.NewPusherTransport(realtime.PusherConfig{
			AppKey:   a.cfg.RealtimeAppKey,
			Cluster:  a.cfg.RealtimeCluster,
			Host:     a.cfg.RealtimeHost,
			Insecure: a.cfg.RealtimeInsecure,
			Authorize: func(ctx context.Context, token, socketID, channel string) (string, string, error) {
				auth, err := api.AuthorizeChannel(ctx, token, socketID, channel)
				return auth.Auth, auth.ChannelData, err
			},
		}), nil
	case DriverRedis:
		return realtime.NewRedisTransport(a.redisClient(), a.cfg.RealtimeRedisPrefix), nil
	case DriverAMQP:
		return realtime.NewAMQPTransport(a.cfg.LavinMQURL, a.cfg.RealtimeExchange), nil
	default:
		return nil, fmt.Errorf("unknown realtime driver %q", a.cfg.RealtimeDriver)
	}
}

func (a *App) wire(api *rest.Client, transport realtime.Transport, feedback func(string)) {
	a.Session = sessionservice.NewStore(a.Storage)
	a.Auth = rest.NewAuthClient(api)
	a.Chats = rest.NewChatClient(api)
	a.Notifications = rest.NewNotificationClient(api)
	a.Payments = rest.NewPaymentClient(api)
	a.Packages = rest.NewPackageClient(api)
	a.Realtime = realtime.NewManager(transport, a.Session.Token, realtime.Config{
		PingInterval:         a.cfg.PingInterval,
		ReconnectBase:        a.cfg.ReconnectBase,
		MaxReconnectAttempts: a.cfg.MaxReconnectAttempts,
	})
	a.ChatStore = chatstore.New(a.Chats, a.Realtime, chatstore.Options{
		Token:    a.Session.Token,
		UserID:   a.Session.UserID,
		Feedback: feedback,
	})
	a.Inbox = notificationstore.New(a.Notifications, a.Session.Token, feedback)
}

// Start hydrates the session and keeps the realtime connection in step with
// it: signing in connects, signing out disconnects and clears the stores.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	if a.needsRedis() {
		if err := cache.Ping(ctx, a.redisClient()); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}

	unsubscribe := a.Session.Subscribe(func(authenticated bool) {
		if authenticated {
			a.goOnline()
			return
		}
		a.goOffline()
	})
	a.mu.Lock()
	a.stopAuthSync = unsubscribe
	a.mu.Unlock()

	a.Session.Load(ctx)
	return nil
}

func (a *App) goOnline() {
	userID := a.Session.UserID()
	a.mu.Lock()
	if a.online && a.onlineUser == userID {
		a.mu.Unlock()
		return
	}
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	a.goOffline()
	if err := a.Realtime.Initialize(ctx); err != nil {
		commonlog.Warnf("event=pilgrim_app action=realtime_init status=failed user_id=%s error=%v", userID, err)
	}

	var detach []func()
	if userID == "" {
		commonlog.Warnf("event=pilgrim_app action=attach_user_channel status=skipped reason=no_user_id")
	} else {
		userChannel, err := a.Realtime.Subscribe(ctx, realtime.UserChannel(userID))
		if err == nil {
			detach = append(detach, a.ChatStore.AttachUserChannel(userChannel))
		}
		unbind, err := a.Inbox.Attach(ctx, a.Realtime, userID)
		if err != nil {
			commonlog.Warnf("event=pilgrim_app action=attach_inbox status=failed user_id=%s error=%v", userID, err)
		}
		detach = append(detach, unbind)
	}
	detach = append(detach, a.Inbox.StartUnreadSync(ctx, a.cfg.UnreadSyncInterval))

	a.mu.Lock()
	a.online = true
	a.onlineUser = userID
	a.detach = detach
	a.mu.Unlock()
	commonlog.Infof("event=pilgrim_app action=online status=ok user_id=%s", userID)
}

func (a *App) goOffline() {
	a.mu.Lock()
	detach := a.detach
	wasOnline := a.online
	a.detach = nil
	a.online = false
	a.onlineUser = ""
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, fn := range detach {
		fn()
	}
	if !wasOnline {
		return
	}
	a.Realtime.Disconnect()
	a.ChatStore.Reset(ctx)
	a.Inbox.Reset()
	commonlog.Infof("event=pilgrim_app action=offline status=ok")
}

// Login signs in with email and password and stores the session.
func (a *App) Login(ctx context.Context, email, password string) (sessiondomain.Profile, error) {
	res := a.Auth.Login(ctx, rest.LoginRequest{Email: email, Password: password})
	if !res.Success {
		return sessiondomain.Profile{}, errors.New(res.Message)
	}
	if res.Data.Token == "" {
		return sessiondomain.Profile{}, errors.New("login response carried no token")
	}
	profile, err := sessiondomain.ParseProfile(res.Data.User)
	if err != nil {
		return sessiondomain.Profile{}, err
	}
	if err := a.Session.SetUserData(ctx, profile, res.Data.Token); err != nil {
		commonlog.Warnf("event=pilgrim_app action=login status=degraded error=%v", err)
	}
	return profile, nil
}

// Logout tells the API and clears the local session regardless of its
// answer.
func (a *App) Logout(ctx context.Context) error {
	if token := a.Session.Token(); token != "" {
		if res := a.Auth.Logout(ctx, token); !res.Success {
			commonlog.Warnf("event=pilgrim_app action=logout status=upstream_failed message=%q", res.Message)
		}
	}
	return a.Session.ClearStoredSession(ctx)
}

func (a *App) Close() error {
	a.mu.Lock()
	stop := a.stopAuthSync
	a.stopAuthSync = nil
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
	a.goOffline()
	a.Realtime.Disconnect()

	err := a.Storage.Close()
	if a.redis != nil {
		err = errors.Join(err, a.redis.Close())
	}
	return err
}
