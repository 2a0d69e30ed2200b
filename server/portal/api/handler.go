package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	commonauth "umrah_portal/server/common/auth"
	commonlog "umrah_portal/server/common/log"
	"umrah_portal/server/common/middleware"
	"umrah_portal/server/common/transport/httpresp"
	"umrah_portal/server/portal/service"
	"umrah_portal/server/rest"
	sessiondomain "umrah_portal/server/session/domain"
)

const (
	RoleCookie       = "user_role"
	sessionMaxAge    = int(sessiondomain.TokenTTL / time.Second)
	ctxAccessToken   = "auth_access_token"
	dataSourceHeader = "X-Data-Source"
)

// ClientConfig is the public, browser safe configuration the frontend reads
// at startup.
type ClientConfig struct {
	APIBaseURL      string   `json:"apiBaseUrl"`
	APIFallbackURLs []string `json:"apiFallbackUrls"`
	RealtimeAppKey  string   `json:"realtimeAppKey"`
	RealtimeCluster string   `json:"realtimeCluster"`
	VapidPublicKey  string   `json:"vapidPublicKey"`
	MapsAPIKey      string   `json:"mapsApiKey"`
	Locales         []string `json:"locales"`
	DefaultLocale   string   `json:"defaultLocale"`
}

type Deps struct {
	Gate          *Gate
	Landing       *service.LandingService
	Media         *service.MediaService
	Tokens        *commonauth.Inspector
	Account       *rest.AuthClient
	Limiter       *middleware.LimiterStore
	Frontend      http.Handler
	Client        ClientConfig
	SecureCookies bool
}

type Handler struct {
	gate          *Gate
	landing       *service.LandingService
	media         *service.MediaService
	tokens        *commonauth.Inspector
	account       *rest.AuthClient
	limiter       *middleware.LimiterStore
	frontend      http.Handler
	client        ClientConfig
	secureCookies bool
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		gate:          d.Gate,
		landing:       d.Landing,
		media:         d.Media,
		tokens:        d.Tokens,
		account:       d.Account,
		limiter:       d.Limiter,
		frontend:      d.Frontend,
		client:        d.Client,
		secureCookies: d.SecureCookies,
	}
}

type MeResponse struct {
	User json.RawMessage    `json:"user"`
	Role sessiondomain.Role `json:"role"`
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(h.gate.Middleware())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, httpresp.NewOKResponse()) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/media/*key", h.mediaRedirect)

	api := r.Group("/api")
	if h.limiter != nil {
		api.Use(middleware.RateLimit(h.limiter))
	}
	{
		api.GET("/config", h.clientConfig)
		api.GET("/landing/:section", h.landingSection)
		api.POST("/auth/logout", h.logout)
		api.GET("/auth/me", middleware.AuthRequired(h.tokens), h.me)
	}

	for _, locale := range h.gate.Locales() {
		r.GET("/"+locale+"/auth/callback", h.authCallback(locale))
	}

	r.NoRoute(h.passThrough)
}

func (h *Handler) clientConfig(c *gin.Context) {
	cfg := h.client
	if len(cfg.Locales) == 0 {
		cfg.Locales = h.gate.Locales()
		cfg.DefaultLocale = h.gate.DefaultLocale()
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) landingSection(c *gin.Context) {
	locale := c.Query("locale")
	if !contains(h.gate.Locales(), locale) {
		locale = h.gate.PreferredLocale(c.Request)
	}
	payload, source, err := h.landing.Section(c.Request.Context(), c.Param("section"), locale)
	switch {
	case errors.Is(err, service.ErrUnknownSection):
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrNotFound))
		return
	case err != nil:
		commonlog.Errorf("event=landing_section action=serve status=failed section=%s error=%v", c.Param("section"), err)
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(httpresp.ErrUpstreamFailed))
		return
	}
	c.Header(dataSourceHeader, string(source))
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

// authCallback finishes a social login: it stores the token in cookies and
// sends the user to the callback URL or their role's dashboard.
func (h *Handler) authCallback(locale string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Query("token"))
		if token == "" || !h.tokens.Valid(token) {
			commonlog.Warnf("event=auth_callback action=validate status=failed locale=%s", locale)
			c.Redirect(http.StatusFound, "/"+locale+"/auth/login?error=invalid_token")
			return
		}

		role := h.callbackRole(c, token)
		h.setSessionCookies(c, token, role)
		commonlog.Infof("event=auth_callback action=login status=ok role=%s", role)

		target := c.Query("callbackUrl")
		if !safeRedirect(target) {
			target = "/" + locale + role.DashboardPath()
		}
		c.Redirect(http.StatusFound, target)
	}
}

func (h *Handler) callbackRole(c *gin.Context, token string) sessiondomain.Role {
	if raw := c.Query("user"); raw != "" {
		if profile, err := sessiondomain.ParseProfile([]byte(raw)); err == nil {
			return profile.Role
		}
	}
	if _, claimed, err := h.tokens.ParseAuthContext(token); err == nil && claimed != "" {
		if role, ok := sessiondomain.ParseRole(claimed); ok {
			return role
		}
	}
	if h.account != nil {
		res := h.account.Me(c.Request.Context(), token)
		if res.Success {
			if profile, err := sessiondomain.ParseProfile(res.Data); err == nil {
				return profile.Role
			}
		}
	}
	return sessiondomain.RolePilgrim
}

func (h *Handler) logout(c *gin.Context) {
	token := middleware.RequestToken(c.Request)
	if token != "" && h.account != nil {
		if res := h.account.Logout(c.Request.Context(), token); !res.Success {
			commonlog.Warnf("event=auth_logout action=upstream status=failed message=%q", res.Message)
		}
	}
	h.clearSessionCookies(c)
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) me(c *gin.Context) {
	if h.account == nil {
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(httpresp.ErrUpstreamFailed))
		return
	}
	token := c.GetString(ctxAccessToken)
	res := h.account.Me(c.Request.Context(), token)
	if !res.Success {
		status := res.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		c.JSON(status, httpresp.Failure[MeResponse](status, res.Message))
		return
	}
	profile, err := sessiondomain.ParseProfile(res.Data)
	if err != nil {
		c.JSON(http.StatusBadGateway, httpresp.Failure[MeResponse](http.StatusBadGateway, httpresp.ErrUpstreamFailed))
		return
	}
	c.JSON(http.StatusOK, httpresp.Success(MeResponse{User: profile.Raw, Role: profile.Role}))
}

func (h *Handler) mediaRedirect(c *gin.Context) {
	if h.media == nil {
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrNotFound))
		return
	}
	target, err := h.media.URL(c.Request.Context(), c.Param("key"))
	if errors.Is(err, service.ErrInvalidMediaKey) {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if err != nil {
		commonlog.Errorf("event=media_redirect action=presign status=failed key=%s error=%v", c.Param("key"), err)
		c.JSON(http.StatusBadGateway, httpresp.NewErrorResponse(httpresp.ErrUpstreamFailed))
		return
	}
	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, httpresp.NewURLResponse(target))
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *Handler) passThrough(c *gin.Context) {
	if h.frontend == nil {
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrNotFound))
		return
	}
	h.frontend.ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) setSessionCookies(c *gin.Context, token string, role sessiondomain.Role) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("token", token, sessionMaxAge, "/", "", h.secureCookies, true)
	c.SetCookie("nextauth_token", token, sessionMaxAge, "/", "", h.secureCookies, true)
	c.SetCookie(RoleCookie, string(role), sessionMaxAge, "/", "", h.secureCookies, false)
}

func (h *Handler) clearSessionCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	for _, name := range append(append([]string(nil), middleware.TokenCookies...), RoleCookie) {
		c.SetCookie(name, "", -1, "/", "", h.secureCookies, true)
	}
}

// safeRedirect accepts only same-site absolute paths.
func safeRedirect(target string) bool {
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.Contains(target, `\`)
}
