package api

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/text/language"

	"umrah_portal/server/common/middleware"
)

const (
	LocaleCookie     = "locale"
	nextLocaleCookie = "NEXT_LOCALE"
	localeCookieAge  = 365 * 24 * 60 * 60
	ContextLocaleKey = "locale"
)

// Access is the outcome of classifying a locale-less path.
type Access int

const (
	AccessPublic Access = iota
	AccessProtected
)

var (
	// PublicRoutes are reachable without a session. They win over
	// ProtectedRoutes when both match.
	PublicRoutes = []string{
		"/",
		"/landing",
		"/auth",
		"/packages",
		"/offices",
		"/about",
		"/contact",
		"/privacy",
		"/terms",
		"/payment/callback",
	}
	ProtectedRoutes = []string{
		"/PilgrimUser",
		"/UmrahOffices",
		"/BusOperator",
		"/admin",
		"/chat",
		"/notifications",
		"/booking",
		"/checkout",
		"/profile",
		"/wallet",
	}
	excludedPrefixes = []string{"/api", "/_next", "/static", "/favicon.ico", "/metrics", "/health", "/media"}
)

var gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "umrah",
	Subsystem: "gate",
	Name:      "decisions_total",
	Help:      "Routing gate decisions by outcome.",
}, []string{"decision"})

type tokenValidator interface {
	Valid(token string) bool
}

// Gate redirects anonymous visitors away from protected pages, collapses
// doubled locale segments and pins every page path to a locale.
type Gate struct {
	locales       []string
	defaultLocale string
	matcher       language.Matcher
	tokens        tokenValidator
	secureCookies bool
}

func NewGate(locales []string, defaultLocale string, tokens tokenValidator, secureCookies bool) *Gate {
	if len(locales) == 0 {
		locales = []string{"ar", "en"}
	}
	if defaultLocale == "" || !contains(locales, defaultLocale) {
		defaultLocale = locales[0]
	}
	// The matcher falls back to its first tag, so the default goes first.
	ordered := []string{defaultLocale}
	for _, l := range locales {
		if l != defaultLocale {
			ordered = append(ordered, l)
		}
	}
	tags := make([]language.Tag, 0, len(ordered))
	for _, l := range ordered {
		tags = append(tags, language.Make(l))
	}
	return &Gate{
		locales:       ordered,
		defaultLocale: defaultLocale,
		matcher:       language.NewMatcher(tags),
		tokens:        tokens,
		secureCookies: secureCookies,
	}
}

func (g *Gate) Locales() []string { return g.locales }

func (g *Gate) DefaultLocale() string { return g.defaultLocale }

// Excluded reports paths the gate never touches: APIs, assets and files.
func Excluded(p string) bool {
	for _, prefix := range excludedPrefixes {
		if hasSegmentPrefix(p, prefix) {
			return true
		}
	}
	return strings.Contains(path.Base(p), ".")
}

// SplitLocale separates a leading locale segment from the rest of the path.
func (g *Gate) SplitLocale(p string) (string, string) {
	trimmed := strings.TrimPrefix(p, "/")
	first, rest, _ := strings.Cut(trimmed, "/")
	if !contains(g.locales, first) {
		return "", p
	}
	return first, "/" + rest
}

// CollapseLocales keeps only the first of several leading locale segments,
// so /ar/en/landing becomes /ar/landing.
func (g *Gate) CollapseLocales(p string) (string, bool) {
	locale, rest := g.SplitLocale(p)
	if locale == "" {
		return p, false
	}
	changed := false
	for {
		next, remainder := g.SplitLocale(rest)
		if next == "" {
			break
		}
		rest = remainder
		changed = true
	}
	if !changed {
		return p, false
	}
	if rest == "/" {
		return "/" + locale, true
	}
	return "/" + locale + rest, true
}

// ClassifyPath decides whether a locale-less path needs a session.
func ClassifyPath(p string) Access {
	if p == "" {
		p = "/"
	}
	if matchesAny(p, PublicRoutes) {
		return AccessPublic
	}
	if matchesAny(p, ProtectedRoutes) {
		return AccessProtected
	}
	return AccessPublic
}

func matchesAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "/" {
			if p == "/" {
				return true
			}
			continue
		}
		if hasSegmentPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func hasSegmentPrefix(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/' || strings.HasSuffix(prefix, "/")
}

// PreferredLocale picks the locale cookie, then Accept-Language, then the
// default.
func (g *Gate) PreferredLocale(r *http.Request) string {
	for _, name := range []string{LocaleCookie, nextLocaleCookie} {
		if c, err := r.Cookie(name); err == nil && contains(g.locales, c.Value) {
			return c.Value
		}
	}
	accept := r.Header.Get("Accept-Language")
	if accept == "" {
		return g.defaultLocale
	}
	_, index := language.MatchStrings(g.matcher, accept)
	if index < 0 || index >= len(g.locales) {
		return g.defaultLocale
	}
	return g.locales[index]
}

// LoginURL is the locale-qualified login page carrying the original target.
func LoginURL(locale string, target *url.URL) string {
	callback := target.Path
	if target.RawQuery != "" {
		callback += "?" + target.RawQuery
	}
	q := url.Values{}
	q.Set("callbackUrl", callback)
	return "/" + locale + "/auth/login?" + q.Encode()
}

func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqURL := c.Request.URL
		if Excluded(reqURL.Path) {
			c.Next()
			return
		}

		if collapsed, changed := g.CollapseLocales(reqURL.Path); changed {
			gateDecisions.WithLabelValues("collapse_locale").Inc()
			c.Redirect(http.StatusTemporaryRedirect, withQuery(collapsed, reqURL.RawQuery))
			c.Abort()
			return
		}

		locale, rest := g.SplitLocale(reqURL.Path)
		if ClassifyPath(rest) == AccessProtected {
			token := middleware.RequestToken(c.Request)
			if token == "" || g.tokens == nil || !g.tokens.Valid(token) {
				callback := reqURL
				if locale == "" {
					locale = g.PreferredLocale(c.Request)
					localized := *reqURL
					localized.Path = "/" + locale + reqURL.Path
					callback = &localized
				}
				gateDecisions.WithLabelValues("login_redirect").Inc()
				c.Redirect(http.StatusFound, LoginURL(locale, callback))
				c.Abort()
				return
			}
		}

		if locale == "" {
			preferred := g.PreferredLocale(c.Request)
			target := "/" + preferred
			if reqURL.Path != "/" {
				target += reqURL.Path
			}
			gateDecisions.WithLabelValues("locale_redirect").Inc()
			c.Redirect(http.StatusTemporaryRedirect, withQuery(target, reqURL.RawQuery))
			c.Abort()
			return
		}

		gateDecisions.WithLabelValues("pass").Inc()
		c.Set(ContextLocaleKey, locale)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(LocaleCookie, locale, localeCookieAge, "/", "", g.secureCookies, false)
		c.Next()
	}
}

func withQuery(p, rawQuery string) string {
	if rawQuery == "" {
		return p
	}
	return p + "?" + rawQuery
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
