package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	commonauth "umrah_portal/server/common/auth"
	"umrah_portal/server/common/infra/httpclient"
	"umrah_portal/server/common/transport/httpresp"
	"umrah_portal/server/portal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, tokens *commonauth.Inspector) *gin.Engine {
	t.Helper()
	origin := httpclient.New(httpclient.Config{BaseURL: "http://127.0.0.1:1", MaxRetries: -1, Timeout: time.Second})
	h := NewHandler(Deps{
		Gate:     NewGate([]string{"ar", "en"}, "ar", tokens, false),
		Landing:  service.NewLandingService(origin, nil, time.Hour),
		Tokens:   tokens,
		Frontend: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("page " + r.URL.Path))
		}),
	})
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestClassifyPath(t *testing.T) {
	cases := map[string]Access{
		"/":                    AccessPublic,
		"/landing/packages":    AccessPublic,
		"/auth/login":          AccessPublic,
		"/PilgrimUser/profile": AccessProtected,
		"/PilgrimUser":         AccessProtected,
		"/PilgrimUserX":        AccessPublic,
		"/UmrahOffices/stats":  AccessProtected,
		"/chat/12":             AccessProtected,
		"/unknown":             AccessPublic,
	}
	for p, want := range cases {
		if got := ClassifyPath(p); got != want {
			t.Errorf("ClassifyPath(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestPublicWinsOverProtected(t *testing.T) {
	saved := PublicRoutes
	defer func() { PublicRoutes = saved }()
	PublicRoutes = append(append([]string(nil), saved...), "/PilgrimUser/help")

	if got := ClassifyPath("/PilgrimUser/help/faq"); got != AccessPublic {
		t.Fatalf("public match should win, got %v", got)
	}
}

func TestExcluded(t *testing.T) {
	for _, p := range []string{"/api/landing/home", "/_next/static/x.js", "/favicon.ico", "/health", "/metrics", "/ar/logo.png"} {
		if !Excluded(p) {
			t.Errorf("%q should be excluded", p)
		}
	}
	for _, p := range []string{"/ar", "/ar/landing/home", "/apiary"} {
		if Excluded(p) {
			t.Errorf("%q should not be excluded", p)
		}
	}
}

func TestCollapseLocales(t *testing.T) {
	g := NewGate(nil, "ar", nil, false)
	cases := []struct {
		in      string
		want    string
		changed bool
	}{
		{"/ar/en/landing/home", "/ar/landing/home", true},
		{"/en/ar/en/chat", "/en/chat", true},
		{"/ar/en", "/ar", true},
		{"/ar/landing/home", "/ar/landing/home", false},
		{"/landing", "/landing", false},
	}
	for _, tc := range cases {
		got, changed := g.CollapseLocales(tc.in)
		if got != tc.want || changed != tc.changed {
			t.Errorf("CollapseLocales(%q) = %q,%v want %q,%v", tc.in, got, changed, tc.want, tc.changed)
		}
	}
}

func TestGatePublicPagePasses(t *testing.T) {
	r := newTestRouter(t, commonauth.NewInspector(""))
	w := serve(r, httptest.NewRequest(http.MethodGet, "/ar/landing/packages", nil))
	if w.Code != http.StatusOK || w.Body.String() != "page /ar/landing/packages" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "locale=ar") {
		t.Fatalf("locale cookie missing: %q", w.Header().Get("Set-Cookie"))
	}
}

func TestGateRedirectsAnonymousToLogin(t *testing.T) {
	r := newTestRouter(t, commonauth.NewInspector(""))
	w := serve(r, httptest.NewRequest(http.MethodGet, "/ar/PilgrimUser/profile?tab=docs", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Path != "/ar/auth/login" || loc.Query().Get("callbackUrl") != "/ar/PilgrimUser/profile?tab=docs" {
		t.Fatalf("location = %s", loc)
	}
}

func TestGateLoginCallbackCarriesPreferredLocale(t *testing.T) {
	r := newTestRouter(t, commonauth.NewInspector(""))
	req := httptest.NewRequest(http.MethodGet, "/PilgrimUser/profile?tab=docs", nil)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	w := serve(r, req)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Path != "/en/auth/login" {
		t.Fatalf("login path = %s", loc.Path)
	}
	if got := loc.Query().Get("callbackUrl"); got != "/en/PilgrimUser/profile?tab=docs" {
		t.Fatalf("callbackUrl = %q", got)
	}
}

func TestGateAcceptsValidToken(t *testing.T) {
	tokens := commonauth.NewInspector("secret")
	token, err := tokens.GenerateToken("7", "pilgrim", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	r := newTestRouter(t, tokens)

	req := httptest.NewRequest(http.MethodGet, "/ar/PilgrimUser/profile", nil)
	req.AddCookie(&http.Cookie{Name: "nextauth_token", Value: token})
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("cookie token: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/en/chat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("bearer token: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ar/PilgrimUser", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "forged.jwt.value"})
	if w := serve(r, req); w.Code != http.StatusFound {
		t.Fatalf("forged token: status = %d", w.Code)
	}
}

func TestGateCollapsesDuplicateLocale(t *testing.T) {
	r := newTestRouter(t, commonauth.NewInspector(""))
	w := serve(r, httptest.NewRequest(http.MethodGet, "/ar/en/landing/home", nil))
	if w.Code != http.StatusTemporaryRedirect || w.Header().Get("Location") != "/ar/landing/home" {
		t.Fatalf("status=%d location=%q", w.Code, w.Header().Get("Location"))
	}
}

func TestGateAddsPreferredLocale(t *testing.T) {
	r := newTestRouter(t, commonauth.NewInspector(""))

	req := httptest.NewRequest(http.MethodGet, "/landing/home?x=1", nil)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	w := serve(r, req)
	if w.Code != http.StatusTemporaryRedirect || w.Header().Get("Location") != "/en/landing/home?x=1" {
		t.Fatalf("status=%d location=%q", w.Code, w.Header().Get("Location"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "fr")
	w = serve(r, req)
	if w.Header().Get("Location") != "/ar" {
		t.Fatalf("default locale location = %q", w.Header().Get("Location"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "NEXT_LOCALE", Value: "en"})
	req.Header.Set("Accept-Language", "ar")
	w = serve(r, req)
	if w.Header().Get("Location") != "/en" {
		t.Fatalf("cookie locale location = %q", w.Header().Get("Location"))
	}
}

func TestAuthCallbackSetsCookiesAndRedirects(t *testing.T) {
	r := newTestRouter(t, commonauth.NewInspector(""))

	q := url.Values{}
	q.Set("token", "12|opaque")
	q.Set("user", `{"id":12,"roles":[{"name":"umrah_office"}]}`)
	w := serve(r, httptest.NewRequest(http.MethodGet, "/en/auth/callback?"+q.Encode(), nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/en/UmrahOffices" {
		t.Fatalf("status=%d location=%q", w.Code, w.Header().Get("Location"))
	}
	cookies := strings.Join(w.Header().Values("Set-Cookie"), ";")
	for _, want := range []string{"token=12", "nextauth_token=12", "user_role=office"} {
		if !strings.Contains(cookies, want) {
			t.Fatalf("cookie %q missing in %q", want, cookies)
		}
	}

	q.Set("callbackUrl", "/en/chat/4")
	w = serve(r, httptest.NewRequest(http.MethodGet, "/en/auth/callback?"+q.Encode(), nil))
	if w.Header().Get("Location") != "/en/chat/4" {
		t.Fatalf("callback location = %q", w.Header().Get("Location"))
	}

	q.Set("callbackUrl", "//evil.example")
	w = serve(r, httptest.NewRequest(http.MethodGet, "/en/auth/callback?"+q.Encode(), nil))
	if w.Header().Get("Location") != "/en/UmrahOffices" {
		t.Fatalf("open redirect not blocked: %q", w.Header().Get("Location"))
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ar/auth/callback", nil))
	if w.Header().Get("Location") != "/ar/auth/login?error=invalid_token" {
		t.Fatalf("missing token location = %q", w.Header().Get("Location"))
	}
}

func TestLandingFallbackHeader(t *testing.T) {
	r := newTestRouter(t, commonauth.NewInspector(""))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/landing/home?locale=ar", nil))
	if w.Code != http.StatusOK || w.Header().Get("X-Data-Source") != "fallback" {
		t.Fatalf("status=%d source=%q", w.Code, w.Header().Get("X-Data-Source"))
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/landing/nope", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("unknown section status = %d", w.Code)
	}
}

func TestClientConfigDefaultsToGateLocales(t *testing.T) {
	r := newTestRouter(t, commonauth.NewInspector(""))
	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	var cfg ClientConfig
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v body=%s", err, w.Body.String())
	}
	if w.Code != http.StatusOK || cfg.DefaultLocale != "ar" || len(cfg.Locales) != 2 {
		t.Fatalf("status=%d cfg=%+v", w.Code, cfg)
	}
}

func TestLogoutClearsCookies(t *testing.T) {
	r := newTestRouter(t, commonauth.NewInspector(""))
	w := serve(r, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	cookies := strings.Join(w.Header().Values("Set-Cookie"), ";")
	if !strings.Contains(cookies, "token=;") || !strings.Contains(cookies, "Max-Age=0") {
		t.Fatalf("cookies = %q", cookies)
	}
}

func TestMediaPresignedRedirect(t *testing.T) {
	client, err := minio.New("127.0.0.1:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio client: %v", err)
	}
	tokens := commonauth.NewInspector("")
	r := gin.New()
	NewHandler(Deps{
		Gate:   NewGate([]string{"ar", "en"}, "ar", tokens, false),
		Tokens: tokens,
		Media:  service.NewMediaService(client, "media", time.Minute),
	}).RegisterRoutes(r)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/media/chats/5/photo.jpg", nil))
	location := w.Header().Get("Location")
	if w.Code != http.StatusFound || !strings.Contains(location, "/media/chats/5/photo.jpg?") || !strings.Contains(location, "X-Amz-Signature=") {
		t.Fatalf("status=%d location=%q", w.Code, location)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/media/chats/5/photo.jpg?format=json", nil))
	var body httpresp.URLResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || !strings.Contains(body.URL, "X-Amz-Expires=60") {
		t.Fatalf("json body = %s err=%v", w.Body.String(), err)
	}

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/media/a/../../etc/passwd", nil)); w.Code == http.StatusFound {
		t.Fatalf("traversal key should not be presigned")
	}
}
