package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"umrah_portal/server/common/transport/httpresp"
)

type tokenAuth interface {
	ParseAuthContext(token string) (userID, role string, err error)
}

// TokenCookies are checked in order when the request has no bearer header.
var TokenCookies = []string{"token", "nextauth_token", "next-auth.session-token"}

// RequestToken returns the bearer token of the request, falling back to the
// session cookies set by the auth callback.
func RequestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	for _, name := range TokenCookies {
		if cookie, err := r.Cookie(name); err == nil && strings.TrimSpace(cookie.Value) != "" {
			return strings.TrimSpace(cookie.Value)
		}
	}
	return ""
}

func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := RequestToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		userID, role, err := auth.ParseAuthContext(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set("auth_access_token", token)
		c.Set("auth_user_id", userID)
		c.Set("auth_role", role)
		c.Next()
	}
}
