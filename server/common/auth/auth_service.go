package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyToken   = errors.New("token is empty")
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the fields the booking API puts in its access tokens. Tokens
// issued by the social login flow carry only the registered claims.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Subject() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Inspector decides whether a bearer token may be used. Opaque tokens (the
// API issues Sanctum style "<id>|<secret>" tokens) are accepted as long as
// they are non-empty; JWTs must be unexpired, and when a secret is configured
// their HS256 signature must verify.
type Inspector struct {
	secret []byte
	now    func() time.Time
}

func NewInspector(secret string) *Inspector {
	return &Inspector{secret: []byte(strings.TrimSpace(secret)), now: time.Now}
}

func (i *Inspector) GenerateToken(userID, role string, ttl time.Duration) (string, error) {
	if len(i.secret) == 0 {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	now := i.now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(i.secret)
}

func (i *Inspector) Inspect(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	if !LooksLikeJWT(token) {
		return &Claims{}, nil
	}
	if len(i.secret) > 0 {
		return i.parseVerified(token)
	}
	return i.parseUnverified(token)
}

func (i *Inspector) Valid(token string) bool {
	_, err := i.Inspect(token)
	return err == nil
}

func (i *Inspector) ParseAuthContext(token string) (string, string, error) {
	claims, err := i.Inspect(token)
	if err != nil {
		return "", "", err
	}
	return claims.Subject(), claims.Role, nil
}

func (i *Inspector) parseVerified(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func (i *Inspector) parseUnverified(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(i.now()) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// LooksLikeJWT reports whether token has the three dot separated segments of
// a compact JWS.
func LooksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2 && !strings.Contains(token, "|")
}
