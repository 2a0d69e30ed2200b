package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestInspectOpaqueToken(t *testing.T) {
	i := NewInspector("")
	if !i.Valid("12|abcdef") {
		t.Fatalf("expected opaque token to be valid")
	}
	if i.Valid("   ") {
		t.Fatalf("expected blank token to be invalid")
	}
}

func TestInspectVerifiedRoundTrip(t *testing.T) {
	i := NewInspector("secret")
	token, err := i.GenerateToken("7", "office", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	userID, role, err := i.ParseAuthContext(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if userID != "7" || role != "office" {
		t.Fatalf("unexpected claims %q %q", userID, role)
	}

	other := NewInspector("other")
	if other.Valid(token) {
		t.Fatalf("expected signature mismatch to be rejected")
	}
}

func TestInspectExpired(t *testing.T) {
	signer := NewInspector("secret")
	signer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := signer.GenerateToken("7", "pilgrim", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := NewInspector("secret").Inspect(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("verified inspect err = %v, want ErrTokenExpired", err)
	}
	if _, err := NewInspector("").Inspect(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("unverified inspect err = %v, want ErrTokenExpired", err)
	}
}

func TestInspectUnverifiedWithoutExpiry(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "9"}).SignedString([]byte("x"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := NewInspector("").Inspect(raw)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if claims.Subject() != "9" {
		t.Fatalf("subject = %q", claims.Subject())
	}
}
