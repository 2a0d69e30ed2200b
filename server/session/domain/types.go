package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// TokenTTL is how long a token stored by SetUserData stays usable locally.
const TokenTTL = 30 * 24 * time.Hour

const DefaultTokenType = "Bearer"

// Storage keys shared with the web client. Both the plain and the
// nextauth_* variants are written so either reader finds the session.
const (
	KeyUser                   = "user"
	KeyToken                  = "token"
	KeyTokenType              = "token_type"
	KeyNextAuthUser           = "nextauth_user"
	KeyNextAuthToken          = "nextauth_token"
	KeyNextAuthSessionExpires = "nextauth_session_expires"

	KeyNotificationBannerDismissed = "notification_banner_dismissed"
	KeyNotificationDialogShown     = "notification_dialog_shown"
	KeyNotificationsEnabled        = "notifications_enabled"
	KeyLocale                      = "locale"
)

// SessionKeys lists every key ClearStoredSession removes.
var SessionKeys = []string{
	KeyUser,
	KeyToken,
	KeyTokenType,
	KeyNextAuthUser,
	KeyNextAuthToken,
	KeyNextAuthSessionExpires,
}

// PreferenceKeys are the per-device flags exposed through the session store.
var PreferenceKeys = []string{
	KeyNotificationBannerDismissed,
	KeyNotificationDialogShown,
	KeyNotificationsEnabled,
	KeyLocale,
}

type Profile struct {
	ID    string
	Name  string
	Email string
	Role  Role
	// Raw is the user object exactly as the API returned it.
	Raw json.RawMessage
}

type Session struct {
	User      Profile
	Token     string
	TokenType string
	Expiry    time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}
