package realtime

import "strings"

// Event names broadcast by the booking API.
const (
	EventMessageSent         = "message.sent"
	EventMessageRead         = "message.read"
	EventUserTyping          = "user.typing"
	EventChatCreated         = "chat.created"
	EventNotificationCreated = "notification.created"
)

const (
	PrivatePrefix  = "private-"
	PresencePrefix = "presence-"
)

// Event is one server push on a channel. Data is the raw JSON payload.
type Event struct {
	Channel string
	Name    string
	Data    []byte
}

// UserChannel is the private channel carrying a user's notifications.
func UserChannel(userID string) string {
	return PrivatePrefix + "user." + userID
}

// ChatChannel is the private channel carrying a chat's messages and typing
// events.
func ChatChannel(chatID string) string {
	return PrivatePrefix + "chat." + chatID
}

// NormalizeEventName strips the leading dot Laravel Echo uses for custom
// broadcast names.
func NormalizeEventName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), ".")
}

func needsAuthorization(channel string) bool {
	return strings.HasPrefix(channel, PrivatePrefix) || strings.HasPrefix(channel, PresencePrefix)
}
