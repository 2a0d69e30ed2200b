package domain

import (
	"strings"
	"time"

	"umrah_portal/server/common/jsonx"
)

type MessageType string
type MessageStatus string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeSystem MessageType = "system"
)

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// TempIDPrefix marks messages created locally and not yet confirmed.
const TempIDPrefix = "temp-"

// TypingTTL is how long a typing indicator stays visible without refresh.
const TypingTTL = 10 * time.Second

type User struct {
	ID     jsonx.ID `json:"id"`
	Name   string   `json:"name"`
	Avatar string   `json:"avatar,omitempty"`
	Role   string   `json:"role,omitempty"`
}

type Chat struct {
	ID           jsonx.ID  `json:"id"`
	Title        string    `json:"title,omitempty"`
	IsGroup      bool      `json:"is_group"`
	Participants []User    `json:"participants"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Message struct {
	ID        jsonx.ID      `json:"id"`
	ChatID    jsonx.ID      `json:"chat_id"`
	SenderID  jsonx.ID      `json:"sender_id"`
	Sender    *User         `json:"sender,omitempty"`
	Content   string        `json:"content"`
	Type      MessageType   `json:"type"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	IsEdited  bool          `json:"is_edited"`
	IsDeleted bool          `json:"is_deleted"`
	TempID    string        `json:"temp_id,omitempty"`
}

func (m Message) IsTemp() bool {
	return strings.HasPrefix(string(m.ID), TempIDPrefix)
}

type TypingIndicator struct {
	ChatID    jsonx.ID  `json:"chat_id"`
	UserID    jsonx.ID  `json:"user_id"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
}

type CreateChatRequest struct {
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,dive,required"`
	Title          string   `json:"title,omitempty" validate:"max=255"`
	IsGroup        bool     `json:"is_group"`
	InitialMessage string   `json:"message,omitempty" validate:"max=5000"`
}

type SendMessageRequest struct {
	Content string      `json:"content" validate:"required,max=5000"`
	Type    MessageType `json:"type" validate:"omitempty,oneof=text image file audio system"`
	TempID  string      `json:"temp_id,omitempty"`
}

type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}
