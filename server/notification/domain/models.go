package domain

import (
	"time"

	"github.com/goccy/go-json"

	"umrah_portal/server/common/jsonx"
)

type Type string
type Priority string

const (
	TypeMessage  Type = "message"
	TypeBooking  Type = "booking"
	TypePayment  Type = "payment"
	TypeSystem   Type = "system"
	TypeWallet   Type = "wallet"
	TypeDocument Type = "document"
	TypeGeneral  Type = "general"
)

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type Notification struct {
	ID        jsonx.ID        `json:"id"`
	Type      Type            `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	IsRead    bool            `json:"is_read"`
	Priority  Priority        `json:"priority"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ActionURL string          `json:"action_url,omitempty"`
}
