package models

import "time"

// MaxMessageLength caps a single discussion message, in characters.
const MaxMessageLength = 2000

// Message is one immutable entry in an item's discussion.
// Seq is assigned by the store and is gap-free per item starting at 1.
type Message struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ItemID      uint      `gorm:"not null;uniqueIndex:idx_messages_item_seq,priority:1" json:"item_id"`
	Seq         uint64    `gorm:"not null;uniqueIndex:idx_messages_item_seq,priority:2" json:"seq"`
	AuthorID    uint      `gorm:"not null;index" json:"user_id"`
	AuthorEmail string    `gorm:"size:254;not null" json:"user_email"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Before reports whether m sorts before other in channel order.
func (m Message) Before(other Message) bool {
	if m.Seq != other.Seq {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Realtime event types
const (
	EventMessage         = "message"
	EventItemDeleted     = "item_deleted"
	EventSubscribed      = "subscribed"
	EventError           = "error"
	EventMessagesDropped = "messages_dropped"
	// EventDisconnected never crosses the wire; watchers emit it when their stream breaks.
	EventDisconnected = "disconnected"
)

// ItemEvent is pushed to everyone watching an item's discussion.
type ItemEvent struct {
	Type    string   `json:"type"`
	ItemID  uint     `json:"item_id"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}
