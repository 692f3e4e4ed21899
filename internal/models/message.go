package models

import (
	"time"
)

// Message is one direct chat message between two members.
// ReadAt transitions only from unset to set, never back.
type Message struct {
	ID          string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	SenderID    string `gorm:"type:uuid;index;not null" json:"sender_id"`
	RecipientID string `gorm:"type:uuid;index;not null" json:"recipient_id"`
	Body        string `gorm:"type:text;not null" json:"body"`

	// AttachmentURL points at an uploaded blob when the message carries one
	AttachmentURL *string `gorm:"type:text" json:"attachment_url,omitempty"`

	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`

	// Joined sender profile, loaded with history so the UI can render
	// display name and avatar without extra lookups
	Sender *Profile `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

// IsUnreadBy reports whether the message is addressed to userID and not yet read
func (m *Message) IsUnreadBy(userID string) bool {
	return m.RecipientID == userID && m.ReadAt == nil
}

// PairKey returns the canonical channel scope for the unordered pair of
// participants. Both sides of a conversation derive the same key.
func PairKey(a, b string) string {
	if a < b {
		return "chat_popup_" + a + "_" + b
	}
	return "chat_popup_" + b + "_" + a
}
