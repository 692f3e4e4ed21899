package models

import (
	"time"
)

// Profile represents a member account in the directory
type Profile struct {
	ID          string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string `gorm:"not null" json:"display_name"`
	Bio         string `gorm:"type:text" json:"bio"`
	AvatarURL   string `gorm:"type:text" json:"avatar_url"`
	Company     string `gorm:"type:text" json:"company"`
	Country     string `gorm:"type:text" json:"country"`

	// Reward points driving badge progression
	Points int `gorm:"default:0" json:"points"`

	// Presence: stamped by the heartbeat loop, read by the roster poll
	LastActiveAt *time.Time `gorm:"index" json:"last_active_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRecentlyActive reports whether the profile's last heartbeat falls inside
// the activity window ending at now
func (p *Profile) IsRecentlyActive(now time.Time, window time.Duration) bool {
	if p.LastActiveAt == nil {
		return false
	}
	return now.Sub(*p.LastActiveAt) <= window
}
