package models

import (
	"time"
)

// Notification types written by server-side triggers. The Type column is
// optional; older rows are classified by keyword matching on title/message.
const (
	NotificationTypeIncomeVerification = "income_verification"
	NotificationTypeContactRequest     = "contact_request"
	NotificationTypeMessage            = "message"
	NotificationTypePoints             = "points"
	NotificationTypeBlogCreated        = "blog_created"
	NotificationTypeClassifiedPosted   = "classified_posted"
	NotificationTypeCompanySubmitted   = "company_submitted"
	NotificationTypeApproved           = "approved"
	NotificationTypeRejected           = "rejected"
)

// Notification is one row in a member's notification feed.
// Read transitions only false -> true; rows are never deleted by the client.
type Notification struct {
	ID          string  `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID      string  `gorm:"type:uuid;index;not null" json:"user_id"`
	Title       string  `gorm:"not null" json:"title"`
	Message     string  `gorm:"type:text" json:"message"`
	Read        bool    `gorm:"default:false" json:"read"`
	Type        string  `json:"type,omitempty"`
	RelatedID   *string `gorm:"type:uuid" json:"related_id,omitempty"`
	RelatedType *string `json:"related_type,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
