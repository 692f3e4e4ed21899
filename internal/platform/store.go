package platform

import (
	"context"
	"time"

	"github.com/uplinq/uplinq/internal/errors"
	"github.com/uplinq/uplinq/internal/models"
	"gorm.io/gorm"
)

// Store is the gorm-backed row store behind presence, chat and the
// notification center. One type serves all of them so a single connection
// pool and transaction surface is shared.
type Store struct {
	db  *gorm.DB
	fns *Functions
}

// NewStore wraps an open gorm connection
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, fns: NewFunctions(db)}
}

// TouchLastActive stamps the user's last-active timestamp
func (s *Store) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ?", userID).
		Update("last_active_at", at).Error
	if err != nil {
		return errors.Transient("failed to update last_active_at", err)
	}
	return nil
}

// ListActiveSince returns profiles with a heartbeat at or after since,
// excluding excludeID
func (s *Store) ListActiveSince(ctx context.Context, since time.Time, excludeID string) ([]models.Profile, error) {
	var profiles []models.Profile
	err := s.db.WithContext(ctx).
		Where("last_active_at >= ?", since).
		Where("id <> ?", excludeID).
		Order("last_active_at DESC").
		Find(&profiles).Error
	if err != nil {
		return nil, errors.Transient("failed to list active profiles", err)
	}
	return profiles, nil
}

// GetProfile loads one profile by id
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("profile")
	}
	if err != nil {
		return nil, errors.Transient("failed to load profile", err)
	}
	return &profile, nil
}

// ProfileByUsername loads one profile by its unique username
func (s *Store) ProfileByUsername(ctx context.Context, username string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&profile).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("profile")
	}
	if err != nil {
		return nil, errors.Transient("failed to load profile by username", err)
	}
	return &profile, nil
}

// History returns the most recent messages between two users, oldest first.
// The newest limit rows are selected, then reversed so callers append new
// arrivals at the end.
func (s *Store) History(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", a, b, b, a).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, errors.Transient("failed to load message history", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// InsertMessage stores a message and returns the canonical row with the
// server-assigned id and timestamp
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, errors.Transient("failed to insert message", err)
	}
	return m, nil
}

// MarkMessagesRead stamps read_at on all given messages in one statement
func (s *Store) MarkMessagesRead(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id IN ? AND read_at IS NULL", ids).
		Update("read_at", at).Error
	if err != nil {
		return errors.Transient("failed to mark messages read", err)
	}
	return nil
}

// RecentNotifications returns the newest rows for the user, newest first
func (s *Store) RecentNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	var rows []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Transient("failed to load notifications", err)
	}
	return rows, nil
}

// MarkNotificationRead flips one notification to read
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", id).
		Update("read", true).Error
	if err != nil {
		return errors.Transient("failed to mark notification read", err)
	}
	return nil
}

// MarkAllNotificationsRead flips every unread row for the user. The flip
// runs as a server-side function so it stays atomic no matter how many
// rows are unread.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	args := map[string]string{"user_id": userID}
	if err := s.fns.Invoke(ctx, "mark_all_notifications_read", args, nil); err != nil {
		return errors.Transient("failed to mark all notifications read", err)
	}
	return nil
}

// ClassifiedSlugByTitle resolves the canonical slug for a classified title
func (s *Store) ClassifiedSlugByTitle(ctx context.Context, title string) (string, error) {
	var row models.Classified
	err := s.db.WithContext(ctx).
		Select("slug").
		Where("title = ?", title).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", errors.NotFound("classified")
	}
	if err != nil {
		return "", errors.Transient("failed to resolve classified slug", err)
	}
	return row.Slug, nil
}

// BlogSlugByTitle resolves the canonical slug for a blog title
func (s *Store) BlogSlugByTitle(ctx context.Context, title string) (string, error) {
	var row models.Blog
	err := s.db.WithContext(ctx).
		Select("slug").
		Where("title = ?", title).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", errors.NotFound("blog")
	}
	if err != nil {
		return "", errors.Transient("failed to resolve blog slug", err)
	}
	return row.Slug, nil
}

// CompanySlugByName resolves the canonical slug for a company name
func (s *Store) CompanySlugByName(ctx context.Context, name string) (string, error) {
	var row models.Company
	err := s.db.WithContext(ctx).
		Select("slug").
		Where("name = ?", name).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", errors.NotFound("company")
	}
	if err != nil {
		return "", errors.Transient("failed to resolve company slug", err)
	}
	return row.Slug, nil
}
