package platform

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/uplinq/uplinq/internal/errors"
	"github.com/uplinq/uplinq/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing.
// Tables are created manually with SQLite-compatible syntax because
// AutoMigrate relies on PostgreSQL features like gen_random_uuid.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	stmts := []string{
		`CREATE TABLE profiles (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			username TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			bio TEXT DEFAULT '',
			avatar_url TEXT DEFAULT '',
			company TEXT DEFAULT '',
			country TEXT DEFAULT '',
			points INTEGER DEFAULT 0,
			last_active_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			body TEXT NOT NULL,
			attachment_url TEXT,
			read_at DATETIME,
			created_at DATETIME
		)`,
		`CREATE TABLE notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT DEFAULT '',
			read BOOLEAN DEFAULT FALSE,
			type TEXT DEFAULT '',
			related_id TEXT,
			related_type TEXT,
			created_at DATETIME
		)`,
		`CREATE TABLE classifieds (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			slug TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			created_at DATETIME
		)`,
		`CREATE TABLE blogs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			slug TEXT NOT NULL,
			status TEXT DEFAULT 'draft',
			created_at DATETIME
		)`,
		`CREATE TABLE companies (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			created_at DATETIME
		)`,
	}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func createTestProfile(t *testing.T, db *gorm.DB, username string, lastActive *time.Time) *models.Profile {
	t.Helper()
	p := &models.Profile{
		ID:           uuid.New().String(),
		Email:        username + "@example.com",
		Username:     username,
		DisplayName:  username,
		LastActiveAt: lastActive,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func createTestMessage(t *testing.T, db *gorm.DB, sender, recipient, body string, at time.Time) *models.Message {
	t.Helper()
	m := &models.Message{
		ID:          uuid.New().String(),
		SenderID:    sender,
		RecipientID: recipient,
		Body:        body,
		CreatedAt:   at,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

func TestStoreTouchLastActive(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	p := createTestProfile(t, db, "alice", nil)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.TouchLastActive(context.Background(), p.ID, at))

	got, err := store.GetProfile(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastActiveAt)
	assert.True(t, got.LastActiveAt.Equal(at))
}

func TestStoreListActiveSinceBoundary(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	inside := since.Add(time.Minute)
	edge := since
	outside := since.Add(-time.Second)
	self := since.Add(time.Minute)

	createTestProfile(t, db, "inside", &inside)
	createTestProfile(t, db, "edge", &edge)
	createTestProfile(t, db, "outside", &outside)
	createTestProfile(t, db, "never", nil)
	me := createTestProfile(t, db, "me", &self)

	active, err := store.ListActiveSince(context.Background(), since, me.ID)
	require.NoError(t, err)

	names := make([]string, len(active))
	for i, p := range active {
		names[i] = p.Username
	}
	assert.ElementsMatch(t, []string{"inside", "edge"}, names,
		"a heartbeat exactly at the window edge counts as online")
}

func TestStoreProfileLookupsNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	_, err := store.GetProfile(context.Background(), uuid.New().String())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = store.ProfileByUsername(context.Background(), "nobody")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestStoreHistoryOldestFirstWithSender(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	alice := createTestProfile(t, db, "alice", nil)
	bob := createTestProfile(t, db, "bob", nil)
	carol := createTestProfile(t, db, "carol", nil)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	createTestMessage(t, db, alice.ID, bob.ID, "first", base)
	createTestMessage(t, db, bob.ID, alice.ID, "second", base.Add(time.Minute))
	createTestMessage(t, db, alice.ID, bob.ID, "third", base.Add(2*time.Minute))
	// a different thread must not leak in
	createTestMessage(t, db, alice.ID, carol.ID, "noise", base.Add(3*time.Minute))

	msgs, err := store.History(context.Background(), alice.ID, bob.ID, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "third", msgs[2].Body)
	require.NotNil(t, msgs[1].Sender, "history carries the joined sender profile")
	assert.Equal(t, "bob", msgs[1].Sender.Username)
}

func TestStoreHistoryLimitKeepsNewest(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	alice := createTestProfile(t, db, "alice", nil)
	bob := createTestProfile(t, db, "bob", nil)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		createTestMessage(t, db, alice.ID, bob.ID, string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
	}

	msgs, err := store.History(context.Background(), alice.ID, bob.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// the newest two rows, still oldest first
	assert.Equal(t, "d", msgs[0].Body)
	assert.Equal(t, "e", msgs[1].Body)
}

func TestStoreMarkMessagesReadBatch(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	alice := createTestProfile(t, db, "alice", nil)
	bob := createTestProfile(t, db, "bob", nil)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m1 := createTestMessage(t, db, bob.ID, alice.ID, "one", base)
	m2 := createTestMessage(t, db, bob.ID, alice.ID, "two", base.Add(time.Second))

	already := base.Add(time.Minute)
	m3 := createTestMessage(t, db, bob.ID, alice.ID, "three", base.Add(2*time.Second))
	require.NoError(t, db.Model(&models.Message{}).Where("id = ?", m3.ID).Update("read_at", already).Error)

	readAt := base.Add(time.Hour)
	require.NoError(t, store.MarkMessagesRead(context.Background(), []string{m1.ID, m2.ID, m3.ID}, readAt))

	var rows []models.Message
	require.NoError(t, db.Order("created_at").Find(&rows).Error)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].ReadAt.Equal(readAt))
	assert.True(t, rows[1].ReadAt.Equal(readAt))
	assert.True(t, rows[2].ReadAt.Equal(already), "an already-read row keeps its original stamp")
}

func TestStoreMarkMessagesReadEmptyIsNoop(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	assert.NoError(t, store.MarkMessagesRead(context.Background(), nil, time.Now()))
}

func TestStoreRecentNotifications(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	user := uuid.New().String()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		n := &models.Notification{
			ID:        uuid.New().String(),
			UserID:    user,
			Title:     string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(n).Error)
	}

	rows, err := store.RecentNotifications(context.Background(), user, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "d", rows[0].Title, "newest first")
	assert.Equal(t, "c", rows[1].Title)
}

func TestStoreMarkNotificationRead(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	n := &models.Notification{
		ID:        uuid.New().String(),
		UserID:    uuid.New().String(),
		Title:     "t",
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(n).Error)

	require.NoError(t, store.MarkNotificationRead(context.Background(), n.ID))

	var got models.Notification
	require.NoError(t, db.First(&got, "id = ?", n.ID).Error)
	assert.True(t, got.Read)
}

func TestStoreSlugLookups(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	require.NoError(t, db.Create(&models.Classified{
		ID: uuid.New().String(), UserID: uuid.New().String(),
		Title: "Top Tips", Slug: "top-tips",
	}).Error)
	require.NoError(t, db.Create(&models.Blog{
		ID: uuid.New().String(), UserID: uuid.New().String(),
		Title: "My Journey", Slug: "my-journey",
	}).Error)
	require.NoError(t, db.Create(&models.Company{
		ID: uuid.New().String(), Name: "Acme Corp", Slug: "acme-corp",
	}).Error)

	slug, err := store.ClassifiedSlugByTitle(context.Background(), "Top Tips")
	require.NoError(t, err)
	assert.Equal(t, "top-tips", slug)

	slug, err = store.BlogSlugByTitle(context.Background(), "My Journey")
	require.NoError(t, err)
	assert.Equal(t, "my-journey", slug)

	slug, err = store.CompanySlugByName(context.Background(), "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", slug)

	_, err = store.ClassifiedSlugByTitle(context.Background(), "Missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
