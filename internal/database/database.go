package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/uplinq/uplinq/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB holds the database connection
var DB *gorm.DB

// Initialize creates and configures the database connection
func Initialize(databaseURL string) error {
	// Configure GORM logger
	gormLogger := logger.Default
	if os.Getenv("ENVIRONMENT") == "development" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	// Open database connection
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db
	log.Println("✅ Database connected successfully")

	return nil
}

// Migrate runs auto-migration for all models
func Migrate() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	// gen_random_uuid defaults need pgcrypto on older PostgreSQL
	err := DB.Exec("CREATE EXTENSION IF NOT EXISTS \"pgcrypto\"").Error
	if err != nil {
		log.Printf("Warning: Could not create pgcrypto extension: %v", err)
	}

	// Auto-migrate all models
	err = DB.AutoMigrate(
		&models.Profile{},
		&models.Message{},
		&models.Notification{},
		&models.Classified{},
		&models.Blog{},
		&models.Company{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes for performance
	err = createIndexes()
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Println("✅ Database migrations completed")
	return nil
}

// createIndexes creates performance indexes
func createIndexes() error {
	// Profile indexes for presence polling and avatar lookups
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_profiles_last_active ON profiles (last_active_at DESC) WHERE last_active_at IS NOT NULL")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_profiles_username_lower ON profiles (LOWER(username))")

	// Message indexes for pair history and unread scans
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender_id, recipient_id, created_at DESC)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages (recipient_id) WHERE read_at IS NULL")

	// Notification feed index
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications (user_id, created_at DESC)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications (user_id) WHERE read = false")

	// Slug resolution indexes for deep links
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_classifieds_title ON classifieds (title)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_blogs_title ON blogs (title)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_companies_name ON companies (name)")

	return nil
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	return sqlDB.Close()
}
