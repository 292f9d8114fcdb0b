package database

import (
	"fmt"
	"log"
	"os"

	"sparlo_go_backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB() {

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
	)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := Migrate(DB); err != nil {
		log.Fatal("Failed to auto migrate:", err)
	}
}

// Migrate applies the schema. Shared with the test suites, which run it
// against an in-memory database.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.Report{},
		&models.UsagePeriod{},
		&models.UsageEvent{},
		&models.Chat{},
		&models.Message{},
	)
	if err != nil {
		return err
	}

	// At most one active period per user. AutoMigrate cannot express a
	// partial index, and the period manager's upsert targets exactly this
	// constraint.
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_periods_active_user
		ON usage_periods (user_id) WHERE status = 'active'`).Error
}
