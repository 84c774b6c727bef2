package db

import (
	"fmt"

	"github.com/zulandar/sociobot/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model owned by the relay.
func AllModels() []interface{} {
	return []interface{}{
		&models.Cursor{},
		&models.Interaction{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
