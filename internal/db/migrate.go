package db

import (
	"fmt"
	"time"

	"github.com/waybill/waybill/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration. Waybill's
// core owns exactly two durable tables: sessions and the dedup ledger.
func AllModels() []interface{} {
	return []interface{}{
		&models.IntakeSession{},
		&models.ProcessedMessage{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// PruneLedger deletes dedup ledger rows older than the retention window.
// Ledger rows are independent of sessions and safe to drop once duplicate
// delivery of their message id is no longer possible.
func PruneLedger(db *gorm.DB, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := db.Where("claimed_at < ?", cutoff).Delete(&models.ProcessedMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("db: prune ledger: %w", result.Error)
	}
	return result.RowsAffected, nil
}
