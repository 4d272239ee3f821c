package intake

import (
	"fmt"
	"time"

	"github.com/waybill/waybill/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Claim records messageID in the dedup ledger and reports whether this
// caller won the claim. The insert-if-absent is atomic at the database, so
// exactly one process returns true for a given id, across restarts and
// duplicate deliveries; every other caller gets false forever.
//
// The guard fails closed: if the ledger write itself errors, Claim returns
// (false, err) and the caller must drop the message rather than risk
// double-processing it.
func Claim(db *gorm.DB, messageID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("intake: claim: message id is required")
	}

	entry := models.ProcessedMessage{
		MessageID: messageID,
		ClaimedAt: time.Now(),
	}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if result.Error != nil {
		return false, fmt.Errorf("intake: claim %s: %w", messageID, result.Error)
	}
	return result.RowsAffected > 0, nil
}
