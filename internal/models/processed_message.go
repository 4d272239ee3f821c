package models

import "time"

// ProcessedMessage is the dedup ledger: one row per distinct inbound message
// id, inserted before any side-effecting work begins. The primary key makes
// the insert an atomic claim across all running instances — whichever
// process wins the insert owns the message; everyone else skips it.
// Rows outlive sessions and are only removed by retention cleanup.
type ProcessedMessage struct {
	MessageID string    `gorm:"primaryKey;size:128"`
	ClaimedAt time.Time `gorm:"index"`
}
