package models

import "time"

// Session statuses. Gathering and confirming are live dialog states;
// pending_approval and complete accept only post-submission actions;
// cancelled and withdrawn are terminal for all input.
const (
	StatusGathering       = "gathering"
	StatusConfirming      = "confirming"
	StatusPendingApproval = "pending_approval"
	StatusComplete        = "complete"
	StatusCancelled       = "cancelled"
	StatusWithdrawn       = "withdrawn"
)

// Request classifications, decided once gathering completes.
const (
	ClassUndetermined = "undetermined"
	ClassQuick        = "quick"
	ClassFull         = "full"
)

// IntakeSession is the persisted record of one user's intake dialog in one
// chat thread. Sessions are never hard-deleted; terminal rows are retained
// for audit and post-submission interaction. At most one non-terminal
// session exists per (UserID, ThreadID) — enforced by the creation path,
// not by a unique index, because terminal rows share the same pair.
type IntakeSession struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Platform  string `gorm:"size:16;not null"` // "slack" or "discord"
	UserID    string `gorm:"size:64;not null;index:idx_user_thread"`
	ThreadID  string `gorm:"size:128;not null;index:idx_user_thread"`
	ChannelID string `gorm:"size:128;not null"`
	UserName  string `gorm:"size:64"`
	UserTitle string `gorm:"size:128"`

	Status      string `gorm:"size:20;default:gathering;index"`
	CurrentStep string `gorm:"size:160"` // field key, "", or a namespaced sub-flow marker

	Fields         string `gorm:"type:json"` // collected field values, keyed by field key
	SideChannel    string `gorm:"type:json"` // protocol state ("__" keys) and domain extras
	Classification string `gorm:"size:16;default:undetermined"`
	FollowUps      string `gorm:"type:json"` // persisted follow-up question sequence
	FollowUpIndex  int

	TicketID        string `gorm:"size:64"`
	TicketURL       string `gorm:"size:256"`
	ReviewChannelID string `gorm:"size:128"`
	ReviewMessageID string `gorm:"size:128"`

	LastActivity time.Time `gorm:"index"`
	RemindedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// Terminal reports whether the session no longer accepts dialog input as
// mutation. A new message in a thread whose latest session is terminal
// starts a brand-new session.
func (s *IntakeSession) Terminal() bool {
	return s.Status == StatusCancelled || s.Status == StatusWithdrawn
}

// Open reports whether the session is still in active dialog (gathering or
// confirming). Open sessions count for duplicate-session arbitration.
func (s *IntakeSession) Open() bool {
	return s.Status == StatusGathering || s.Status == StatusConfirming
}

// Submitted reports whether the session has been handed to the review
// pipeline. Submitted sessions accept post-submission actions only.
func (s *IntakeSession) Submitted() bool {
	return s.Status == StatusPendingApproval || s.Status == StatusComplete
}
