package dashboard

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/waybill/waybill/internal/models"
)

// SessionRow holds session data for the list view.
type SessionRow struct {
	ID             uint      `json:"id"`
	Platform       string    `json:"platform"`
	UserName       string    `json:"user_name"`
	ThreadID       string    `json:"thread_id"`
	Status         string    `json:"status"`
	Classification string    `json:"classification"`
	CurrentStep    string    `json:"current_step,omitempty"`
	TicketID       string    `json:"ticket_id,omitempty"`
	LastActivity   time.Time `json:"last_activity"`
	CreatedAt      time.Time `json:"created_at"`
}

// SessionListResult holds the session list plus distinct values for filters.
type SessionListResult struct {
	Sessions []SessionRow `json:"sessions"`
	Statuses []string     `json:"statuses"`
}

// SessionList returns sessions matching the filters, newest first.
func SessionList(db *gorm.DB, status, user string) (SessionListResult, error) {
	q := db.Model(&models.IntakeSession{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if user != "" {
		q = q.Where("user_id = ? OR user_name = ?", user, user)
	}

	var sessions []models.IntakeSession
	if err := q.Order("last_activity DESC").Limit(200).Find(&sessions).Error; err != nil {
		return SessionListResult{}, err
	}

	rows := make([]SessionRow, len(sessions))
	for i := range sessions {
		rows[i] = sessionRow(&sessions[i])
	}

	var statuses []string
	if err := db.Model(&models.IntakeSession{}).
		Distinct("status").Order("status ASC").Pluck("status", &statuses).Error; err != nil {
		return SessionListResult{}, err
	}

	return SessionListResult{Sessions: rows, Statuses: statuses}, nil
}

func sessionRow(s *models.IntakeSession) SessionRow {
	return SessionRow{
		ID:             s.ID,
		Platform:       s.Platform,
		UserName:       s.UserName,
		ThreadID:       s.ThreadID,
		Status:         s.Status,
		Classification: s.Classification,
		CurrentStep:    s.CurrentStep,
		TicketID:       s.TicketID,
		LastActivity:   s.LastActivity,
		CreatedAt:      s.CreatedAt,
	}
}

// SessionDetail holds everything collected for one session.
type SessionDetail struct {
	SessionRow
	ChannelID   string              `json:"channel_id"`
	UserTitle   string              `json:"user_title,omitempty"`
	Fields      map[string][]string `json:"fields,omitempty"`
	Extras      map[string]string   `json:"extras,omitempty"`
	FollowUps   json.RawMessage     `json:"follow_ups,omitempty"`
	TicketURL   string              `json:"ticket_url,omitempty"`
	RemindedAt  *time.Time          `json:"reminded_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// SessionDetailByID loads one session with its decoded field values.
// Returns gorm.ErrRecordNotFound when the id is unknown.
func SessionDetailByID(db *gorm.DB, id uint) (SessionDetail, error) {
	var sess models.IntakeSession
	if err := db.First(&sess, id).Error; err != nil {
		return SessionDetail{}, err
	}

	detail := SessionDetail{
		SessionRow:  sessionRow(&sess),
		ChannelID:   sess.ChannelID,
		UserTitle:   sess.UserTitle,
		TicketURL:   sess.TicketURL,
		RemindedAt:  sess.RemindedAt,
		CompletedAt: sess.CompletedAt,
	}

	// Stored JSON blobs decode leniently: a corrupt blob surfaces as an
	// absent section, not a 500.
	if sess.Fields != "" {
		var fields map[string][]string
		if err := json.Unmarshal([]byte(sess.Fields), &fields); err == nil {
			detail.Fields = fields
		}
	}
	if sess.SideChannel != "" {
		var side map[string]string
		if err := json.Unmarshal([]byte(sess.SideChannel), &side); err == nil {
			extras := make(map[string]string)
			for k, v := range side {
				if len(k) >= 2 && k[:2] == "__" {
					continue // protocol keys are internal
				}
				extras[k] = v
			}
			if len(extras) > 0 {
				detail.Extras = extras
			}
		}
	}
	if sess.FollowUps != "" {
		detail.FollowUps = json.RawMessage(sess.FollowUps)
	}

	return detail, nil
}

// Stats holds aggregate counts for the overview endpoint.
type Stats struct {
	ByStatus       map[string]int64 `json:"by_status"`
	OpenSessions   int64            `json:"open_sessions"`
	SubmittedToday int64            `json:"submitted_today"`
	LedgerSize     int64            `json:"ledger_size"`
}

// Overview computes aggregate session counts.
func Overview(db *gorm.DB) (Stats, error) {
	stats := Stats{ByStatus: make(map[string]int64)}

	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := db.Model(&models.IntakeSession{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		return Stats{}, err
	}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.Count
		if r.Status == models.StatusGathering || r.Status == models.StatusConfirming {
			stats.OpenSessions += r.Count
		}
	}

	midnight := time.Now().Truncate(24 * time.Hour)
	if err := db.Model(&models.IntakeSession{}).
		Where("status IN ? AND completed_at >= ?",
			[]string{models.StatusPendingApproval, models.StatusComplete}, midnight).
		Count(&stats.SubmittedToday).Error; err != nil {
		return Stats{}, err
	}

	if err := db.Model(&models.ProcessedMessage{}).Count(&stats.LedgerSize).Error; err != nil {
		return Stats{}, err
	}

	return stats, nil
}
