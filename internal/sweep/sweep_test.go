package sweep

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/waybill/waybill/internal/intake"
	"github.com/waybill/waybill/internal/models"
)

func openSweepTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.IntakeSession{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestSweeper(t *testing.T) (*Sweeper, *intake.MockAdapter, *gorm.DB) {
	t.Helper()
	db := openSweepTestDB(t)
	adapter := intake.NewMockAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect mock: %v", err)
	}

	s, err := New(SweeperOpts{
		DB:        db,
		Adapter:   adapter,
		Cron:      "0 * * * *",
		IdleAfter: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	return s, adapter, db
}

func seedSession(t *testing.T, db *gorm.DB, status string, lastActivity time.Time, remindedAt *time.Time) *models.IntakeSession {
	t.Helper()
	sess := &models.IntakeSession{
		Platform:     "slack",
		UserID:       "U1",
		ThreadID:     "T1",
		ChannelID:    "C1",
		UserName:     "Alice",
		Status:       status,
		LastActivity: lastActivity,
		RemindedAt:   remindedAt,
	}
	if err := db.Create(sess).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sess
}

func TestNew_Validation(t *testing.T) {
	db := openSweepTestDB(t)
	adapter := intake.NewMockAdapter()

	if _, err := New(SweeperOpts{Adapter: adapter, IdleAfter: time.Hour}); err == nil {
		t.Error("expected error for missing db")
	}
	if _, err := New(SweeperOpts{DB: db, IdleAfter: time.Hour}); err == nil {
		t.Error("expected error for missing adapter")
	}
	if _, err := New(SweeperOpts{DB: db, Adapter: adapter}); err == nil {
		t.Error("expected error for zero idle threshold")
	}
}

func TestSweep_RemindsIdleSession(t *testing.T) {
	s, adapter, db := newTestSweeper(t)
	sess := seedSession(t, db, models.StatusGathering, time.Now().Add(-48*time.Hour), nil)

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("reminded = %d, want 1", n)
	}
	if adapter.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1", adapter.SentCount())
	}
	sent, _ := adapter.LastSent()
	if sent.ChannelID != "C1" || sent.ThreadID != "T1" {
		t.Errorf("reminder sent to %s/%s, want C1/T1", sent.ChannelID, sent.ThreadID)
	}
	if !strings.Contains(sent.Text, "still open") {
		t.Errorf("reminder text = %q", sent.Text)
	}

	var reloaded models.IntakeSession
	if err := db.First(&reloaded, sess.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RemindedAt == nil {
		t.Error("expected RemindedAt to be set")
	}
}

func TestSweep_SkipsActiveSession(t *testing.T) {
	s, adapter, db := newTestSweeper(t)
	seedSession(t, db, models.StatusGathering, time.Now().Add(-time.Hour), nil)

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("reminded = %d, want 0", n)
	}
	if adapter.SentCount() != 0 {
		t.Errorf("sent = %d, want 0", adapter.SentCount())
	}
}

func TestSweep_SkipsTerminalAndSubmittedSessions(t *testing.T) {
	s, adapter, db := newTestSweeper(t)
	old := time.Now().Add(-48 * time.Hour)
	for _, status := range []string{
		models.StatusCancelled,
		models.StatusWithdrawn,
		models.StatusPendingApproval,
		models.StatusComplete,
	} {
		seedSession(t, db, status, old, nil)
	}

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("reminded = %d, want 0", n)
	}
	if adapter.SentCount() != 0 {
		t.Errorf("sent = %d, want 0", adapter.SentCount())
	}
}

func TestSweep_DoesNotRemindTwice(t *testing.T) {
	s, adapter, db := newTestSweeper(t)
	seedSession(t, db, models.StatusConfirming, time.Now().Add(-48*time.Hour), nil)

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep reminded = %d, want 0", n)
	}
	if adapter.SentCount() != 1 {
		t.Errorf("sent = %d, want 1", adapter.SentCount())
	}
}

func TestSweep_RemindsAgainAfterNewActivity(t *testing.T) {
	s, adapter, db := newTestSweeper(t)
	earlier := time.Now().Add(-72 * time.Hour)
	sess := seedSession(t, db, models.StatusGathering, earlier, &earlier)

	// The requester spoke after the last reminder, then went quiet again.
	bumped := time.Now().Add(-30 * time.Hour)
	if err := db.Model(sess).Update("last_activity", bumped).Error; err != nil {
		t.Fatalf("bump activity: %v", err)
	}

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("reminded = %d, want 1", n)
	}
	if adapter.SentCount() != 1 {
		t.Errorf("sent = %d, want 1", adapter.SentCount())
	}
}

func TestSweep_SendFailureLeavesSessionEligible(t *testing.T) {
	s, adapter, db := newTestSweeper(t)
	sess := seedSession(t, db, models.StatusGathering, time.Now().Add(-48*time.Hour), nil)

	adapter.Close()

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("reminded = %d, want 0 on send failure", n)
	}

	var reloaded models.IntakeSession
	if err := db.First(&reloaded, sess.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RemindedAt != nil {
		t.Error("RemindedAt should stay nil when the reminder was never sent")
	}
}

func TestNextCronDuration_ValidExpression(t *testing.T) {
	// "0 9 * * *" = daily at 09:00. Duration should be positive and < 24h.
	d := nextCronDuration("0 9 * * *")
	if d <= 0 {
		t.Fatalf("expected positive duration, got %v", d)
	}
	if d > 24*time.Hour {
		t.Fatalf("expected duration < 24h, got %v", d)
	}
}

func TestNextCronDuration_InvalidExpression(t *testing.T) {
	d := nextCronDuration("not a cron expr")
	if d != 0 {
		t.Fatalf("expected 0 for invalid expression, got %v", d)
	}
}
