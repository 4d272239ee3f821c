package intake

import (
	"testing"
	"time"

	"github.com/waybill/waybill/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSessionTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.IntakeSession{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func sampleInbound() InboundMessage {
	return InboundMessage{
		Platform: "slack", MessageID: "m1", ChannelID: "C1",
		ThreadID: "T1", UserID: "U1", UserName: "pat",
		Timestamp: time.Now(),
	}
}

func TestSession_SaveLoadRoundTrip(t *testing.T) {
	db := openSessionTestDB(t)

	sess := NewSessionFor(sampleInbound(), "T1", UserProfile{DisplayName: "Pat", Title: "PM"})
	sess.Fields.Set("summary", "a landing page")
	sess.Side[sideLastQuestion] = "When do you need it by?"
	sess.Side["budget"] = "five thousand"
	sess.FollowUps = []FollowUp{{FieldKey: "budget", Question: "Any budget constraints?"}}
	sess.Rec.FollowUpIndex = 1
	sess.Rec.CurrentStep = stepDraftPrefix + draftPhaseStatus
	if err := sess.AppendDraftAsset(DraftAsset{Link: "https://d.example.com", Status: "ready"}); err != nil {
		t.Fatalf("AppendDraftAsset: %v", err)
	}
	if err := sess.Save(db); err != nil {
		t.Fatalf("Save: %v", err)
	}

	back, err := LatestSession(db, "U1", "T1")
	if err != nil {
		t.Fatalf("LatestSession: %v", err)
	}
	if back == nil {
		t.Fatal("session not found after save")
	}
	if back.Rec.UserName != "Pat" || back.Rec.UserTitle != "PM" {
		t.Fatalf("profile not persisted: %+v", back.Rec)
	}
	if got := back.Fields.Get("summary"); got != "a landing page" {
		t.Fatalf("summary = %q", got)
	}
	if back.Side["budget"] != "five thousand" {
		t.Fatalf("side channel = %v", back.Side)
	}
	if len(back.FollowUps) != 1 || back.Rec.FollowUpIndex != 1 {
		t.Fatalf("follow-ups = %v idx=%d", back.FollowUps, back.Rec.FollowUpIndex)
	}
	if !back.InStep(stepDraftPrefix) {
		t.Fatalf("step = %q", back.Rec.CurrentStep)
	}
	assets := back.DraftAssets()
	if len(assets) != 1 || assets[0].Link != "https://d.example.com" {
		t.Fatalf("draft assets = %v", assets)
	}
}

func TestSideChannel_ExtrasFiltersProtocolKeys(t *testing.T) {
	side := SideChannel{
		sideLastQuestion: "a question",
		sideRecovered:    "2026-01-01T00:00:00Z",
		"budget":         "five thousand",
		sideDiscussList:  "timeline",
	}
	extras := side.Extras()
	if len(extras) != 2 {
		t.Fatalf("extras = %v, want only bare keys", extras)
	}
	if extras["budget"] != "five thousand" || extras[sideDiscussList] != "timeline" {
		t.Fatalf("extras = %v", extras)
	}
}

func TestLatestSession_ReturnsNewestIncludingTerminal(t *testing.T) {
	db := openSessionTestDB(t)

	older := NewSessionFor(sampleInbound(), "T1", UserProfile{})
	if err := older.Save(db); err != nil {
		t.Fatalf("save older: %v", err)
	}
	older.Rec.Status = models.StatusCancelled
	if err := older.Save(db); err != nil {
		t.Fatalf("cancel older: %v", err)
	}

	newer := NewSessionFor(sampleInbound(), "T1", UserProfile{})
	if err := newer.Save(db); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	newer.Rec.Status = models.StatusCancelled
	if err := newer.Save(db); err != nil {
		t.Fatalf("cancel newer: %v", err)
	}

	got, err := LatestSession(db, "U1", "T1")
	if err != nil {
		t.Fatalf("LatestSession: %v", err)
	}
	if got.Rec.ID != newer.Rec.ID {
		t.Fatalf("got session %d, want newest %d", got.Rec.ID, newer.Rec.ID)
	}
	if !got.Rec.Terminal() {
		t.Fatal("terminal rows must be returned, not filtered")
	}
}

func TestLatestSession_NoRowIsNilNotError(t *testing.T) {
	db := openSessionTestDB(t)
	got, err := LatestSession(db, "U1", "T-none")
	if err != nil {
		t.Fatalf("LatestSession: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestOpenSessionElsewhere(t *testing.T) {
	db := openSessionTestDB(t)

	open := NewSessionFor(sampleInbound(), "T1", UserProfile{})
	if err := open.Save(db); err != nil {
		t.Fatalf("save: %v", err)
	}

	other, err := OpenSessionElsewhere(db, "U1", "T2")
	if err != nil {
		t.Fatalf("OpenSessionElsewhere: %v", err)
	}
	if other == nil || other.ID != open.Rec.ID {
		t.Fatalf("got %+v, want the T1 session", other)
	}

	// The same thread is not "elsewhere".
	other, err = OpenSessionElsewhere(db, "U1", "T1")
	if err != nil {
		t.Fatalf("OpenSessionElsewhere: %v", err)
	}
	if other != nil {
		t.Fatalf("got %+v, want nil for same thread", other)
	}

	// Submitted and terminal sessions do not count as open.
	open.Rec.Status = models.StatusPendingApproval
	if err := open.Save(db); err != nil {
		t.Fatalf("save: %v", err)
	}
	other, err = OpenSessionElsewhere(db, "U1", "T2")
	if err != nil {
		t.Fatalf("OpenSessionElsewhere: %v", err)
	}
	if other != nil {
		t.Fatalf("got %+v, want nil for submitted session", other)
	}
}

func TestCancelSessionByID_Idempotent(t *testing.T) {
	db := openSessionTestDB(t)

	sess := NewSessionFor(sampleInbound(), "T1", UserProfile{})
	if err := sess.Save(db); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := CancelSessionByID(db, sess.Rec.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := CancelSessionByID(db, sess.Rec.ID); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}

	back, err := SessionByID(db, sess.Rec.ID)
	if err != nil {
		t.Fatalf("SessionByID: %v", err)
	}
	if back.Rec.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", back.Rec.Status)
	}
}

func TestCancelSessionByID_NeverReopensSubmitted(t *testing.T) {
	db := openSessionTestDB(t)

	sess := NewSessionFor(sampleInbound(), "T1", UserProfile{})
	sess.Rec.Status = models.StatusPendingApproval
	if err := sess.Save(db); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := CancelSessionByID(db, sess.Rec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	back, err := SessionByID(db, sess.Rec.ID)
	if err != nil {
		t.Fatalf("SessionByID: %v", err)
	}
	if back.Rec.Status != models.StatusPendingApproval {
		t.Fatalf("status = %s, submitted sessions must not be cancelled by arbitration", back.Rec.Status)
	}
}

func TestFollowUpAnswered(t *testing.T) {
	sess := NewSessionFor(sampleInbound(), "T1", UserProfile{})
	sess.FollowUps = []FollowUp{
		{FieldKey: "budget", Question: "q1"},
		{FieldKey: "stakeholders", Question: "q2"},
		{FieldKey: "risks", Question: "q3"},
	}

	sess.Side["budget"] = "five thousand"
	sess.Fields.Set("stakeholders", "the VP")

	if !sess.FollowUpAnswered(0) {
		t.Fatal("side-channel answer not detected")
	}
	if !sess.FollowUpAnswered(1) {
		t.Fatal("field pre-answer not detected")
	}
	if sess.FollowUpAnswered(2) {
		t.Fatal("unanswered question reported answered")
	}
	if sess.FollowUpAnswered(7) {
		t.Fatal("out-of-range index reported answered")
	}
}
