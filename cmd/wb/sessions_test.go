package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/waybill/waybill/internal/config"
	"github.com/waybill/waybill/internal/db"
	"github.com/waybill/waybill/internal/models"
)

// seedSessionStore initializes the SQLite store from the config and inserts
// a couple of sessions to list.
func seedSessionStore(t *testing.T, cfgPath string) {
	t.Helper()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.ConnectSQLite(cfg.DB.Path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	sessions := []models.IntakeSession{
		{
			Platform: "slack", UserID: "U1", ThreadID: "111.0", ChannelID: "C_INTAKE",
			UserName: "Alice", Status: models.StatusGathering, CurrentStep: "motivation",
			Fields:         `{"summary":["Need a dashboard"]}`,
			Classification: models.ClassUndetermined, LastActivity: now,
		},
		{
			Platform: "slack", UserID: "U2", ThreadID: "222.0", ChannelID: "C_INTAKE",
			UserName: "Bob", Status: models.StatusPendingApproval,
			Classification: models.ClassFull, TicketID: "42",
			TicketURL: "https://github.com/acme/requests/issues/42",
			LastActivity: now.Add(-time.Hour), CompletedAt: &now,
		},
	}
	for i := range sessions {
		if err := gormDB.Create(&sessions[i]).Error; err != nil {
			t.Fatal(err)
		}
	}
}

func TestSessionsListCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedSessionStore(t, cfgPath)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sessions", "list", "--config", cfgPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("sessions list failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Alice") {
		t.Errorf("expected Alice in output, got: %s", out)
	}
	if !strings.Contains(out, "Bob") {
		t.Errorf("expected Bob in output, got: %s", out)
	}
	if !strings.Contains(out, "pending_approval") {
		t.Errorf("expected status column in output, got: %s", out)
	}
}

func TestSessionsListCmd_StatusFilter(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedSessionStore(t, cfgPath)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sessions", "list", "--config", cfgPath, "--status", "gathering"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("sessions list failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Alice") {
		t.Errorf("expected Alice in output, got: %s", out)
	}
	if strings.Contains(out, "Bob") {
		t.Errorf("did not expect Bob with status filter, got: %s", out)
	}
}

func TestSessionsListCmd_Empty(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedSessionStore(t, cfgPath)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sessions", "list", "--config", cfgPath, "--status", "withdrawn"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("sessions list failed: %v", err)
	}

	if !strings.Contains(buf.String(), "No sessions found.") {
		t.Errorf("expected empty message, got: %s", buf.String())
	}
}

func TestSessionsShowCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedSessionStore(t, cfgPath)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sessions", "show", "1", "--config", cfgPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("sessions show failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Requester:      Alice") {
		t.Errorf("expected requester line, got: %s", out)
	}
	if !strings.Contains(out, "Current step:   motivation") {
		t.Errorf("expected current step line, got: %s", out)
	}
	if !strings.Contains(out, "Need a dashboard") {
		t.Errorf("expected gathered field value, got: %s", out)
	}
}

func TestSessionsShowCmd_InvalidID(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sessions", "show", "abc"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for non-numeric id")
	}
	if !strings.Contains(err.Error(), "invalid session id") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "invalid session id")
	}
}

func TestSessionsStatsCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedSessionStore(t, cfgPath)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sessions", "stats", "--config", cfgPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("sessions stats failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "gathering") {
		t.Errorf("expected gathering row, got: %s", out)
	}
	if !strings.Contains(out, "Open sessions:    1") {
		t.Errorf("expected open sessions line, got: %s", out)
	}
	if !strings.Contains(out, "Submitted today:  1") {
		t.Errorf("expected submitted today line, got: %s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q, want %q", got, "short")
	}
	if got := truncate("a very long requester name", 10); got != "a very ..." {
		t.Errorf("truncate = %q, want %q", got, "a very ...")
	}
}
