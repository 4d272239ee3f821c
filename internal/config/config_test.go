package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
platform: slack
slack:
  app_token: xapp-test
  bot_token: xoxb-test
extractor:
  base_url: http://localhost:9090
`

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Platform != "slack" {
		t.Errorf("Platform = %q, want slack", cfg.Platform)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Errorf("DB.Driver = %q, want sqlite default", cfg.DB.Driver)
	}
	if len(cfg.Intake.Fields) != len(DefaultFields) {
		t.Errorf("Fields = %d, want default set of %d", len(cfg.Intake.Fields), len(DefaultFields))
	}
	if cfg.Intake.DebounceMs != 800 {
		t.Errorf("DebounceMs = %d, want 800", cfg.Intake.DebounceMs)
	}
	if cfg.Intake.MinThreadAgeSec != 120 {
		t.Errorf("MinThreadAgeSec = %d, want 120", cfg.Intake.MinThreadAgeSec)
	}
}

func TestParse_MissingExtractor(t *testing.T) {
	yaml := `
platform: slack
slack:
  app_token: xapp-test
  bot_token: xoxb-test
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected validation error for missing extractor.base_url")
	}
	if !strings.Contains(err.Error(), "extractor.base_url") {
		t.Errorf("error = %q, want mention of extractor.base_url", err)
	}
}

func TestParse_BadPlatform(t *testing.T) {
	yaml := `
platform: irc
extractor:
  base_url: http://localhost:9090
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected validation error for bad platform")
	}
}

func TestParse_DiscordRequiresToken(t *testing.T) {
	yaml := `
platform: discord
extractor:
  base_url: http://localhost:9090
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "discord.bot_token") {
		t.Fatalf("error = %v, want discord.bot_token validation", err)
	}
}

func TestParse_CustomFields(t *testing.T) {
	yaml := minimalYAML + `
intake:
  fields:
    - key: title
      question: "What's the title?"
    - key: body
      question: "Describe it."
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Intake.Fields) != 2 {
		t.Fatalf("Fields = %d, want 2", len(cfg.Intake.Fields))
	}
	if cfg.Intake.Fields[0].Key != "title" {
		t.Errorf("Fields[0].Key = %q, want title", cfg.Intake.Fields[0].Key)
	}
}

func TestParse_FieldMissingQuestion(t *testing.T) {
	yaml := minimalYAML + `
intake:
  fields:
    - key: title
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected validation error for field without question")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGitHubToken_FromFile(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	if err := os.WriteFile(tokenPath, []byte("ghp_secret\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.GitHub.TokenFile = tokenPath

	tok, err := cfg.GitHubToken()
	if err != nil {
		t.Fatalf("GitHubToken: %v", err)
	}
	if tok != "ghp_secret" {
		t.Errorf("token = %q, want ghp_secret", tok)
	}
}

func TestGitHubToken_InlineWins(t *testing.T) {
	cfg, _ := Parse([]byte(minimalYAML))
	cfg.GitHub.Token = "inline"
	cfg.GitHub.TokenFile = "/nonexistent"
	tok, err := cfg.GitHubToken()
	if err != nil {
		t.Fatalf("GitHubToken: %v", err)
	}
	if tok != "inline" {
		t.Errorf("token = %q, want inline", tok)
	}
}
