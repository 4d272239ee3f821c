// Package config provides YAML-based configuration loading for Waybill.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Waybill configuration, loaded from config.yaml.
type Config struct {
	Platform  string          `yaml:"platform"` // "slack" or "discord"
	Slack     SlackConfig     `yaml:"slack"`
	Discord   DiscordConfig   `yaml:"discord"`
	DB        DBConfig        `yaml:"db"`
	GitHub    GitHubConfig    `yaml:"github"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Intake    IntakeConfig    `yaml:"intake"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"` // xapp-...
	BotToken string `yaml:"bot_token"` // xoxb-...
	Channel  string `yaml:"channel"`   // default channel for posts
}

// DiscordConfig holds Discord Gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DBConfig holds connection settings for the session store. The mysql
// driver is the multi-instance production path; sqlite is for single-node
// deployments and development.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite file path
}

// GitHubConfig holds settings for the GitHub-Issues ticket backend.
type GitHubConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"` // read token from file if Token is empty
	Owner     string `yaml:"owner"`
	Repo      string `yaml:"repo"`
	BaseURL   string `yaml:"base_url"` // GitHub Enterprise base URL (optional)
}

// ExtractorConfig points at the external field-extraction service.
type ExtractorConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// FieldSpec is one required intake field and the question that asks for it.
type FieldSpec struct {
	Key      string `yaml:"key"`
	Question string `yaml:"question"`
}

// IntakeConfig tunes the session state machine.
type IntakeConfig struct {
	Fields              []FieldSpec        `yaml:"fields"`
	DebounceMs          int                `yaml:"debounce_ms"`
	SubstantiveMinRunes int                `yaml:"substantive_min_runes"`
	MinThreadAgeSec     int                `yaml:"min_thread_age_sec"`
	HistoryLimit        int                `yaml:"history_limit"`
	ReviewChannel       string             `yaml:"review_channel"`
	FallbackChannel     string             `yaml:"fallback_channel"` // human help channel named in apologies
	IdleReminder        IdleReminderConfig `yaml:"idle_reminder"`
}

// IdleReminderConfig schedules the idle-session reminder sweep.
type IdleReminderConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"` // 5-field cron expression
	IdleHours int    `yaml:"idle_hours"`
}

// DashboardConfig configures the read-only HTTP dashboard.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// DefaultFields is the intake field set used when the config names none.
var DefaultFields = []FieldSpec{
	{Key: "summary", Question: "What do you need, in one or two sentences?"},
	{Key: "motivation", Question: "Why is this needed — what happens without it?"},
	{Key: "audience", Question: "Who is this for?"},
	{Key: "due_date", Question: "When do you need it by?"},
	{Key: "links", Question: "Any relevant links or prior work?"},
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "slack"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.DB.Database == "" {
		c.DB.Database = "waybill"
	}
	if c.DB.Path == "" {
		c.DB.Path = "waybill.db"
	}
	if c.Extractor.TimeoutSec == 0 {
		c.Extractor.TimeoutSec = 30
	}
	if len(c.Intake.Fields) == 0 {
		c.Intake.Fields = DefaultFields
	}
	if c.Intake.DebounceMs == 0 {
		c.Intake.DebounceMs = 800
	}
	if c.Intake.SubstantiveMinRunes == 0 {
		c.Intake.SubstantiveMinRunes = 20
	}
	if c.Intake.MinThreadAgeSec == 0 {
		c.Intake.MinThreadAgeSec = 120
	}
	if c.Intake.HistoryLimit == 0 {
		c.Intake.HistoryLimit = 100
	}
	if c.Intake.IdleReminder.Cron == "" {
		c.Intake.IdleReminder.Cron = "0 * * * *"
	}
	if c.Intake.IdleReminder.IdleHours == 0 {
		c.Intake.IdleReminder.IdleHours = 24
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "slack":
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("platform must be slack or discord, got %q", c.Platform))
	}
	switch c.DB.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("db.driver must be mysql or sqlite, got %q", c.DB.Driver))
	}
	if c.Extractor.BaseURL == "" {
		errs = append(errs, "extractor.base_url is required")
	}
	for i, f := range c.Intake.Fields {
		if f.Key == "" {
			errs = append(errs, fmt.Sprintf("intake.fields[%d].key is required", i))
		}
		if f.Question == "" {
			errs = append(errs, fmt.Sprintf("intake.fields[%d].question is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GitHubToken resolves the GitHub token, preferring the inline value and
// falling back to TokenFile.
func (c *Config) GitHubToken() (string, error) {
	if c.GitHub.Token != "" {
		return c.GitHub.Token, nil
	}
	if c.GitHub.TokenFile == "" {
		return "", fmt.Errorf("config: no github token or token_file configured")
	}
	data, err := os.ReadFile(c.GitHub.TokenFile)
	if err != nil {
		return "", fmt.Errorf("config: read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
