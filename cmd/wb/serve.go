package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/waybill/waybill/internal/config"
	"github.com/waybill/waybill/internal/db"
	"github.com/waybill/waybill/internal/extract"
	"github.com/waybill/waybill/internal/intake"
	discordadapter "github.com/waybill/waybill/internal/intake/discord"
	slackadapter "github.com/waybill/waybill/internal/intake/slack"
	"github.com/waybill/waybill/internal/sweep"
	githubticket "github.com/waybill/waybill/internal/ticket/github"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Waybill intake daemon",
		Long:  "Connects to the configured chat platform, interviews requesters in threads, and files completed requests as tickets.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	extractor, err := extract.New(extract.ClientOpts{
		BaseURL: cfg.Extractor.BaseURL,
		Timeout: time.Duration(cfg.Extractor.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	token, err := cfg.GitHubToken()
	if err != nil {
		return err
	}
	ticketer, err := githubticket.New(githubticket.TicketerOpts{
		Token:   token,
		Owner:   cfg.GitHub.Owner,
		Repo:    cfg.GitHub.Repo,
		BaseURL: cfg.GitHub.BaseURL,
	})
	if err != nil {
		return err
	}

	daemon, err := intake.NewDaemon(intake.DaemonOpts{
		DB:        gormDB,
		Config:    cfg,
		Adapter:   adapter,
		Extractor: extractor,
		Ticketer:  ticketer,
		Out:       cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if cfg.Intake.IdleReminder.Enabled {
		sweeper, err := sweep.New(sweep.SweeperOpts{
			DB:        gormDB,
			Adapter:   adapter,
			Cron:      cfg.Intake.IdleReminder.Cron,
			IdleAfter: time.Duration(cfg.Intake.IdleReminder.IdleHours) * time.Hour,
			Out:       cmd.OutOrStdout(),
		})
		if err != nil {
			return err
		}
		go sweeper.Run(ctx)
	}

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (intake.Adapter, error) {
	switch cfg.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Slack.AppToken,
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.Slack.Channel,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Discord.BotToken,
			ChannelID: cfg.Discord.Channel,
		})
	default:
		return nil, fmt.Errorf("serve: unsupported platform %q", cfg.Platform)
	}
}

// openDatabase connects to the session store named by the config.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DB.Driver {
	case "sqlite":
		gormDB, err := db.ConnectSQLite(cfg.DB.Path)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", cfg.DB.Path, err)
		}
		return gormDB, nil
	case "mysql":
		gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
		}
		return gormDB, nil
	default:
		return nil, fmt.Errorf("serve: unsupported db driver %q", cfg.DB.Driver)
	}
}

// connectFromConfig loads config and returns a GORM DB connection.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}

	return cfg, gormDB, nil
}
