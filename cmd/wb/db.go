package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/waybill/waybill/internal/config"
	"github.com/waybill/waybill/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBPruneCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Waybill database",
		Long:  "Creates the database if needed and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch cfg.DB.Driver {
	case "sqlite":
		sqliteDB, err := db.ConnectSQLite(cfg.DB.Path)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", cfg.DB.Path, err)
		}
		fmt.Fprintf(out, "Opened SQLite database %s\n", cfg.DB.Path)
		if err := db.AutoMigrate(sqliteDB); err != nil {
			return err
		}
	case "mysql":
		adminDB, err := db.ConnectAdmin(cfg.DB.Host, cfg.DB.Port, cfg.DB.User)
		if err != nil {
			return fmt.Errorf("connect to MySQL at %s:%d: %w", cfg.DB.Host, cfg.DB.Port, err)
		}
		fmt.Fprintf(out, "Connected to MySQL at %s:%d\n", cfg.DB.Host, cfg.DB.Port)

		if err := db.CreateDatabase(adminDB, cfg.DB.Database); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.DB.Database)

		mysqlDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Database)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
		}
		if err := db.AutoMigrate(mysqlDB); err != nil {
			return err
		}
	default:
		return fmt.Errorf("db: unsupported driver %q", cfg.DB.Driver)
	}

	models := db.AllModels()
	fmt.Fprintf(out, "Migrated %d tables\n", len(models))
	fmt.Fprintln(out, "\nWaybill database initialized successfully.")
	return nil
}

func newDBPruneCmd() *cobra.Command {
	var (
		configPath    string
		retentionDays int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old dedup ledger rows",
		Long:  "Deletes processed-message ledger rows older than the retention window. Sessions are never touched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBPrune(cmd, configPath, retentionDays)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 7, "delete ledger rows older than this many days")
	return cmd
}

func runDBPrune(cmd *cobra.Command, configPath string, retentionDays int) error {
	if retentionDays <= 0 {
		return fmt.Errorf("db: retention-days must be positive, got %d", retentionDays)
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	retention := time.Duration(retentionDays) * 24 * time.Hour
	pruned, err := db.PruneLedger(gormDB, retention)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d ledger rows older than %d days\n", pruned, retentionDays)
	return nil
}
