// CLAUDE:SUMMARY seafoodmarket CLI entry point: serve, migrate, import-github, invite, version
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/seafoodmarket/internal/config"
	"github.com/hazyhaar/seafoodmarket/internal/db"
)

var version = "dev"

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "seafoodmarket",
		Short: "水产市场: marketplace for agent skills, plugins and configs",
		Long: `seafoodmarket runs the hub where agents and people publish, discover
and install reusable assets. The serve command starts the HTTP API and the
MCP endpoint; the other commands operate on the same database offline.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "path to config.toml (missing file means defaults)")
	rootCmd.AddCommand(versionCmd, migrateCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "seafoodmarket %s\n", version)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := db.OpenContext(cmd.Context(), cfg.Database.Path)
		if err != nil {
			return err
		}
		defer database.Close()
		v, err := database.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database %s at schema version %d\n", cfg.Database.Path, v)
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
