// Package commands provides the CLI commands for roomsync.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coderoom-dev/roomsync/internal/channel"
	"github.com/coderoom-dev/roomsync/internal/config"
	"github.com/coderoom-dev/roomsync/internal/event"
	"github.com/coderoom-dev/roomsync/internal/logging"
	"github.com/coderoom-dev/roomsync/internal/session"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	flagServerURL string
	flagUserID    string
	flagLogLevel  string
	flagPretty    bool
	flagDir       string
)

var rootCmd = &cobra.Command{
	Use:   "roomsync",
	Short: "roomsync - real-time room synchronization client",
	Long: `roomsync keeps a local replica of a collaborative coding room in
sync with its server: the file tree, who is present, and the shared
documents being edited.

Run 'roomsync join <room-id>' to join a room, or 'roomsync create
<name>' to create one.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "Collaboration server URL")
	rootCmd.PersistentFlags().StringVar(&flagUserID, "user", "", "Local user id")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&flagPretty, "pretty", false, "Human-readable log output")
	rootCmd.PersistentFlags().StringVar(&flagDir, "directory", "", "Project directory for config discovery")

	rootCmd.SetVersionTemplate(fmt.Sprintf("roomsync %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getWorkDir returns the directory from flag or current directory.
func getWorkDir() (string, error) {
	if flagDir != "" {
		return flagDir, nil
	}
	return os.Getwd()
}

// loadConfig loads layered configuration and applies flag overrides,
// which outrank every file and environment source.
func loadConfig() (*config.Config, error) {
	workDir, err := getWorkDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}
	if flagServerURL != "" {
		cfg.ServerURL = flagServerURL
	}
	if flagUserID != "" {
		cfg.UserID = flagUserID
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagPretty {
		cfg.Pretty = true
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("no user id configured; set --user, ROOMSYNC_USER_ID or userId in roomsync.json")
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: cfg.Pretty,
	})
	return cfg, nil
}

// buildSession assembles the channel, bus and session from config.
func buildSession(cfg *config.Config) *session.Session {
	chCfg := channel.DefaultConfig(cfg.ServerURL)
	if d := cfg.ReconnectInitialInterval.Std(); d > 0 {
		chCfg.ReconnectInitialInterval = d
	}
	if d := cfg.ReconnectMaxInterval.Std(); d > 0 {
		chCfg.ReconnectMaxInterval = d
	}

	return session.New(channel.New(chCfg), event.NewBus(), session.Config{
		UserID:            cfg.UserID,
		UserName:          cfg.UserName,
		UserEmail:         cfg.UserEmail,
		DocSyncTimeout:    cfg.DocSyncTimeout.Std(),
		RoomCreateTimeout: cfg.RoomCreateTimeout.Std(),
	})
}
