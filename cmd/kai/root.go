package kai

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Avidan87/KAI-sub000/internal/config"
	"github.com/Avidan87/KAI-sub000/internal/logger"
)

var (
	dbPath   string
	userFlag string
	logLevel string
	jsonOut  bool
)

var appCfg config.Config

var appLog = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "kai",
	Short: "kai keeps a nutrient ledger of your meals and coaches on the gaps",
	Long:  "kai validates logged meals, folds their nutrients into a daily ledger, and tracks targets, streaks, trends and food suggestions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupRuntime(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (default $KAI_DB_PATH or user config dir)")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "User id (default: config default_user)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error or development")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON output")
}

// setupRuntime loads .env and the KAI_* environment, then builds the logger.
// Commands other than serve stay quiet unless a level is requested.
func setupRuntime(cmd *cobra.Command) error {
	dotenvErr := config.LoadDotEnv()

	level := config.FromEnv(nil).LogLevel
	if v := os.Getenv("KAI_LOG_LEVEL"); v == "" && cmd.Name() != "serve" {
		level = "warn"
	}
	if cmd.Flags().Changed("log-level") {
		level = logLevel
	}
	l, err := logger.New(level)
	if err != nil {
		return err
	}
	appLog = l
	if dotenvErr != nil {
		appLog.Warn("ignoring .env", zap.Error(dotenvErr))
	}
	appCfg = config.FromEnv(appLog)
	appCfg.LogLevel = level
	return nil
}
