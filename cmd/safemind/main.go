package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/safemind/internal/logging"
)

var (
	envFile  string
	logLevel string
	devLogs  bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "safemind",
	Short: "SafeMind incident triage and report submission service",
	Long: `SafeMind listens to a reporter in a private conversation, routes danger
to emergency contacts, and turns reportable incidents into signed reports
anchored on an append-only ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
		}
		level := logLevel
		if level == "" {
			level = os.Getenv("LOG_LEVEL")
		}
		var err error
		logger, err = logging.New(level, devLogs || os.Getenv("LOG_DEVELOPMENT") == "true")
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error); defaults to LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVar(&devLogs, "dev", false, "human-readable console logs")

	rootCmd.AddCommand(serveCmd, verifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
