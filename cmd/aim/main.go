package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/activity"
	"github.com/aimemory/aimemory/internal/config"
	"github.com/aimemory/aimemory/internal/logging"
	"github.com/aimemory/aimemory/internal/telemetry"
)

// Version and Build are stamped at link time.
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	cfg         *config.Config
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	groupFlag   string

	activityLog *activity.Logger
)

var rootCmd = &cobra.Command{
	Use:   "aim",
	Short: "aim - persistent memory for coding agents",
	Long: `Captures, classifies, and retrieves semantic memories across
coding-agent sessions: code patterns, conventions, discussions, and
issue-tracker context, stored in a vector database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("aim version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		applyVerbosityFlags()
		logging.Setup(cfg.Log)
		activityLog = activity.New(cfg.ActivityLogFile())

		if err := telemetry.Init(context.Background(), "aimemory", Version); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

// applyVerbosityFlags lets --verbose / --quiet override the configured
// log level before the logger is installed.
func applyVerbosityFlags() {
	if verboseFlag {
		cfg.Log.Level = "debug"
	} else if quietFlag {
		cfg.Log.Level = "error"
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().StringVar(&groupFlag, "group", "", "Project group id (default: derived from the working directory)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
