package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/memory"
)

var freshnessCmd = &cobra.Command{
	Use:   "freshness",
	Short: "Scan code-pattern memories for staleness",
	Long: `Classifies every code-pattern memory against the repository state
mirrored into the discussions collection: blob-hash mismatches expire a
memory outright, commit counts since storage grade the rest from fresh
to expired. Statuses are written back onto the points and an audit line
is appended per scan.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report := newScanner().Scan(cmd.Context(), groupFlag)

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(report)
		}
		fmt.Printf("scanned %d memories\n", report.Scanned)
		for _, status := range []memory.FreshnessStatus{
			memory.FreshnessFresh, memory.FreshnessAging,
			memory.FreshnessStale, memory.FreshnessExpired,
			memory.FreshnessUnknown,
		} {
			if n := report.ByStatus[status]; n > 0 {
				fmt.Printf("  %-8s %d\n", status, n)
			}
		}
		activityLog.Record("FRESHNESS", fmt.Sprintf("scanned %d memories", report.Scanned))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(freshnessCmd)
}
