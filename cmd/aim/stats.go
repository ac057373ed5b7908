package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

var statsGroupOnly bool

type collectionStats struct {
	Collection string `json:"collection"`
	Points     int    `json:"points"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-collection memory counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		vs := newVectorStore()

		var filter *vectorstore.Filter
		if statsGroupOnly {
			filter = &vectorstore.Filter{Must: []vectorstore.Condition{
				vectorstore.MatchValue("group_id", resolveGroup()),
			}}
		}

		var out []collectionStats
		total := 0
		for _, coll := range memory.Collections {
			n, err := vs.Count(cmd.Context(), string(coll), filter)
			if err != nil {
				return err
			}
			out = append(out, collectionStats{Collection: string(coll), Points: n})
			total += n
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(out)
		}
		for _, cs := range out {
			fmt.Printf("%-15s %d\n", cs.Collection, cs.Points)
		}
		fmt.Printf("%-15s %d\n", "total", total)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsGroupOnly, "project", false, "Count only this project's memories")
	rootCmd.AddCommand(statsCmd)
}
