package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/search"
)

var (
	searchCollection string
	searchTypes      []string
	searchLimit      int
	searchThreshold  float64
	searchFast       bool
	searchNoGroup    bool
	searchCascade    bool
	searchTiered     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored memories",
	Long: `Runs a hybrid semantic + time-decay search against one collection,
or cascades across code-patterns, conventions, and discussions with
--cascade. Results are project-scoped unless --no-group is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		s := newSearcher()

		var types []memory.Type
		for _, t := range searchTypes {
			types = append(types, memory.Type(t))
		}

		var results []search.Result
		var err error
		if searchCascade {
			results, err = s.CascadingSearch(cmd.Context(), query,
				memory.CollectionCodePatterns,
				[]memory.Collection{memory.CollectionConventions, memory.CollectionDiscussions},
				resolveGroup(), searchLimit, types, searchFast)
		} else {
			p := search.Params{
				Query:         query,
				Collection:    memory.Collection(searchCollection),
				GroupID:       groupFlag,
				NoGroupFilter: searchNoGroup,
				Limit:         searchLimit,
				Types:         types,
				FastMode:      searchFast,
			}
			// The flag default is negative so an explicit --threshold 0
			// (no floor) is distinguishable from "not given".
			if searchThreshold >= 0 {
				p.ScoreThreshold = &searchThreshold
			}
			results, err = s.Search(cmd.Context(), p)
		}
		if err != nil {
			return err
		}

		activityLog.Record("RETRIEVE", fmt.Sprintf("%q -> %d results", query, len(results)))
		return printResults(results)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchCollection, "collection", string(memory.CollectionDiscussions), "Collection to search")
	searchCmd.Flags().StringSliceVar(&searchTypes, "types", nil, "Restrict to memory types")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Max results (default from config)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", -1, "Minimum similarity score, 0 disables the floor (default from config)")
	searchCmd.Flags().BoolVar(&searchFast, "fast", false, "Trade recall for latency")
	searchCmd.Flags().BoolVar(&searchNoGroup, "no-group", false, "Search across all projects")
	searchCmd.Flags().BoolVar(&searchCascade, "cascade", false, "Cascade across code-patterns, conventions, discussions")
	searchCmd.Flags().BoolVar(&searchTiered, "tiered", false, "Render as a tiered context block")

	rootCmd.AddCommand(searchCmd)
}

func printResults(results []search.Result) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	if searchTiered {
		if out := search.FormatTiered(results); out != "" {
			fmt.Println(out)
		}
		return nil
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, r := range results {
		content := r.Content
		if runes := []rune(content); len(runes) > 160 {
			content = string(runes[:160]) + "..."
		}
		fmt.Printf("%.2f  %-16s %-15s %s\n", r.Score, r.Type, r.Collection, content)
	}
	return nil
}
