package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/memory"
)

var (
	backfillCollection string
	backfillBatch      int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-embed records stored with a pending zero vector",
	Long: `Finds records whose embedding_status is pending (stored while the
embedding service was down), embeds them in batches, and rewrites them
with real vectors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newPipeline()
		if err != nil {
			return err
		}

		collections := memory.Collections
		if backfillCollection != "all" {
			c := memory.Collection(backfillCollection)
			if !memory.KnownCollection(c) {
				return fmt.Errorf("unknown collection %q", backfillCollection)
			}
			collections = []memory.Collection{c}
		}

		total := 0
		for _, coll := range collections {
			n, err := p.BackfillPending(cmd.Context(), coll, backfillBatch)
			if err != nil {
				return fmt.Errorf("backfill %s: %w", coll, err)
			}
			if n > 0 {
				fmt.Printf("%s: re-embedded %d records\n", coll, n)
			}
			total += n
		}
		if total == 0 {
			fmt.Println("nothing pending")
		} else {
			activityLog.Record("BACKFILL", fmt.Sprintf("re-embedded %d records", total))
		}
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillCollection, "collection", "all", "Collection to backfill, or \"all\"")
	backfillCmd.Flags().IntVar(&backfillBatch, "batch", 0, "Embedding batch size (default from pipeline)")
	rootCmd.AddCommand(backfillCmd)
}
