package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/memory"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the health of every external dependency",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		failures := 0

		check := func(name string, ok bool, detail string) {
			mark := "ok"
			if !ok {
				mark = "FAIL"
				failures++
			}
			if detail != "" {
				fmt.Printf("%-22s %-4s %s\n", name, mark, detail)
			} else {
				fmt.Printf("%-22s %s\n", name, mark)
			}
		}

		emb := newEmbedder()
		check("embedding service", emb.HealthCheck(ctx),
			fmt.Sprintf("%s (%s, dim %d)", cfg.Embedding.URL, emb.Model(), emb.Dimension()))

		vs := newVectorStore()
		storeUp := vs.CheckHealth(ctx)
		check("vector store", storeUp,
			fmt.Sprintf("%s:%d", cfg.VectorStore.Host, cfg.VectorStore.Port))

		if storeUp {
			for _, coll := range memory.Collections {
				exists, err := vs.CollectionExists(ctx, string(coll))
				if err != nil {
					check("collection "+string(coll), false, err.Error())
					continue
				}
				if !exists {
					check("collection "+string(coll), false, "missing (run: aim init)")
					continue
				}
				n, err := vs.Count(ctx, string(coll), nil)
				if err != nil {
					check("collection "+string(coll), false, err.Error())
					continue
				}
				detail := fmt.Sprintf("%d points", n)
				if n >= cfg.CollectionCriticalSize {
					detail += " (critical size)"
				} else if n >= cfg.CollectionWarnSize {
					detail += " (large)"
				}
				check("collection "+string(coll), true, detail)
			}
		}

		q, err := openQueue()
		if err != nil {
			check("retry queue", false, err.Error())
		} else if stats, err := q.Stats(); err != nil {
			check("retry queue", false, err.Error())
		} else {
			detail := fmt.Sprintf("%d pending", stats.Total)
			if stats.Exhausted > 0 {
				detail += fmt.Sprintf(", %d exhausted", stats.Exhausted)
			}
			check("retry queue", stats.Exhausted == 0, detail)
		}

		if failures > 0 {
			return fmt.Errorf("%d checks failed", failures)
		}
		fmt.Println("\nall checks passed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
