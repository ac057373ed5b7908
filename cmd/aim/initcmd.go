package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/vectorstore"
)

// payloadIndexes lists the indexes created on every collection. group_id
// is the tenant key; queries without it are rare.
var payloadIndexes = []struct {
	field  string
	schema vectorstore.IndexSchema
}{
	{"group_id", vectorstore.IndexSchema{Type: "keyword", IsTenant: true}},
	{"content_hash", vectorstore.IndexSchema{Type: "keyword"}},
	{"type", vectorstore.IndexSchema{Type: "keyword"}},
	{"session_id", vectorstore.IndexSchema{Type: "keyword"}},
	{"file_path", vectorstore.IndexSchema{Type: "keyword"}},
	{"stored_at", vectorstore.IndexSchema{Type: "datetime"}},
	{"timestamp", vectorstore.IndexSchema{Type: "datetime"}},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create collections and payload indexes",
	Long: `Creates the four memory collections sized to the configured
embedding dimension, plus the payload indexes retrieval and dedupe
depend on. Safe to re-run; existing collections are left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		vs := newVectorStore()
		dim := newEmbedder().Dimension()

		for _, coll := range memory.Collections {
			name := string(coll)
			exists, err := vs.CollectionExists(ctx, name)
			if err != nil {
				return err
			}
			if exists {
				fmt.Printf("%s: exists\n", name)
			} else {
				if err := vs.CreateCollection(ctx, name, dim); err != nil {
					return err
				}
				fmt.Printf("%s: created (dim %d)\n", name, dim)
			}

			for _, idx := range payloadIndexes {
				if err := vs.CreatePayloadIndex(ctx, name, idx.field, idx.schema); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
