package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/pipeline"
)

var (
	storeContent    string
	storeType       string
	storeCollection string
	storeSession    string
	storeHook       string
	storeTags       []string
	storeDomain     string
	storeImportance string
	storeJiraKey    string
	storeFilePath   string
	storeBlobHash   string
	storeBatch      bool
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store a memory",
	Long: `Stores one memory through the full pipeline: validation, exact-hash
dedupe, optional reclassification, embedding, and upsert. With --batch,
reads one JSON object per line from stdin and shares a single embedding
round-trip across the batch.

Content comes from --content, or from stdin when --content is "-" or
empty.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newPipeline()
		if err != nil {
			return err
		}
		if storeBatch {
			return runStoreBatch(cmd, p)
		}
		return runStoreOne(cmd, p)
	},
}

func init() {
	storeCmd.Flags().StringVarP(&storeContent, "content", "c", "", "Memory content (\"-\" or empty reads stdin)")
	storeCmd.Flags().StringVarP(&storeType, "type", "t", "", "Memory type (e.g. implementation, rule, decision)")
	storeCmd.Flags().StringVar(&storeCollection, "collection", "", "Target collection")
	storeCmd.Flags().StringVar(&storeSession, "session", "", "Session id")
	storeCmd.Flags().StringVar(&storeHook, "hook", string(memory.HookManual), "Source hook for attribution")
	storeCmd.Flags().StringSliceVar(&storeTags, "tags", nil, "Tags (comma-separated)")
	storeCmd.Flags().StringVar(&storeDomain, "domain", "", "Domain annotation")
	storeCmd.Flags().StringVar(&storeImportance, "importance", "", "Importance annotation")
	storeCmd.Flags().StringVar(&storeJiraKey, "jira-key", "", "Jira issue key (jira-data records)")
	storeCmd.Flags().StringVar(&storeFilePath, "file-path", "", "Source file path (code records)")
	storeCmd.Flags().StringVar(&storeBlobHash, "blob-hash", "", "Git blob hash (code records)")
	storeCmd.Flags().BoolVar(&storeBatch, "batch", false, "Read JSONL store requests from stdin")

	rootCmd.AddCommand(storeCmd)
}

func runStoreOne(cmd *cobra.Command, p *pipeline.Pipeline) error {
	content := storeContent
	if content == "" || content == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		content = strings.TrimSpace(string(data))
	}

	cwd, _ := os.Getwd()
	result, err := p.StoreMemory(cmd.Context(), pipeline.StoreRequest{
		Content:      content,
		CWD:          cwd,
		GroupID:      groupFlag,
		Type:         memory.Type(storeType),
		SourceHook:   memory.SourceHook(storeHook),
		SessionID:    storeSession,
		Collection:   memory.Collection(storeCollection),
		Domain:       storeDomain,
		Importance:   storeImportance,
		Tags:         storeTags,
		JiraIssueKey: storeJiraKey,
		BlobHash:     storeBlobHash,
		FilePath:     storeFilePath,
	})
	if err != nil {
		return err
	}

	activityLog.Record("STORE "+storeCollection, content)
	return printStoreResult(result)
}

// batchItem is one line of --batch input.
type batchItem struct {
	Content      string   `json:"content"`
	Type         string   `json:"type"`
	Collection   string   `json:"collection"`
	SessionID    string   `json:"session_id,omitempty"`
	SourceHook   string   `json:"source_hook,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Domain       string   `json:"domain,omitempty"`
	Importance   string   `json:"importance,omitempty"`
	JiraIssueKey string   `json:"jira_issue_key,omitempty"`
	BlobHash     string   `json:"blob_hash,omitempty"`
	FilePath     string   `json:"file_path,omitempty"`
}

func runStoreBatch(cmd *cobra.Command, p *pipeline.Pipeline) error {
	cwd, _ := os.Getwd()
	var reqs []pipeline.StoreRequest

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var item batchItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return fmt.Errorf("parse batch line %d: %w", len(reqs)+1, err)
		}
		hook := item.SourceHook
		if hook == "" {
			hook = string(memory.HookManual)
		}
		reqs = append(reqs, pipeline.StoreRequest{
			Content:      item.Content,
			CWD:          cwd,
			GroupID:      groupFlag,
			Type:         memory.Type(item.Type),
			SourceHook:   memory.SourceHook(hook),
			SessionID:    item.SessionID,
			Collection:   memory.Collection(item.Collection),
			Tags:         item.Tags,
			Domain:       item.Domain,
			Importance:   item.Importance,
			JiraIssueKey: item.JiraIssueKey,
			BlobHash:     item.BlobHash,
			FilePath:     item.FilePath,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(reqs) == 0 {
		return fmt.Errorf("no batch input on stdin")
	}

	outcomes := p.StoreBatch(cmd.Context(), reqs)
	activityLog.Record("STORE batch", fmt.Sprintf("%d records", len(reqs)))

	failures := 0
	for i, o := range outcomes {
		if o.Err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "record %d: %v\n", i+1, o.Err)
			continue
		}
		if err := printStoreResult(o.Result); err != nil {
			return err
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d records failed", failures, len(reqs))
	}
	return nil
}

func printStoreResult(r *pipeline.StoreResult) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(r)
	}
	switch r.Status {
	case pipeline.StatusStored:
		fmt.Printf("stored %s (embedding %s)\n", r.MemoryID, r.EmbeddingStatus)
	case pipeline.StatusDuplicate:
		fmt.Printf("duplicate of %s\n", r.MemoryID)
	case pipeline.StatusQueued:
		fmt.Println("vector store unavailable, queued for retry")
	}
	return nil
}
