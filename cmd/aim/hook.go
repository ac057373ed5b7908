package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/config"
	"github.com/aimemory/aimemory/internal/filter"
	"github.com/aimemory/aimemory/internal/graceful"
	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/pipeline"
	"github.com/aimemory/aimemory/internal/search"
	"github.com/aimemory/aimemory/internal/telemetry"
)

// hookTimeout bounds every hook invocation; the agent is waiting.
const hookTimeout = 10 * time.Second

const maxCapturedResponseChars = 10_000

// hookInput is the JSON the agent writes to a hook's stdin.
type hookInput struct {
	SessionID  string `json:"session_id"`
	CWD        string `json:"cwd"`
	Prompt     string `json:"prompt,omitempty"`
	Response   string `json:"response,omitempty"`
	TurnNumber int    `json:"turn_number,omitempty"`
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Agent hook entrypoints (read JSON from stdin)",
	Long: `Hook entrypoints invoked by the coding agent. Each reads a JSON
event from stdin, never blocks the agent, and exits 0 or 1 (non-blocking)
regardless of what fails downstream.`,
}

var hookUserPromptCmd = &cobra.Command{
	Use:   "user-prompt-submit",
	Short: "Capture the prompt and inject relevant memories",
	Run: func(cmd *cobra.Command, args []string) {
		runHook("user-prompt-submit", hookUserPromptSubmit)
	},
}

var hookStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Capture the agent's response",
	Run: func(cmd *cobra.Command, args []string) {
		runHook("stop", hookStop)
	},
}

var hookSessionStartCmd = &cobra.Command{
	Use:   "session-start",
	Short: "Inject best practices and drain any queued memories",
	Run: func(cmd *cobra.Command, args []string) {
		runHook("session-start", hookSessionStart)
	},
}

func init() {
	hookCmd.AddCommand(hookUserPromptCmd, hookStopCmd, hookSessionStartCmd)
	rootCmd.AddCommand(hookCmd)
}

// runHook adapts a hook body to the graceful runtime and exits the
// process with the resulting code. Exit 0 falls through so cobra's
// post-run teardown still happens.
func runHook(name string, fn func(ctx context.Context, in hookInput) error) {
	code := graceful.RunWithTimeout(name, hookTimeout, func(ctx context.Context) error {
		var in hookInput
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read hook input: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("parse hook input: %w", err)
			}
		}
		return fn(ctx, in)
	})
	if code != graceful.ExitOK {
		telemetry.Shutdown(context.Background())
		os.Exit(code)
	}
}

func hookUserPromptSubmit(ctx context.Context, in hookInput) error {
	if in.Prompt == "" || config.ProjectFor(in.CWD).DisableCapture {
		return nil
	}

	p, _, err := newPipeline()
	if err != nil {
		return err
	}
	if _, err := p.StoreMemory(ctx, pipeline.StoreRequest{
		Content:    filter.CleanConversation(in.Prompt),
		CWD:        in.CWD,
		Type:       memory.TypeUserMessage,
		SourceHook: memory.HookUserPromptSubmit,
		SessionID:  in.SessionID,
		Collection: memory.CollectionDiscussions,
		TurnNumber: in.TurnNumber,
	}); err != nil {
		return err
	}
	activityLog.Record("CAPTURE user_message", in.Prompt)

	// Retrieval degrades independently of capture: the prompt is already
	// durable, a failed search just injects nothing.
	results, err := newSearcher().CascadingSearch(ctx, in.Prompt,
		memory.CollectionCodePatterns,
		[]memory.Collection{memory.CollectionConventions, memory.CollectionDiscussions},
		groupFor(in.CWD), 0, nil, true)
	if err != nil {
		return err
	}
	if block := search.FormatTiered(results); block != "" {
		fmt.Println(block)
		activityLog.Record("INJECT", fmt.Sprintf("%d memories", len(results)))
	}
	return nil
}

func hookStop(ctx context.Context, in hookInput) error {
	if in.Response == "" || config.ProjectFor(in.CWD).DisableCapture {
		return nil
	}

	p, _, err := newPipeline()
	if err != nil {
		return err
	}
	content := filter.SmartTruncate(filter.CleanConversation(in.Response), maxCapturedResponseChars)
	if _, err := p.StoreMemory(ctx, pipeline.StoreRequest{
		Content:    content,
		CWD:        in.CWD,
		Type:       memory.TypeAgentResponse,
		SourceHook: memory.HookStop,
		SessionID:  in.SessionID,
		Collection: memory.CollectionDiscussions,
		TurnNumber: in.TurnNumber,
	}); err != nil {
		return err
	}
	activityLog.Record("CAPTURE agent_response", content)
	return nil
}

func hookSessionStart(ctx context.Context, in hookInput) error {
	practices, err := newSearcher().RetrieveBestPractices(ctx, "coding best practices", 0)
	if err == nil {
		if block := search.FormatTiered(practices); block != "" {
			fmt.Println(block)
		}
	}

	// Session start is a natural moment to replay anything queued while
	// the vector store was down.
	p, _, err := newPipeline()
	if err != nil {
		return err
	}
	stats, err := pipeline.NewDrainer(p).DrainOnce(ctx)
	if err != nil {
		return err
	}
	if stats.Stored > 0 {
		activityLog.Record("DRAIN", fmt.Sprintf("replayed %d queued memories", stats.Stored))
	}
	return nil
}

func groupFor(cwd string) string {
	if groupFlag != "" {
		return groupFlag
	}
	if cwd == "" {
		return resolveGroup()
	}
	return config.DetectGroupID(cwd)
}
