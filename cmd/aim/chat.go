package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/llm"
	"github.com/aimemory/aimemory/internal/ratelimit"
)

var (
	chatModel     string
	chatMaxTokens int
	chatSession   string
	chatBuffered  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a prompt through the rate-limited LLM client",
	Long: `Sends one prompt and prints the response. The exchange is captured
into the discussions collection as a user_message / agent_response pair,
asynchronously, so a slow store never delays the reply.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")

		p, _, err := newPipeline()
		if err != nil {
			return err
		}
		capture := llm.NewCapture(p, resolveGroup())

		rl := cfg.RateLimit
		limiter := ratelimit.New(rl.RequestsPerMinute, rl.TokensPerMinute,
			rl.MaxQueueDepth, rl.QueueTimeout)

		sessionID := chatSession
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		client, err := llm.New(llm.Params{
			APIKey:          cfg.Classifier.AnthropicAPIKey,
			Model:           chatModel,
			SessionID:       sessionID,
			TokenMultiplier: cfg.TokenEstimateMultiplier,
		}, limiter, capture)
		if err != nil {
			return err
		}
		defer client.Close(5 * time.Second)

		var resp *llm.Response
		if chatBuffered {
			resp, err = client.SendMessageBuffered(cmd.Context(), prompt, chatMaxTokens)
		} else {
			resp, err = client.SendMessage(cmd.Context(), prompt, chatMaxTokens)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(resp)
		}
		fmt.Println(resp.Content)
		fmt.Fprintf(os.Stderr, "\n[session %s, turn %d, %d in / %d out tokens]\n",
			resp.SessionID, resp.TurnNumber, resp.InputTokens, resp.OutputTokens)
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "claude-sonnet-4-5", "Model name")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 4096, "Response token cap")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Session id (default: new)")
	chatCmd.Flags().BoolVar(&chatBuffered, "buffered", false, "Stream server-side, return the full reply at once")
	rootCmd.AddCommand(chatCmd)
}
