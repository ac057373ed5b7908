package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/aimemory/aimemory/internal/pipeline"
)

var drainFollow bool

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Manage the durable retry queue",
}

var retryDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued memories into the vector store",
	Long: `Replays eligible queue entries. One pass by default; --follow keeps
draining on an exponential backoff until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newPipeline()
		if err != nil {
			return err
		}
		d := pipeline.NewDrainer(p)

		if drainFollow {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		}

		stats, err := d.DrainOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("attempted %d, stored %d, requeued %d\n",
			stats.Attempted, stats.Stored, stats.Requeued)
		return nil
	},
}

var retryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth and failure breakdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue()
		if err != nil {
			return err
		}
		stats, err := q.Stats()
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}
		fmt.Printf("total:            %d\n", stats.Total)
		fmt.Printf("ready for retry:  %d\n", stats.ReadyForRetry)
		fmt.Printf("awaiting backoff: %d\n", stats.AwaitingBackoff)
		fmt.Printf("exhausted:        %d\n", stats.Exhausted)
		for reason, n := range stats.ByFailureReason {
			fmt.Printf("  %s: %d\n", reason, n)
		}
		return nil
	},
}

var retryWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Drain whenever the queue file changes",
	Long: `Watches the queue file and runs a drain pass on every write,
debounced. Also drains on a slow interval in case events are missed.
Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newPipeline()
		if err != nil {
			return err
		}
		d := pipeline.NewDrainer(p)

		queueFile := cfg.QueueFile()
		if err := os.MkdirAll(filepath.Dir(queueFile), 0o700); err != nil {
			return fmt.Errorf("queue directory: %w", err)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer func() { _ = watcher.Close() }()

		// Watch the directory: the queue file is replaced by rename on
		// every rewrite, which drops a watch on the file itself.
		if err := watcher.Add(filepath.Dir(queueFile)); err != nil {
			return fmt.Errorf("watch queue directory: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var debounce <-chan time.Time
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		drain := func() {
			stats, err := d.DrainOnce(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "drain: %v\n", err)
				return
			}
			if stats.Attempted > 0 {
				fmt.Printf("attempted %d, stored %d, requeued %d\n",
					stats.Attempted, stats.Stored, stats.Requeued)
			}
		}

		drain()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != filepath.Clean(queueFile) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce = time.After(500 * time.Millisecond)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				fmt.Fprintf(os.Stderr, "watch: %v\n", err)
			case <-debounce:
				debounce = nil
				drain()
			case <-ticker.C:
				drain()
			}
		}
	},
}

func init() {
	retryDrainCmd.Flags().BoolVar(&drainFollow, "follow", false, "Keep draining until interrupted")
	retryCmd.AddCommand(retryDrainCmd, retryStatsCmd, retryWatchCmd)
	rootCmd.AddCommand(retryCmd)
}
