package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aimemory/aimemory/internal/memory"
	"github.com/aimemory/aimemory/internal/pipeline"
)

// storeTimeout bounds each background storage task.
const storeTimeout = 30 * time.Second

// Storer is the storage surface capture tasks call into.
type Storer interface {
	StoreMemory(ctx context.Context, req pipeline.StoreRequest) (*pipeline.StoreResult, error)
}

// Capture stores conversation turns in the background. Storage failures
// never reach the conversation; they are logged and counted.
type Capture struct {
	store   Storer
	groupID string

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels []context.CancelFunc

	stored atomic.Int64
	failed atomic.Int64
}

// NewCapture builds a capture wrapper storing into the given group.
func NewCapture(store Storer, groupID string) *Capture {
	return &Capture{store: store, groupID: groupID}
}

// CaptureUserMessage schedules background storage of a user turn.
func (c *Capture) CaptureUserMessage(content, sessionID string, turn int) {
	c.schedule(content, sessionID, turn, memory.TypeUserMessage, memory.HookUserPromptSubmit)
}

// CaptureAgentResponse schedules background storage of an agent turn.
func (c *Capture) CaptureAgentResponse(content, sessionID string, turn int) {
	c.schedule(content, sessionID, turn, memory.TypeAgentResponse, memory.HookStop)
}

func (c *Capture) schedule(content, sessionID string, turn int, t memory.Type, hook memory.SourceHook) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)

	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		result, err := c.store.StoreMemory(ctx, pipeline.StoreRequest{
			Content:    content,
			GroupID:    c.groupID,
			Type:       t,
			SourceHook: hook,
			SessionID:  sessionID,
			Collection: memory.CollectionDiscussions,
			TurnNumber: turn,
		})
		if err != nil {
			var vErr *pipeline.ValidationError
			if errors.As(err, &vErr) {
				// Short acknowledgements and the like; not worth noise
				// above debug.
				slog.Debug("conversation turn not storable", "turn", turn, "error", err)
			} else {
				slog.Warn("conversation capture failed", "turn", turn, "error", err)
			}
			c.failed.Add(1)
			return
		}
		c.stored.Add(1)
		slog.Debug("conversation turn captured",
			"turn", turn, "type", t, "status", result.Status)
	}()
}

// WaitForStorage blocks until all scheduled tasks finish or the timeout
// elapses, cancelling stragglers on timeout. Reports whether everything
// completed in time.
func (c *Capture) WaitForStorage(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		c.mu.Lock()
		for _, cancel := range c.cancels {
			cancel()
		}
		c.mu.Unlock()
		<-done
		return false
	}
}

// Stored returns how many turns were stored successfully.
func (c *Capture) Stored() int64 { return c.stored.Load() }

// Failed returns how many capture tasks failed.
func (c *Capture) Failed() int64 { return c.failed.Load() }

// Close drains outstanding storage and logs the session totals.
func (c *Capture) Close(timeout time.Duration) {
	clean := c.WaitForStorage(timeout)
	if !clean {
		slog.Warn("conversation capture timed out, stragglers cancelled")
	}
	slog.Info("conversation capture closed",
		"stored", c.Stored(), "failed", c.Failed())
}
