package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTraceBufferCap bounds the buffer directory size. A separate
// flush worker drains the directory; when it falls behind, new events
// are dropped rather than growing the buffer without bound.
const DefaultTraceBufferCap = 10 * 1024 * 1024

// TraceDisabledEnv is the kill switch checked before every write.
const TraceDisabledEnv = "AIMEMORY_TRACE_DISABLED"

// TraceBuffer writes trace events as one JSON file per event. The
// running byte counter is seeded with a single directory scan at open
// and incremented per write afterwards.
type TraceBuffer struct {
	dir      string
	maxBytes int64

	mu    sync.Mutex
	bytes int64
}

// OpenTraceBuffer prepares the buffer directory and seeds the byte
// counter from its current contents.
func OpenTraceBuffer(dir string) (*TraceBuffer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create trace buffer directory: %w", err)
	}

	var total int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan trace buffer directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}

	return &TraceBuffer{
		dir:      dir,
		maxBytes: DefaultTraceBufferCap,
		bytes:    total,
	}, nil
}

// Write serialises one event into the buffer. Events are dropped
// silently when tracing is killed or the buffer is full; a trace is
// never worth failing the hot path for.
func (b *TraceBuffer) Write(event map[string]any) error {
	if os.Getenv(TraceDisabledEnv) == "true" {
		return nil
	}

	if _, ok := event["timestamp"]; !ok {
		event["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bytes+int64(len(data)) > b.maxBytes {
		return nil
	}

	name := uuid.NewString() + ".json"
	tmp := filepath.Join(b.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(b.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish trace event: %w", err)
	}
	b.bytes += int64(len(data))
	return nil
}

// Bytes returns the tracked buffer size.
func (b *TraceBuffer) Bytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}
