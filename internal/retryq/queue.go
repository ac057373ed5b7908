// Package retryq implements the durable retry queue: one JSON object per
// line in a file guarded by an advisory file lock, with exponential
// backoff scheduling and atomic whole-file rewrites.
//
// Two processes that hold the lock in turn produce a serial history;
// rewrites go through a temp file + rename so no reader ever observes a
// partial line.
package retryq

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/aimemory/aimemory/internal/memory"
)

// MaxRetries bounds how many times an entry is retried before it is
// considered exhausted.
const MaxRetries = 3

// DefaultLockTimeout bounds how long an operation waits for the file lock.
const DefaultLockTimeout = 5 * time.Second

// ReasonVectorStoreUnavailable is the failure reason recorded when the
// vector store could not be reached.
const ReasonVectorStoreUnavailable = "QDRANT_UNAVAILABLE"

// backoffSchedule maps retry_count to the delay before the next attempt.
// Counts beyond the schedule use the last value.
var backoffSchedule = []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute}

// ErrLockTimeout is returned when the advisory lock cannot be acquired
// within the lock timeout.
var ErrLockTimeout = errors.New("retry queue lock timeout")

// ErrNotFound is returned when an entry id is not in the queue.
var ErrNotFound = errors.New("queue entry not found")

// Entry is one queued memory awaiting a store retry.
type Entry struct {
	ID            string        `json:"id"`
	MemoryData    memory.Record `json:"memory_data"`
	FailureReason string        `json:"failure_reason"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	QueuedAt      time.Time     `json:"queued_at"`
	NextRetryAt   time.Time     `json:"next_retry_at"`
}

// Exhausted reports whether the entry has no retries left.
func (e *Entry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// Stats summarises queue state.
type Stats struct {
	Total           int            `json:"total"`
	ReadyForRetry   int            `json:"ready_for_retry"`
	AwaitingBackoff int            `json:"awaiting_backoff"`
	Exhausted       int            `json:"exhausted"`
	ByFailureReason map[string]int `json:"by_failure_reason"`
}

// Queue is a file-locked durable queue at a fixed path.
type Queue struct {
	path        string
	lockPath    string
	lockTimeout time.Duration

	now func() time.Time
}

// Open prepares the queue at path, creating the directory (0700) and file
// (0600) if needed.
func Open(path string) (*Queue, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create queue file: %w", err)
	}
	_ = f.Close()

	return &Queue{
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}, nil
}

// withLock runs fn while holding the exclusive advisory lock, retrying
// acquisition every 50ms up to the lock timeout.
func (q *Queue) withLock(fn func() error) error {
	lock := flock.New(q.lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), q.lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, q.lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// backoffFor returns the delay for a given retry count.
func backoffFor(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[retryCount]
}

// Enqueue appends a new entry and returns its id. With immediate=true the
// entry is eligible for retry right away; otherwise the first backoff
// delay applies.
func (q *Queue) Enqueue(rec memory.Record, failureReason string, immediate bool) (string, error) {
	now := q.now().UTC()
	entry := Entry{
		ID:            uuid.NewString(),
		MemoryData:    rec,
		FailureReason: failureReason,
		RetryCount:    0,
		MaxRetries:    MaxRetries,
		QueuedAt:      now,
		NextRetryAt:   now.Add(backoffFor(0)),
	}
	if immediate {
		entry.NextRetryAt = now
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode queue entry: %w", err)
	}

	err = q.withLock(func() error {
		f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open queue file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append queue entry: %w", err)
		}
		return f.Sync()
	})
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// readEntries parses the queue file, skipping corrupt lines. A single bad
// line never fails the queue.
func (q *Queue) readEntries() ([]Entry, error) {
	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open queue file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("skipping corrupt queue line", "line", lineNo, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan queue file: %w", err)
	}
	return entries, nil
}

// rewrite atomically replaces the queue file with the given entries:
// write to a uniquely-named temp file in the same directory, fsync, then
// rename over the target. The temp file is removed on failure.
func (q *Queue) rewrite(entries []Entry) (err error) {
	dir := filepath.Dir(q.path)
	tmp, err := os.CreateTemp(dir, ".pending_queue-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp queue file: %w", err)
	}

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		line, mErr := json.Marshal(e)
		if mErr != nil {
			_ = tmp.Close()
			return fmt.Errorf("encode queue entry %s: %w", e.ID, mErr)
		}
		if _, err = w.Write(append(line, '\n')); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write temp queue file: %w", err)
		}
	}
	if err = w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush temp queue file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp queue file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp queue file: %w", err)
	}
	if err = os.Rename(tmpName, q.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}

// Dequeue removes the entry with the given id.
func (q *Queue) Dequeue(id string) error {
	return q.withLock(func() error {
		entries, err := q.readEntries()
		if err != nil {
			return err
		}
		kept := entries[:0]
		found := false
		for _, e := range entries {
			if e.ID == id {
				found = true
				continue
			}
			kept = append(kept, e)
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return q.rewrite(kept)
	})
}

// GetPending returns up to limit entries whose next_retry_at has passed.
// Exhausted entries are excluded unless includeExhausted is set.
func (q *Queue) GetPending(limit int, includeExhausted bool) ([]Entry, error) {
	var pending []Entry
	err := q.withLock(func() error {
		entries, err := q.readEntries()
		if err != nil {
			return err
		}
		now := q.now()
		for _, e := range entries {
			if e.NextRetryAt.After(now) {
				continue
			}
			if e.Exhausted() && !includeExhausted {
				continue
			}
			pending = append(pending, e)
			if limit > 0 && len(pending) >= limit {
				break
			}
		}
		return nil
	})
	return pending, err
}

// MarkFailed increments an entry's retry count and reschedules it on the
// backoff curve.
func (q *Queue) MarkFailed(id string) error {
	return q.withLock(func() error {
		entries, err := q.readEntries()
		if err != nil {
			return err
		}
		found := false
		now := q.now().UTC()
		for i := range entries {
			if entries[i].ID != id {
				continue
			}
			found = true
			entries[i].RetryCount++
			entries[i].NextRetryAt = now.Add(backoffFor(entries[i].RetryCount))
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return q.rewrite(entries)
	})
}

// Stats summarises the queue without mutating it.
func (q *Queue) Stats() (Stats, error) {
	stats := Stats{ByFailureReason: map[string]int{}}
	err := q.withLock(func() error {
		entries, err := q.readEntries()
		if err != nil {
			return err
		}
		now := q.now()
		for _, e := range entries {
			stats.Total++
			stats.ByFailureReason[e.FailureReason]++
			switch {
			case e.Exhausted():
				stats.Exhausted++
			case e.NextRetryAt.After(now):
				stats.AwaitingBackoff++
			default:
				stats.ReadyForRetry++
			}
		}
		return nil
	})
	return stats, err
}

// Path returns the queue file path.
func (q *Queue) Path() string { return q.path }
