// Package audit keeps an append-only, size-bounded event log of every
// PR lifecycle transition and guard event. Entries are buffered and
// flushed in batches through a temp-file-plus-rename rewrite of the
// rolling window, under an advisory directory lock so a stray second
// process cannot interleave writes.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/idgen"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

const (
	// flushBatchSize triggers a flush when the buffer reaches it.
	flushBatchSize = 64

	// flushInterval triggers a flush when the buffer is non-empty.
	flushInterval = 2 * time.Second

	// lockStaleAfter is when a leftover lock from a dead process is
	// taken over.
	lockStaleAfter = 60 * time.Second
)

// Well-known audit event names.
const (
	EventReviewStarted   = "review_started"
	EventReviewCompleted = "review_completed"
	EventReviewFailed    = "review_failed"
	EventReviewSkipped   = "review_skipped"
	EventStatusChanged   = "status_changed"
	EventPRMerged        = "pr_merged"
	EventPRClosed        = "pr_closed"
	EventStateCleaned    = "state_cleaned"
	EventGuardPaused     = "guard_paused"
	EventGuardResumed    = "guard_resumed"
	EventVerifyRequeued  = "verify_requeued"
)

// Entry is one audit event.
type Entry struct {
	ID     string         `json:"id"`
	TS     time.Time      `json:"ts"`
	Event  string         `json:"event"`
	Key    string         `json:"key,omitempty"` // canonical PR key
	Fields map[string]any `json:"fields,omitempty"`
}

// Logger is the audit event sink. Create one per process.
type Logger struct {
	path       string
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	window  []Entry // persisted rolling window, oldest first
	pending []Entry // buffered, not yet flushed

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	log     *zap.Logger
}

// Option customizes logger construction.
type Option func(*Logger)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New opens (or creates) the audit log at path, takes the advisory
// lock and starts the background flusher.
func New(path string, maxEntries int, opts ...Option) (*Logger, error) {
	l := &Logger{
		path:       path,
		maxEntries: maxEntries,
		now:        time.Now,
		flushCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
		log:        logger.Named("audit"),
	}
	for _, opt := range opts {
		opt(l)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStatePersist, "failed to create audit directory", err)
		}
	}
	if err := l.acquireLock(); err != nil {
		return nil, err
	}
	l.loadWindow()

	l.wg.Add(1)
	go l.flushLoop()
	return l, nil
}

// Record appends one event. The write is asynchronous; Close flushes
// everything that is still buffered.
func (l *Logger) Record(event, key string, fields map[string]any) {
	entry := Entry{
		ID:     idgen.NewEventID(),
		TS:     l.now(),
		Event:  event,
		Key:    key,
		Fields: fields,
	}

	l.mu.Lock()
	l.pending = append(l.pending, entry)
	full := len(l.pending) >= flushBatchSize
	l.mu.Unlock()

	if full {
		select {
		case l.flushCh <- struct{}{}:
		default:
		}
	}
}

// Recent returns the newest n entries, newest first.
func (l *Logger) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := make([]Entry, 0, len(l.window)+len(l.pending))
	all = append(all, l.window...)
	all = append(all, l.pending...)
	if n > len(all) {
		n = len(all)
	}

	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = all[len(all)-1-i]
	}
	return out
}

// Close flushes the buffer one final time, stops the flusher and
// releases the lock.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	err := l.flush()
	l.releaseLock()
	return err
}

// flushLoop batches writes by size and interval.
func (l *Logger) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.flushCh:
		case <-ticker.C:
		}
		if err := l.flush(); err != nil {
			l.log.Warn("Audit flush failed", zap.Error(err))
		}
	}
}

// flush merges pending entries into the window, truncates to
// maxEntries from the head, and rewrites the file atomically.
func (l *Logger) flush() error {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return nil
	}
	l.window = append(l.window, l.pending...)
	l.pending = nil
	if l.maxEntries > 0 && len(l.window) > l.maxEntries {
		l.window = l.window[len(l.window)-l.maxEntries:]
	}
	window := make([]Entry, len(l.window))
	copy(window, l.window)
	l.mu.Unlock()

	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStatePersist, "failed to open audit temp file", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range window {
		if err := enc.Encode(&window[i]); err != nil {
			f.Close()
			return errors.Wrap(errors.ErrCodeStatePersist, "failed to encode audit entry", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(errors.ErrCodeStatePersist, "failed to flush audit temp file", err)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeStatePersist, "failed to close audit temp file", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(errors.ErrCodeStatePersist, "failed to replace audit file", err)
	}
	return nil
}

// loadWindow reads the existing JSONL file. Malformed lines are
// skipped so one bad write never loses the whole log.
func (l *Logger) loadWindow() {
	f, err := os.Open(l.path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	skipped := 0
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			skipped++
			continue
		}
		l.window = append(l.window, entry)
	}
	if l.maxEntries > 0 && len(l.window) > l.maxEntries {
		l.window = l.window[len(l.window)-l.maxEntries:]
	}
	if skipped > 0 {
		l.log.Warn("Skipped malformed audit lines", zap.Int("skipped", skipped))
	}
}

// lockPath is the advisory lock directory next to the log file.
func (l *Logger) lockPath() string {
	return l.path + ".lock"
}

// acquireLock takes the advisory lock via mkdir, stealing a lock whose
// mtime says its owner died more than lockStaleAfter ago.
func (l *Logger) acquireLock() error {
	lock := l.lockPath()
	if err := os.Mkdir(lock, 0755); err == nil {
		return nil
	}

	info, statErr := os.Stat(lock)
	if statErr == nil && l.now().Sub(info.ModTime()) > lockStaleAfter {
		l.log.Warn("Taking over stale audit lock",
			zap.String("lock", lock),
			zap.Time("mtime", info.ModTime()))
		_ = os.Remove(lock)
		if err := os.Mkdir(lock, 0755); err == nil {
			return nil
		}
	}
	return errors.New(errors.ErrCodeStatePersist,
		"audit log is locked by another process: "+lock)
}

func (l *Logger) releaseLock() {
	_ = os.Remove(l.lockPath())
}
