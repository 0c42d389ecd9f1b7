// Package state persists per-PR lifecycle state as a versioned JSON
// snapshot on disk. All mutations go through the store so that every
// write lands atomically and no component holds a live pointer into
// the map.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// SchemaVersion is the current snapshot format. Older snapshots are
// migrated at load and re-persisted under this version.
const SchemaVersion = 2

// snapshot is the on-disk layout of the state file.
type snapshot struct {
	Version int                       `json:"version"`
	Entries map[string]*model.PRState `json:"entries"`
}

// Store is the durable map from PR key to PRState. All methods are
// safe for concurrent use; writes are serialized by a single mutex so
// a snapshot is never written half-updated.
type Store struct {
	mu      sync.Mutex
	path    string
	now     func() time.Time
	entries map[string]*model.PRState
}

// Option customizes store construction.
type Option func(*Store)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New loads the state file at path, migrating older snapshot versions
// and resetting any entry left in reviewing status by a previous
// process. A missing file yields an empty store; a malformed file is
// set aside as <path>.corrupt and replaced by an empty store.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:    path,
		now:     time.Now,
		entries: make(map[string]*model.PRState),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStatePersist, "failed to create state directory", err)
		}
	}

	changed, err := s.load()
	if err != nil {
		return nil, err
	}
	if changed {
		s.mu.Lock()
		err = s.persistLocked()
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// load reads the snapshot from disk. It returns true when the loaded
// data was rewritten (migration or reviewing reset) and must be
// persisted before the store is used.
func (s *Store) load() (bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStatePersist, "failed to read state file", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Error("State file is malformed, starting with an empty store",
			zap.String("path", s.path),
			zap.Error(err))
		// Keep the bad file around for inspection instead of
		// silently overwriting it on the next persist.
		_ = os.Rename(s.path, s.path+".corrupt")
		return false, nil
	}

	changed := false
	if snap.Version < SchemaVersion {
		migrateSnapshot(&snap)
		changed = true
	}

	if snap.Entries == nil {
		snap.Entries = make(map[string]*model.PRState)
	}
	for key, entry := range snap.Entries {
		if entry == nil {
			delete(snap.Entries, key)
			changed = true
			continue
		}
		// A review that was in flight when the process died is
		// not running anymore.
		if entry.Status == model.StatusReviewing {
			entry.Status = model.StatusPendingReview
			entry.UpdatedAt = s.now()
			changed = true
			logger.Info("Reset in-flight review state after restart",
				zap.String("pr", key))
		}
	}

	s.entries = snap.Entries
	logger.Info("Loaded PR state",
		zap.String("path", s.path),
		zap.Int("entries", len(s.entries)),
		zap.Int("version", SchemaVersion))
	return changed, nil
}

// migrateSnapshot upgrades older snapshot layouts in place.
// Version 1 keyed entries as "owner/repo/number"; version 2 switched
// to "owner/repo#number" so the repo part can itself contain slashes.
func migrateSnapshot(snap *snapshot) {
	if snap.Version <= 1 && snap.Entries != nil {
		migrated := make(map[string]*model.PRState, len(snap.Entries))
		for _, entry := range snap.Entries {
			if entry == nil {
				continue
			}
			migrated[model.PRKey(entry.Owner, entry.Repo, entry.Number)] = entry
		}
		snap.Entries = migrated
	}
	snap.Version = SchemaVersion
}

// persistLocked writes the snapshot via a temp file and atomic rename.
// Callers must hold s.mu.
func (s *Store) persistLocked() error {
	snap := snapshot{Version: SchemaVersion, Entries: s.entries}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeStatePersist, "failed to encode state snapshot", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(errors.ErrCodeStatePersist, "failed to write state temp file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(errors.ErrCodeStatePersist, "failed to replace state file", err)
	}
	return nil
}

// Get returns a copy of the entry for key, or false when absent.
func (s *Store) Get(key string) (*model.PRState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return cloneState(entry), true
}

// GetAll returns a copy of every entry keyed by PR key.
func (s *Store) GetAll() map[string]*model.PRState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.PRState, len(s.entries))
	for key, entry := range s.entries {
		out[key] = cloneState(entry)
	}
	return out
}

// GetOrCreate returns the entry for key, creating it from defaults
// when absent. The bool reports whether a new entry was created.
func (s *Store) GetOrCreate(key string, defaults *model.PRState) (*model.PRState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok {
		return cloneState(entry), false, nil
	}

	entry := cloneState(defaults)
	if entry == nil {
		entry = &model.PRState{}
	}
	if entry.Status == "" {
		entry.Status = model.StatusPendingReview
	}
	now := s.now()
	entry.FirstSeenAt = now
	entry.UpdatedAt = now
	s.entries[key] = entry

	if err := s.persistLocked(); err != nil {
		delete(s.entries, key)
		return nil, false, err
	}
	return cloneState(entry), true, nil
}

// Update applies mutate to the entry for key, stamps updatedAt and
// persists the snapshot. It fails with a not-found error when the key
// is absent. The returned state is a copy.
func (s *Store) Update(key string, mutate func(*model.PRState)) (*model.PRState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, errors.New(errors.ErrCodeStateNotFound, fmt.Sprintf("no state for %s", key))
	}

	mutate(entry)
	entry.UpdatedAt = s.now()

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return cloneState(entry), nil
}

// SetStatus transitions the entry for key to status.
func (s *Store) SetStatus(key string, status model.Status) error {
	_, err := s.Update(key, func(st *model.PRState) {
		st.Status = status
	})
	return err
}

// Delete removes the entry for key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.persistLocked()
}

// DeleteMany removes all given keys with a single persist and returns
// how many entries were actually removed.
func (s *Store) DeleteMany(keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persistLocked()
}

// StatusCounts returns how many entries are in each status.
func (s *Store) StatusCounts() map[model.Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.Status]int)
	for _, entry := range s.entries {
		counts[entry.Status]++
	}
	return counts
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close flushes the snapshot one final time.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// cloneState deep-copies a PRState so callers never share slices or
// pointers with the store's live entry.
func cloneState(in *model.PRState) *model.PRState {
	if in == nil {
		return nil
	}
	out := *in

	if in.Reviews != nil {
		out.Reviews = make([]model.ReviewRecord, len(in.Reviews))
		for i, rec := range in.Reviews {
			out.Reviews[i] = cloneReviewRecord(rec)
		}
	}
	if in.FeatureExecutions != nil {
		out.FeatureExecutions = append([]model.FeatureExecution(nil), in.FeatureExecutions...)
	}
	if in.LabelsApplied != nil {
		out.LabelsApplied = append([]string(nil), in.LabelsApplied...)
	}
	if in.LastError != nil {
		le := *in.LastError
		out.LastError = &le
	}
	out.LastReviewedAt = cloneTimePtr(in.LastReviewedAt)
	out.LastVerifiedAt = cloneTimePtr(in.LastVerifiedAt)
	out.ClosedAt = cloneTimePtr(in.ClosedAt)
	out.LastPushAt = cloneTimePtr(in.LastPushAt)
	out.CommentID = cloneInt64Ptr(in.CommentID)
	out.ReviewID = cloneInt64Ptr(in.ReviewID)
	return &out
}

func cloneReviewRecord(in model.ReviewRecord) model.ReviewRecord {
	out := in
	out.CommentID = cloneInt64Ptr(in.CommentID)
	out.ReviewID = cloneInt64Ptr(in.ReviewID)
	if in.Findings != nil {
		out.Findings = append([]model.Finding(nil), in.Findings...)
	}
	return out
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt64Ptr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
