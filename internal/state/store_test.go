package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := New(path)
	require.NoError(t, err)
	return store, path
}

func seedEntry(t *testing.T, s *Store, owner, repo string, number int) string {
	t.Helper()
	key := model.PRKey(owner, repo, number)
	_, created, err := s.GetOrCreate(key, &model.PRState{
		Owner:  owner,
		Repo:   repo,
		Number: number,
		Title:  "add widget",
	})
	require.NoError(t, err)
	require.True(t, created)
	return key
}

func TestNewWithMissingFile(t *testing.T) {
	store, _ := testStore(t)
	assert.Equal(t, 0, store.Len())
}

func TestNewWithMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())

	// The bad file is preserved for inspection.
	_, err = os.Stat(path + ".corrupt")
	assert.NoError(t, err)
}

func TestGetOrCreate(t *testing.T) {
	store, _ := testStore(t)
	key := seedEntry(t, store, "acme", "widgets", 1)

	got, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, model.StatusPendingReview, got.Status)
	assert.False(t, got.FirstSeenAt.IsZero())

	// Second call returns the existing entry untouched.
	again, created, err := store.GetOrCreate(key, &model.PRState{Owner: "acme", Repo: "widgets", Number: 1, Title: "different"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "add widget", again.Title)
}

func TestUpdate(t *testing.T) {
	store, _ := testStore(t)
	key := seedEntry(t, store, "acme", "widgets", 2)

	updated, err := store.Update(key, func(st *model.PRState) {
		st.HeadSha = "abc123"
		st.Status = model.StatusReviewing
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", updated.HeadSha)
	assert.Equal(t, model.StatusReviewing, updated.Status)
	assert.False(t, updated.UpdatedAt.IsZero())
}

func TestUpdateMissingKey(t *testing.T) {
	store, _ := testStore(t)
	_, err := store.Update("acme/widgets#99", func(st *model.PRState) {})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStateNotFound))
}

func TestGetReturnsACopy(t *testing.T) {
	store, _ := testStore(t)
	key := seedEntry(t, store, "acme", "widgets", 3)

	_, err := store.Update(key, func(st *model.PRState) {
		st.Reviews = []model.ReviewRecord{{Sha: "abc", Verdict: model.VerdictApprove}}
		st.LabelsApplied = []string{"bug"}
	})
	require.NoError(t, err)

	got, ok := store.Get(key)
	require.True(t, ok)
	got.Reviews[0].Sha = "mutated"
	got.LabelsApplied[0] = "mutated"
	got.Title = "mutated"

	fresh, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, "abc", fresh.Reviews[0].Sha)
	assert.Equal(t, "bug", fresh.LabelsApplied[0])
	assert.Equal(t, "add widget", fresh.Title)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := New(path)
	require.NoError(t, err)

	key := seedEntry(t, store, "acme", "widgets", 4)
	_, err = store.Update(key, func(st *model.PRState) {
		st.HeadSha = "deadbeef"
		st.Status = model.StatusReviewed
		st.LastReviewedSha = "deadbeef"
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reloaded, err := New(path)
	require.NoError(t, err)
	got, ok := reloaded.Get(key)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", got.HeadSha)
	assert.Equal(t, model.StatusReviewed, got.Status)
}

func TestReviewingResetAtLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := New(path)
	require.NoError(t, err)

	key := seedEntry(t, store, "acme", "widgets", 5)
	require.NoError(t, store.SetStatus(key, model.StatusReviewing))

	reloaded, err := New(path)
	require.NoError(t, err)
	got, ok := reloaded.Get(key)
	require.True(t, ok)
	assert.Equal(t, model.StatusPendingReview, got.Status)
}

func TestMigrationFromVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	// Version 1 keyed entries as owner/repo/number.
	v1 := map[string]interface{}{
		"version": 1,
		"entries": map[string]interface{}{
			"acme/widgets/6": map[string]interface{}{
				"owner":  "acme",
				"repo":   "widgets",
				"number": 6,
				"status": "reviewed",
			},
		},
	}
	data, err := json.Marshal(v1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	store, err := New(path)
	require.NoError(t, err)

	got, ok := store.Get("acme/widgets#6")
	require.True(t, ok)
	assert.Equal(t, model.StatusReviewed, got.Status)

	// The migrated snapshot is persisted under the current version.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, SchemaVersion, snap.Version)
	_, hasOld := snap.Entries["acme/widgets/6"]
	assert.False(t, hasOld)
}

func TestDelete(t *testing.T) {
	store, _ := testStore(t)
	key := seedEntry(t, store, "acme", "widgets", 7)

	require.NoError(t, store.Delete(key))
	_, ok := store.Get(key)
	assert.False(t, ok)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(key))
}

func TestDeleteMany(t *testing.T) {
	store, _ := testStore(t)
	k1 := seedEntry(t, store, "acme", "widgets", 8)
	k2 := seedEntry(t, store, "acme", "widgets", 9)
	seedEntry(t, store, "acme", "widgets", 10)

	removed, err := store.DeleteMany([]string{k1, k2, "acme/widgets#404"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())
}

func TestStatusCounts(t *testing.T) {
	store, _ := testStore(t)
	k1 := seedEntry(t, store, "acme", "widgets", 11)
	k2 := seedEntry(t, store, "acme", "widgets", 12)
	seedEntry(t, store, "acme", "widgets", 13)

	require.NoError(t, store.SetStatus(k1, model.StatusReviewed))
	require.NoError(t, store.SetStatus(k2, model.StatusError))

	counts := store.StatusCounts()
	assert.Equal(t, 1, counts[model.StatusReviewed])
	assert.Equal(t, 1, counts[model.StatusError])
	assert.Equal(t, 1, counts[model.StatusPendingReview])
}

func TestConcurrentUpdates(t *testing.T) {
	store, _ := testStore(t)
	key := seedEntry(t, store, "acme", "widgets", 14)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(key, func(st *model.PRState) {
				st.ConsecutiveErrors++
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, 20, got.ConsecutiveErrors)
}

func TestWithClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, err := New(path, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	key := seedEntry(t, store, "acme", "widgets", 15)
	got, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, fixed, got.FirstSeenAt)
	assert.Equal(t, fixed, got.UpdatedAt)
}
