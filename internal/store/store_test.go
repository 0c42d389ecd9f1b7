package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "prpatrol.db"))
	require.NoError(t, err)
	return s
}

func makeArchive(owner, repo string, number int, sha, verdict string) *model.ReviewArchive {
	return &model.ReviewArchive{
		Owner:        owner,
		Repo:         repo,
		Number:       number,
		Sha:          sha,
		Verdict:      verdict,
		Summary:      "looks fine",
		Posted:       true,
		InputTokens:  100,
		OutputTokens: 50,
		CostUSD:      0.02,
	}
}

func TestOpenCreatesDatabase(t *testing.T) {
	s := openTestStore(t)
	require.NotNil(t, s.DB())
	require.NotNil(t, s.Archive())
	require.NotNil(t, s.Settings())
}

func TestArchiveCreateAndGet(t *testing.T) {
	s := openTestStore(t)

	rec := makeArchive("acme", "widgets", 42, "abc123", "APPROVE")
	rec.Findings = model.FindingList{
		{Severity: model.SeverityIssue, Path: "main.go", Line: 10, Body: "nil deref"},
	}
	require.NoError(t, s.Archive().Create(rec))
	require.NotEmpty(t, rec.ID)

	got, err := s.Archive().GetByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Owner)
	assert.Equal(t, 42, got.Number)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, "main.go", got.Findings[0].Path)

	_, err = s.Archive().GetByID("missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestArchiveListFiltersAndPaginates(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Archive().Create(makeArchive("acme", "widgets", 1, "s1", "APPROVE")))
	require.NoError(t, s.Archive().Create(makeArchive("acme", "widgets", 2, "s2", "REQUEST_CHANGES")))
	require.NoError(t, s.Archive().Create(makeArchive("other", "proj", 3, "s3", "COMMENT")))

	all, total, err := s.Archive().List(ListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 3)

	byOwner, total, err := s.Archive().List(ListOptions{Owner: "acme", Repo: "widgets"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, byOwner, 2)

	byVerdict, total, err := s.Archive().List(ListOptions{Verdict: "COMMENT"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, byVerdict, 1)
	assert.Equal(t, "other", byVerdict[0].Owner)

	paged, total, err := s.Archive().List(ListOptions{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, paged, 1)
}

func TestArchiveListForPR(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Archive().Create(makeArchive("acme", "widgets", 7, "old", "COMMENT")))
	require.NoError(t, s.Archive().Create(makeArchive("acme", "widgets", 7, "new", "APPROVE")))
	require.NoError(t, s.Archive().Create(makeArchive("acme", "widgets", 8, "x", "APPROVE")))

	recs, err := s.Archive().ListForPR("acme", "widgets", 7)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestArchiveDeleteOlderThan(t *testing.T) {
	s := openTestStore(t)

	old := makeArchive("acme", "widgets", 1, "s1", "APPROVE")
	require.NoError(t, s.Archive().Create(old))
	require.NoError(t, s.DB().Model(&model.ReviewArchive{}).
		Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error)
	require.NoError(t, s.Archive().Create(makeArchive("acme", "widgets", 2, "s2", "APPROVE")))

	deleted, err := s.Archive().DeleteOlderThan(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, total, err := s.Archive().List(ListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestArchiveUsageTotals(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Archive().Create(makeArchive("acme", "widgets", 1, "s1", "APPROVE")))
	require.NoError(t, s.Archive().Create(makeArchive("acme", "widgets", 2, "s2", "COMMENT")))

	totals, err := s.Archive().UsageTotals()
	require.NoError(t, err)
	assert.EqualValues(t, 2, totals.Reviews)
	assert.EqualValues(t, 200, totals.InputTokens)
	assert.EqualValues(t, 100, totals.OutputTokens)
	assert.InDelta(t, 0.04, totals.CostUSD, 1e-9)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Settings().Get("polling_interval")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	require.NoError(t, s.Settings().Set("polling_interval", "300"))
	v, err := s.Settings().Get("polling_interval")
	require.NoError(t, err)
	assert.Equal(t, "300", v)

	require.NoError(t, s.Settings().Set("polling_interval", "600"))
	v, err = s.Settings().Get("polling_interval")
	require.NoError(t, err)
	assert.Equal(t, "600", v)

	require.NoError(t, s.Settings().Set("dry_run", "true"))
	all, err := s.Settings().GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Settings().Delete("dry_run"))
	all, err = s.Settings().GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s := openTestStore(t)

	err := s.Transaction(func(tx Store) error {
		if err := tx.Settings().Set("k", "v"); err != nil {
			return err
		}
		return errors.New(errors.ErrCodeInternal, "boom")
	})
	require.Error(t, err)

	_, err = s.Settings().Get("k")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}
