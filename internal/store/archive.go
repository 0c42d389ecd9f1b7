package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// ArchiveStore persists completed review runs.
type ArchiveStore interface {
	// Create appends one archive row.
	Create(rec *model.ReviewArchive) error

	// GetByID returns one row or a not-found error.
	GetByID(id string) (*model.ReviewArchive, error)

	// List returns a page of rows, newest first, plus the total count.
	List(opts ListOptions) ([]model.ReviewArchive, int64, error)

	// ListForPR returns all rows for one pull request, newest first.
	ListForPR(owner, repo string, number int) ([]model.ReviewArchive, error)

	// DeleteOlderThan removes rows created before cutoff and returns
	// how many were removed.
	DeleteOlderThan(cutoff time.Time) (int64, error)

	// UsageTotals sums token and cost accounting across all rows.
	UsageTotals() (*UsageTotals, error)
}

// ListOptions filters and paginates archive listing.
type ListOptions struct {
	Owner   string
	Repo    string
	Verdict string
	Page    int // 1-based
	PerPage int
}

// UsageTotals aggregates LLM usage accounting.
type UsageTotals struct {
	Reviews      int64   `json:"reviews"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type archiveStore struct {
	db *gorm.DB
}

func newArchiveStore(db *gorm.DB) ArchiveStore {
	return &archiveStore{db: db}
}

func (s *archiveStore) Create(rec *model.ReviewArchive) error {
	if err := s.db.Create(rec).Error; err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to create archive row", err)
	}
	return nil
}

func (s *archiveStore) GetByID(id string) (*model.ReviewArchive, error) {
	var rec model.ReviewArchive
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound("review archive " + id)
		}
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to load archive row", err)
	}
	return &rec, nil
}

func (s *archiveStore) List(opts ListOptions) ([]model.ReviewArchive, int64, error) {
	q := s.db.Model(&model.ReviewArchive{})
	if opts.Owner != "" {
		q = q.Where("owner = ?", opts.Owner)
	}
	if opts.Repo != "" {
		q = q.Where("repo = ?", opts.Repo)
	}
	if opts.Verdict != "" {
		q = q.Where("verdict = ?", opts.Verdict)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeDBQuery, "failed to count archive rows", err)
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var rows []model.ReviewArchive
	err := q.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&rows).Error
	if err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeDBQuery, "failed to list archive rows", err)
	}
	return rows, total, nil
}

func (s *archiveStore) ListForPR(owner, repo string, number int) ([]model.ReviewArchive, error) {
	var rows []model.ReviewArchive
	err := s.db.Where("owner = ? AND repo = ? AND number = ?", owner, repo, number).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to list archive rows for PR", err)
	}
	return rows, nil
}

func (s *archiveStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&model.ReviewArchive{})
	if res.Error != nil {
		return 0, errors.Wrap(errors.ErrCodeDBQuery, "failed to purge archive rows", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *archiveStore) UsageTotals() (*UsageTotals, error) {
	var totals UsageTotals
	err := s.db.Model(&model.ReviewArchive{}).
		Select("COUNT(*) AS reviews, COALESCE(SUM(input_tokens),0) AS input_tokens, COALESCE(SUM(output_tokens),0) AS output_tokens, COALESCE(SUM(cost_usd),0) AS cost_usd").
		Scan(&totals).Error
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to sum usage totals", err)
	}
	return &totals, nil
}
