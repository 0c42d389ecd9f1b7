package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// FindingList is a custom type for storing findings as JSON in SQLite.
type FindingList []Finding

// Value implements driver.Valuer interface
func (l FindingList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	return string(data), err
}

// Scan implements sql.Scanner interface
func (l *FindingList) Scan(value interface{}) error {
	if value == nil {
		*l = FindingList{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	}
	return json.Unmarshal(bytes, l)
}

// ReviewArchive is the durable record of one review run, kept beyond the
// bounded in-state history for the dashboard and report export. The
// state file remains the canonical lifecycle store.
type ReviewArchive struct {
	ID        string    `gorm:"primarykey;size:20" json:"id"` // xid
	CreatedAt time.Time `json:"created_at"`

	// PR identity
	Owner  string `gorm:"size:255;not null;index:idx_archive_pr,priority:1" json:"owner"`
	Repo   string `gorm:"size:255;not null;index:idx_archive_pr,priority:2" json:"repo"`
	Number int    `gorm:"not null;index:idx_archive_pr,priority:3" json:"number"`

	// Review result
	Sha      string      `gorm:"size:64;not null" json:"sha"`
	Verdict  string      `gorm:"size:50;not null;index" json:"verdict"`
	Summary  string      `gorm:"type:text" json:"summary"`
	Findings FindingList `gorm:"type:json" json:"findings"`
	Posted   bool        `gorm:"not null" json:"posted"`

	// Usage accounting
	InputTokens  int64   `gorm:"default:0" json:"input_tokens"`
	OutputTokens int64   `gorm:"default:0" json:"output_tokens"`
	CostUSD      float64 `gorm:"default:0" json:"cost_usd"`
	Model        string  `gorm:"size:255" json:"model,omitempty"`
	NumTurns     int     `gorm:"default:0" json:"num_turns"`
	DurationMS   int64   `gorm:"default:0" json:"duration_ms"`
}

// Setting is a key/value row for dashboard-managed settings.
type Setting struct {
	Key       string    `gorm:"primarykey;size:255" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllModels returns all GORM models for auto-migration.
func AllModels() []interface{} {
	return []interface{}{
		&ReviewArchive{},
		&Setting{},
	}
}
