package store

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// SettingsStore persists dashboard-managed key/value settings.
type SettingsStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	GetAll() ([]model.Setting, error)
	Delete(key string) error
}

type settingsStore struct {
	db *gorm.DB
}

func newSettingsStore(db *gorm.DB) SettingsStore {
	return &settingsStore{db: db}
}

func (s *settingsStore) Get(key string) (string, error) {
	var setting model.Setting
	if err := s.db.First(&setting, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", errors.ErrNotFound("setting " + key)
		}
		return "", errors.Wrap(errors.ErrCodeDBQuery, "failed to load setting", err)
	}
	return setting.Value, nil
}

func (s *settingsStore) Set(key, value string) error {
	setting := model.Setting{Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to save setting", err)
	}
	return nil
}

func (s *settingsStore) GetAll() ([]model.Setting, error) {
	var settings []model.Setting
	if err := s.db.Order("key").Find(&settings).Error; err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to list settings", err)
	}
	return settings, nil
}

func (s *settingsStore) Delete(key string) error {
	if err := s.db.Delete(&model.Setting{}, "key = ?", key).Error; err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to delete setting", err)
	}
	return nil
}
