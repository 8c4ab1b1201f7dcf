package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"gorm.io/gorm/clause"

	"github.com/marmos91/stowfs/pkg/models"
)

// ============================================
// SETTINGS OPERATIONS
// ============================================

func (s *GORMStore) GetSetting(ctx context.Context, key string) (string, error) {
	setting, err := getByField[models.Setting](s.db, ctx, "key", key, models.ErrSettingNotFound)
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (s *GORMStore) SetSetting(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&models.Setting{Key: key, Value: value}).Error
}

// EnsureMasterSecret returns the persisted master key seed, generating and
// storing a random one on first boot. An explicit non-empty override (from
// configuration) takes precedence and is persisted.
func (s *GORMStore) EnsureMasterSecret(ctx context.Context, override string) (string, error) {
	if override != "" {
		if err := s.SetSetting(ctx, models.SettingMasterSecret, override); err != nil {
			return "", err
		}
		return override, nil
	}

	value, err := s.GetSetting(ctx, models.SettingMasterSecret)
	if err == nil && value != "" {
		return value, nil
	}
	if err != nil && !errors.Is(err, models.ErrSettingNotFound) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value = hex.EncodeToString(buf)
	if err := s.SetSetting(ctx, models.SettingMasterSecret, value); err != nil {
		return "", err
	}
	return value, nil
}
