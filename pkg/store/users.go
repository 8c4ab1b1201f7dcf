package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/stowfs/pkg/models"
)

// ============================================
// USER OPERATIONS
// ============================================

func (s *GORMStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return listAll[models.User](s.db, ctx)
}

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) (string, error) {
	user.CreatedAt = time.Now()
	return createWithID(s.db, ctx, user, func(u *models.User, id string) { u.ID = id }, user.ID, models.ErrDuplicateUser)
}

// UpdateUser updates the mutable account fields.
func (s *GORMStore) UpdateUser(ctx context.Context, user *models.User) error {
	var existing models.User
	if err := s.db.WithContext(ctx).Where("id = ?", user.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrUserNotFound)
	}
	return s.db.WithContext(ctx).
		Model(&existing).
		Select("Username", "Enabled", "Role", "QuotaBytes").
		Updates(user).Error
}

// SetPasswordHash replaces a user's password hash.
func (s *GORMStore) SetPasswordHash(ctx context.Context, userID, hash string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// TouchLastLogin records a successful authentication.
func (s *GORMStore) TouchLastLogin(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login", time.Now()).Error
}

func (s *GORMStore) DeleteUser(ctx context.Context, username string) error {
	return deleteByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

// ============================================
// QUOTA OPERATIONS
// ============================================

// ReserveQuota charges bytes against a user's quota. The guard on the UPDATE
// rejects the reservation atomically when it would push used bytes over the
// quota; a zero quota means unlimited. Acceptance at exactly the boundary is
// allowed.
func (s *GORMStore) ReserveQuota(ctx context.Context, userID string, bytes int64) error {
	if bytes < 0 {
		bytes = 0
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND (quota_bytes = 0 OR used_bytes + ? <= quota_bytes)", userID, bytes).
		Update("used_bytes", gorm.Expr("used_bytes + ?", bytes))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing user from a full quota.
		if _, err := s.GetUserByID(ctx, userID); err != nil {
			return err
		}
		return models.ErrQuotaExceeded
	}
	return nil
}

// ReleaseQuota refunds bytes, clamping at zero.
func (s *GORMStore) ReleaseQuota(ctx context.Context, userID string, bytes int64) error {
	return releaseQuota(s.db.WithContext(ctx), userID, bytes)
}

func releaseQuota(tx *gorm.DB, userID string, bytes int64) error {
	if bytes < 0 {
		bytes = 0
	}
	return tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("used_bytes", gorm.Expr("CASE WHEN used_bytes > ? THEN used_bytes - ? ELSE 0 END", bytes, bytes)).Error
}
