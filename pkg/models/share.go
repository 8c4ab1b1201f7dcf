package models

import "time"

// Share grants anonymous read access to one archive or one folder through an
// opaque token. Expired shares resolve as not found.
type Share struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Token     string     `gorm:"uniqueIndex;not null;size:64" json:"token"`
	OwnerID   string     `gorm:"index;not null;size:36" json:"owner_id"`
	ArchiveID *string    `gorm:"index;size:36" json:"archive_id,omitempty"`
	FolderID  *string    `gorm:"index;size:36" json:"folder_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Share.
func (Share) TableName() string {
	return "shares"
}

// Expired reports whether the share is past its expiry.
func (s *Share) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
