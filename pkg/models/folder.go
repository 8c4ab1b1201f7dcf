package models

import "time"

// Folder is a user-owned directory node. Folders form a tree via ParentID;
// a nil parent means the user's root.
type Folder struct {
	ID       string  `gorm:"primaryKey;size:36" json:"id"`
	OwnerID  string  `gorm:"index:idx_folders_owner_parent_name,priority:1;not null;size:36" json:"owner_id"`
	ParentID *string `gorm:"index:idx_folders_owner_parent_name,priority:2;size:36" json:"parent_id,omitempty"`
	Name     string  `gorm:"index:idx_folders_owner_parent_name,priority:3;size:255" json:"name"`

	// Priority is inherited by contained archives unless they carry a
	// priority override.
	Priority int `gorm:"default:2" json:"priority"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Folder.
func (Folder) TableName() string {
	return "folders"
}
