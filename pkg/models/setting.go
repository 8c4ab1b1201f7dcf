package models

import "time"

// Setting stores system-wide key-value settings, including the master key
// seed generated on first boot.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:255" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// Well-known setting keys.
const (
	// SettingMasterSecret seeds the symmetric encryption key.
	SettingMasterSecret = "master_secret"
)
