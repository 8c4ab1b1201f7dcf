// Package models defines the persisted document shapes of the storage core:
// archives with their part vectors, users with quota, folders, shares,
// provider handles, and settings.
package models

// AllModels returns every model for database auto-migration.
func AllModels() []any {
	return []any{
		&User{},
		&Folder{},
		&Archive{},
		&ArchiveFile{},
		&Part{},
		&Share{},
		&Webhook{},
		&Setting{},
	}
}
