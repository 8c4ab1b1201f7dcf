package models

import (
	"sort"
	"time"
)

// ArchiveStatus represents the upload lifecycle state of an archive.
type ArchiveStatus string

const (
	// StatusQueued means the archive is waiting for an upload worker.
	StatusQueued ArchiveStatus = "queued"
	// StatusProcessing means a worker holds a lease on the archive.
	StatusProcessing ArchiveStatus = "processing"
	// StatusReady means every part is committed and the archive is restorable.
	StatusReady ArchiveStatus = "ready"
	// StatusError means the upload failed terminally.
	StatusError ArchiveStatus = "error"
)

// Encryption format versions. Version 1 encrypted the whole payload with a
// single IV and auth tag at the archive level and is retained for reads only.
// Version 2 encrypts each part independently.
const (
	EncryptionLegacy  = 1
	EncryptionChunked = 2
)

// Priority bounds for archives and folders. Higher uploads first.
const (
	PriorityMin     = 0
	PriorityDefault = 2
	PriorityMax     = 4
)

// Archive is the unit of storage: a single file or a zip-packed bundle,
// split into encrypted parts that live on remote providers. Only part
// metadata is kept locally.
type Archive struct {
	ID       string  `gorm:"primaryKey;size:36" json:"id"`
	OwnerID  string  `gorm:"index;not null;size:36" json:"owner_id"`
	FolderID *string `gorm:"index;size:36" json:"folder_id,omitempty"`

	Name         string `gorm:"size:255" json:"name"`
	DisplayName  string `gorm:"size:255" json:"display_name"`
	DownloadName string `gorm:"size:255" json:"download_name"`
	IsBundle     bool   `json:"is_bundle"`

	Status     ArchiveStatus `gorm:"index;size:16;default:queued" json:"status"`
	Error      string        `gorm:"type:text" json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`

	Priority         int  `gorm:"default:2" json:"priority"`
	PriorityOverride bool `json:"priority_override"`

	OriginalSize  int64 `json:"original_size"`
	EncryptedSize int64 `json:"encrypted_size"`
	UploadedBytes int64 `json:"uploaded_bytes"`
	UploadedParts int   `json:"uploaded_parts"`
	TotalParts    int   `json:"total_parts"`

	Deleting         bool `json:"-"`
	DeleteTotalParts int  `json:"delete_total_parts,omitempty"`
	DeletedParts     int  `json:"deleted_parts,omitempty"`

	EncryptionVersion int    `gorm:"default:2" json:"encryption_version"`
	ChunkSize         int64  `json:"chunk_size"`
	StagingDir        string `gorm:"size:512" json:"-"`

	// Legacy v1 whole-payload crypto parameters (base64), cleared on v2 finalize.
	LegacyIV      string `gorm:"size:64" json:"-"`
	LegacyAuthTag string `gorm:"size:64" json:"-"`

	TrashedAt         *time.Time `gorm:"index" json:"trashed_at,omitempty"`
	DeleteRequestedAt *time.Time `gorm:"index" json:"delete_requested_at,omitempty"`
	DeletedAt         *time.Time `gorm:"index" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`

	Files []ArchiveFile `gorm:"foreignKey:ArchiveID" json:"files,omitempty"`
	Parts []Part        `gorm:"foreignKey:ArchiveID" json:"-"`
}

// TableName returns the table name for Archive.
func (Archive) TableName() string {
	return "archives"
}

// InTrash reports whether the archive is user-visible in the trash view.
func (a *Archive) InTrash() bool {
	return a.TrashedAt != nil && a.DeletedAt == nil
}

// SortedParts returns the archive's parts deduplicated by index (newest
// record wins) and sorted by ascending index. Readers must always go through
// this: concurrent appenders may leave duplicate index records behind.
func (a *Archive) SortedParts() []Part {
	return DedupeParts(a.Parts)
}

// FileByIndex returns the bundle entry with the given stable index.
// Indices survive soft-delete: they refer to the original files list.
func (a *Archive) FileByIndex(idx int) (*ArchiveFile, bool) {
	for i := range a.Files {
		if a.Files[i].Idx == idx {
			return &a.Files[i], true
		}
	}
	return nil, false
}

// DedupeParts collapses duplicate part records with the same index to the
// newest one (highest row ID) and returns the result sorted by index.
func DedupeParts(parts []Part) []Part {
	newest := make(map[int]Part, len(parts))
	for _, p := range parts {
		if cur, ok := newest[p.Idx]; !ok || p.ID > cur.ID {
			newest[p.Idx] = p
		}
	}
	out := make([]Part, 0, len(newest))
	for _, p := range newest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out
}

// ArchiveFile is one user-visible entry inside an archive. Single-file
// archives have exactly one; bundles have two or more. Idx is the stable
// position in the original files list and doubles as the zip entry prefix.
type ArchiveFile struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	ArchiveID string `gorm:"index;not null;size:36" json:"-"`
	Idx       int    `json:"index"`

	Name         string `gorm:"size:255" json:"name"`
	OriginalName string `gorm:"size:255" json:"original_name"`
	StagingPath  string `gorm:"size:512" json:"-"`
	Size         int64  `json:"size"`
	Kind         string `gorm:"size:64" json:"kind,omitempty"`

	DownloadCount int64 `json:"download_count"`
	PreviewCount  int64 `json:"preview_count"`

	// Thumbnail holds opaque thumbnail metadata produced by an external
	// generator. The core never interprets it.
	Thumbnail string `gorm:"type:text" json:"thumbnail,omitempty"`

	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// TableName returns the table name for ArchiveFile.
func (ArchiveFile) TableName() string {
	return "archive_files"
}

// Visible reports whether the file should appear in listings.
func (f *ArchiveFile) Visible() bool {
	return f.RemovedAt == nil
}
