package models

import "errors"

// Sentinel errors for store and service operations. Handlers map these to
// HTTP problem responses; workers use them to classify failures.
var (
	ErrArchiveNotFound = errors.New("archive not found")
	ErrFileNotFound    = errors.New("file_not_found")
	ErrUserNotFound    = errors.New("user not found")
	ErrFolderNotFound  = errors.New("folder not found")
	ErrShareNotFound   = errors.New("share not found")
	ErrHandleNotFound  = errors.New("provider handle not found")
	ErrSettingNotFound = errors.New("setting not found")

	ErrDuplicateUser   = errors.New("user already exists")
	ErrDuplicateFolder = errors.New("folder already exists")

	// ErrNoPendingWork is returned by claim queries when nothing matches.
	ErrNoPendingWork = errors.New("no pending work")

	// ErrQuotaExceeded is raised when accepting an upload would push a
	// user's used bytes over their quota.
	ErrQuotaExceeded = errors.New("quota_exceeded")

	// ErrDiskFull is raised when free space at the cache root is below the
	// hard limit.
	ErrDiskFull = errors.New("disk_full")

	// ErrNotReady is raised when a read is attempted on an archive that has
	// not finished uploading.
	ErrNotReady = errors.New("not_ready")

	// ErrNoProvider is raised when an upload finds no enabled provider
	// handle of either family.
	ErrNoProvider = errors.New("no_storage_provider_configured")

	ErrForbidden = errors.New("forbidden")
	ErrBadIndex  = errors.New("bad_index")
)
