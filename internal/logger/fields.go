package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so the upload
// pipeline, restore engine, and background jobs can be correlated.
const (
	// Request / identity
	KeyRequestID = "request_id" // Per-HTTP-request correlation ID
	KeyUserID    = "user_id"    // Owning user
	KeyRemoteIP  = "remote_ip"  // Client IP address
	KeyOperation = "operation"  // Job or sub-operation name

	// Archive / part
	KeyArchiveID = "archive_id" // Archive identifier
	KeyFolderID  = "folder_id"  // Folder identifier
	KeyPartIndex = "part_index" // Part index within an archive
	KeyParts     = "parts"      // Part count
	KeyStatus    = "status"     // Archive lifecycle status

	// Provider
	KeyProvider  = "provider"   // Provider family: webhook, bot
	KeyHandleID  = "handle_id"  // Provider handle identifier
	KeyMessageID = "message_id" // Remote message identifier
	KeyMirror    = "mirror"     // Whether the mirror copy is meant

	// I/O
	KeyBytes = "bytes" // Byte count for the operation
	KeySize  = "size"  // Object size in bytes
	KeyPath  = "path"  // Filesystem path

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
)

// Field constructors for type safety.

// RequestID returns a slog.Attr for the per-request correlation ID
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// UserID returns a slog.Attr for the owning user
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// ArchiveID returns a slog.Attr for an archive identifier
func ArchiveID(id string) slog.Attr {
	return slog.String(KeyArchiveID, id)
}

// PartIndex returns a slog.Attr for a part index
func PartIndex(i int) slog.Attr {
	return slog.Int(KeyPartIndex, i)
}

// Provider returns a slog.Attr for a provider family
func Provider(kind string) slog.Attr {
	return slog.String(KeyProvider, kind)
}

// Bytes returns a slog.Attr for a byte count
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// Size returns a slog.Attr for an object size
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Path returns a slog.Attr for a filesystem path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}
