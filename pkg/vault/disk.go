package vault

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const gib = 1 << 30

// FreeBytes reports the free space of the filesystem holding path.
func FreeBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// DiskPressure classifies free space against the soft and hard limits.
type DiskPressure int

const (
	// DiskOK means free space is above the soft limit.
	DiskOK DiskPressure = iota
	// DiskSoft means work may proceed but should be followed by a pause.
	DiskSoft
	// DiskHard means no new work may be leased.
	DiskHard
)

// CheckDisk classifies the staging root's free space.
func CheckDisk(root string, softGb, hardGb int) (DiskPressure, error) {
	free, err := FreeBytes(root)
	if err != nil {
		return DiskHard, err
	}
	switch {
	case free < int64(hardGb)*gib:
		return DiskHard, nil
	case free < int64(softGb)*gib:
		return DiskSoft, nil
	default:
		return DiskOK, nil
	}
}
