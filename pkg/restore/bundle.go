package restore

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/marmos91/stowfs/pkg/models"
)

// Zip record signatures, little-endian.
const (
	sigLocalHeader    = 0x04034b50
	sigDataDescriptor = 0x08074b50
	sigCentralDir     = 0x02014b50
)

// ServeBundleEntry streams one file out of a bundle without materializing
// the zip: the decrypted payload is parsed sequentially, every entry except
// the target is discarded, and the match is piped straight to the response.
// Entry names are "<idx>_<name>"; the index prefix is the match key so
// renames after upload do not orphan entries.
func (e *Engine) ServeBundleEntry(ctx context.Context, w http.ResponseWriter, a *models.Archive, idx int) error {
	if a.Status != models.StatusReady {
		return models.ErrNotReady
	}
	if !a.IsBundle {
		return models.ErrBadIndex
	}
	if a.EncryptionVersion != models.EncryptionChunked {
		return ErrRangeNotSupported
	}
	file, ok := a.FileByIndex(idx)
	if !ok {
		return models.ErrFileNotFound
	}

	br := bufio.NewReader(e.readerFor(ctx, a))
	prefix := fmt.Sprintf("%d_", idx)
	for {
		entry, err := readLocalEntry(br, a)
		if err == io.EOF {
			return models.ErrFileNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: parsing bundle: %v", ErrRestoreFailed, err)
		}

		if strings.HasPrefix(entry.name, prefix) {
			downloadName := file.OriginalName
			if downloadName == "" {
				downloadName = file.Name
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
			if _, err := io.CopyN(w, br, entry.size); err != nil {
				return nil
			}
			return nil
		}
		if _, err := io.CopyN(io.Discard, br, entry.size); err != nil {
			return fmt.Errorf("%w: parsing bundle: %v", ErrRestoreFailed, err)
		}
		if err := skipDataDescriptor(br, entry); err != nil {
			return fmt.Errorf("%w: parsing bundle: %v", ErrRestoreFailed, err)
		}
	}
}

type localEntry struct {
	name          string
	size          int64
	hasDescriptor bool
}

// readLocalEntry reads one local file header. Bundles are written with
// streaming entries (sizes deferred to the data descriptor), so entry sizes
// come from the archive's file table rather than the header. Returns io.EOF
// at the central directory.
func readLocalEntry(br *bufio.Reader, a *models.Archive) (*localEntry, error) {
	var sig [4]byte
	if _, err := io.ReadFull(br, sig[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	switch binary.LittleEndian.Uint32(sig[:]) {
	case sigCentralDir:
		return nil, io.EOF
	case sigLocalHeader:
	default:
		return nil, fmt.Errorf("unexpected zip record %08x", binary.LittleEndian.Uint32(sig[:]))
	}

	var fixed [26]byte
	if _, err := io.ReadFull(br, fixed[:]); err != nil {
		return nil, err
	}
	flags := binary.LittleEndian.Uint16(fixed[2:4])
	compressedSize := binary.LittleEndian.Uint32(fixed[14:18])
	nameLen := binary.LittleEndian.Uint16(fixed[22:24])
	extraLen := binary.LittleEndian.Uint16(fixed[24:26])

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(br, name); err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, br, int64(extraLen)); err != nil {
		return nil, err
	}

	entry := &localEntry{
		name:          string(name),
		size:          int64(compressedSize),
		hasDescriptor: flags&0x8 != 0,
	}
	if entry.size == 0 && entry.hasDescriptor {
		size, err := entrySizeFromTable(a, entry.name)
		if err != nil {
			return nil, err
		}
		entry.size = size
	}
	return entry, nil
}

// entrySizeFromTable resolves a streaming entry's length from the file
// records. Entries are stored uncompressed, so the recorded plaintext size
// is the exact byte count in the zip.
func entrySizeFromTable(a *models.Archive, entryName string) (int64, error) {
	idxPart, _, ok := strings.Cut(entryName, "_")
	if !ok {
		return 0, fmt.Errorf("malformed bundle entry name %q", entryName)
	}
	var idx int
	if _, err := fmt.Sscanf(idxPart, "%d", &idx); err != nil {
		return 0, fmt.Errorf("malformed bundle entry name %q", entryName)
	}
	file, ok := a.FileByIndex(idx)
	if !ok {
		return 0, fmt.Errorf("bundle entry %q has no file record", entryName)
	}
	return file.Size, nil
}

// skipDataDescriptor consumes the optional post-entry descriptor. The
// leading signature word is itself optional.
func skipDataDescriptor(br *bufio.Reader, entry *localEntry) error {
	if !entry.hasDescriptor {
		return nil
	}
	head, err := br.Peek(4)
	if err != nil {
		return err
	}
	skip := int64(12)
	if binary.LittleEndian.Uint32(head) == sigDataDescriptor {
		skip = 16
	}
	_, err = io.CopyN(io.Discard, br, skip)
	return err
}
