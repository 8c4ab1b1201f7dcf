package restore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/marmos91/stowfs/pkg/models"
)

// ErrRangeNotSupported marks range requests against bundles or legacy
// archives, which can only be restored whole.
var ErrRangeNotSupported = errors.New("range_not_supported")

// ErrUnsatisfiableRange marks a syntactically valid range outside the
// payload.
var ErrUnsatisfiableRange = errors.New("range_not_satisfiable")

// ByteRange is an inclusive byte interval within the plaintext.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) length() int64 { return r.End - r.Start + 1 }

// ParseRange interprets a Range header against a payload of the given
// size. A malformed header yields (nil, nil): per HTTP semantics it is
// ignored and the whole payload served. A well-formed range outside the
// payload yields ErrUnsatisfiableRange.
func ParseRange(header string, size int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, nil
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, nil
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	// Suffix form: last N bytes.
	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil {
			return nil, nil
		}
		if n <= 0 || size == 0 {
			return nil, ErrUnsatisfiableRange
		}
		if n > size {
			n = size
		}
		return &ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}
	if start >= size {
		return nil, ErrUnsatisfiableRange
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return nil, nil
		}
		if end >= size {
			end = size - 1
		}
	}
	return &ByteRange{Start: start, End: end}, nil
}

// WriteUnsatisfiable emits the 416 response with the payload size.
func WriteUnsatisfiable(w http.ResponseWriter, size int64) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
	w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
}

// ServeRange streams one byte range of a ready single-file archive. Parts
// wholly outside the range are never fetched; intersecting parts are
// decrypted in full and sliced.
func (e *Engine) ServeRange(ctx context.Context, w http.ResponseWriter, a *models.Archive, rng ByteRange) error {
	if a.Status != models.StatusReady {
		return models.ErrNotReady
	}
	if a.IsBundle || a.EncryptionVersion != models.EncryptionChunked {
		return ErrRangeNotSupported
	}

	writeCommonHeaders(w, a, a.DownloadName)
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, a.OriginalSize))
	w.Header().Set("Content-Length", strconv.FormatInt(rng.length(), 10))
	w.Header().Set("ETag", ETag(a))
	w.WriteHeader(http.StatusPartialContent)

	var offset int64
	parts := a.SortedParts()
	for i := range parts {
		part := &parts[i]
		partStart := offset
		partEnd := offset + part.PlainLen() - 1
		offset += part.PlainLen()
		if partEnd < rng.Start || partStart > rng.End {
			continue
		}

		plain, err := e.readPart(ctx, part)
		if err != nil {
			return err
		}
		lo := int64(0)
		if rng.Start > partStart {
			lo = rng.Start - partStart
		}
		hi := int64(len(plain))
		if rng.End < partEnd {
			hi = rng.End - partStart + 1
		}
		if err := writeChunk(ctx, w, plain[lo:hi]); err != nil {
			return nil
		}
	}
	return nil
}
