package uploader

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/marmos91/stowfs/pkg/models"
)

// bundleFileName is the zip payload inside an archive's staging directory.
const bundleFileName = "bundle.zip"

// PayloadPath resolves the plaintext payload for an archive: the staged
// file itself for single-file archives, the (possibly rebuilt) zip for
// bundles.
func PayloadPath(archive *models.Archive) (string, error) {
	if len(archive.Files) == 0 {
		return "", fmt.Errorf("archive %s has no staged files", archive.ID)
	}
	if !archive.IsBundle {
		return archive.Files[0].StagingPath, nil
	}
	return EnsureBundle(archive)
}

// EnsureBundle builds the bundle zip from the staged files, reusing an
// existing zip left behind by an interrupted run. Entries are stored
// uncompressed under the name "<idx>_<name>" so single entries can be
// located in a sequential pass without a central directory.
func EnsureBundle(archive *models.Archive) (string, error) {
	path := filepath.Join(archive.StagingDir, bundleFileName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	files := make([]models.ArchiveFile, len(archive.Files))
	copy(files, archive.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Idx < files[j].Idx })

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating bundle: %w", err)
	}
	zw := zip.NewWriter(f)

	for _, file := range files {
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:   BundleEntryName(file.Idx, file.Name),
			Method: zip.Store,
		})
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("adding bundle entry %s: %w", file.Name, err)
		}
		src, err := os.Open(file.StagingPath)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("reading staged file %s: %w", file.StagingPath, err)
		}
		_, err = io.Copy(entry, src)
		src.Close()
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("writing bundle entry %s: %w", file.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("closing bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// BundleEntryName is the canonical zip entry name for a bundle file. The
// index prefix keeps entries unique and addressable even after renames.
func BundleEntryName(idx int, name string) string {
	return fmt.Sprintf("%d_%s", idx, name)
}
