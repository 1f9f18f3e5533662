// Package archive packs intermediate item files into a flat ZIP archive and
// extracts them back into a workspace.
package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"pixpack-go/internal/job"

	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"
)

// Pack writes one Deflate entry per item file into archivePath, named by the
// item's base name. Any existing file at archivePath is replaced. The archive
// is written to a temporary sibling first, so a failed Pack leaves nothing
// behind at archivePath.
func Pack(ctx context.Context, items []string, archivePath string) (int, error) {
	const op = "pack archive"

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		name := filepath.Base(item)
		if _, dup := seen[name]; dup {
			return 0, job.Errorf(job.KindArchive, op, "duplicate entry name %q", name)
		}
		seen[name] = struct{}{}
	}

	dir := filepath.Dir(archivePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, job.E(job.KindArchive, op, errors.Errorf("create archive folder: %w", err))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(archivePath)+".*.tmp")
	if err != nil {
		return 0, job.E(job.KindArchive, op, errors.Errorf("create temp archive: %w", err))
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	count := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return 0, job.E(job.KindArchive, op, err)
		}
		if err := addEntry(zw, item); err != nil {
			return 0, job.E(job.KindArchive, op, err)
		}
		count++
	}
	if err := zw.Close(); err != nil {
		return 0, job.E(job.KindArchive, op, errors.Errorf("finalize archive: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return 0, job.E(job.KindArchive, op, errors.Errorf("close archive: %w", err))
	}
	if err := replaceFile(tmpPath, archivePath); err != nil {
		return 0, job.E(job.KindArchive, op, errors.Errorf("move archive into place: %w", err))
	}
	committed = true
	return count, nil
}

func addEntry(zw *zip.Writer, item string) error {
	f, err := os.Open(item)
	if err != nil {
		return errors.Errorf("open item: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Errorf("stat item: %w", err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return errors.Errorf("entry header for %s: %w", info.Name(), err)
	}
	hdr.Name = filepath.Base(item)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return errors.Errorf("create entry %s: %w", hdr.Name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return errors.Errorf("write entry %s: %w", hdr.Name, err)
	}
	return nil
}

func replaceFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// rename over an existing file fails on some platforms
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(src, dst)
}

// Unpack extracts the entries of archivePath whose base name matches pattern
// into targetDir and returns how many distinct files were written. Directories
// and entries that do not match are skipped. Entries are written flat by base
// name, so no entry can escape targetDir; a later entry with the same base
// name replaces an earlier one. Existing files are overwritten.
func Unpack(ctx context.Context, archivePath, targetDir, pattern string) (int, error) {
	const op = "unpack archive"

	if !doublestar.ValidatePattern(pattern) {
		return 0, job.Errorf(job.KindArchive, op, "bad item pattern %q", pattern)
	}

	// entries are flattened below, so non-local names are safe to read
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return 0, job.E(job.KindArchive, op, errors.Errorf("open %s: %w", filepath.Base(archivePath), err))
	}
	defer zr.Close()

	written := make(map[string]struct{})
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return len(written), job.E(job.KindArchive, op, err)
		}
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := entryBase(f.Name)
		if name == "" || name == "." || name == ".." {
			continue
		}
		if !MatchName(pattern, name) {
			continue
		}
		if err := extractEntry(f, filepath.Join(targetDir, name)); err != nil {
			return len(written), job.E(job.KindArchive, op, err)
		}
		written[name] = struct{}{}
	}
	return len(written), nil
}

// entryBase strips any directory part from a ZIP entry name, accepting both
// separators.
func entryBase(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Base(name)
}

func extractEntry(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Errorf("create %s: %w", filepath.Base(dst), err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return errors.Errorf("extract entry %s: %w", f.Name, err)
	}
	return out.Close()
}

// MatchName reports whether a file name matches the item pattern, ignoring case.
func MatchName(pattern, name string) bool {
	ok, err := doublestar.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}

// ListItems returns the regular files directly in dir whose names match
// pattern, sorted.
func ListItems(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Errorf("list items: %w", err)
	}
	var items []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if MatchName(pattern, entry.Name()) {
			items = append(items, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(items)
	return items, nil
}
