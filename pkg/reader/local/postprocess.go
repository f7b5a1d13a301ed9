package local

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MarkDone renames an imported file to name.done so later runs skip
// it. Existing markers are never overwritten; a counter suffix keeps
// the rename safe.
func MarkDone(path string) (string, error) {
	target := path + ".done"
	for n := 1; ; n++ {
		if _, err := os.Lstat(target); os.IsNotExist(err) {
			break
		} else if err != nil {
			return "", fmt.Errorf("checking %s: %w", target, err)
		}
		target = fmt.Sprintf("%s.%d.done", path, n)
	}
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("marking %s done: %w", path, err)
	}
	return target, nil
}

// ArchivePreviousMonth compacts .done files of the immediately
// preceding calendar month into YYYY-MM.archive.zip under root,
// removing the originals. Current-month files stay inspectable while
// the month is in flight, and files older than one month are left
// alone too: they were either compacted when their month came up or
// placed there deliberately.
func ArchivePreviousMonth(root string, now time.Time) error {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prevStart := monthStart.AddDate(0, -1, 0)

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("reading %s: %w", root, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".done") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		mtime := info.ModTime()
		if mtime.Before(prevStart) || !mtime.Before(monthStart) {
			continue
		}
		files = append(files, filepath.Join(root, e.Name()))
	}
	if len(files) == 0 {
		return nil
	}
	sort.Strings(files)

	dest := filepath.Join(root, prevStart.Format("2006-01")+".archive.zip")
	if err := appendToArchive(dest, files); err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("removing %s: %w", f, err)
		}
	}
	return nil
}

// appendToArchive writes files into dest, preserving any members an
// earlier run already stored. zip files cannot be appended in place,
// so the archive is rebuilt in a temp file and swapped in.
func appendToArchive(dest string, files []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".archive-*")
	if err != nil {
		return fmt.Errorf("creating temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	zw := zip.NewWriter(tmp)
	seen := make(map[string]bool)

	if existing, err := zip.OpenReader(dest); err == nil {
		for _, f := range existing.File {
			if err := copyMember(zw, f); err != nil {
				existing.Close()
				return err
			}
			seen[f.Name] = true
		}
		existing.Close()
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("opening %s: %w", dest, err)
	}

	for _, path := range files {
		name := filepath.Base(path)
		if seen[name] {
			continue
		}
		if err := addMember(zw, path, name); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("replacing %s: %w", dest, err)
	}
	return nil
}

func copyMember(zw *zip.Writer, f *zip.File) error {
	w, err := zw.CreateHeader(&f.FileHeader)
	if err != nil {
		return err
	}
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}

func addMember(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: info.ModTime()}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("archiving %s: %w", path, err)
	}
	return nil
}
