// Package local discovers import files on disk and retires them once
// their contents are safely uploaded.
package local

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lhyang/ynab-butler/pkg/api"
)

// eligibleExts are the file types the pipeline knows how to open.
var eligibleExts = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xls":  true,
	".zip":  true,
	".rar":  true,
	".7z":   true,
}

// Walker turns CLI path arguments into pipeline items. Directories are
// walked recursively; files are taken as given (skip rules still
// apply, so pointing at a .done file is a no-op, not an error).
type Walker struct {
	logger *slog.Logger
}

func NewWalker(logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{logger: logger.With("component", "local")}
}

// skip reports whether a file name is out of scope: already-processed
// markers, compacted archives, and fixture files.
func skip(name string) bool {
	if strings.HasSuffix(name, ".done") ||
		strings.HasSuffix(name, ".archive") ||
		strings.HasSuffix(name, ".archive.zip") {
		return true
	}
	if strings.HasPrefix(name, "test_") {
		return true
	}
	return !eligibleExts[strings.ToLower(filepath.Ext(name))]
}

// Discover resolves the given paths into items, reading file contents
// eagerly. Item identity is the absolute path.
func (w *Walker) Discover(paths []string) ([]api.Item, error) {
	var items []api.Item
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			found, err := w.walkDir(p)
			if err != nil {
				return nil, err
			}
			items = append(items, found...)
			continue
		}
		if skip(filepath.Base(p)) {
			w.logger.Debug("skipping file", "path", p)
			continue
		}
		item, err := w.load(p, info)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (w *Walker) walkDir(root string) ([]api.Item, error) {
	var items []api.Item
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || skip(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		item, err := w.load(path, info)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return items, nil
}

func (w *Walker) load(path string, info fs.FileInfo) (api.Item, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return api.Item{}, fmt.Errorf("resolving %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return api.Item{}, fmt.Errorf("reading %s: %w", abs, err)
	}
	return api.Item{
		Origin:   api.OriginLocal,
		Identity: abs,
		Name:     filepath.Base(abs),
		Data:     data,
		ModTime:  info.ModTime(),
	}, nil
}
