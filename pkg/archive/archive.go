// Package archive resolves raw source items into tabular payloads,
// extracting container files (including password-protected ZIPs) along
// the way.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/yeka/zip"

	"github.com/lhyang/ynab-butler/pkg/api"
)

// Payload is one extracted member (or the item itself when it is not a
// container). Payloads live only for the duration of a pipeline run.
type Payload struct {
	Name string
	Data []byte
}

var (
	zipMagic   = []byte{0x50, 0x4b, 0x03, 0x04}
	rarMagic   = []byte("Rar!")
	sevenMagic = []byte{0x37, 0x7a, 0xbc, 0xaf, 0x27, 0x1c}
)

// tabularExts are the member types worth parsing. Everything else inside
// a container is ignored.
var tabularExts = []string{".csv", ".xlsx", ".xls"}

// Resolver turns items into payloads. Decrypted bytes are held in memory
// only; external-tool extraction uses a temp dir removed before Resolve
// returns, whatever the outcome.
type Resolver struct {
	passphrases *PassphraseCache
	logger      *slog.Logger
}

// NewResolver creates a Resolver sharing the run's passphrase cache.
func NewResolver(passphrases *PassphraseCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{passphrases: passphrases, logger: logger}
}

// Resolve extracts the payloads of one item. Non-container items pass
// through unchanged. Container membership is decided by magic bytes, not
// the file extension alone.
func (r *Resolver) Resolve(item api.Item) ([]Payload, error) {
	scope := passphraseScope(item)
	ext := strings.ToLower(filepath.Ext(item.Name))

	switch {
	case ext == ".rar" || bytes.HasPrefix(item.Data, rarMagic),
		ext == ".7z" || bytes.HasPrefix(item.Data, sevenMagic):
		return r.extractExternal(item)
	case ext == ".zip":
		if !bytes.HasPrefix(item.Data, zipMagic) {
			return nil, fmt.Errorf("%s: .zip extension without zip magic: %w", item.Name, api.ErrUnsupportedArchive)
		}
		return r.extractZip(item, scope)
	case bytes.HasPrefix(item.Data, zipMagic) && !isTabular(ext):
		// A zip container hiding behind a foreign extension. Office
		// formats are zip-framed too, so tabular extensions pass through.
		return r.extractZip(item, scope)
	default:
		return []Payload{{Name: item.Name, Data: item.Data}}, nil
	}
}

func (r *Resolver) extractZip(item api.Item, scope string) ([]Payload, error) {
	zr, err := zip.NewReader(bytes.NewReader(item.Data), int64(len(item.Data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip %s: %w", item.Name, err)
	}

	var payloads []Payload
	for _, f := range zr.File {
		name := f.Name
		if name == "" || strings.HasSuffix(name, "/") || !isTabular(strings.ToLower(filepath.Ext(name))) {
			continue
		}
		if f.IsEncrypted() {
			pw, err := r.passphrases.Get(scope)
			if err != nil {
				return nil, fmt.Errorf("%s member %s: %w", item.Name, name, err)
			}
			f.SetPassword(pw)
		}
		data, err := readZipMember(f)
		if err != nil {
			// A garbled read of an encrypted member means the supplied
			// passphrase was wrong. No guessing: the item fails and the
			// user fixes the configured value.
			return nil, fmt.Errorf("reading %s from %s: %w", name, item.Name, err)
		}
		payloads = append(payloads, Payload{Name: filepath.Base(name), Data: data})
	}
	return payloads, nil
}

func readZipMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// extractExternal shells out to 7z for .rar/.7z containers. The tool is
// optional: its absence is a soft failure for this item only.
func (r *Resolver) extractExternal(item api.Item) ([]Payload, error) {
	tool, err := exec.LookPath("7z")
	if err != nil {
		return nil, fmt.Errorf("%s needs the 7z tool: %w", item.Name, api.ErrUnsupportedArchive)
	}

	tmp, err := os.MkdirTemp("", "ynab-butler-extract-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	archivePath := filepath.Join(tmp, filepath.Base(item.Name))
	if err := os.WriteFile(archivePath, item.Data, 0o600); err != nil {
		return nil, fmt.Errorf("staging archive: %w", err)
	}

	outDir := filepath.Join(tmp, "out")
	cmd := exec.Command(tool, "x", "-y", "-o"+outDir, archivePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("7z extraction of %s failed: %s: %w", item.Name, strings.TrimSpace(string(out)), err)
	}

	var payloads []Payload
	err = filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !isTabular(strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		payloads = append(payloads, Payload{Name: d.Name(), Data: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting extracted files: %w", err)
	}
	return payloads, nil
}

func isTabular(ext string) bool {
	for _, e := range tabularExts {
		if ext == e {
			return true
		}
	}
	return false
}

func passphraseScope(item api.Item) string {
	if item.Origin == api.OriginEmail && item.Sender != "" {
		return item.Sender
	}
	return item.Identity
}
