// Package payload unwraps downloaded ERCOT documents: zip containers, nested
// bulk archives and CSV text in whatever encoding the publisher used.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/charmap"
)

// ErrPathTraversal is returned when a zip member would land outside its target directory.
var ErrPathTraversal = errors.New("ZIP path traversal rejected")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Entry is one member of a zip archive.
type Entry struct {
	Name string
	Data []byte
}

// IsZip reports whether data parses as a zip archive.
func IsZip(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	_, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	return err == nil
}

// Unzip reads every member of an in-memory archive in directory order.
func Unzip(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	out := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip member %q: %w", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read zip member %q: %w", f.Name, err)
		}
		out = append(out, Entry{Name: f.Name, Data: body})
	}
	return out, nil
}

// DecodeText decodes raw bytes trying UTF-8 with BOM, plain UTF-8, then Latin-1.
func DecodeText(raw []byte) string {
	if trimmed, ok := bytes.CutPrefix(raw, utf8BOM); ok && utf8.Valid(trimmed) {
		return string(trimmed)
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	return string(decoded)
}

// CSVText returns the tabular text carried by a document. Zip documents yield
// their first .csv member, falling back to the first file member; an archive
// without file members yields "".
func CSVText(raw []byte) (string, error) {
	if !IsZip(raw) {
		return DecodeText(raw), nil
	}
	entries, err := Unzip(raw)
	if err != nil {
		return "", err
	}
	var files []Entry
	for _, e := range entries {
		if !strings.HasSuffix(e.Name, "/") {
			files = append(files, e)
		}
	}
	if len(files) == 0 {
		return "", nil
	}
	target := files[0]
	for _, e := range files {
		if strings.HasSuffix(strings.ToLower(e.Name), ".csv") {
			target = e
			break
		}
	}
	return DecodeText(target.Data), nil
}

// ReadCSVText is CSVText over a file on disk.
func ReadCSVText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return CSVText(raw)
}

// ExtractZip unpacks a .zip file next to itself. Other suffixes are ignored.
// Every member is checked before anything is written.
func ExtractZip(path string) error {
	if strings.ToLower(filepath.Ext(path)) != ".zip" {
		return nil
	}
	target, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("resolve extract directory: %w", err)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		dest := filepath.Join(target, f.Name)
		if dest != target && !strings.HasPrefix(dest, target+string(filepath.Separator)) {
			return fmt.Errorf("%w: member %q resolves outside target directory", ErrPathTraversal, f.Name)
		}
	}
	for _, f := range zr.File {
		if err := extractMember(target, f); err != nil {
			return err
		}
	}
	return nil
}

func extractMember(target string, f *zip.File) error {
	dest := filepath.Join(target, f.Name)
	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		if err := os.MkdirAll(dest, 0o750); err != nil {
			return fmt.Errorf("create directory %q: %w", f.Name, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("create directory for %q: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open zip member %q: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %q: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("extract %q: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %q: %w", dest, err)
	}
	return nil
}
