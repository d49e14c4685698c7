package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"
)

// StampLayout is the timestamp prefix of stored upload names.
const StampLayout = "20060102_150405"

// Sort orders for List.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
)

// StoredFile describes one upload in the upload directory.
type StoredFile struct {
	Name         string // {timestamp}_{original}
	OriginalName string
	UploadedAt   time.Time // parsed from the prefix; zero if absent
	Size         int64
	ModTime      time.Time
}

// Fingerprint identifies a particular version of the file's content.
func (f StoredFile) Fingerprint() string {
	return fmt.Sprintf("%s|%d|%d", f.Name, f.Size, f.ModTime.UnixNano())
}

// UploadStore keeps uploads as flat files named {timestamp}_{original} in
// one directory. The directory listing is the only index.
type UploadStore struct {
	dir        string
	extensions []string
	now        func() time.Time
}

// NewUploadStore creates dir if needed. extensions are matched
// case-insensitively and must include the leading dot.
func NewUploadStore(dir string, extensions []string) (*UploadStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return &UploadStore{dir: dir, extensions: exts, now: time.Now}, nil
}

// Dir returns the upload directory.
func (s *UploadStore) Dir() string { return s.dir }

// Extensions returns the accepted file extensions.
func (s *UploadStore) Extensions() []string { return slices.Clone(s.extensions) }

// Allowed reports whether name carries an accepted extension.
func (s *UploadStore) Allowed(name string) bool {
	return slices.Contains(s.extensions, strings.ToLower(filepath.Ext(name)))
}

// Save copies r byte for byte to a new stored file. A name collision within
// the same second overwrites the earlier file.
func (s *UploadStore) Save(ctx context.Context, original string, r io.Reader) (StoredFile, error) {
	original, err := CleanName(original)
	if err != nil {
		return StoredFile{}, err
	}
	if !s.Allowed(original) {
		return StoredFile{}, fmt.Errorf("%w: %s", ErrExtensionNotAllowed, filepath.Ext(original))
	}
	if err := ctx.Err(); err != nil {
		return StoredFile{}, err
	}

	name := s.now().Format(StampLayout) + "_" + original
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return StoredFile{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return StoredFile{}, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return StoredFile{}, fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return StoredFile{}, fmt.Errorf("store upload: %w", err)
	}
	return s.Stat(name)
}

// List returns the stored files with an accepted extension, sorted by name:
// SortOldest ascending, anything else descending.
func (s *UploadStore) List(order string) ([]StoredFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read upload directory: %w", err)
	}
	out := make([]StoredFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !s.Allowed(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		out = append(out, describe(info))
	}
	slices.SortFunc(out, func(a, b StoredFile) int { return strings.Compare(a.Name, b.Name) })
	if order != SortOldest {
		slices.Reverse(out)
	}
	return out, nil
}

// Path returns the absolute location of a stored file after validating the
// name.
func (s *UploadStore) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// Stat describes one stored file.
func (s *UploadStore) Stat(name string) (StoredFile, error) {
	p, err := s.Path(name)
	if err != nil {
		return StoredFile{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StoredFile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return StoredFile{}, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return StoredFile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return describe(info), nil
}

// Delete removes a stored file.
func (s *UploadStore) Delete(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func describe(info fs.FileInfo) StoredFile {
	orig, at := SplitStoredName(info.Name())
	return StoredFile{
		Name:         info.Name(),
		OriginalName: orig,
		UploadedAt:   at,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
	}
}

// SplitStoredName separates the timestamp prefix from the original name.
// Names without a valid prefix are returned whole with a zero time.
func SplitStoredName(name string) (string, time.Time) {
	n := len(StampLayout)
	if len(name) <= n+1 || name[n] != '_' {
		return name, time.Time{}
	}
	at, err := time.ParseInLocation(StampLayout, name[:n], time.Local)
	if err != nil {
		return name, time.Time{}
	}
	return name[n+1:], at
}

// CleanName reduces a client supplied file name to its base name without
// control characters.
func CleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}
