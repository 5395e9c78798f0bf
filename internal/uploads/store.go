package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is the public path stored files are served under.
const URLPrefix = "/uploads/"

const defaultContentType = "application/octet-stream"

var (
	ErrTooLarge   = errors.New("file too large")
	ErrEmptyFile  = errors.New("file is empty")
	ErrForeignURL = errors.New("url is not an upload")
)

// File describes a stored upload.
type File struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// LocalStore keeps uploads as plain files in one directory.
type LocalStore struct {
	dir      string
	maxBytes int64
}

func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, maxBytes: maxBytes}, nil
}

// Save streams r into a new file named after a fresh uuid and the
// sanitized original name. Files above the size limit are discarded.
func (s *LocalStore) Save(ctx context.Context, fileName, mimeType string, r io.Reader) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := uuid.New().String() + "-" + sanitizeFilename(fileName)
	path := filepath.Join(s.dir, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create upload %s: %w", key, err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		err = fmt.Errorf("write upload %s: %w", key, err)
	case n > s.maxBytes:
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	case n == 0:
		err = ErrEmptyFile
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	if mimeType == "" {
		mimeType = defaultContentType
	}
	return &File{
		URL:      URLPrefix + key,
		FileName: fileName,
		FileSize: n,
		MimeType: mimeType,
	}, nil
}

// Remove deletes the file behind url. A file that is already gone is not
// an error.
func (s *LocalStore) Remove(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, URLPrefix)
	if !ok || key == "" || key != filepath.Base(key) {
		return fmt.Errorf("%w: %q", ErrForeignURL, url)
	}
	err := os.Remove(filepath.Join(s.dir, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload %s: %w", key, err)
	}
	return nil
}

// Handler serves stored files under URLPrefix.
func (s *LocalStore) Handler() http.Handler {
	return http.StripPrefix(URLPrefix, http.FileServer(http.Dir(s.dir)))
}

// sanitizeFilename removes path components and separators from name.
func sanitizeFilename(name string) string {
	clean := filepath.Base(filepath.Clean(name))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	clean = strings.ReplaceAll(clean, " ", "_")
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}
