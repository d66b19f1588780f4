// Package files stages uploaded attachments on local disk.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"CareChat/internal/store"
)

// MaxUploadSize is the attachment ceiling. Larger files are rejected
// before any bytes are written.
const MaxUploadSize = 10 << 20 // 10 MiB

// ErrTooLarge is returned when an upload exceeds MaxUploadSize.
var ErrTooLarge = fmt.Errorf("file exceeds upload limit of %d bytes", MaxUploadSize)

// DiskStore saves attachments under a base directory and serves them by URL.
type DiskStore struct {
	dir     string
	baseURL string
}

// NewDiskStore creates the upload directory if needed.
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: baseURL}, nil
}

// Save stores one upload and returns its attachment metadata. size must
// be the declared length of r; uploads over the ceiling are rejected with
// ErrTooLarge and leave nothing behind.
func (d *DiskStore) Save(name, mime string, size int64, r io.Reader) (*store.Attachment, error) {
	if size > MaxUploadSize {
		return nil, ErrTooLarge
	}

	id := uuid.NewString()
	path := filepath.Join(d.dir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	// LimitReader guards against a body longer than its declared size.
	written, err := io.Copy(f, io.LimitReader(r, MaxUploadSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > MaxUploadSize {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		if err == ErrTooLarge {
			return nil, err
		}
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &store.Attachment{
		ID:   id,
		Name: name,
		Mime: mime,
		Size: written,
		URL:  d.baseURL + "/" + id,
	}, nil
}

// Open returns the stored file for an attachment id.
func (d *DiskStore) Open(id string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.dir, id))
	if err != nil {
		return nil, fmt.Errorf("attachment not found: %w", err)
	}
	return f, nil
}
