// Package blob stores file content on the local filesystem, addressed
// by generated locations that are independent of any file name.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/metrics"
)

// Store reads and writes content blobs under a base directory.
type Store struct {
	baseDir string
}

// New creates a blob store rooted at baseDir, creating it if needed.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// NewLocation generates a fresh storage location. The first three hex
// byte pairs of a random UUID become directory levels so blobs spread
// across at most 16M leaf directories; the full 32-char token is the
// leaf name, which keeps collisions out of practical reach.
func NewLocation() string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("/%s/%s/%s/%s", token[0:2], token[2:4], token[4:6], token)
}

func (s *Store) path(location string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(location))
}

// Save writes the blob for location atomically. The content is staged
// in a temp file and renamed into place, so a partial write never
// leaves a readable blob behind. An already-occupied location is a
// generation bug and is rejected outright.
func (s *Store) Save(ctx context.Context, location string, r io.Reader) (written int64, err error) {
	start := time.Now()
	defer func() { metrics.RecordBlobOperation("save", time.Since(start), err) }()

	if err = ctx.Err(); err != nil {
		return 0, err
	}

	target := s.path(location)
	if _, statErr := os.Stat(target); statErr == nil {
		return 0, &errs.BlobError{Op: "save", Location: location,
			Err: fmt.Errorf("location already occupied")}
	}
	if mkErr := os.MkdirAll(filepath.Dir(target), 0755); mkErr != nil {
		return 0, &errs.BlobError{Op: "save", Location: location, Err: mkErr}
	}

	tmp, tmpErr := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if tmpErr != nil {
		return 0, &errs.BlobError{Op: "save", Location: location, Err: tmpErr}
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	written, err = io.Copy(tmp, r)
	if err != nil {
		return 0, &errs.BlobError{Op: "save", Location: location, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return 0, &errs.BlobError{Op: "save", Location: location, Err: err}
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return 0, &errs.BlobError{Op: "save", Location: location, Err: err}
	}

	metrics.RecordContentUpload(written)
	return written, nil
}

// Open returns a reader for the blob at location.
func (s *Store) Open(ctx context.Context, location string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { metrics.RecordBlobOperation("open", time.Since(start), err) }()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	f, openErr := os.Open(s.path(location))
	if openErr != nil {
		return nil, &errs.BlobError{Op: "open", Location: location, Err: openErr}
	}
	return f, nil
}

// Delete removes the blob at location. Deleting a missing blob is not
// an error, so cleanup retries stay idempotent.
func (s *Store) Delete(ctx context.Context, location string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordBlobOperation("delete", time.Since(start), err) }()

	if err = ctx.Err(); err != nil {
		return err
	}

	if rmErr := os.Remove(s.path(location)); rmErr != nil && !os.IsNotExist(rmErr) {
		return &errs.BlobError{Op: "delete", Location: location, Err: rmErr}
	}
	return nil
}

// Exists reports whether a blob is present at location.
func (s *Store) Exists(location string) (bool, error) {
	_, err := os.Stat(s.path(location))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &errs.BlobError{Op: "stat", Location: location, Err: err}
}
