// Package blobstore is the payload store (C2): content lives as plain
// files under a root directory, addressed by an opaque relative path
// the metadata store records alongside each object version. It never
// knows about buckets, generations or names — just paths and bytes,
// the same separation the teacher draws between its Kubernetes
// resource model and the GCP wire shapes in pkg/clients.
package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// Store roots every payload under Root. Paths it hands out are always
// relative to Root; callers never see the absolute filesystem location.
type Store struct {
	Root string
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "cannot create storage root")
	}
	return &Store{Root: root}, nil
}

// NewPath mints a fresh relative path for a new payload from a random
// UUID, sharded two levels deep so a single directory never holds
// every blob in the store.
func (s *Store) NewPath() string {
	id := uuid.NewString()
	return filepath.Join(id[0:2], id[2:4], id)
}

// Create opens relPath for writing, creating parent directories as
// needed. The caller must Close the returned writer.
func (s *Store) Create(relPath string) (io.WriteCloser, error) {
	abs := s.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, errors.Wrap(err, "cannot create blob directory")
	}
	f, err := os.Create(abs)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create blob")
	}
	return f, nil
}

// OpenAppend opens relPath for appending, for a resumable upload
// session receiving its next chunk. The caller must Close the returned
// writer.
func (s *Store) OpenAppend(relPath string) (io.WriteCloser, error) {
	f, err := os.OpenFile(s.abs(relPath), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, emuerr.Newf(emuerr.NotFound, "blobNotFound", "blob %s not found", relPath)
		}
		return nil, errors.Wrap(err, "cannot open blob for append")
	}
	return f, nil
}

// Open returns a reader over relPath, or emuerr.NotFound.
func (s *Store) Open(relPath string) (io.ReadCloser, error) {
	f, err := os.Open(s.abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, emuerr.Newf(emuerr.NotFound, "blobNotFound", "blob %s not found", relPath)
		}
		return nil, errors.Wrap(err, "cannot open blob")
	}
	return f, nil
}

// OpenRange returns a reader positioned at offset, for HTTP range
// request support; length < 0 reads to the end of the file.
func (s *Store) OpenRange(relPath string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(s.abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, emuerr.Newf(emuerr.NotFound, "blobNotFound", "blob %s not found", relPath)
		}
		return nil, errors.Wrap(err, "cannot open blob")
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "cannot seek blob")
		}
	}
	if length < 0 {
		return f, nil
	}
	return &limitedReadCloser{r: io.LimitReader(f, length), c: f}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

// Remove deletes relPath. A missing file is not an error: callers may
// race a cleanup against a process restart that already ran it.
func (s *Store) Remove(relPath string) error {
	err := os.Remove(s.abs(relPath))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "cannot remove blob")
	}
	return nil
}

// Rename moves the file at oldPath to newPath, used to promote a
// resumable upload's temp file into its final content-addressed
// location without copying bytes.
func (s *Store) Rename(oldPath, newPath string) error {
	abs := s.abs(newPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errors.Wrap(err, "cannot create blob directory")
	}
	return os.Rename(s.abs(oldPath), abs)
}

// Stat returns the size in bytes of relPath.
func (s *Store) Stat(relPath string) (int64, error) {
	fi, err := os.Stat(s.abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, emuerr.Newf(emuerr.NotFound, "blobNotFound", "blob %s not found", relPath)
		}
		return 0, errors.Wrap(err, "cannot stat blob")
	}
	return fi.Size(), nil
}

func (s *Store) abs(relPath string) string { return filepath.Join(s.Root, relPath) }

// GC removes every regular file under the store root whose relative path
// is not present in live, used by the lifecycle worker to reclaim blobs
// orphaned by a crash between payload write and metadata commit. ctx is
// honored between directory entries so a large sweep can be cancelled.
func (s *Store) GC(ctx context.Context, live map[string]bool) (removed int, err error) {
	err = filepath.Walk(s.Root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		if live[rel] {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}
