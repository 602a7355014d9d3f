// Package storage abstracts the blob store that holds uploaded attachment
// bytes. The chat core only needs store-and-locate; serving bytes back is
// done by streaming the stored key. The production deployment may swap the
// local-disk implementation for an object store behind the same interface.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Stored describes a persisted blob: the generated stored name and the
// locator used to retrieve it later.
type Stored struct {
	StoredName string
	Key        string
}

// BlobStore persists attachment bytes and hands back a retrievable locator.
type BlobStore interface {
	// Store writes r under a generated name scoped to roomID, preserving
	// the original extension.
	Store(roomID int64, originalName string, r io.Reader) (Stored, error)
	// Open returns a reader for a previously stored key.
	Open(key string) (io.ReadCloser, error)
	// Remove deletes a previously stored key. Used to reclaim blobs whose
	// message never committed.
	Remove(key string) error
}

// LocalStore keeps blobs on the local filesystem under
// {base}/{roomID}/{yyyy}/{mm}/{dd}/{uuid}{ext}.
type LocalStore struct {
	Base string
}

// NewLocalStore constructs a LocalStore rooted at base.
func NewLocalStore(base string) *LocalStore {
	return &LocalStore{Base: base}
}

// Store implements BlobStore. The stored name is a UUID with the original
// extension kept, so collisions are practically impossible and the
// original name never touches the filesystem.
func (s *LocalStore) Store(roomID int64, originalName string, r io.Reader) (Stored, error) {
	ext := filepath.Ext(originalName)
	storedName := uuid.NewString() + ext

	now := time.Now().UTC()
	dir := filepath.Join(
		s.Base,
		fmt.Sprintf("%d", roomID),
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
	)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Stored{}, err
	}

	target := filepath.Join(dir, storedName)
	f, err := os.Create(target)
	if err != nil {
		return Stored{}, err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(target)
		return Stored{}, err
	}
	if err := f.Close(); err != nil {
		return Stored{}, err
	}
	return Stored{StoredName: storedName, Key: target}, nil
}

// Open implements BlobStore.
func (s *LocalStore) Open(key string) (io.ReadCloser, error) {
	return os.Open(key)
}

// Remove implements BlobStore.
func (s *LocalStore) Remove(key string) error {
	return os.Remove(key)
}
