// Package store keeps scan images in an embedded Pebble key-value store and
// reads and writes the data directory manifest.
package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

const (
	pebbleDir = "images"
	keyPrefix = "img/"
)

// ErrNotFound is returned for unknown image references.
var ErrNotFound = errors.New("image not found")

// BlobStore maps image references to encoded image bytes.
type BlobStore struct {
	db *pebble.DB
}

// Open opens or creates the image store under dir.
func Open(dir string) (*BlobStore, error) {
	db, err := pebble.Open(filepath.Join(dir, pebbleDir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &BlobStore{db: db}, nil
}

// Close flushes and releases the store.
func (s *BlobStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("pebble close: %w", err)
	}
	return nil
}

func key(ref string) []byte {
	return []byte(keyPrefix + ref)
}

// NewRef returns a fresh image reference.
func NewRef() string {
	return uuid.NewString()
}

// ValidRef reports whether ref has the shape NewRef produces.
func ValidRef(ref string) bool {
	_, err := uuid.Parse(ref)
	return err == nil
}

// Put stores data under a new reference and returns it.
func (s *BlobStore) Put(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("put image: empty data")
	}
	ref := NewRef()
	if err := s.db.Set(key(ref), data, pebble.Sync); err != nil {
		return "", fmt.Errorf("pebble set: %w", err)
	}
	return ref, nil
}

// PutAll stores every image atomically and returns their references in
// input order. Either all images are written or none.
func (s *BlobStore) PutAll(images ...[]byte) ([]string, error) {
	b := s.db.NewBatch()
	defer b.Close()

	refs := make([]string, len(images))
	for i, data := range images {
		if len(data) == 0 {
			return nil, fmt.Errorf("put image %d: empty data", i)
		}
		refs[i] = NewRef()
		if err := b.Set(key(refs[i]), data, nil); err != nil {
			return nil, fmt.Errorf("pebble batch set: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("pebble batch commit: %w", err)
	}
	return refs, nil
}

// Get returns a copy of the image stored under ref.
func (s *BlobStore) Get(ref string) ([]byte, error) {
	val, closer, err := s.db.Get(key(ref))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	// val is only valid until closer.Close()
	data := make([]byte, len(val))
	copy(data, val)
	return data, nil
}

// Delete removes refs. Unknown references are ignored.
func (s *BlobStore) Delete(refs ...string) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, ref := range refs {
		if err := b.Delete(key(ref), nil); err != nil {
			return fmt.Errorf("pebble batch delete: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble batch commit: %w", err)
	}
	return nil
}

// Count walks the keyspace and returns the number of stored images.
func (s *BlobStore) Count() (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("img0"), // '0' sorts right after '/'
	})
	if err != nil {
		return 0, fmt.Errorf("pebble iter: %w", err)
	}
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("pebble iter: %w", err)
	}
	return n, nil
}
