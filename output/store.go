package output

import (
	"bytes"
	"context"
	"path"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/inealey/cinema-transfer/types"
)

// Store is a Sink backed by a Lode store (S3, or memory in tests).
// Objects land at <prefix>/<name>.
type Store struct {
	factory  lode.StoreFactory
	prefix   string
	location string

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// Verify Store implements Sink.
var _ Sink = (*Store)(nil)

// NewStore creates a store-backed sink. The store is created lazily on
// first use. location is only used for descriptions.
func NewStore(factory lode.StoreFactory, prefix, location string) *Store {
	return &Store{factory: factory, prefix: prefix, location: location}
}

// Location implements Sink.
func (s *Store) Location() string { return s.location }

// CommitBatch implements Sink. Object stores have no rename, so objects
// already written are deleted again if a later put fails.
func (s *Store) CommitBatch(ctx context.Context, b types.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	store, err := s.getOrCreateStore()
	if err != nil {
		return wrapError(err, "init", s.location)
	}

	written := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		key := s.key(f.Name)
		if err := store.Put(ctx, key, bytes.NewReader(f.Data)); err != nil {
			for _, k := range written {
				_ = store.Delete(ctx, k)
			}
			return wrapError(err, "put", key)
		}
		written = append(written, key)
	}
	return nil
}

// PutIfAbsent implements Sink. The existence check and the put are two
// requests; two collectors sharing a prefix may both write.
func (s *Store) PutIfAbsent(ctx context.Context, name string, data []byte) (bool, error) {
	if err := types.ValidateName(name); err != nil {
		return false, err
	}
	store, err := s.getOrCreateStore()
	if err != nil {
		return false, wrapError(err, "init", s.location)
	}
	key := s.key(name)
	exists, err := store.Exists(ctx, key)
	if err != nil {
		return false, wrapError(err, "exists", key)
	}
	if exists {
		return false, nil
	}
	if err := store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return false, wrapError(err, "put", key)
	}
	return true, nil
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// getOrCreateStore lazily initializes the store from the factory.
func (s *Store) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.factory()
	})
	return s.store, s.storeErr
}
