// Package memory provides an in-process types.ObjectStore. It backs dry
// runs, where nothing is published, and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/types"
)

type entry struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Store is a concurrency-safe map of objects with S3 listing semantics.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry

	failMu  sync.RWMutex
	getErr  map[string]error
	putErr  map[string]error
	listErr map[string]error

	puts int
}

var _ types.ObjectStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		objects: make(map[string]entry),
		getErr:  make(map[string]error),
		putErr:  make(map[string]error),
		listErr: make(map[string]error),
	}
}

// List returns keys under opts.Prefix in lexicographic order, grouping
// deeper keys into common prefixes when a delimiter is given.
func (s *Store) List(ctx context.Context, opts types.ListOptions) (*types.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "list canceled", err)
	}
	if err := s.injected(s.listErr, opts.Prefix); err != nil {
		return nil, err
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	infos := make(map[string]types.ObjectInfo, len(keys))
	for _, k := range keys {
		e := s.objects[k]
		infos[k] = types.ObjectInfo{
			Key:          k,
			Size:         int64(len(e.data)),
			LastModified: e.modified,
			ContentType:  e.contentType,
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)

	res := &types.ListResult{}
	seen := make(map[string]bool)
	for _, k := range keys {
		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(k, opts.Prefix)
			if i := strings.Index(rest, opts.Delimiter); i >= 0 {
				cp := opts.Prefix + rest[:i+len(opts.Delimiter)]
				if !seen[cp] {
					seen[cp] = true
					res.CommonPrefixes = append(res.CommonPrefixes, cp)
				}
				continue
			}
		}
		res.Objects = append(res.Objects, infos[k])
	}
	return res, nil
}

// Get returns a copy of the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (*types.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "get canceled", err)
	}
	if err := s.injected(s.getErr, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NewError(errors.ErrCodeObjectNotFound, fmt.Sprintf("object not found: %s", key)).
			WithComponent("memory-store").
			WithContext("key", key)
	}

	data := make([]byte, len(e.data))
	copy(data, e.data)
	return &types.Object{Key: key, Data: data, ContentType: e.contentType}, nil
}

// Put stores a copy of data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeOperationCanceled, "put canceled", err)
	}
	if err := s.injected(s.putErr, key); err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[key] = entry{data: buf, contentType: contentType, modified: time.Now()}
	s.puts++
	s.mu.Unlock()
	return nil
}

// Seed stores objects without going through Put accounting.
func (s *Store) Seed(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = entry{data: data, contentType: contentType, modified: time.Now()}
}

// Object returns the stored bytes and content type of key.
func (s *Store) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[key]
	return e.data, e.contentType, ok
}

// Keys returns all stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Puts returns how many successful Put calls the store has served.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// FailGet makes every Get of key return err.
func (s *Store) FailGet(key string, err error) { s.setFailure(s.getErr, key, err) }

// FailPut makes every Put of key return err.
func (s *Store) FailPut(key string, err error) { s.setFailure(s.putErr, key, err) }

// FailList makes every List with the given prefix return err.
func (s *Store) FailList(prefix string, err error) { s.setFailure(s.listErr, prefix, err) }

func (s *Store) setFailure(m map[string]error, key string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err == nil {
		delete(m, key)
		return
	}
	m[key] = err
}

func (s *Store) injected(m map[string]error, key string) error {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return m[key]
}
