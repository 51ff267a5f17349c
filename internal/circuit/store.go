package circuit

import (
	"context"

	"github.com/s3gallery/s3gallery/pkg/types"
)

// Store wraps an object store with one breaker per operation, so a
// destination that rejects writes does not stop reads from the source.
type Store struct {
	store types.ObjectStore

	list *Breaker
	get  *Breaker
	put  *Breaker
}

// Stats is a snapshot of one breaker
type Stats struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// NewStore guards store. Breaker names are "<name>.list", "<name>.get" and
// "<name>.put".
func NewStore(name string, store types.ObjectStore, config Config) *Store {
	return &Store{
		store: store,
		list:  NewBreaker(name+".list", config),
		get:   NewBreaker(name+".get", config),
		put:   NewBreaker(name+".put", config),
	}
}

// List implements types.ObjectStore.
func (s *Store) List(ctx context.Context, opts types.ListOptions) (*types.ListResult, error) {
	var res *types.ListResult
	err := s.list.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.store.List(ctx, opts)
		return err
	})
	return res, err
}

// Get implements types.ObjectStore.
func (s *Store) Get(ctx context.Context, key string) (*types.Object, error) {
	var obj *types.Object
	err := s.get.Execute(ctx, func(ctx context.Context) error {
		var err error
		obj, err = s.store.Get(ctx, key)
		return err
	})
	return obj, err
}

// Put implements types.ObjectStore.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.put.Execute(ctx, func(ctx context.Context) error {
		return s.store.Put(ctx, key, data, contentType)
	})
}

// HealthCheck forwards to the wrapped store when it supports health checks.
// It bypasses the breakers.
func (s *Store) HealthCheck(ctx context.Context) error {
	if hc, ok := s.store.(types.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Stats returns the list, get and put breakers in that order.
func (s *Store) Stats() []Stats {
	out := make([]Stats, 0, 3)
	for _, b := range []*Breaker{s.list, s.get, s.put} {
		out = append(out, Stats{Name: b.Name(), State: b.State(), Counts: b.Counts()})
	}
	return out
}

// Unwrap returns the guarded store.
func (s *Store) Unwrap() types.ObjectStore {
	return s.store
}
