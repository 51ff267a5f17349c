package types

import (
	"context"
	"testing"
)

func TestInterfaces(t *testing.T) {
	var (
		_ ObjectStore   = (*mockStore)(nil)
		_ HealthChecker = (*mockStore)(nil)
	)
}

type mockStore struct{}

func (m *mockStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return &ListResult{}, nil
}

func (m *mockStore) Get(ctx context.Context, key string) (*Object, error) {
	return &Object{Key: key}, nil
}

func (m *mockStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return nil
}

func (m *mockStore) HealthCheck(ctx context.Context) error {
	return nil
}

func TestListResult_Keys(t *testing.T) {
	res := &ListResult{Objects: []ObjectInfo{{Key: "2013/05/IMG_1.jpg"}, {Key: "2013/05/IMG_2.jpg"}}}

	keys := res.Keys()
	if len(keys) != 2 || keys[0] != "2013/05/IMG_1.jpg" || keys[1] != "2013/05/IMG_2.jpg" {
		t.Errorf("Keys() = %v", keys)
	}

	var nilRes *ListResult
	if nilRes.Keys() != nil {
		t.Error("Keys() on nil result should be nil")
	}
}
