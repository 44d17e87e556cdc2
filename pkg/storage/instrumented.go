package storage

import (
	"context"
	"io"
	"time"
)

// OperationRecorder receives one observation per object store call
type OperationRecorder interface {
	RecordStorageOperation(ctx context.Context, operation, backend string, duration time.Duration, bytes int64, err error)
}

type instrumentedStore struct {
	ObjectStore
	backend  string
	recorder OperationRecorder
}

// Instrument wraps store so every call is reported to recorder under backend.
// A nil recorder returns store unchanged.
func Instrument(store ObjectStore, backend string, recorder OperationRecorder) ObjectStore {
	if recorder == nil {
		return store
	}
	return &instrumentedStore{ObjectStore: store, backend: backend, recorder: recorder}
}

func (s *instrumentedStore) PutObject(ctx context.Context, key string, content io.Reader, size int64, contentType string) error {
	start := time.Now()
	err := s.ObjectStore.PutObject(ctx, key, content, size, contentType)
	s.recorder.RecordStorageOperation(ctx, "put", s.backend, time.Since(start), size, err)
	return err
}

func (s *instrumentedStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.ObjectStore.GetObject(ctx, key)
	s.recorder.RecordStorageOperation(ctx, "get", s.backend, time.Since(start), 0, err)
	return rc, err
}

func (s *instrumentedStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.ObjectStore.ObjectExists(ctx, key)
	s.recorder.RecordStorageOperation(ctx, "exists", s.backend, time.Since(start), 0, err)
	return ok, err
}

func (s *instrumentedStore) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()
	err := s.ObjectStore.DeleteObject(ctx, key)
	s.recorder.RecordStorageOperation(ctx, "delete", s.backend, time.Since(start), 0, err)
	return err
}
