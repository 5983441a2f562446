package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrNoDocument is returned by Backend.Read when nothing has been written yet.
var ErrNoDocument = errors.New("storage: no document")

// Backend persists the serialized monitor document.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// MemoryBackend keeps the document in process memory.
type MemoryBackend struct {
	mu     sync.Mutex
	data   []byte
	writes int
	fail   error
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Read implements Backend.
func (b *MemoryBackend) Read(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, ErrNoDocument
	}
	return append([]byte(nil), b.data...), nil
}

// Write implements Backend.
func (b *MemoryBackend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.data = append([]byte(nil), data...)
	b.writes++
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }

// Writes counts successful writes.
func (b *MemoryBackend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Seed replaces the stored bytes without counting a write.
func (b *MemoryBackend) Seed(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append([]byte(nil), data...)
}

// FailWrites makes subsequent writes return err; nil restores normal behaviour.
func (b *MemoryBackend) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}
