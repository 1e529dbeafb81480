package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when a snapshot blob does not exist.
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// BlobStore is the durable storage backing snapshots.
type BlobStore interface {
	// Put writes a blob atomically under the given name.
	Put(ctx context.Context, name string, data []byte) error
	// Get reads a blob in full.
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns blob names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// MemoryStore is an in-memory BlobStore for tests and ephemeral use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// LocalStore is a filesystem-backed BlobStore rooted at a directory. Writes
// go through a temp file and rename, so readers never observe a partial blob.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.Clean(name))
}

func (s *LocalStore) Put(_ context.Context, name string, data []byte) error {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snap-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *LocalStore) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// RetryStore wraps a BlobStore with bounded exponential backoff on every
// operation, absorbing transient backend failures.
type RetryStore struct {
	inner       BlobStore
	maxAttempts int
	baseDelay   time.Duration
}

// NewRetryStore wraps inner. maxAttempts counts total tries, not retries.
func NewRetryStore(inner BlobStore, maxAttempts int, baseDelay time.Duration) *RetryStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	return &RetryStore{inner: inner, maxAttempts: maxAttempts, baseDelay: baseDelay}
}

func (r *RetryStore) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = op(); err == nil || errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return err
}

func (r *RetryStore) Put(ctx context.Context, name string, data []byte) error {
	return r.retry(ctx, func() error { return r.inner.Put(ctx, name, data) })
}

func (r *RetryStore) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := r.retry(ctx, func() error {
		var err error
		data, err = r.inner.Get(ctx, name)
		return err
	})
	return data, err
}

func (r *RetryStore) Delete(ctx context.Context, name string) error {
	return r.retry(ctx, func() error { return r.inner.Delete(ctx, name) })
}

func (r *RetryStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := r.retry(ctx, func() error {
		var err error
		names, err = r.inner.List(ctx, prefix)
		return err
	})
	return names, err
}

// ThrottledStore caps upload bandwidth with a token bucket, one token per
// byte. Reads are not throttled.
type ThrottledStore struct {
	inner   BlobStore
	limiter *rate.Limiter
}

// NewThrottledStore limits Put to bytesPerSec.
func NewThrottledStore(inner BlobStore, bytesPerSec int) *ThrottledStore {
	return &ThrottledStore{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec),
	}
}

func (t *ThrottledStore) Put(ctx context.Context, name string, data []byte) error {
	burst := t.limiter.Burst()
	for off := 0; off < len(data); off += burst {
		n := len(data) - off
		if n > burst {
			n = burst
		}
		if err := t.limiter.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return t.inner.Put(ctx, name, data)
}

func (t *ThrottledStore) Get(ctx context.Context, name string) ([]byte, error) {
	return t.inner.Get(ctx, name)
}

func (t *ThrottledStore) Delete(ctx context.Context, name string) error {
	return t.inner.Delete(ctx, name)
}

func (t *ThrottledStore) List(ctx context.Context, prefix string) ([]string, error) {
	return t.inner.List(ctx, prefix)
}
