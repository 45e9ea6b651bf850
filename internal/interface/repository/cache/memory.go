package cache

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"assetcache/internal/domain"
)

// Memory はプロセス内にバケットを保持するキャッシュ実装
// 再起動で内容は失われる
type Memory struct {
	mu      sync.Mutex
	names   []string
	buckets map[string]*MemoryBucket
}

var _ domain.CacheStorage = (*Memory)(nil)

// NewMemory は新しいMemoryインスタンスを作成
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*MemoryBucket)}
}

func (m *Memory) Open(ctx context.Context, name string) (domain.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("bucket name is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[name]; ok {
		return b, nil
	}
	b := &MemoryBucket{name: name, entries: make(map[string]memoryEntry)}
	m.buckets[name] = b
	m.names = append(m.names, name)
	return b, nil
}

func (m *Memory) Lookup(ctx context.Context, name string) (domain.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[name]
	if !ok {
		return nil, domain.ErrBucketNotFound
	}
	return b, nil
}

func (m *Memory) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[name]
	return ok, nil
}

func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.names), nil
}

func (m *Memory) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[name]
	if !ok {
		return false, nil
	}
	b.mu.Lock()
	b.deleted = true
	b.mu.Unlock()
	delete(m.buckets, name)
	m.names = slices.DeleteFunc(m.names, func(n string) bool { return n == name })
	return true, nil
}

type memoryEntry struct {
	url        string
	statusCode int
	header     http.Header
	body       []byte
	createdAt  time.Time
}

// MemoryBucket はメモリ上のバケット
type MemoryBucket struct {
	mu      sync.RWMutex
	name    string
	keys    []string
	entries map[string]memoryEntry
	deleted bool
}

var _ domain.Bucket = (*MemoryBucket)(nil)

func (b *MemoryBucket) Name() string {
	return b.name
}

func (b *MemoryBucket) Match(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Method != http.MethodGet {
		return nil, domain.ErrCacheMiss
	}

	b.mu.RLock()
	e, ok := b.entries[req.Key()]
	b.mu.RUnlock()
	if !ok {
		return nil, domain.ErrCacheMiss
	}

	resp := domain.NewResponse(e.statusCode, e.header.Clone(), slices.Clone(e.body))
	resp.URL = e.url
	resp.FromCache = true
	resp.CreatedAt = e.createdAt
	return resp, nil
}

func (b *MemoryBucket) Put(ctx context.Context, req *domain.Request, resp *domain.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := resp.ReadBody()
	if err != nil {
		return err
	}

	key := req.Key()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deleted {
		return domain.ErrBucketNotFound
	}
	if _, ok := b.entries[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.entries[key] = memoryEntry{
		url:        req.CacheURL(),
		statusCode: resp.StatusCode,
		header:     resp.Header.Clone(),
		body:       data,
		createdAt:  time.Now(),
	}
	return nil
}

func (b *MemoryBucket) Delete(ctx context.Context, req *domain.Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := req.Key()

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[key]; !ok {
		return false, nil
	}
	delete(b.entries, key)
	b.keys = slices.DeleteFunc(b.keys, func(k string) bool { return k == key })
	return true, nil
}

func (b *MemoryBucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.keys), nil
}
