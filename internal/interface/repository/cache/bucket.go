package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"assetcache/internal/domain"
)

const compressThreshold = 1024

// Bucket はディスク上のバケット実装
type Bucket struct {
	mu       sync.RWMutex
	name     string
	dir      string
	maxSize  int64
	currSize int64
	entries  map[string]*Entry
	deleted  bool
}

var _ domain.Bucket = (*Bucket)(nil)

// loadBucket はディレクトリ内のメタデータからバケットを復元
func loadBucket(name, dir string, maxSize int64) (*Bucket, error) {
	b := &Bucket{
		name:    name,
		dir:     dir,
		maxSize: maxSize,
		entries: make(map[string]*Entry),
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if filepath.Base(f) == bucketMetaFile {
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil || entry.Key == "" {
			continue
		}
		b.entries[entry.Key] = &entry
		b.currSize += entry.Size
	}
	return b, nil
}

// Name はバケット名を返す
func (b *Bucket) Name() string {
	return b.name
}

// Match はキャッシュからレスポンスを取得
func (b *Bucket) Match(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Method != http.MethodGet {
		return nil, domain.ErrCacheMiss
	}

	key := req.Key()
	b.mu.RLock()
	entry, exists := b.entries[key]
	b.mu.RUnlock()

	if !exists {
		return nil, domain.ErrCacheMiss
	}

	data, err := os.ReadFile(b.bodyPath(entry.File))
	if err != nil {
		// ファイルが読めない場合は削除
		b.remove(key)
		return nil, domain.ErrCacheMiss
	}

	if entry.Compressed {
		data, err = decompress(data)
		if err != nil {
			b.remove(key)
			return nil, domain.ErrCacheMiss
		}
	}

	resp := domain.NewResponse(entry.StatusCode, http.Header(entry.Header).Clone(), data)
	resp.URL = entry.URL
	resp.FromCache = true
	resp.CreatedAt = entry.CreatedAt
	return resp, nil
}

// Put はキャッシュにレスポンスを保存
func (b *Bucket) Put(ctx context.Context, req *domain.Request, resp *domain.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := resp.ReadBody()
	if err != nil {
		return err
	}

	// 大きなデータの場合は圧縮を試みる
	compressed := false
	if len(data) > compressThreshold {
		if compData, err := compress(data); err == nil && len(compData) < len(data) {
			data = compData
			compressed = true
		}
	}

	key := req.Key()
	entry := NewEntry(key, req.Method, req.CacheURL(), resp.StatusCode, resp.Header.Clone(), int64(len(data)), compressed)

	meta, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deleted {
		return domain.ErrBucketNotFound
	}

	// キャッシュサイズのチェックと調整
	if old, ok := b.entries[key]; ok {
		b.currSize -= old.Size
		delete(b.entries, key)
	}
	if b.maxSize > 0 {
		for b.currSize+entry.Size > b.maxSize && len(b.entries) > 0 {
			b.evictOldest()
		}
	}

	if err := writeFileAtomic(b.bodyPath(entry.File), data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := writeFileAtomic(b.metaPath(entry.File), meta); err != nil {
		os.Remove(b.bodyPath(entry.File))
		return fmt.Errorf("write entry meta: %w", err)
	}

	b.entries[key] = entry
	b.currSize += entry.Size
	return nil
}

// Delete はキャッシュからエントリを削除
func (b *Bucket) Delete(ctx context.Context, req *domain.Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[req.Key()]; !ok {
		return false, nil
	}
	return true, b.deleteLocked(req.Key())
}

// Keys は保存順にエントリのキーを返す
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	entries := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	b.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return strings.Compare(entries[i].Key, entries[j].Key) < 0
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

func (b *Bucket) markDeleted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = true
}

// Size は保存済みデータの合計バイト数を返す
func (b *Bucket) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currSize
}

func (b *Bucket) remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteLocked(key)
}

func (b *Bucket) deleteLocked(key string) error {
	entry, exists := b.entries[key]
	if !exists {
		return nil
	}
	b.currSize -= entry.Size
	delete(b.entries, key)

	err := os.Remove(b.bodyPath(entry.File))
	if mErr := os.Remove(b.metaPath(entry.File)); err == nil {
		err = mErr
	}
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *Bucket) evictOldest() {
	var oldest *Entry
	for _, entry := range b.entries {
		if oldest == nil || entry.CreatedAt.Before(oldest.CreatedAt) {
			oldest = entry
		}
	}

	if oldest != nil {
		b.deleteLocked(oldest.Key)
	}
}

func (b *Bucket) bodyPath(file string) string {
	return filepath.Join(b.dir, file+".body")
}

func (b *Bucket) metaPath(file string) string {
	return filepath.Join(b.dir, file+".json")
}

// compress はデータをgzip圧縮する
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(data); err != nil {
		return nil, err
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decompress はgzip圧縮されたデータを展開する
func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
