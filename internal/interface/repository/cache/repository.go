package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"assetcache/internal/domain"
)

const bucketMetaFile = "bucket.json"

// Repository はディスク上にバケットを保存するキャッシュのリポジトリ実装
type Repository struct {
	mu      sync.Mutex
	baseDir string
	maxSize int64
	buckets map[string]*Bucket
}

type bucketMeta struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Verify interface implementation
var _ domain.CacheStorage = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
// maxSize はバケットごとの最大バイト数。0 は無制限.
func New(baseDir string, maxSize int64) (*Repository, error) {
	if baseDir == "" {
		return nil, errors.New("cache dir is empty")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	return &Repository{
		baseDir: baseDir,
		maxSize: maxSize,
		buckets: make(map[string]*Bucket),
	}, nil
}

// Open はバケットを開く。存在しない場合は作成
func (r *Repository) Open(ctx context.Context, name string) (domain.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid bucket name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[name]; ok {
		return b, nil
	}

	dir := r.bucketDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}

	metaPath := filepath.Join(dir, bucketMetaFile)
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		data, err := json.Marshal(bucketMeta{Name: name, CreatedAt: time.Now()})
		if err != nil {
			return nil, err
		}
		if err := writeFileAtomic(metaPath, data); err != nil {
			return nil, fmt.Errorf("write bucket meta: %w", err)
		}
	}

	b, err := loadBucket(name, dir, r.maxSize)
	if err != nil {
		return nil, err
	}
	r.buckets[name] = b
	return b, nil
}

// Lookup は既存のバケットを開く。作成はしない
func (r *Repository) Lookup(ctx context.Context, name string) (domain.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[name]; ok {
		return b, nil
	}
	if name == "" || name == "." || name == ".." {
		return nil, domain.ErrBucketNotFound
	}

	dir := r.bucketDir(name)
	if _, err := os.Stat(filepath.Join(dir, bucketMetaFile)); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrBucketNotFound
		}
		return nil, err
	}

	b, err := loadBucket(name, dir, r.maxSize)
	if err != nil {
		return nil, err
	}
	r.buckets[name] = b
	return b, nil
}

// Has はバケットが存在するか確認
func (r *Repository) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.buckets[name]; ok {
		return true, nil
	}
	_, err := os.Stat(filepath.Join(r.bucketDir(name), bucketMetaFile))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Keys は作成順にバケット名を返す
func (r *Repository) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dirs, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, err
	}

	var metas []bucketMeta
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.baseDir, d.Name(), bucketMetaFile))
		if err != nil {
			continue // メタデータがないディレクトリはバケットではない
		}
		var meta bucketMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})

	names := make([]string, 0, len(metas))
	for _, m := range metas {
		names = append(names, m.Name)
	}
	return names, nil
}

// Delete はバケットを削除
func (r *Repository) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := r.bucketDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		delete(r.buckets, name)
		return false, nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove bucket %s: %w", name, err)
	}
	// 開かれているハンドルへの書き込みで削除したバケットを作り直さない
	if b, ok := r.buckets[name]; ok {
		b.markDeleted()
	}
	delete(r.buckets, name)
	return true, nil
}

func (r *Repository) bucketDir(name string) string {
	return filepath.Join(r.baseDir, url.PathEscape(name))
}

// writeFileAtomic は一時ファイル経由でファイルを書き込む
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
