package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"assetcache/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket      TEXT NOT NULL REFERENCES buckets(name) ON DELETE CASCADE,
	cache_key   TEXT NOT NULL,
	method      TEXT NOT NULL,
	url         TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	header      TEXT NOT NULL,
	body        BLOB NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (bucket, cache_key)
);`

// Store はSQLiteにバケットを保存するリポジトリ実装
type Store struct {
	sqlDB *sql.DB
}

var _ domain.CacheStorage = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open はSQLiteのバケットストアを開きスキーマを作成
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close はデータベースを閉じる
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Open はバケットを開く。存在しない場合は作成
func (s *Store) Open(ctx context.Context, name string) (domain.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, toMillis(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return &Bucket{sqlDB: s.sqlDB, name: name}, nil
}

// Lookup は既存のバケットを開く。作成はしない
func (s *Store) Lookup(ctx context.Context, name string) (domain.Bucket, error) {
	has, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, domain.ErrBucketNotFound
	}
	return &Bucket{sqlDB: s.sqlDB, name: name}, nil
}

// Has はバケットが存在するか確認
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM buckets WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup bucket %s: %w", name, err)
	}
	return true, nil
}

// Keys は作成順にバケット名を返す
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM buckets ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete はバケットとそのエントリを削除
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE bucket = ?`, name); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// Bucket はストア内の1つのバケットを操作する
type Bucket struct {
	sqlDB *sql.DB
	name  string
}

var _ domain.Bucket = (*Bucket)(nil)

func (b *Bucket) Name() string {
	return b.name
}

func (b *Bucket) Match(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if req.Method != http.MethodGet {
		return nil, domain.ErrCacheMiss
	}

	var (
		url        string
		statusCode int
		headerJSON string
		body       []byte
		createdAt  int64
	)
	err := b.sqlDB.QueryRowContext(ctx,
		`SELECT url, status_code, header, body, created_at FROM entries WHERE bucket = ? AND cache_key = ?`,
		b.name, req.Key(),
	).Scan(&url, &statusCode, &headerJSON, &body, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", req.Key(), err)
	}

	header := make(http.Header)
	if err := json.Unmarshal([]byte(headerJSON), &header); err != nil {
		return nil, fmt.Errorf("decode header of %s: %w", req.Key(), err)
	}

	resp := domain.NewResponse(statusCode, header, body)
	resp.URL = url
	resp.FromCache = true
	resp.CreatedAt = fromMillis(createdAt)
	return resp, nil
}

// Put は同じキーのエントリを上書きする
// バケットが削除済みなら何も書き込まず ErrBucketNotFound を返す
func (b *Bucket) Put(ctx context.Context, req *domain.Request, resp *domain.Response) error {
	body, err := resp.ReadBody()
	if err != nil {
		return err
	}
	if body == nil {
		body = []byte{}
	}
	headerJSON, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	res, err := b.sqlDB.ExecContext(ctx,
		`INSERT INTO entries (bucket, cache_key, method, url, status_code, header, body, created_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM buckets WHERE name = ?)
		 ON CONFLICT(bucket, cache_key) DO UPDATE SET
		   url = excluded.url,
		   status_code = excluded.status_code,
		   header = excluded.header,
		   body = excluded.body,
		   created_at = excluded.created_at`,
		b.name, req.Key(), req.Method, req.CacheURL(), resp.StatusCode, string(headerJSON), body, toMillis(time.Now()), b.name,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", req.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrBucketNotFound
	}
	return nil
}

func (b *Bucket) Delete(ctx context.Context, req *domain.Request) (bool, error) {
	res, err := b.sqlDB.ExecContext(ctx,
		`DELETE FROM entries WHERE bucket = ? AND cache_key = ?`, b.name, req.Key())
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", req.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Keys は追加順にエントリのキーを返す
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.sqlDB.QueryContext(ctx,
		`SELECT cache_key FROM entries WHERE bucket = ? ORDER BY rowid`, b.name)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
