package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry はキャッシュエントリのメタデータを表す
type Entry struct {
	Key        string              `json:"key"`
	File       string              `json:"file"`
	Method     string              `json:"method"`
	URL        string              `json:"url"`
	StatusCode int                 `json:"status_code"`
	Header     map[string][]string `json:"header,omitempty"`
	Size       int64               `json:"size"`
	CreatedAt  time.Time           `json:"created_at"`
	Compressed bool                `json:"compressed"`
}

// NewEntry は新しいEntryインスタンスを作成
func NewEntry(
	key, method, url string, statusCode int, header map[string][]string, size int64, compressed bool,
) *Entry {
	return &Entry{
		Key:        key,
		File:       fileName(key),
		Method:     method,
		URL:        url,
		StatusCode: statusCode,
		Header:     header,
		Size:       size,
		CreatedAt:  time.Now(),
		Compressed: compressed,
	}
}

// fileName はキーからファイル名を生成
func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
