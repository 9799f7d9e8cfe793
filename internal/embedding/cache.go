package embedding

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"

	_ "modernc.org/sqlite"
)

// CacheKey identifies a vector by model, chunker version, chunk limit and
// NFC-normalized text.
func CacheKey(model string, limit int, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{'|'})
	h.Write([]byte(ChunkerVersion))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(limit)))
	h.Write([]byte{'|'})
	h.Write([]byte(norm.NFC.String(text)))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache holds validated vectors in memory and, optionally, on disk.
type Cache struct {
	mem *lru.Cache[string, []float32]

	mu sync.Mutex
	db *sql.DB
}

// NewCache creates a cache with size in-memory entries. A non-empty path
// adds a SQLite-backed second tier that survives restarts.
func NewCache(size int, path string) (*Cache, error) {
	if size <= 0 {
		size = 1024
	}
	mem, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c := &Cache{mem: mem}
	if path == "" {
		return c, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS embedding_cache (
		hash TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		embedding TEXT NOT NULL,
		dims INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate embedding cache: %w", err)
	}
	c.db = db
	return c, nil
}

// Get returns the cached vector for key. Disk hits are promoted to memory.
func (c *Cache) Get(key string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	if v, ok := c.mem.Get(key); ok {
		return v, true
	}
	if c.db == nil {
		return nil, false
	}

	c.mu.Lock()
	var embJSON string
	err := c.db.QueryRow("SELECT embedding FROM embedding_cache WHERE hash = ?", key).Scan(&embJSON)
	c.mu.Unlock()
	if err != nil {
		return nil, false
	}

	var v []float32
	if err := json.Unmarshal([]byte(embJSON), &v); err != nil || len(v) == 0 {
		return nil, false
	}
	c.mem.Add(key, v)
	return v, true
}

// Put stores a vector. Callers pass only validated vectors.
func (c *Cache) Put(key, model string, v []float32) error {
	if c == nil {
		return nil
	}
	c.mem.Add(key, v)
	if c.db == nil {
		return nil
	}

	embJSON, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(`INSERT OR REPLACE INTO embedding_cache (hash, model, embedding, dims, updated_at)
		VALUES (?, ?, ?, ?, strftime('%s','now'))`,
		key, model, string(embJSON), len(v))
	return err
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.mem.Len()
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
