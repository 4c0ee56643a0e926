// Package fmtcache remembers files that a previous run already left in
// canonical form, so repeated runs over large trees can skip reading them.
package fmtcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when Entry format changes.
const schemaVersion uint16 = 1

// Digest is a SHA-256 content hash.
type Digest [32]byte

// Sum hashes data.
func Sum(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// Entry describes a file as it was after a run left it normalized.
type Entry struct {
	Schema  uint16
	Path    string
	Size    uint64
	ModTime int64 // UnixNano
	Content Digest
	Table   string // derive.PriorityTable fingerprint
}

// NewEntry builds an entry from the file's current stat and content hash.
func NewEntry(path string, info fs.FileInfo, content Digest, table string) (Entry, error) {
	size, err := safecast.Conv[uint64](info.Size())
	if err != nil {
		return Entry{}, fmt.Errorf("fmtcache: %s: %w", path, err)
	}
	return Entry{
		Schema:  schemaVersion,
		Path:    path,
		Size:    size,
		ModTime: info.ModTime().UnixNano(),
		Content: content,
		Table:   table,
	}, nil
}

// Fresh reports whether info still describes the cached file and the entry
// was recorded under the same priority table.
func (e Entry) Fresh(info fs.FileInfo, table string) bool {
	if e.Schema != schemaVersion || e.Table != table || info == nil {
		return false
	}
	size, err := safecast.Conv[uint64](info.Size())
	if err != nil {
		return false
	}
	return e.Size == size && e.ModTime == info.ModTime().UnixNano()
}

// Cache stores entries on disk, one msgpack file per path.
// Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// Open uses dir as the cache root, creating it if needed.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// DefaultDir returns $XDG_CACHE_HOME/app or ~/.cache/app.
func DefaultDir(app string) (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, app), nil
}

// OpenDefault opens the cache at DefaultDir(app).
func OpenDefault(app string) (*Cache, error) {
	dir, err := DefaultDir(app)
	if err != nil {
		return nil, err
	}
	return Open(dir)
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *Cache) pathFor(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(c.dir, "files", hex.EncodeToString(sum[:])+".mp")
}

// Put writes an entry for path, replacing any previous one atomically.
func (c *Cache) Put(path string, entry *Entry) (err error) {
	if c == nil || entry == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err = msgpack.NewEncoder(f).Encode(entry); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads the entry for path. Missing entries and entries from another
// schema version report ok == false without error.
func (c *Cache) Get(path string) (entry Entry, ok bool, err error) {
	if c == nil {
		return Entry{}, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	defer f.Close()

	if err := msgpack.NewDecoder(f).Decode(&entry); err != nil {
		return Entry{}, false, err
	}
	if entry.Schema != schemaVersion {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// DropAll removes every entry. The cache stays usable afterwards.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// rename first so a concurrent reader never sees a half-deleted tree
	old := c.dir + ".old-" + time.Now().Format("20060102150405.000000000")
	if err := os.Rename(c.dir, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(c.dir, 0o755)
		}
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}
