// Package cache implements the store's bidirectional chunk cache: a
// forward map from chunk id to plaintext, and a reverse map from plaintext
// to chunk id, both bounded by entry count and aggregate plaintext bytes,
// evicting least-recently-used on either bound.
//
// github.com/dgraph-io/ristretto is a probabilistic, approximate cache —
// it admits/evicts by a cost-aware LFU policy and gives no way to
// enumerate or guarantee which entry is least recently used at a given
// instant. Exact dual-bound LRU eviction with atomic removal from both
// directions needs a direct container/list plus map implementation, a
// small explicit mutex-guarded structure rather than an external cache
// library. Ristretto is instead put to use in internal/remote, where its
// approximate-cache semantics are a good fit for an existence probe (see
// that package's doc comment).
package cache

import (
	"container/list"
	"sync"

	"github.com/shirou/gopsutil/mem"
	"github.com/sirupsen/logrus"

	"github.com/docsync/docsync/pkg/model"
)

// defaultMaxBytesFraction is the share of currently-available system memory
// used to size the cache when Config.MaxBytes is left at zero.
const (
	defaultMaxBytesFraction = 0.01
	defaultMaxBytesFloor    = 8 * 1024 * 1024
	defaultMaxBytesCeil     = 256 * 1024 * 1024
	defaultMaxEntries       = 10000
)

// Config bounds the cache.
type Config struct {
	// MaxEntries bounds the number of cached (id, plaintext) pairs. Zero
	// selects defaultMaxEntries.
	MaxEntries int
	// MaxBytes bounds the aggregate plaintext byte count. Zero auto-sizes
	// from available system memory via gopsutil.
	MaxBytes int64
	// Logger is a lifetime-bounded logging handle injected by the caller,
	// never a package-level sink.
	Logger *logrus.Logger
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = autoSizeMaxBytes()
	}
}

func autoSizeMaxBytes() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return defaultMaxBytesFloor
	}
	size := int64(float64(vm.Available) * defaultMaxBytesFraction)
	if size < defaultMaxBytesFloor {
		return defaultMaxBytesFloor
	}
	if size > defaultMaxBytesCeil {
		return defaultMaxBytesCeil
	}
	return size
}

type entry struct {
	id        model.DocumentID
	plaintext []byte
}

// Cache is a bidirectional, dual-bound LRU. All methods are safe for
// concurrent use; the Store Core is the single point that mutates it, but
// the lock still protects enumeration's bounded-concurrency fetch workers
// from racing each other.
type Cache struct {
	mu  sync.Mutex
	cfg Config

	ll          *list.List // front = most recently used
	byID        map[model.DocumentID]*list.Element
	byPlaintext map[string]*list.Element
	curBytes    int64
}

// New constructs a Cache per cfg.
func New(cfg Config) *Cache {
	cfg.setDefaults()
	return &Cache{
		cfg:         cfg,
		ll:          list.New(),
		byID:        make(map[model.DocumentID]*list.Element),
		byPlaintext: make(map[string]*list.Element),
	}
}

// Get returns the cached plaintext for id, if present, promoting it to
// most-recently-used.
func (c *Cache) Get(id model.DocumentID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).plaintext, true
}

// GetIDByPlaintext returns the id previously cached for plaintext, if any,
// letting a write skip hashing and existence-probing when the exact piece
// was recently seen.
func (c *Cache) GetIDByPlaintext(plaintext []byte) (model.DocumentID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byPlaintext[string(plaintext)]
	if !ok {
		return "", false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).id, true
}

// Put records the (id, plaintext) association, evicting least-recently-used
// entries until both the entry-count and aggregate-byte bounds hold.
func (c *Cache) Put(id model.DocumentID, plaintext []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byID[id]; ok {
		c.ll.MoveToFront(el)
		old := el.Value.(*entry)
		c.curBytes += int64(len(plaintext)) - int64(len(old.plaintext))
		delete(c.byPlaintext, string(old.plaintext))
		old.plaintext = plaintext
		c.byPlaintext[string(plaintext)] = el
		c.evictToBounds()
		return
	}

	el := c.ll.PushFront(&entry{id: id, plaintext: plaintext})
	c.byID[id] = el
	c.byPlaintext[string(plaintext)] = el
	c.curBytes += int64(len(plaintext))
	c.evictToBounds()
}

func (c *Cache) evictToBounds() {
	for c.ll.Len() > c.cfg.MaxEntries || c.curBytes > c.cfg.MaxBytes {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.removeElement(back)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.byID, e.id)
	delete(c.byPlaintext, string(e.plaintext))
	c.curBytes -= int64(len(e.plaintext))
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
