// Package cache provides a bounded, thread-safe key→bytes store with
// per-entry lifetimes and overflow to disk.
//
// Entries live in exactly one of two maps: resident (payload in memory and
// counted against Capacity) or swapped (payload in a file under SwapDir).
// When a save would push the resident size over Capacity the cache first
// drops expired entries, then moves the least-read, oldest entries to disk
// (or drops them when overflow is unavailable) until the new payload fits.
//
// Usage:
//
//	c := cache.New(cache.Config{Capacity: 8 << 20, SwapDir: dir})
//	if err := c.InitializeSwapFolder(); err != nil {
//	    log.Printf("disk overflow disabled: %v", err)
//	}
//	c.Save("user_timeline:alice", body, 5*time.Minute)
//	if data, ok := c.Load("user_timeline:alice"); ok {
//	    // data is owned by the caller
//	}
package cache

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSwapDisabled is returned by InitializeSwapFolder once disk overflow has
// been turned off for this cache instance.
var ErrSwapDisabled = errors.New("disk overflow disabled")

// DefaultCapacity is used when Config.Capacity is not positive.
const DefaultCapacity = 4 << 20

// Config holds cache configuration.
type Config struct {
	// Capacity is the resident memory budget in bytes.
	Capacity int64

	// SwapDir is the overflow directory. Empty disables overflow.
	SwapDir string

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// Logger for eviction and swap activity (default: no-op).
	Logger *zap.Logger
}

type entry struct {
	key      string
	data     []byte // nil while swapped
	size     int64
	lifetime time.Duration
	modified time.Time
	reads    uint64
}

func (e *entry) expired(now time.Time) bool {
	return e.lifetime > 0 && !now.Before(e.modified.Add(e.lifetime))
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Resident    int   `json:"resident" yaml:"resident"`
	Swapped     int   `json:"swapped" yaml:"swapped"`
	Size        int64 `json:"size" yaml:"size"`
	Capacity    int64 `json:"capacity" yaml:"capacity"`
	Overflow    bool  `json:"overflow" yaml:"overflow"`
	Hits        int64 `json:"hits" yaml:"hits"`
	Misses      int64 `json:"misses" yaml:"misses"`
	Evictions   int64 `json:"evictions" yaml:"evictions"`
	Expirations int64 `json:"expirations" yaml:"expirations"`
}

// Cache is a bounded key→bytes store. It is safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	capacity int64
	size     int64
	resident map[string]*entry
	swapped  map[string]*entry

	swapDir      string
	swapEnabled  bool
	swapDisabled bool

	now    func() time.Time
	logger *zap.Logger

	hits, misses, evictions, expirations int64
}

// New creates a cache. Disk overflow stays off until InitializeSwapFolder
// succeeds.
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Cache{
		capacity: cfg.Capacity,
		resident: make(map[string]*entry),
		swapped:  make(map[string]*entry),
		swapDir:  cfg.SwapDir,
		now:      cfg.Clock,
		logger:   cfg.Logger,
	}
}

// InitializeSwapFolder prepares the overflow directory and removes leftovers
// from a previous process. Any failure disables overflow for the lifetime of
// the cache; later calls return ErrSwapDisabled without retrying.
func (c *Cache) InitializeSwapFolder() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.swapDisabled {
		return ErrSwapDisabled
	}
	if c.swapEnabled {
		return nil
	}
	if c.swapDir == "" {
		c.swapDisabled = true
		return ErrSwapDisabled
	}

	if err := os.MkdirAll(c.swapDir, 0o700); err != nil {
		c.swapDisabled = true
		return fmt.Errorf("failed to create swap folder: %w", err)
	}
	if err := c.clearSwapLocked(); err != nil {
		c.swapDisabled = true
		return fmt.Errorf("failed to prepare swap folder: %w", err)
	}

	c.swapEnabled = true
	c.logger.Debug("disk overflow enabled", zap.String("dir", c.swapDir))
	return nil
}

// ClearSwapFolder drops every swapped entry and deletes its file.
func (c *Cache) ClearSwapFolder() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.swapped = make(map[string]*entry)
	if !c.swapEnabled {
		return nil
	}
	return c.clearSwapLocked()
}

func (c *Cache) clearSwapLocked() error {
	entries, err := os.ReadDir(c.swapDir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		// Only touch files this cache could have written.
		if _, err := DecodeSwapName(de.Name()); err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(c.swapDir, de.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Save stores data under key. It returns false when data is larger than the
// whole capacity. Saving resets the entry's timestamp but keeps its read count.
func (c *Cache) Save(key string, data []byte, lifetime time.Duration) bool {
	n := int64(len(data))
	if n > c.capacity {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if e, ok := c.resident[key]; ok {
		if n <= int64(cap(e.data)) && c.size-e.size+n <= c.capacity {
			c.size += n - e.size
			e.data = e.data[:n]
			copy(e.data, data)
			e.size = n
			e.lifetime = lifetime
			e.modified = now
			return true
		}

		delete(c.resident, key)
		c.size -= e.size
		c.shrink(n, now)

		e.data = bytes.Clone(data)
		e.size = n
		e.lifetime = lifetime
		e.modified = now
		c.resident[key] = e
		c.size += n
		return true
	}

	if e, ok := c.swapped[key]; ok {
		if err := c.writeSwap(key, data); err == nil {
			e.size = n
			e.lifetime = lifetime
			e.modified = now
			return true
		} else {
			c.logger.Warn("swap overwrite failed, reinserting in memory", zap.String("key", key), zap.Error(err))
		}
		delete(c.swapped, key)
		c.removeSwap(key)
	}

	c.shrink(n, now)
	c.resident[key] = &entry{
		key:      key,
		data:     bytes.Clone(data),
		size:     n,
		lifetime: lifetime,
		modified: now,
	}
	c.size += n
	return true
}

// Load returns a copy of the bytes stored under key. Expired entries are
// removed and reported as a miss. A swapped entry is read back from disk and
// promoted to memory when it fits under the capacity.
func (c *Cache) Load(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if e, ok := c.resident[key]; ok {
		e.reads++
		if e.expired(now) {
			c.dropResident(e)
			c.expirations++
			c.misses++
			return nil, false
		}
		c.hits++
		return bytes.Clone(e.data), true
	}

	if !c.swapEnabled {
		c.misses++
		return nil, false
	}

	e, ok := c.swapped[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(now) {
		delete(c.swapped, key)
		c.removeSwap(key)
		c.expirations++
		c.misses++
		return nil, false
	}

	data, err := os.ReadFile(c.swapPath(key))
	if err != nil {
		c.logger.Warn("swap read failed, dropping entry", zap.String("key", key), zap.Error(err))
		delete(c.swapped, key)
		c.removeSwap(key)
		c.misses++
		return nil, false
	}

	e.reads++
	c.hits++

	n := int64(len(data))
	if c.size+n > c.capacity {
		// Not enough room to promote; the freshly read buffer belongs to the caller.
		return data, true
	}

	delete(c.swapped, key)
	c.removeSwap(key)
	e.data = data
	e.size = n
	c.resident[key] = e
	c.size += n
	return bytes.Clone(data), true
}

// Remove deletes key from whichever map holds it.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.resident[key]; ok {
		c.dropResident(e)
		return
	}
	if _, ok := c.swapped[key]; ok {
		delete(c.swapped, key)
		c.removeSwap(key)
	}
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Resident:    len(c.resident),
		Swapped:     len(c.swapped),
		Size:        c.size,
		Capacity:    c.capacity,
		Overflow:    c.swapEnabled,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// shrink frees resident space until need more bytes fit.
// Must be called with c.mu held.
func (c *Cache) shrink(need int64, now time.Time) {
	if c.size+need <= c.capacity {
		return
	}

	// Pass 1: expired entries are dropped outright.
	for _, e := range c.resident {
		if !e.expired(now) {
			continue
		}
		c.dropResident(e)
		c.expirations++
		if c.size+need <= c.capacity {
			return
		}
	}

	// Pass 2: least-read first, then oldest.
	victims := make([]*entry, 0, len(c.resident))
	for _, e := range c.resident {
		victims = append(victims, e)
	}
	sort.Slice(victims, func(i, j int) bool {
		a, b := victims[i], victims[j]
		if a.reads != b.reads {
			return a.reads < b.reads
		}
		if !a.modified.Equal(b.modified) {
			return a.modified.Before(b.modified)
		}
		return a.key < b.key
	})

	for _, e := range victims {
		if c.size+need <= c.capacity {
			return
		}
		c.evict(e)
	}
}

// evict moves a resident entry to disk, or drops it when overflow is off or
// the write fails.
func (c *Cache) evict(e *entry) {
	delete(c.resident, e.key)
	c.size -= e.size
	c.evictions++

	if !c.swapEnabled {
		c.logger.Debug("evicted", zap.String("key", e.key), zap.Int64("size", e.size))
		return
	}

	if err := c.writeSwap(e.key, e.data); err != nil {
		c.logger.Warn("swap write failed, dropping entry", zap.String("key", e.key), zap.Error(err))
		c.removeSwap(e.key)
		return
	}
	e.data = nil
	c.swapped[e.key] = e
	c.logger.Debug("swapped to disk", zap.String("key", e.key), zap.Int64("size", e.size))
}

func (c *Cache) dropResident(e *entry) {
	delete(c.resident, e.key)
	c.size -= e.size
}

func (c *Cache) swapPath(key string) string {
	return filepath.Join(c.swapDir, EncodeSwapName(key))
}

func (c *Cache) writeSwap(key string, data []byte) error {
	return os.WriteFile(c.swapPath(key), data, 0o600)
}

func (c *Cache) removeSwap(key string) {
	if c.swapDir == "" {
		return
	}
	if err := os.Remove(c.swapPath(key)); err != nil && !os.IsNotExist(err) {
		c.logger.Debug("failed to remove swap file", zap.String("key", key), zap.Error(err))
	}
}
