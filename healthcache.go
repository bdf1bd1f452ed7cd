package connpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/seasbee/go-logx"
)

// HealthCache stores recent validation results by connection identity
// so hot paths can skip redundant health checks. Implementations are
// safe for concurrent use.
type HealthCache interface {
	// Get returns an unexpired cached result for the connection
	Get(id string) (ValidationResult, bool)

	// Set stores a validation result for the connection
	Set(id string, result ValidationResult)

	// Delete removes the cached result for the connection
	Delete(id string)

	// Clear empties the cache
	Clear()

	// Len returns the number of cached entries
	Len() int

	// Stats returns cache statistics
	Stats() HealthCacheStats

	// Close releases cache resources
	Close() error
}

// HealthCacheStats holds cache statistics
type HealthCacheStats struct {
	Hits        int64
	Misses      int64
	Expirations int64
	Evictions   int64
	Size        int64
}

// HealthCacheConfig holds health cache configuration
type HealthCacheConfig struct {
	// Maximum number of cached results
	MaxSize int `yaml:"max_size" json:"max_size" validate:"min:1,max:100000" default:"1000"` // 1 to 100000

	// How long a cached result stays valid
	TTL time.Duration `yaml:"ttl" json:"ttl" validate:"min=100ms,max=24h" default:"30s"` // 100ms to 24h

	// How often expired entries are swept
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" validate:"min=1s,max=1h" default:"60s"` // 1s to 1h

	// Enable statistics tracking
	EnableStats bool `yaml:"enable_stats" json:"enable_stats" default:"true"`
}

// DefaultHealthCacheConfig returns a default health cache configuration
func DefaultHealthCacheConfig() *HealthCacheConfig {
	return &HealthCacheConfig{
		MaxSize:         1000,
		TTL:             30 * time.Second,
		CleanupInterval: 60 * time.Second,
		EnableStats:     true,
	}
}

// validateHealthCacheConfig validates health cache configuration
func validateHealthCacheConfig(config *HealthCacheConfig) error {
	if config.MaxSize < 1 || config.MaxSize > 100000 {
		return fmt.Errorf("%w: max_size must be between 1 and 100000, got %d", ErrInvalidConfig, config.MaxSize)
	}
	if config.TTL < 100*time.Millisecond || config.TTL > 24*time.Hour {
		return fmt.Errorf("%w: ttl must be between 100ms and 24h, got %s", ErrInvalidConfig, config.TTL)
	}
	if config.CleanupInterval < time.Second || config.CleanupInterval > time.Hour {
		return fmt.Errorf("%w: cleanup_interval must be between 1s and 1h, got %s", ErrInvalidConfig, config.CleanupInterval)
	}
	return nil
}

// healthCacheEntry is one cached validation result
type healthCacheEntry struct {
	result    ValidationResult
	expiresAt time.Time
}

// MemoryHealthCache is a bounded TTL cache with LRU eviction.
// Entries expire after the configured TTL; when at capacity the least
// recently used entry is evicted before insertion.
type MemoryHealthCache struct {
	// Cached results and access ordering (front is least recently used)
	mu          sync.RWMutex
	entries     map[string]*healthCacheEntry
	accessOrder []string

	// Configuration
	config *HealthCacheConfig

	// Statistics
	stats HealthCacheStats

	// Cleanup goroutine lifecycle
	stopCleanup chan struct{}
	cleanupWg   sync.WaitGroup
	closed      int32
}

// NewMemoryHealthCache creates a new in-memory health cache
func NewMemoryHealthCache(config *HealthCacheConfig) (*MemoryHealthCache, error) {
	if config == nil {
		config = DefaultHealthCacheConfig()
	}
	if err := validateHealthCacheConfig(config); err != nil {
		return nil, err
	}

	cache := &MemoryHealthCache{
		entries:     make(map[string]*healthCacheEntry),
		accessOrder: make([]string, 0, config.MaxSize),
		config:      config,
		stopCleanup: make(chan struct{}),
	}

	cache.cleanupWg.Add(1)
	go cache.cleanupLoop()

	return cache, nil
}

// Get returns the cached result for a connection if it has not expired.
// Expired entries are evicted and reported absent.
func (c *MemoryHealthCache) Get(id string) (ValidationResult, bool) {
	if c == nil || id == "" {
		return ValidationResult{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		c.recordMissLocked()
		return ValidationResult{}, false
	}

	if time.Now().After(entry.expiresAt) {
		c.removeLocked(id)
		if c.config.EnableStats {
			c.stats.Expirations++
		}
		c.recordMissLocked()
		return ValidationResult{}, false
	}

	c.touchLocked(id)
	c.recordHitLocked()
	return entry.result, true
}

// Set stores a validation result, evicting the least recently used
// entry when the cache is at capacity
func (c *MemoryHealthCache) Set(id string, result ValidationResult) {
	if c == nil || id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; !ok && len(c.entries) >= c.config.MaxSize {
		c.evictOldestLocked()
	}

	if _, ok := c.entries[id]; !ok {
		c.accessOrder = append(c.accessOrder, id)
	} else {
		c.touchLocked(id)
	}

	c.entries[id] = &healthCacheEntry{
		result:    result,
		expiresAt: time.Now().Add(c.config.TTL),
	}
}

// Delete removes the cached result for a connection
func (c *MemoryHealthCache) Delete(id string) {
	if c == nil || id == "" {
		return
	}
	c.mu.Lock()
	c.removeLocked(id)
	c.mu.Unlock()
}

// Clear empties the cache
func (c *MemoryHealthCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]*healthCacheEntry)
	c.accessOrder = c.accessOrder[:0]
	c.mu.Unlock()
}

// Len returns the number of cached entries
func (c *MemoryHealthCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a copy of the cache statistics
func (c *MemoryHealthCache) Stats() HealthCacheStats {
	if c == nil {
		return HealthCacheStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	stats.Size = int64(len(c.entries))
	return stats
}

// Close stops the cleanup goroutine and empties the cache
func (c *MemoryHealthCache) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	close(c.stopCleanup)
	c.cleanupWg.Wait()
	c.Clear()
	return nil
}

// touchLocked moves an entry to the most recently used position
func (c *MemoryHealthCache) touchLocked(id string) {
	for i, key := range c.accessOrder {
		if key == id {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			c.accessOrder = append(c.accessOrder, id)
			return
		}
	}
}

// removeLocked deletes an entry and its access-order slot
func (c *MemoryHealthCache) removeLocked(id string) {
	if _, ok := c.entries[id]; !ok {
		return
	}
	delete(c.entries, id)
	for i, key := range c.accessOrder {
		if key == id {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			return
		}
	}
}

// evictOldestLocked removes the least recently used entry
func (c *MemoryHealthCache) evictOldestLocked() {
	if len(c.accessOrder) == 0 {
		return
	}
	oldest := c.accessOrder[0]
	c.removeLocked(oldest)
	if c.config.EnableStats {
		c.stats.Evictions++
	}
}

// recordHitLocked records a cache hit
func (c *MemoryHealthCache) recordHitLocked() {
	if c.config.EnableStats {
		c.stats.Hits++
	}
}

// recordMissLocked records a cache miss
func (c *MemoryHealthCache) recordMissLocked() {
	if c.config.EnableStats {
		c.stats.Misses++
	}
}

// cleanupLoop periodically sweeps expired entries
func (c *MemoryHealthCache) cleanupLoop() {
	defer c.cleanupWg.Done()
	defer func() {
		if r := recover(); r != nil {
			logx.Error("health cache cleanup panic recovered", logx.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

// sweepExpired removes all expired entries
func (c *MemoryHealthCache) sweepExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for id, entry := range c.entries {
		if now.After(entry.expiresAt) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		c.removeLocked(id)
		if c.config.EnableStats {
			c.stats.Expirations++
		}
	}

	if len(expired) > 0 {
		logx.Debug("health cache swept expired entries",
			logx.Int("expired", len(expired)),
			logx.Int("remaining", len(c.entries)))
	}
}

// RistrettoHealthCache is a Ristretto-backed health cache for
// high-throughput deployments. Admission is managed by Ristretto;
// TTL handling uses its native expiry.
type RistrettoHealthCache struct {
	cache     *ristretto.Cache
	ttl       time.Duration
	size      int64
	evictions int64
	closed    int32
}

// NewRistrettoHealthCache creates a Ristretto-backed health cache
func NewRistrettoHealthCache(maxItems int64, ttl time.Duration) (*RistrettoHealthCache, error) {
	if maxItems < 1 {
		return nil, fmt.Errorf("%w: max items must be positive, got %d", ErrInvalidConfig, maxItems)
	}
	if ttl < 100*time.Millisecond {
		return nil, fmt.Errorf("%w: ttl must be at least 100ms, got %s", ErrInvalidConfig, ttl)
	}

	hc := &RistrettoHealthCache{ttl: ttl}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
		Metrics:     true,
		Cost:        func(interface{}) int64 { return 1 },
		OnEvict: func(item *ristretto.Item) {
			atomic.AddInt64(&hc.size, -1)
			atomic.AddInt64(&hc.evictions, 1)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating ristretto cache: %s", ErrInvalidConfig, err.Error())
	}

	hc.cache = cache
	return hc, nil
}

// Get returns an unexpired cached result for the connection
func (c *RistrettoHealthCache) Get(id string) (ValidationResult, bool) {
	if c == nil || c.cache == nil || id == "" {
		return ValidationResult{}, false
	}
	value, found := c.cache.Get(id)
	if !found {
		return ValidationResult{}, false
	}
	result, ok := value.(ValidationResult)
	if !ok {
		return ValidationResult{}, false
	}
	return result, true
}

// Set stores a validation result. Waits for admission so a Get that
// follows a Set observes the value.
func (c *RistrettoHealthCache) Set(id string, result ValidationResult) {
	if c == nil || c.cache == nil || id == "" {
		return
	}
	if c.cache.SetWithTTL(id, result, 1, c.ttl) {
		atomic.AddInt64(&c.size, 1)
	}
	c.cache.Wait()
}

// Delete removes the cached result for a connection
func (c *RistrettoHealthCache) Delete(id string) {
	if c == nil || c.cache == nil || id == "" {
		return
	}
	c.cache.Del(id)
}

// Clear empties the cache
func (c *RistrettoHealthCache) Clear() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Clear()
	atomic.StoreInt64(&c.size, 0)
}

// Len returns the approximate number of cached entries
func (c *RistrettoHealthCache) Len() int {
	if c == nil {
		return 0
	}
	n := atomic.LoadInt64(&c.size)
	if n < 0 {
		return 0
	}
	return int(n)
}

// Stats returns cache statistics from Ristretto metrics
func (c *RistrettoHealthCache) Stats() HealthCacheStats {
	if c == nil || c.cache == nil {
		return HealthCacheStats{}
	}
	metrics := c.cache.Metrics
	return HealthCacheStats{
		Hits:      int64(metrics.Hits()),
		Misses:    int64(metrics.Misses()),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      int64(c.Len()),
	}
}

// Close releases the underlying Ristretto cache
func (c *RistrettoHealthCache) Close() error {
	if c == nil || c.cache == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.cache.Close()
	return nil
}
