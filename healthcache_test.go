package connpool

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	_ HealthCache = (*MemoryHealthCache)(nil)
	_ HealthCache = (*RistrettoHealthCache)(nil)
)

// shortTTLCacheConfig returns a small cache configuration for expiry tests
func shortTTLCacheConfig(maxSize int, ttl time.Duration) *HealthCacheConfig {
	return &HealthCacheConfig{
		MaxSize:         maxSize,
		TTL:             ttl,
		CleanupInterval: time.Second,
		EnableStats:     true,
	}
}

// TestNewMemoryHealthCache_Validation tests cache configuration validation
func TestNewMemoryHealthCache_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      *HealthCacheConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:        "Nil_Config_Uses_Defaults",
			config:      nil,
			expectError: false,
		},
		{
			name:        "Default_Config",
			config:      DefaultHealthCacheConfig(),
			expectError: false,
		},
		{
			name:        "Max_Size_Zero",
			config:      shortTTLCacheConfig(0, time.Second),
			expectError: true,
			errorMsg:    "max_size must be between 1 and 100000",
		},
		{
			name:        "TTL_Too_Small",
			config:      shortTTLCacheConfig(10, 50*time.Millisecond),
			expectError: true,
			errorMsg:    "ttl must be between 100ms and 24h",
		},
		{
			name: "Cleanup_Interval_Too_Small",
			config: &HealthCacheConfig{
				MaxSize:         10,
				TTL:             time.Second,
				CleanupInterval: 500 * time.Millisecond,
			},
			expectError: true,
			errorMsg:    "cleanup_interval must be between 1s and 1h",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, err := NewMemoryHealthCache(tt.config)
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
				assert.Nil(t, cache)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, cache)
				assert.NoError(t, cache.Close())
			}
		})
	}
}

// TestMemoryHealthCache_SetGet tests basic storage and stats accounting
func TestMemoryHealthCache_SetGet(t *testing.T) {
	cache, err := NewMemoryHealthCache(nil)
	assert.NoError(t, err)
	defer cache.Close()

	result := ValidationResult{Valid: true, Timestamp: time.Now()}
	cache.Set("conn-1", result)

	got, ok := cache.Get("conn-1")
	assert.True(t, ok)
	assert.True(t, got.Valid)

	_, ok = cache.Get("conn-absent")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
	assert.Equal(t, 1, cache.Len())
}

// TestMemoryHealthCache_TTLExpiry tests that entries expire after the TTL
func TestMemoryHealthCache_TTLExpiry(t *testing.T) {
	cache, err := NewMemoryHealthCache(shortTTLCacheConfig(10, 150*time.Millisecond))
	assert.NoError(t, err)
	defer cache.Close()

	cache.Set("conn-1", ValidationResult{Valid: true})
	time.Sleep(200 * time.Millisecond)

	_, ok := cache.Get("conn-1")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(1), stats.Misses)
}

// TestMemoryHealthCache_LRUEviction tests least recently used eviction at capacity
func TestMemoryHealthCache_LRUEviction(t *testing.T) {
	cache, err := NewMemoryHealthCache(shortTTLCacheConfig(2, time.Minute))
	assert.NoError(t, err)
	defer cache.Close()

	cache.Set("conn-a", ValidationResult{Valid: true})
	cache.Set("conn-b", ValidationResult{Valid: true})

	// Touch conn-a so conn-b becomes the eviction candidate
	_, ok := cache.Get("conn-a")
	assert.True(t, ok)

	cache.Set("conn-c", ValidationResult{Valid: true})
	assert.Equal(t, 2, cache.Len())

	_, ok = cache.Get("conn-b")
	assert.False(t, ok)
	_, ok = cache.Get("conn-a")
	assert.True(t, ok)
	_, ok = cache.Get("conn-c")
	assert.True(t, ok)

	assert.Equal(t, int64(1), cache.Stats().Evictions)
}

// TestMemoryHealthCache_SetExistingKey tests overwriting without growth
func TestMemoryHealthCache_SetExistingKey(t *testing.T) {
	cache, err := NewMemoryHealthCache(shortTTLCacheConfig(2, time.Minute))
	assert.NoError(t, err)
	defer cache.Close()

	cache.Set("conn-1", ValidationResult{Valid: true})
	cache.Set("conn-1", ValidationResult{Valid: false, ErrorMessage: "went away"})

	assert.Equal(t, 1, cache.Len())
	got, ok := cache.Get("conn-1")
	assert.True(t, ok)
	assert.False(t, got.Valid)
	assert.Equal(t, "went away", got.ErrorMessage)
}

// TestMemoryHealthCache_DeleteClear tests removal operations
func TestMemoryHealthCache_DeleteClear(t *testing.T) {
	cache, err := NewMemoryHealthCache(nil)
	assert.NoError(t, err)
	defer cache.Close()

	cache.Set("conn-1", ValidationResult{Valid: true})
	cache.Set("conn-2", ValidationResult{Valid: true})

	cache.Delete("conn-1")
	_, ok := cache.Get("conn-1")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len())

	// Deleting an absent key is a no-op
	cache.Delete("conn-ghost")
	assert.Equal(t, 1, cache.Len())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

// TestMemoryHealthCache_CloseIdempotent tests repeated close and nil safety
func TestMemoryHealthCache_CloseIdempotent(t *testing.T) {
	cache, err := NewMemoryHealthCache(nil)
	assert.NoError(t, err)

	assert.NoError(t, cache.Close())
	assert.NoError(t, cache.Close())

	var nilCache *MemoryHealthCache
	assert.NoError(t, nilCache.Close())
	_, ok := nilCache.Get("conn-1")
	assert.False(t, ok)
	nilCache.Set("conn-1", ValidationResult{})
	assert.Equal(t, 0, nilCache.Len())
}

// TestMemoryHealthCache_ConcurrentAccess tests concurrent reads and writes
func TestMemoryHealthCache_ConcurrentAccess(t *testing.T) {
	cache, err := NewMemoryHealthCache(shortTTLCacheConfig(100, time.Minute))
	assert.NoError(t, err)
	defer cache.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("conn-%d-%d", g, i%10)
				cache.Set(id, ValidationResult{Valid: i%2 == 0})
				cache.Get(id)
			}
		}(g)
	}
	wg.Wait()

	assert.Greater(t, cache.Len(), 0)
}

// TestNewRistrettoHealthCache_Validation tests constructor argument validation
func TestNewRistrettoHealthCache_Validation(t *testing.T) {
	tests := []struct {
		name     string
		maxItems int64
		ttl      time.Duration
		errorMsg string
	}{
		{
			name:     "Zero_Max_Items",
			maxItems: 0,
			ttl:      time.Second,
			errorMsg: "max items must be positive",
		},
		{
			name:     "TTL_Too_Small",
			maxItems: 10,
			ttl:      50 * time.Millisecond,
			errorMsg: "ttl must be at least 100ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, err := NewRistrettoHealthCache(tt.maxItems, tt.ttl)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
			assert.Nil(t, cache)
		})
	}
}

// TestRistrettoHealthCache_SetGet tests storage through the Ristretto backend
func TestRistrettoHealthCache_SetGet(t *testing.T) {
	cache, err := NewRistrettoHealthCache(100, time.Minute)
	assert.NoError(t, err)
	defer cache.Close()

	cache.Set("conn-1", ValidationResult{Valid: true})

	got, ok := cache.Get("conn-1")
	assert.True(t, ok)
	assert.True(t, got.Valid)
	assert.Equal(t, 1, cache.Len())

	_, ok = cache.Get("conn-absent")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

// TestRistrettoHealthCache_TTLExpiry tests native TTL expiry
func TestRistrettoHealthCache_TTLExpiry(t *testing.T) {
	cache, err := NewRistrettoHealthCache(100, 150*time.Millisecond)
	assert.NoError(t, err)
	defer cache.Close()

	cache.Set("conn-1", ValidationResult{Valid: true})
	time.Sleep(250 * time.Millisecond)

	_, ok := cache.Get("conn-1")
	assert.False(t, ok)
}

// TestRistrettoHealthCache_DeleteClear tests removal operations
func TestRistrettoHealthCache_DeleteClear(t *testing.T) {
	cache, err := NewRistrettoHealthCache(100, time.Minute)
	assert.NoError(t, err)
	defer cache.Close()

	cache.Set("conn-1", ValidationResult{Valid: true})
	cache.Delete("conn-1")

	_, ok := cache.Get("conn-1")
	assert.False(t, ok)

	cache.Set("conn-2", ValidationResult{Valid: true})
	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

// TestRistrettoHealthCache_CloseIdempotent tests repeated close and nil safety
func TestRistrettoHealthCache_CloseIdempotent(t *testing.T) {
	cache, err := NewRistrettoHealthCache(10, time.Minute)
	assert.NoError(t, err)

	assert.NoError(t, cache.Close())
	assert.NoError(t, cache.Close())

	var nilCache *RistrettoHealthCache
	assert.NoError(t, nilCache.Close())
	_, ok := nilCache.Get("conn-1")
	assert.False(t, ok)
	assert.Equal(t, 0, nilCache.Len())
}
