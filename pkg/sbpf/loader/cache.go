package loader

import (
	"encoding/binary"

	"github.com/Overclock-Validator/quartz/pkg/metrics"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of programs kept by NewCache(0).
const DefaultCacheSize = 512

type cacheKey struct {
	digest   [32]byte
	syscalls uint64
}

func (k cacheKey) String() string {
	var b [40]byte
	copy(b[:], k.digest[:])
	binary.LittleEndian.PutUint64(b[32:], k.syscalls)
	return string(b[:])
}

// Cache memoizes loaded programs by content and syscall registry.
// A cached Program also keeps its compiled form.
type Cache struct {
	cache   *lru.Cache[cacheKey, *sbpf.Program]
	loading singleflight.Group
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, *sbpf.Program](size)
	if err != nil {
		return nil, err
	}
	return &Cache{cache: cache}, nil
}

// Load returns the cached program for buf, loading it on a miss. Concurrent
// misses for the same key share one load and its error. Loader errors are
// not cached.
func (c *Cache) Load(buf []byte, syscalls sbpf.SyscallRegistry) (*sbpf.Program, error) {
	key := cacheKey{digest: blake3.Sum256(buf), syscalls: syscalls.Fingerprint()}
	if p, ok := c.cache.Get(key); ok {
		metrics.ProgramCacheHits.Inc()
		return p, nil
	}

	v, err, _ := c.loading.Do(key.String(), func() (any, error) {
		// a load for this key may have finished since the lookup above
		if p, ok := c.cache.Get(key); ok {
			return p, nil
		}
		metrics.ProgramCacheMisses.Inc()
		p, err := Load(buf, syscalls)
		if err != nil {
			metrics.ProgramLoadFailures.Inc()
			return nil, err
		}
		c.cache.Add(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sbpf.Program), nil
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	return c.cache.Len()
}

// Purge drops all cached programs.
func (c *Cache) Purge() {
	c.cache.Purge()
}
