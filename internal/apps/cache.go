package apps

import (
	"crypto/md5"
	"fmt"
	"sort"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/protocol"
)

// MatchCache memoises matcher output. Keys combine the typed text with a
// fingerprint of the app list and blacklist, so any change to either misses.
type MatchCache struct {
	cache   *lru.Cache[string, []protocol.ResultItem]
	maxSize int
	hits    int64
	misses  int64
	logger  *zap.Logger
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewMatchCache returns nil when maxSize is zero; a nil cache is valid and
// never hits.
func NewMatchCache(maxSize int, logger *zap.Logger) (*MatchCache, error) {
	if maxSize <= 0 {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, []protocol.ResultItem](maxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &MatchCache{cache: cache, maxSize: maxSize, logger: logger.Named("match-cache")}, nil
}

func (c *MatchCache) Get(query, fingerprint string) ([]protocol.ResultItem, bool) {
	if c == nil {
		return nil, false
	}
	results, found := c.cache.Get(makeKey(query, fingerprint))
	if !found {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	c.logger.Debug("hit", zap.String("query", query), zap.Int("results", len(results)))
	return cloneResults(results), true
}

func (c *MatchCache) Put(query, fingerprint string, results []protocol.ResultItem) {
	if c == nil {
		return
	}
	c.cache.Add(makeKey(query, fingerprint), cloneResults(results))
}

// Invalidate removes all cached entries
func (c *MatchCache) Invalidate() {
	if c == nil {
		return
	}
	c.cache.Purge()
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
}

func (c *MatchCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	hitRate := float64(0)
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return CacheStats{
		Size:    c.cache.Len(),
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

func makeKey(query, fingerprint string) string {
	return fmt.Sprintf("%s:%s", fingerprint, query)
}

// Fingerprint hashes every field the matcher reads, in order.
func Fingerprint(apps []IndexedApp, blacklist map[string]struct{}) string {
	return appsDigest(apps) + "." + blacklistDigest(blacklist)
}

func appsDigest(apps []IndexedApp) string {
	h := md5.New()
	fmt.Fprintf(h, "%d\x00", len(apps))
	for _, app := range apps {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", app.Name, app.ExecPath, app.IconPath)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func blacklistDigest(blacklist map[string]struct{}) string {
	excluded := make([]string, 0, len(blacklist))
	for path := range blacklist {
		excluded = append(excluded, path)
	}
	sort.Strings(excluded)

	h := md5.New()
	for _, path := range excluded {
		fmt.Fprintf(h, "%s\x00", path)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func cloneResults(results []protocol.ResultItem) []protocol.ResultItem {
	out := make([]protocol.ResultItem, len(results))
	copy(out, results)
	return out
}
