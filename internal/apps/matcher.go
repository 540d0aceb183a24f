package apps

import (
	"sort"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/protocol"
)

// Matcher turns app-list hits into OpenApp results.
type Matcher struct {
	cache  *MatchCache
	logger *zap.Logger

	mu        sync.Mutex
	lastList  *IndexedApp
	lastLen   int
	lastSum   string
	appHashes int
}

// NewMatcher builds a matcher. cache may be nil.
func NewMatcher(cache *MatchCache, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{cache: cache, logger: logger.Named("matcher")}
}

// candidates adapts the non-blacklisted apps to fuzzy.Source.
type candidates []IndexedApp

func (c candidates) String(i int) string { return c[i].Name }
func (c candidates) Len() int            { return len(c) }

// Match returns every app whose name fuzzy-matches typed and whose exec path
// is not blacklisted. Results keep the order of apps; match scores only
// decide inclusion.
func (m *Matcher) Match(typed string, apps []IndexedApp, blacklist map[string]struct{}) []protocol.ResultItem {
	if typed == "" {
		return []protocol.ResultItem{}
	}

	fingerprint := ""
	if m.cache != nil {
		fingerprint = m.fingerprint(apps, blacklist)
		if results, ok := m.cache.Get(typed, fingerprint); ok {
			return results
		}
	}

	start := time.Now()
	allowed := make(candidates, 0, len(apps))
	for _, app := range apps {
		if _, excluded := blacklist[app.ExecPath]; excluded {
			continue
		}
		allowed = append(allowed, app)
	}

	matches := fuzzy.FindFrom(typed, allowed)
	indexes := make([]int, 0, len(matches))
	for _, match := range matches {
		indexes = append(indexes, match.Index)
	}
	sort.Ints(indexes)

	results := make([]protocol.ResultItem, 0, len(indexes))
	for _, i := range indexes {
		results = append(results, toResult(allowed[i]))
	}

	m.logger.Debug("matched apps",
		zap.String("query", typed),
		zap.Int("candidates", len(allowed)),
		zap.Int("matches", len(results)),
		zap.Duration("elapsed", time.Since(start)))

	m.cache.Put(typed, fingerprint, results)
	return results
}

// fingerprint reuses the app-list digest while the source keeps returning
// the same slice, so only the blacklist is hashed per query.
func (m *Matcher) fingerprint(apps []IndexedApp, blacklist map[string]struct{}) string {
	var first *IndexedApp
	if len(apps) > 0 {
		first = &apps[0]
	}

	m.mu.Lock()
	if m.lastSum == "" || m.lastList != first || m.lastLen != len(apps) {
		m.lastList, m.lastLen, m.lastSum = first, len(apps), appsDigest(apps)
		m.appHashes++
	}
	sum := m.lastSum
	m.mu.Unlock()

	return sum + "." + blacklistDigest(blacklist)
}

// toResult tints the generic icon only when the app has no icon of its own.
func toResult(app IndexedApp) protocol.ResultItem {
	return protocol.NewText(app.Name, protocol.OpenApp(app.ExecPath)).
		WithIcon(app.IconPath).
		WithTint(app.IconPath == "")
}
