package application

import (
	"sync"
	"time"

	billing "home-analytics/internal/billing/domain"
	"home-analytics/internal/observability/metrics"
)

// DefaultCurrentMonthTTL bounds how long an in-progress month is served from cache.
const DefaultCurrentMonthTTL = 5 * time.Minute

type cacheKey struct {
	month   billing.TimeKey
	version string
}

type cacheEntry struct {
	report  *billing.MonthlyReport
	expires time.Time
}

// MonthCache keeps built monthly reports. Closed months never expire; the
// in-progress month expires after ttl. Entries are keyed by settings version
// so a reload never serves reports priced with the old tariffs, and storing a
// report of another version drops the rest.
type MonthCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	version string
	ttl     time.Duration
	clock   Clock
}

// NewMonthCache constructs a cache. A non-positive ttl uses DefaultCurrentMonthTTL.
func NewMonthCache(ttl time.Duration, clock Clock) *MonthCache {
	if ttl <= 0 {
		ttl = DefaultCurrentMonthTTL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &MonthCache{entries: make(map[cacheKey]cacheEntry), ttl: ttl, clock: clock}
}

// Get returns a cached report for month under version.
func (c *MonthCache) Get(month billing.Month, version string) (*billing.MonthlyReport, bool) {
	key := cacheKey{month: month.Key(), version: version}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && !e.expires.IsZero() && c.clock.Now().After(e.expires) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expires.Equal(e.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		ok = false
	}
	metrics.IncCacheLookup(ok)
	if !ok {
		return nil, false
	}
	return e.report, true
}

// Put stores a report.
func (c *MonthCache) Put(report *billing.MonthlyReport) {
	if report == nil {
		return
	}
	e := cacheEntry{report: report}
	if report.Period.InProgress {
		e.expires = c.clock.Now().Add(c.ttl)
	}
	key := cacheKey{month: report.Period.Month.Key(), version: report.SettingsVersion}
	c.mu.Lock()
	if report.SettingsVersion != c.version {
		c.entries = make(map[cacheKey]cacheEntry)
		c.version = report.SettingsVersion
	}
	c.entries[key] = e
	c.mu.Unlock()
}

// Clear drops every entry and returns how many were dropped.
func (c *MonthCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[cacheKey]cacheEntry)
	return n
}

// Len returns the number of cached reports.
func (c *MonthCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
