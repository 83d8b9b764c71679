package engine

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// DefaultDedupTTL and DefaultDedupSize bound the duplicate filter when the
// config leaves them unset.
const (
	DefaultDedupTTL  = 5 * time.Minute
	DefaultDedupSize = 2000
)

type dedupEntry struct {
	until    time.Time
	priority Priority
}

// DuplicateFilter suppresses repeats of the same message within a window.
// A repeat at a strictly higher priority passes through (escalation), and
// refreshes the recorded priority.
//
// Safe for concurrent use.
type DuplicateFilter struct {
	mu      sync.Mutex
	entries map[string]dedupEntry
	ttl     time.Duration
	size    int
}

func NewDuplicateFilter(ttl time.Duration, size int) *DuplicateFilter {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if size <= 0 {
		size = DefaultDedupSize
	}
	return &DuplicateFilter{entries: map[string]dedupEntry{}, ttl: ttl, size: size}
}

func dedupKey(message, title string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(message))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(title))
	return fmt.Sprintf("%x", h.Sum64())
}

// Check reports whether the notification is a duplicate that should be
// suppressed. It does not mutate the filter; call Record once the
// notification is actually processed.
func (f *DuplicateFilter) Check(n *Notification, now time.Time) bool {
	key := dedupKey(n.Message, n.Title)
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || !now.Before(e.until) {
		return false
	}
	// Escalation bypass: a strictly higher priority repeat goes through.
	return n.Priority <= e.priority
}

// Record remembers the notification for the filter window, pruning expired
// entries and evicting the oldest when over capacity.
func (f *DuplicateFilter) Record(n *Notification, now time.Time) {
	key := dedupKey(n.Message, n.Title)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = dedupEntry{until: now.Add(f.ttl), priority: n.Priority}

	for k, e := range f.entries {
		if !now.Before(e.until) {
			delete(f.entries, k)
		}
	}
	for len(f.entries) > f.size {
		oldestKey := ""
		var oldest time.Time
		for k, e := range f.entries {
			if oldestKey == "" || e.until.Before(oldest) {
				oldestKey, oldest = k, e.until
			}
		}
		delete(f.entries, oldestKey)
	}
}

// Len reports the current entry count, for the housekeeping report.
func (f *DuplicateFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
