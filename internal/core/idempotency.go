package core

import (
	"container/list"
	"fmt"
)

// Dedup tiers reported by IsDuplicate.
const (
	TierLRU      = "lru"
	TierPostgres = "postgres"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	tier2Errors int64
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate reports whether a command was already applied and which tier
// caught it.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, string) {
	compositeKey := compositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(compositeKey) {
		return true, TierLRU
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// Treated as not seen. The event log's unique index still
			// rejects a true duplicate at write time.
			ic.tier2Errors++
			return false, ""
		}

		if isDup {
			ic.lru.Add(compositeKey)
			return true, TierPostgres
		}
	}

	return false, ""
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey))
}

// Tier2Errors counts failed Postgres lookups.
func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}

// Size is the LRU occupancy.
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Size()
}

func compositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe; only the core goroutine touches it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64 // For metrics
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		// Move to front (most recently used)
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	// Check if already exists
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	// Add new entry
	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	// Evict if over capacity
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads composite keys ordered most-recent first, as returned
// by GetAllKeys or by the event log query.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		if _, exists := lru.cache[key]; exists {
			continue
		}
		entry := &lruEntry{key: key}
		elem := lru.lruList.PushFront(entry)
		lru.cache[key] = elem

		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// GetAllKeys returns keys from most to least recently used.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
