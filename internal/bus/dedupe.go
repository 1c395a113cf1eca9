package bus

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultDedupeCapacity is the default number of (account, chat, message)
	// keys retained before the oldest are evicted.
	DefaultDedupeCapacity = 10_000

	// DefaultDedupeTTL is the default window within which a repeated
	// (account, chat, message) key is considered a duplicate.
	DefaultDedupeTTL = 10 * time.Minute
)

// DedupeCache is a bounded LRU+TTL set of (accountId, chatId, messageId)
// keys used by the Admission Controller to drop duplicate envelopes.
type DedupeCache struct {
	cache *expirable.LRU[string, struct{}]
}

// NewDedupeCache creates a DedupeCache with the given TTL and capacity.
func NewDedupeCache(ttl time.Duration, capacity int) *DedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if capacity <= 0 {
		capacity = DefaultDedupeCapacity
	}
	return &DedupeCache{
		cache: expirable.NewLRU[string, struct{}](capacity, nil, ttl),
	}
}

// SeenOrMark reports whether (accountID, chatID, messageID) was already
// observed within the TTL window. If it wasn't, it is recorded and false is
// returned; if it was, true is returned and the key's TTL is not extended
// (only its LRU recency is refreshed).
func (d *DedupeCache) SeenOrMark(accountID, chatID, messageID string) bool {
	key := dedupeKey(accountID, chatID, messageID)
	if _, ok := d.cache.Get(key); ok {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}

// Len returns the number of keys currently retained (for diagnostics/tests).
func (d *DedupeCache) Len() int {
	return d.cache.Len()
}

func dedupeKey(accountID, chatID, messageID string) string {
	return fmt.Sprintf("%s\x00%s\x00%s", accountID, chatID, messageID)
}
