package neuron

import (
	"container/list"
	"strings"
	"sync"

	"neuroforge/internal/goal"
	"neuroforge/internal/kv"
	"neuroforge/internal/logging"
)

const (
	patternNamespace   = "intent_patterns"
	defaultPatternSize = 512
)

// PatternCache is an LRU of validated intent decisions keyed by normalized
// goal text. Writes happen only after the downstream goal execution
// succeeded, so the cache never replays a decision that did not work.
type PatternCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List               // front = most recent
	entries map[string]*list.Element // key -> element holding cacheEntry
	store   kv.Store                 // optional persistence
}

type cacheEntry struct {
	key    string
	intent goal.Intent
}

// NewPatternCache creates a cache persisting to store (may be nil).
func NewPatternCache(store kv.Store, maxSize int) *PatternCache {
	if maxSize <= 0 {
		maxSize = defaultPatternSize
	}
	c := &PatternCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		store:   store,
	}
	c.load()
	return c
}

// Lookup returns a cached decision for the goal text.
func (c *PatternCache) Lookup(goalText string) (goal.Intent, bool) {
	key := normalizeText(goalText)
	if key == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).intent, true
}

// Store records a validated decision, evicting the least recently used
// entry once full.
func (c *PatternCache) Store(goalText string, intent goal.Intent) {
	key := normalizeText(goalText)
	if key == "" {
		return
	}

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).intent = intent
		c.order.MoveToFront(elem)
	} else {
		elem := c.order.PushFront(&cacheEntry{key: key, intent: intent})
		c.entries[key] = elem
		if c.order.Len() > c.maxSize {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			evicted := oldest.Value.(*cacheEntry)
			delete(c.entries, evicted.key)
			if c.store != nil {
				_ = c.store.Delete(patternNamespace, evicted.key)
			}
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Set(patternNamespace, key, string(intent), 0); err != nil {
			logging.NeuronDebug("pattern cache persist: %v", err)
		}
	}
}

// Len returns the number of cached decisions.
func (c *PatternCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *PatternCache) load() {
	if c.store == nil {
		return
	}
	all, err := c.store.GetAll(patternNamespace)
	if err != nil {
		logging.NeuronDebug("pattern cache load: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range all {
		label, ok := value.(string)
		if !ok {
			continue
		}
		if c.order.Len() >= c.maxSize {
			break
		}
		elem := c.order.PushBack(&cacheEntry{key: key, intent: goal.Intent(label)})
		c.entries[key] = elem
	}
}

// normalizeText lowercases and collapses whitespace so trivially different
// phrasings share a cache slot.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
