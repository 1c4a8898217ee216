// Package admission decides which observed exes and maps are allowed into
// the model, and remembers rejections for a bounded time so repeated
// observations of a denied path don't re-walk the prefix rules every tick.
package admission

import (
	"container/list"
	"strings"
	"time"
)

// Reason classifies why a subject was rejected.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonPrefixDenied
	ReasonTooSmall
	ReasonCached
)

func (r Reason) String() string {
	switch r {
	case ReasonPrefixDenied:
		return "prefix_denied"
	case ReasonTooSmall:
		return "too_small"
	case ReasonCached:
		return "cached"
	default:
		return "none"
	}
}

// Decision is the outcome of evaluating a subject.
type Decision struct {
	Admit  bool
	Reason Reason
}

var admit = Decision{Admit: true}

// Rule is a single `+PATH` (allow) or `!PATH` (deny) prefix entry.
type Rule struct {
	Prefix string
	Allow  bool
}

// ParseRules parses the `exeprefix`/`mapprefix` config lists into Rule
// values. Entries are expected to start with '+' (allow) or '!' (deny);
// an entry with neither marker is treated as a deny, since these lists
// exist to carve exceptions out of the default admit-everything policy.
func ParseRules(entries []string) []Rule {
	rules := make([]Rule, 0, len(entries))
	for _, e := range entries {
		if e == "" {
			continue
		}
		switch e[0] {
		case '+':
			rules = append(rules, Rule{Prefix: e[1:], Allow: true})
		case '!':
			rules = append(rules, Rule{Prefix: e[1:], Allow: false})
		default:
			rules = append(rules, Rule{Prefix: e, Allow: false})
		}
	}
	return rules
}

// Config carries the subset of [system]/[model] settings AdmissionPolicy
// needs, already parsed into Rule slices.
type Config struct {
	ExePrefixes []Rule
	MapPrefixes []Rule
	MinSizeBytes int64
	CacheTTL     time.Duration
	CacheCapacity int
}

// Policy implements spec section 4.2: prefix-rule evaluation plus a
// TTL-and-capacity-bounded rejection cache.
type Policy struct {
	exeRules []Rule
	mapRules []Rule
	minSize  int64

	cache *rejectionCache
}

// New compiles cfg into a ready-to-use Policy. Rules are sorted once, by
// descending prefix length; evaluation scans every rule, keeps the longest
// matching prefix, and lets deny win a tie between equal-length matches.
func New(cfg Config) *Policy {
	p := &Policy{
		exeRules: sortedByLengthDesc(cfg.ExePrefixes),
		mapRules: sortedByLengthDesc(cfg.MapPrefixes),
		minSize:  cfg.MinSizeBytes,
		cache:    newRejectionCache(cfg.CacheTTL, cfg.CacheCapacity),
	}
	return p
}

func sortedByLengthDesc(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	// insertion sort: rule lists are short and this keeps the function
	// dependency-free and the ordering stable for equal-length entries.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j].Prefix) > len(out[j-1].Prefix); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// evaluatePrefix finds the longest matching rule for path, deny winning
// ties, and reports whether any rule matched at all.
func evaluatePrefix(rules []Rule, path string) (allow bool, matched bool) {
	bestLen := -1
	bestAllow := true
	for _, r := range rules {
		if !strings.HasPrefix(path, r.Prefix) {
			continue
		}
		l := len(r.Prefix)
		if l > bestLen {
			bestLen = l
			bestAllow = r.Allow
			matched = true
		} else if l == bestLen && !r.Allow {
			// tie: deny wins
			bestAllow = false
		}
	}
	return bestAllow, matched
}

// EvaluateExe decides whether an exe at path, with the given total mapped
// byte count observed so far, is admitted.
func (p *Policy) EvaluateExe(path string, totalMappedBytes int64, now time.Time) Decision {
	if d, ok := p.cache.lookup(path, now); ok {
		return d
	}

	if allow, matched := evaluatePrefix(p.exeRules, path); matched && !allow {
		d := Decision{Admit: false, Reason: ReasonPrefixDenied}
		p.cache.insert(path, d, now)
		return d
	}

	if totalMappedBytes < p.minSize {
		d := Decision{Admit: false, Reason: ReasonTooSmall}
		p.cache.insert(path, d, now)
		return d
	}

	return admit
}

// EvaluateMap decides whether a file-backed map at path is admitted.
func (p *Policy) EvaluateMap(path string, now time.Time) Decision {
	if d, ok := p.cache.lookup(path, now); ok {
		return d
	}
	if allow, matched := evaluatePrefix(p.mapRules, path); matched && !allow {
		d := Decision{Admit: false, Reason: ReasonPrefixDenied}
		p.cache.insert(path, d, now)
		return d
	}
	return admit
}

// FlushCache discards every cached rejection, used on config reload before
// admission is re-applied to everything currently in Stores.
func (p *Policy) FlushCache() {
	p.cache.flush()
}

// rejectionCache is a TTL-and-capacity-bounded cache of rejection
// decisions, generalized from a plain TTL cache by adding a capacity bound
// and an intrusive insertion-order list for the LRU-by-insertion fallback
// eviction rule (Go map iteration order is undefined, so the eviction
// order can't be recovered from the map alone).
type rejectionCache struct {
	ttl      time.Duration
	capacity int

	entries map[string]*list.Element
	order   *list.List // front = oldest inserted
}

type cacheEntry struct {
	key       string
	decision  Decision
	expiresAt time.Time
}

func newRejectionCache(ttl time.Duration, capacity int) *rejectionCache {
	return &rejectionCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *rejectionCache) lookup(key string, now time.Time) (Decision, bool) {
	el, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	ent := el.Value.(*cacheEntry)
	if now.After(ent.expiresAt) {
		c.remove(el)
		return Decision{}, false
	}
	return Decision{Admit: false, Reason: ent.decision.Reason}, true
}

func (c *rejectionCache) insert(key string, d Decision, now time.Time) {
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
	if c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictOne(now)
	}
	ent := &cacheEntry{key: key, decision: d, expiresAt: now.Add(c.ttl)}
	el := c.order.PushBack(ent)
	c.entries[key] = el
}

// evictOne removes the oldest-expired entry if one exists, otherwise the
// least-recently-inserted (the front of order).
func (c *rejectionCache) evictOne(now time.Time) {
	var oldestExpired *list.Element
	for el := c.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*cacheEntry)
		if now.After(ent.expiresAt) {
			oldestExpired = el
			break
		}
	}
	if oldestExpired != nil {
		c.remove(oldestExpired)
		return
	}
	if front := c.order.Front(); front != nil {
		c.remove(front)
	}
}

func (c *rejectionCache) remove(el *list.Element) {
	ent := el.Value.(*cacheEntry)
	delete(c.entries, ent.key)
	c.order.Remove(el)
}

func (c *rejectionCache) flush() {
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
}
