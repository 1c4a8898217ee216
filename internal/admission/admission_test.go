package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongestPrefixWinsOverShorterOpposite(t *testing.T) {
	p := New(Config{
		ExePrefixes: []Rule{
			{Prefix: "/usr", Allow: false},
			{Prefix: "/usr/bin", Allow: true},
		},
		CacheTTL:      time.Minute,
		CacheCapacity: 10,
	})
	d := p.EvaluateExe("/usr/bin/bash", 1<<20, time.Now())
	assert.True(t, d.Admit)
}

func TestEqualLengthTieDenyWins(t *testing.T) {
	p := New(Config{
		ExePrefixes: []Rule{
			{Prefix: "/opt/app", Allow: true},
			{Prefix: "/opt/app", Allow: false},
		},
		CacheTTL:      time.Minute,
		CacheCapacity: 10,
	})
	d := p.EvaluateExe("/opt/app/bin", 1<<20, time.Now())
	assert.False(t, d.Admit)
	assert.Equal(t, ReasonPrefixDenied, d.Reason)
}

func TestNoMatchDefaultsToAdmit(t *testing.T) {
	p := New(Config{CacheTTL: time.Minute, CacheCapacity: 10})
	d := p.EvaluateExe("/home/user/tool", 1<<20, time.Now())
	assert.True(t, d.Admit)
}

func TestTooSmallRejectsBelowMinSize(t *testing.T) {
	p := New(Config{MinSizeBytes: 4096, CacheTTL: time.Minute, CacheCapacity: 10})
	d := p.EvaluateExe("/usr/bin/tiny", 100, time.Now())
	assert.False(t, d.Admit)
	assert.Equal(t, ReasonTooSmall, d.Reason)
}

func TestRejectionCacheHitAvoidsReevaluationWithinTTL(t *testing.T) {
	p := New(Config{MinSizeBytes: 4096, CacheTTL: time.Minute, CacheCapacity: 10})
	now := time.Now()
	first := p.EvaluateExe("/usr/bin/tiny", 100, now)
	require.False(t, first.Admit)

	// even though size now clears minsize, the cached rejection should
	// still win within TTL.
	second := p.EvaluateExe("/usr/bin/tiny", 1<<20, now.Add(10*time.Second))
	assert.False(t, second.Admit)
}

func TestRejectionCacheExpiresAfterTTL(t *testing.T) {
	p := New(Config{MinSizeBytes: 4096, CacheTTL: time.Second, CacheCapacity: 10})
	now := time.Now()
	p.EvaluateExe("/usr/bin/tiny", 100, now)

	later := p.EvaluateExe("/usr/bin/tiny", 1<<20, now.Add(2*time.Second))
	assert.True(t, later.Admit, "cached rejection must not survive past its TTL")
}

func TestRejectionCacheEvictsOldestExpiredFirst(t *testing.T) {
	p := New(Config{MinSizeBytes: 4096, CacheTTL: time.Second, CacheCapacity: 2})
	now := time.Now()
	p.EvaluateExe("/a", 0, now)
	p.EvaluateExe("/b", 0, now.Add(2*time.Second)) // /a now expired relative to this insert

	// inserting /c should evict /a (expired), not /b
	p.EvaluateExe("/c", 0, now.Add(2*time.Second))

	assert.Equal(t, 2, len(p.cache.entries))
	_, aPresent := p.cache.entries["/a"]
	_, bPresent := p.cache.entries["/b"]
	_, cPresent := p.cache.entries["/c"]
	assert.False(t, aPresent)
	assert.True(t, bPresent)
	assert.True(t, cPresent)
}

func TestRejectionCacheEvictsLeastRecentlyInsertedWhenNoneExpired(t *testing.T) {
	p := New(Config{MinSizeBytes: 4096, CacheTTL: time.Hour, CacheCapacity: 2})
	now := time.Now()
	p.EvaluateExe("/a", 0, now)
	p.EvaluateExe("/b", 0, now)
	p.EvaluateExe("/c", 0, now)

	_, aPresent := p.cache.entries["/a"]
	assert.False(t, aPresent, "oldest insertion should be evicted when nothing has expired")
}

func TestFlushCacheClearsAllEntries(t *testing.T) {
	p := New(Config{MinSizeBytes: 4096, CacheTTL: time.Hour, CacheCapacity: 10})
	now := time.Now()
	p.EvaluateExe("/a", 0, now)
	p.FlushCache()
	assert.Equal(t, 0, len(p.cache.entries))
}

func TestMapPrefixDenyRejects(t *testing.T) {
	p := New(Config{
		MapPrefixes: []Rule{{Prefix: "/dev/shm", Allow: false}},
		CacheTTL:    time.Minute,
	})
	d := p.EvaluateMap("/dev/shm/x", time.Now())
	assert.False(t, d.Admit)
}

func TestParseRulesRecognizesAllowAndDenyMarkers(t *testing.T) {
	rules := ParseRules([]string{"+/usr/bin", "!/tmp", "/opt"})
	require.Len(t, rules, 3)
	assert.Equal(t, Rule{Prefix: "/usr/bin", Allow: true}, rules[0])
	assert.Equal(t, Rule{Prefix: "/tmp", Allow: false}, rules[1])
	assert.Equal(t, Rule{Prefix: "/opt", Allow: false}, rules[2])
}

func TestParseRulesSkipsEmptyEntries(t *testing.T) {
	rules := ParseRules([]string{"", "+/bin"})
	require.Len(t, rules, 1)
	assert.Equal(t, "/bin", rules[0].Prefix)
}
