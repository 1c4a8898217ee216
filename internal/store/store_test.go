package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/prefetchd/internal/model"
)

func TestInternExeIsIdempotent(t *testing.T) {
	s := New()
	now := time.Now()
	id1 := s.InternExe("/usr/bin/bash", now)
	id2 := s.InternExe("/usr/bin/bash", now.Add(time.Second))
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.ExeCount())
}

func TestLinkUnlinkMaintainsReverseIndex(t *testing.T) {
	s := New()
	now := time.Now()
	exe := s.InternExe("/usr/bin/bash", now)
	m := s.InternMap(model.MapKey{Path: "/lib/libc.so", Offset: 0, Length: 4096}, now)

	s.Link(exe, m)
	assert.ElementsMatch(t, []model.MapId{m}, s.MapsOf(exe))
	assert.ElementsMatch(t, []model.ExeId{exe}, s.ExesOf(m))

	s.Unlink(exe, m)
	assert.Empty(t, s.MapsOf(exe))
	assert.Empty(t, s.ExesOf(m))
}

func TestEdgeCanonicalUpsertAndGet(t *testing.T) {
	s := New()
	now := time.Now()
	a := s.InternExe("/usr/bin/a", now)
	b := s.InternExe("/usr/bin/b", now)

	edge := model.NewMarkovEdge(now)
	s.UpsertEdge(b, a, edge)

	got, ok := s.GetEdge(a, b)
	require.True(t, ok)
	assert.Same(t, edge, got)

	got2, ok2 := s.GetEdge(b, a)
	require.True(t, ok2)
	assert.Same(t, edge, got2)
}

func TestUpsertEdgeRejectsSelfLoop(t *testing.T) {
	s := New()
	now := time.Now()
	a := s.InternExe("/usr/bin/a", now)
	s.UpsertEdge(a, a, model.NewMarkovEdge(now))
	assert.Equal(t, 0, s.EdgeCount())
}

func TestPurgeExeCascadesToMapsAndEdges(t *testing.T) {
	s := New()
	now := time.Now()
	a := s.InternExe("/usr/bin/a", now)
	b := s.InternExe("/usr/bin/b", now)
	onlyA := s.InternMap(model.MapKey{Path: "/lib/only-a.so"}, now)
	shared := s.InternMap(model.MapKey{Path: "/lib/shared.so"}, now)

	s.Link(a, onlyA)
	s.Link(a, shared)
	s.Link(b, shared)
	s.UpsertEdge(a, b, model.NewMarkovEdge(now))
	s.ActiveSetInsert(a, now)

	s.PurgeExe(a)

	_, ok := s.Exe(a)
	assert.False(t, ok)
	_, ok = s.Map(onlyA)
	assert.False(t, ok, "map left with no owner must be purged")
	_, ok = s.Map(shared)
	assert.True(t, ok, "map still owned by b must survive")
	assert.ElementsMatch(t, []model.ExeId{b}, s.ExesOf(shared))
	_, ok = s.GetEdge(a, b)
	assert.False(t, ok)
	assert.False(t, s.IsActiveMember(a))

	// no dangling references: b must have no surviving edge to the purged exe
	s.IterEdgesOf(b, func(peer model.ExeId, _ *model.MarkovEdge) {
		t.Fatalf("unexpected surviving edge to peer %d", peer)
	})
}

func TestActiveSetPruneDropsStaleMembersAndTheirEdges(t *testing.T) {
	s := New()
	base := time.Now()
	a := s.InternExe("/usr/bin/a", base)
	b := s.InternExe("/usr/bin/b", base)
	s.ActiveSetInsert(a, base)
	s.ActiveSetInsert(b, base.Add(50*time.Minute))
	s.UpsertEdge(a, b, model.NewMarkovEdge(base))

	removed := s.ActiveSetPrune(base.Add(time.Hour), 30*time.Minute)

	assert.ElementsMatch(t, []model.ExeId{a}, removed)
	assert.False(t, s.IsActiveMember(a))
	assert.True(t, s.IsActiveMember(b))
	_, ok := s.GetEdge(a, b)
	assert.False(t, ok, "edge touching a pruned active member must be dropped")
}

func TestMapIdForReturnsInternedId(t *testing.T) {
	s := New()
	now := time.Now()
	key := model.MapKey{Path: "/lib/a.so", Offset: 0, Length: 4096}
	id := s.InternMap(key, now)

	got, ok := s.MapIdFor(key)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = s.MapIdFor(model.MapKey{Path: "/nope"})
	assert.False(t, ok)
}

func TestModelTimeAdvancesMonotonically(t *testing.T) {
	s := New()
	s.AdvanceModelTime(2 * time.Second)
	s.AdvanceModelTime(-5 * time.Second)
	s.AdvanceModelTime(3 * time.Second)
	assert.Equal(t, 5.0, s.ModelTime().Seconds())
}
