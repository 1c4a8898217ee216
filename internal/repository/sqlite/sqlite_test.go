package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/prefetchd/internal/model"
	"github.com/harrison/prefetchd/internal/repository"
	"github.com/harrison/prefetchd/internal/store"
)

func TestLoadOnEmptyDatabaseReturnsEmptyStores(t *testing.T) {
	repo, err := Open(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	s, meta, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, s.ExeCount())
	assert.Equal(t, time.Duration(0), meta.ModelTime)
}

func TestSnapshotRoundTrip(t *testing.T) {
	repo, err := Open(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	s := store.New()
	now := time.Unix(1_700_000_000, 0).UTC()
	a := s.InternExe("/usr/bin/a", now)
	b := s.InternExe("/usr/bin/b", now)
	m := s.InternMap(model.MapKey{Path: "/lib/shared.so", Offset: 0, Length: 4096}, now)
	s.Link(a, m)
	s.Link(b, m)

	edge := model.NewMarkovEdge(now)
	edge.TransitionProb[model.StateOnlyA][model.StateBoth] = 0.25
	edge.TimeToLeave[model.StateOnlyA] = 12.5
	edge.BothRunningTime = 30 * time.Second
	s.UpsertEdge(a, b, edge)
	s.AdvanceModelTime(500 * time.Second)

	meta := repository.Meta{ModelTime: time.Duration(s.ModelTime()), LastAccountingTime: now}
	require.NoError(t, repo.Save(context.Background(), s, meta))

	loaded, loadedMeta, err := repo.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, s.ExeCount(), loaded.ExeCount())
	assert.Equal(t, s.MapCount(), loaded.MapCount())
	assert.Equal(t, s.EdgeCount(), loaded.EdgeCount())
	assert.Equal(t, meta.ModelTime, loadedMeta.ModelTime)
	assert.Equal(t, meta.LastAccountingTime.Unix(), loadedMeta.LastAccountingTime.Unix())

	loadedA, ok := loaded.ExeIdFor("/usr/bin/a")
	require.True(t, ok)
	loadedB, ok := loaded.ExeIdFor("/usr/bin/b")
	require.True(t, ok)

	loadedEdge, ok := loaded.GetEdge(loadedA, loadedB)
	require.True(t, ok)
	// Load assigns fresh ExeIds, and StateOnlyA/StateOnlyB are relative to
	// the smaller ExeId, so a's "only" state depends on the loaded ids.
	aState := model.StateOnlyA
	if loadedA > loadedB {
		aState = model.StateOnlyB
	}
	assert.InDelta(t, 0.25, loadedEdge.TransitionProb[aState][model.StateBoth], 1e-6)
	assert.InDelta(t, 12.5, loadedEdge.TimeToLeave[aState], 1e-6)
	assert.Equal(t, 30*time.Second, loadedEdge.BothRunningTime)

	loadedMapId, ok := loaded.MapIdFor(model.MapKey{Path: "/lib/shared.so", Offset: 0, Length: 4096})
	require.True(t, ok)
	assert.ElementsMatch(t, []model.ExeId{loadedA, loadedB}, loaded.ExesOf(loadedMapId))
}

// TestSnapshotRoundTripPathOrderDiffersFromExeIdOrder covers the case
// where the exe with the smaller ExeId has the lexicographically larger
// path. markov_edges orders its primary key by path, not ExeId, so this
// is the common case, not an edge case: it must not trip the table's
// CHECK(exe_a_path < exe_b_path) constraint, and StateOnlyA/StateOnlyB
// must still come back attached to the right exe.
func TestSnapshotRoundTripPathOrderDiffersFromExeIdOrder(t *testing.T) {
	repo, err := Open(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	s := store.New()
	now := time.Unix(1_700_000_000, 0).UTC()
	zzz := s.InternExe("/usr/bin/zzz", now) // smaller ExeId, larger path
	aaa := s.InternExe("/usr/bin/aaa", now) // larger ExeId, smaller path

	edge := model.NewMarkovEdge(now)
	edge.TimeToLeave[model.StateOnlyA] = 7.0  // belongs to zzz, the smaller ExeId
	edge.TimeToLeave[model.StateOnlyB] = 42.0 // belongs to aaa
	edge.TransitionProb[model.StateOnlyA][model.StateBoth] = 0.6
	edge.TransitionProb[model.StateOnlyB][model.StateNeither] = 0.3
	edge.BothRunningTime = 15 * time.Second
	s.UpsertEdge(zzz, aaa, edge)

	meta := repository.Meta{ModelTime: 0, LastAccountingTime: now}
	require.NoError(t, repo.Save(context.Background(), s, meta))

	loaded, _, err := repo.Load(context.Background())
	require.NoError(t, err)

	loadedZzz, ok := loaded.ExeIdFor("/usr/bin/zzz")
	require.True(t, ok)
	loadedAaa, ok := loaded.ExeIdFor("/usr/bin/aaa")
	require.True(t, ok)

	loadedEdge, ok := loaded.GetEdge(loadedZzz, loadedAaa)
	require.True(t, ok)
	// Load assigns fresh ExeIds; the "only" state of each exe is relative
	// to whichever of the two now has the smaller id.
	zzzState, aaaState := model.StateOnlyA, model.StateOnlyB
	if loadedZzz > loadedAaa {
		zzzState, aaaState = model.StateOnlyB, model.StateOnlyA
	}
	assert.InDelta(t, 7.0, loadedEdge.TimeToLeave[zzzState], 1e-6)
	assert.InDelta(t, 42.0, loadedEdge.TimeToLeave[aaaState], 1e-6)
	assert.InDelta(t, 0.6, loadedEdge.TransitionProb[zzzState][model.StateBoth], 1e-6)
	assert.InDelta(t, 0.3, loadedEdge.TransitionProb[aaaState][model.StateNeither], 1e-6)
	assert.Equal(t, 15*time.Second, loadedEdge.BothRunningTime)
}

func TestSaveOverwritesPriorSnapshot(t *testing.T) {
	repo, err := Open(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	now := time.Now()
	s1 := store.New()
	s1.InternExe("/usr/bin/a", now)
	require.NoError(t, repo.Save(context.Background(), s1, repository.Meta{}))

	s2 := store.New()
	s2.InternExe("/usr/bin/b", now)
	require.NoError(t, repo.Save(context.Background(), s2, repository.Meta{}))

	loaded, _, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.ExeCount())
	_, ok := loaded.ExeIdFor("/usr/bin/a")
	assert.False(t, ok)
	_, ok = loaded.ExeIdFor("/usr/bin/b")
	assert.True(t, ok)
}
