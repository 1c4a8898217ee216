package updater

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/prefetchd/internal/admission"
	"github.com/harrison/prefetchd/internal/model"
	"github.com/harrison/prefetchd/internal/scanner"
	"github.com/harrison/prefetchd/internal/store"
)

func scanEvents(scanId uint64, begin time.Time, end time.Time, exes []scanner.ExeSeen, maps []scanner.MapSeen, warnings []error) []scanner.ObservationEvent {
	events := []scanner.ObservationEvent{
		{Kind: scanner.EventObsBegin, Begin: &scanner.ObsBegin{Time: begin, ScanId: scanId}},
	}
	for _, e := range exes {
		e := e
		events = append(events, scanner.ObservationEvent{Kind: scanner.EventExeSeen, Exe: &e})
	}
	for _, m := range maps {
		m := m
		events = append(events, scanner.ObservationEvent{Kind: scanner.EventMapSeen, Map: &m})
	}
	events = append(events, scanner.ObservationEvent{Kind: scanner.EventObsEnd, End: &scanner.ObsEnd{Time: end, ScanId: scanId, Warnings: warnings}})
	return events
}

func newTestUpdater(s *store.Stores) *ModelUpdater {
	policy := admission.New(admission.Config{CacheTTL: time.Minute, CacheCapacity: 100})
	return New(s, policy, Config{ActiveWindow: 5 * time.Second, Decay: 0.3})
}

func TestSingleExeSingleMapOneTick(t *testing.T) {
	s := store.New()
	u := newTestUpdater(s)
	now := time.Now()

	events := scanEvents(1, now, now,
		[]scanner.ExeSeen{{Path: "/a", Pid: 100}},
		[]scanner.MapSeen{{ExePath: "/a", Map: model.MapKey{Path: "/a", Offset: 0, Length: 4096}}},
		nil)

	_, err := u.Update(events)
	require.NoError(t, err)

	assert.Equal(t, 1, s.ExeCount())
	assert.Equal(t, 1, s.MapCount())
	assert.Equal(t, 0, s.EdgeCount())
	assert.Len(t, s.ActiveSetMembers(), 1)
}

func TestTwoCoRunningExesBuildAnEdge(t *testing.T) {
	s := store.New()
	u := newTestUpdater(s)
	t0 := time.Now()
	t1 := t0.Add(time.Second)

	mk := func(p string) []scanner.ExeSeen { return []scanner.ExeSeen{{Path: "/a", Pid: 1}, {Path: "/b", Pid: 2}} }

	_, err := u.Update(scanEvents(1, t0, t0, mk("first"), nil, nil))
	require.NoError(t, err)
	_, err = u.Update(scanEvents(2, t1, t1, mk("second"), nil, nil))
	require.NoError(t, err)

	assert.Equal(t, 1, s.EdgeCount())

	aId, _ := s.ExeIdFor("/a")
	bId, _ := s.ExeIdFor("/b")
	edge, ok := s.GetEdge(aId, bId)
	require.True(t, ok)

	assert.InDelta(t, 1.0, float64(edge.BothRunningTime.Seconds()), 0.01)

	var sum float32
	for sp := 0; sp < model.NumStates; sp++ {
		sum += edge.TransitionProb[model.StateBoth][sp]
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
}

func TestActiveSetAgingPrunesEdge(t *testing.T) {
	s := store.New()
	u := newTestUpdater(s)
	t0 := time.Now()
	t1 := t0.Add(time.Second)
	t2 := t1.Add(6 * time.Second)

	both := []scanner.ExeSeen{{Path: "/a", Pid: 1}, {Path: "/b", Pid: 2}}
	onlyA := []scanner.ExeSeen{{Path: "/a", Pid: 1}}

	_, err := u.Update(scanEvents(1, t0, t0, both, nil, nil))
	require.NoError(t, err)
	_, err = u.Update(scanEvents(2, t1, t1, both, nil, nil))
	require.NoError(t, err)
	require.Equal(t, 1, s.EdgeCount())

	_, err = u.Update(scanEvents(3, t2, t2, onlyA, nil, nil))
	require.NoError(t, err)

	assert.Equal(t, 0, s.EdgeCount(), "edge to an exe unseen past active_window must be pruned")
}

func TestEveryTransitionProbRowSumsToOneAcrossASequence(t *testing.T) {
	s := store.New()
	u := newTestUpdater(s)
	base := time.Now()

	sequences := [][]scanner.ExeSeen{
		{{Path: "/a", Pid: 1}},
		{{Path: "/a", Pid: 1}, {Path: "/b", Pid: 2}},
		{{Path: "/b", Pid: 2}},
		{{Path: "/a", Pid: 1}, {Path: "/b", Pid: 2}},
		{{Path: "/a", Pid: 1}},
	}
	for i, exes := range sequences {
		ts := base.Add(time.Duration(i) * time.Second)
		_, err := u.Update(scanEvents(uint64(i+1), ts, ts, exes, nil, nil))
		require.NoError(t, err)
	}

	for _, ek := range s.EdgeKeys() {
		edge, ok := s.GetEdge(ek.A, ek.B)
		require.True(t, ok)
		for st := 0; st < model.NumStates; st++ {
			var sum float32
			for sp := 0; sp < model.NumStates; sp++ {
				sum += edge.TransitionProb[st][sp]
			}
			assert.InDelta(t, 1.0, sum, 1e-3)
		}
	}
}

func TestPurgeExeLeavesNoDanglingEdgeReferences(t *testing.T) {
	s := store.New()
	u := newTestUpdater(s)
	t0 := time.Now()
	both := []scanner.ExeSeen{{Path: "/a", Pid: 1}, {Path: "/b", Pid: 2}}

	_, err := u.Update(scanEvents(1, t0, t0, both, nil, nil))
	require.NoError(t, err)
	_, err = u.Update(scanEvents(2, t0.Add(time.Second), t0.Add(time.Second), both, nil, nil))
	require.NoError(t, err)
	require.Equal(t, 1, s.EdgeCount())

	aId, _ := s.ExeIdFor("/a")
	s.PurgeExe(aId)

	assert.Equal(t, 0, s.EdgeCount())
	bId, _ := s.ExeIdFor("/b")
	s.IterEdgesOf(bId, func(peer model.ExeId, _ *model.MarkovEdge) {
		t.Fatalf("dangling edge to peer %d after purge", peer)
	})
}

func TestDtIsZeroOnFirstScan(t *testing.T) {
	s := store.New()
	u := newTestUpdater(s)
	now := time.Now()
	_, err := u.Update(scanEvents(1, now, now, []scanner.ExeSeen{{Path: "/a", Pid: 1}}, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.ModelTime().Seconds())
}
