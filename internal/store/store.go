// Package store owns the prefetch daemon's in-memory model state: interned
// exes and maps, the many-to-many exe/map index, and the active-set-bounded
// Markov graph. Per the cyclic-ownership redesign noted in the spec this
// package replaces, relations are resolved by id lookup through plain maps,
// never through pointers embedded in the entities themselves — an Exe does
// not know which maps or edges reference it.
//
// Stores is not internally synchronized: exclusivity comes from the
// single-task discipline of the engine, which is the sole mutator.
package store

import (
	"time"

	"github.com/harrison/prefetchd/internal/model"
)

// Stores holds all persistent (but not necessarily yet-snapshotted) model
// state for one daemon instance.
type Stores struct {
	exes    map[model.ExeId]*model.Exe
	exeByKey map[model.ExeKey]model.ExeId
	nextExeId model.ExeId

	maps     map[model.MapId]*model.MapSegment
	mapByKey map[model.MapKey]model.MapId
	nextMapId model.MapId

	// exeMaps[exe] is the set of maps linked to that exe; mapExes[map] is
	// the reverse index, kept in lockstep by link/unlink.
	exeMaps map[model.ExeId]map[model.MapId]struct{}
	mapExes map[model.MapId]map[model.ExeId]struct{}

	edges map[model.EdgeKey]*model.MarkovEdge

	// activeSet maps an ExeId to the last time it was observed running.
	activeSet map[model.ExeId]time.Time

	modelTime model.ModelTime
}

// New returns an empty Stores.
func New() *Stores {
	return &Stores{
		exes:      make(map[model.ExeId]*model.Exe),
		exeByKey:  make(map[model.ExeKey]model.ExeId),
		maps:      make(map[model.MapId]*model.MapSegment),
		mapByKey:  make(map[model.MapKey]model.MapId),
		exeMaps:   make(map[model.ExeId]map[model.MapId]struct{}),
		mapExes:   make(map[model.MapId]map[model.ExeId]struct{}),
		edges:     make(map[model.EdgeKey]*model.MarkovEdge),
		activeSet: make(map[model.ExeId]time.Time),
	}
}

// ModelTime returns the current value of the monotonic model-time
// accumulator.
func (s *Stores) ModelTime() model.ModelTime { return s.modelTime }

// AdvanceModelTime advances the model-time accumulator by dt. Negative dt
// is ignored (see model.ModelTime.Add).
func (s *Stores) AdvanceModelTime(dt time.Duration) {
	s.modelTime = s.modelTime.Add(dt)
}

// SetModelTime overwrites the model-time accumulator outright, used by
// StateRepository.Load to restore a persisted value rather than
// reconstructing it by replaying deltas.
func (s *Stores) SetModelTime(t model.ModelTime) {
	s.modelTime = t
}

// InternExe returns the ExeId for key, creating and admitting a new Exe if
// one does not already exist. Idempotent.
func (s *Stores) InternExe(key model.ExeKey, now time.Time) model.ExeId {
	if id, ok := s.exeByKey[key]; ok {
		return id
	}
	s.nextExeId++
	id := s.nextExeId
	s.exes[id] = &model.Exe{
		Id:           id,
		Key:          key,
		UpdateTime:   now,
		LastSeenTime: now,
	}
	s.exeByKey[key] = id
	s.exeMaps[id] = make(map[model.MapId]struct{})
	return id
}

// Exe returns the Exe for id, if present.
func (s *Stores) Exe(id model.ExeId) (*model.Exe, bool) {
	e, ok := s.exes[id]
	return e, ok
}

// ExeIdFor returns the ExeId interned for key, if any.
func (s *Stores) ExeIdFor(key model.ExeKey) (model.ExeId, bool) {
	id, ok := s.exeByKey[key]
	return id, ok
}

// InternMap returns the MapId for key, creating a new MapSegment if one
// does not already exist. Idempotent.
func (s *Stores) InternMap(key model.MapKey, now time.Time) model.MapId {
	if id, ok := s.mapByKey[key]; ok {
		return id
	}
	s.nextMapId++
	id := s.nextMapId
	s.maps[id] = &model.MapSegment{Id: id, Key: key, UpdateTime: now}
	s.mapByKey[key] = id
	s.mapExes[id] = make(map[model.ExeId]struct{})
	return id
}

// Map returns the MapSegment for id, if present.
func (s *Stores) Map(id model.MapId) (*model.MapSegment, bool) {
	m, ok := s.maps[id]
	return m, ok
}

// MapIdFor returns the MapId interned for key, if any.
func (s *Stores) MapIdFor(key model.MapKey) (model.MapId, bool) {
	id, ok := s.mapByKey[key]
	return id, ok
}

// Link associates exe with m, idempotently. Both ids must already exist.
func (s *Stores) Link(exe model.ExeId, m model.MapId) {
	if _, ok := s.exeMaps[exe]; !ok {
		return
	}
	if _, ok := s.mapExes[m]; !ok {
		return
	}
	s.exeMaps[exe][m] = struct{}{}
	s.mapExes[m][exe] = struct{}{}
}

// Unlink removes the association between exe and m, if present.
func (s *Stores) Unlink(exe model.ExeId, m model.MapId) {
	if links, ok := s.exeMaps[exe]; ok {
		delete(links, m)
	}
	if links, ok := s.mapExes[m]; ok {
		delete(links, exe)
	}
}

// IterExes calls fn for every tracked Exe. Iteration order is unspecified.
func (s *Stores) IterExes(fn func(*model.Exe)) {
	for _, e := range s.exes {
		fn(e)
	}
}

// IterMapsOf calls fn for every MapSegment linked to exe.
func (s *Stores) IterMapsOf(exe model.ExeId, fn func(*model.MapSegment)) {
	for mid := range s.exeMaps[exe] {
		if m, ok := s.maps[mid]; ok {
			fn(m)
		}
	}
}

// MapsOf returns the ids of every MapSegment linked to exe.
func (s *Stores) MapsOf(exe model.ExeId) []model.MapId {
	links := s.exeMaps[exe]
	out := make([]model.MapId, 0, len(links))
	for mid := range links {
		out = append(out, mid)
	}
	return out
}

// ExesOf returns the ids of every Exe linked to m.
func (s *Stores) ExesOf(m model.MapId) []model.ExeId {
	links := s.mapExes[m]
	out := make([]model.ExeId, 0, len(links))
	for eid := range links {
		out = append(out, eid)
	}
	return out
}

// GetEdge returns the MarkovEdge for the unordered pair (a, b), if any.
func (s *Stores) GetEdge(a, b model.ExeId) (*model.MarkovEdge, bool) {
	e, ok := s.edges[model.NewEdgeKey(a, b)]
	return e, ok
}

// UpsertEdge stores edge under the canonical key for (a, b). a must not
// equal b; callers enforce the no-self-edge invariant before calling.
func (s *Stores) UpsertEdge(a, b model.ExeId, edge *model.MarkovEdge) {
	if a == b {
		return
	}
	s.edges[model.NewEdgeKey(a, b)] = edge
}

// RemoveEdge deletes the edge for the unordered pair (a, b), if any.
func (s *Stores) RemoveEdge(a, b model.ExeId) {
	delete(s.edges, model.NewEdgeKey(a, b))
}

// IterEdgesOf calls fn with the peer id and edge for every edge touching
// exe.
func (s *Stores) IterEdgesOf(exe model.ExeId, fn func(peer model.ExeId, edge *model.MarkovEdge)) {
	for key, edge := range s.edges {
		switch exe {
		case key.A:
			fn(key.B, edge)
		case key.B:
			fn(key.A, edge)
		}
	}
}

// EdgeKeys returns every edge key currently in the graph. Exposed for
// invariant testing and snapshotting.
func (s *Stores) EdgeKeys() []model.EdgeKey {
	out := make([]model.EdgeKey, 0, len(s.edges))
	for k := range s.edges {
		out = append(out, k)
	}
	return out
}

// ActiveSetInsert records exe as observed running at t, adding it to the
// active set if it was not already a member.
func (s *Stores) ActiveSetInsert(exe model.ExeId, t time.Time) {
	s.activeSet[exe] = t
}

// ActiveSetMembers returns the ids of every exe currently in the active
// set.
func (s *Stores) ActiveSetMembers() []model.ExeId {
	out := make([]model.ExeId, 0, len(s.activeSet))
	for id := range s.activeSet {
		out = append(out, id)
	}
	return out
}

// IsActiveMember reports whether exe is currently in the active set.
func (s *Stores) IsActiveMember(exe model.ExeId) bool {
	_, ok := s.activeSet[exe]
	return ok
}

// ActiveSetPrune removes every exe whose last-seen time in the active set
// is older than window (relative to now), purging their Markov edges, and
// returns the ids removed.
func (s *Stores) ActiveSetPrune(now time.Time, window time.Duration) []model.ExeId {
	var removed []model.ExeId
	for id, lastSeen := range s.activeSet {
		if now.Sub(lastSeen) > window {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(s.activeSet, id)
		for key := range s.edges {
			if key.A == id || key.B == id {
				delete(s.edges, key)
			}
		}
	}
	return removed
}

// PurgeExe removes exe and cascades the removal through the exe/map index
// and the Markov graph, dropping any map left with no remaining owner.
func (s *Stores) PurgeExe(exe model.ExeId) {
	if _, ok := s.exes[exe]; !ok {
		return
	}

	for mid := range s.exeMaps[exe] {
		delete(s.mapExes[mid], exe)
		if len(s.mapExes[mid]) == 0 {
			s.removeMap(mid)
		}
	}
	delete(s.exeMaps, exe)

	for key := range s.edges {
		if key.A == exe || key.B == exe {
			delete(s.edges, key)
		}
	}

	delete(s.activeSet, exe)

	if e, ok := s.exes[exe]; ok {
		delete(s.exeByKey, e.Key)
	}
	delete(s.exes, exe)
}

// PurgeMap removes m from Stores and unlinks it from every exe that
// referenced it. Exes left with no remaining maps are not purged.
func (s *Stores) PurgeMap(m model.MapId) {
	if _, ok := s.maps[m]; !ok {
		return
	}
	owners := s.mapExes[m]
	s.removeMap(m)
	for exe := range owners {
		delete(s.exeMaps[exe], m)
	}
}

func (s *Stores) removeMap(m model.MapId) {
	if seg, ok := s.maps[m]; ok {
		delete(s.mapByKey, seg.Key)
	}
	delete(s.maps, m)
	delete(s.mapExes, m)
}

// ExeCount returns the number of tracked exes.
func (s *Stores) ExeCount() int { return len(s.exes) }

// MapCount returns the number of tracked map segments.
func (s *Stores) MapCount() int { return len(s.maps) }

// EdgeCount returns the number of tracked Markov edges.
func (s *Stores) EdgeCount() int { return len(s.edges) }
