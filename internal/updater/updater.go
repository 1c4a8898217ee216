// Package updater implements ModelUpdater: it consumes one complete
// observation stream per tick and applies it to Stores, building the
// running set, reconciling maps, aging the active set, and smoothing the
// Markov graph. Grounded on the teacher's aggregate-then-commit analyzer
// shape (internal/learning/analyzer.go, internal/learning/analysis.go):
// everything that can fail is computed into a plan before any Stores
// mutation runs, so a failed scan never leaves partial state behind.
package updater

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/harrison/prefetchd/internal/admission"
	"github.com/harrison/prefetchd/internal/model"
	"github.com/harrison/prefetchd/internal/perr"
	"github.com/harrison/prefetchd/internal/scanner"
	"github.com/harrison/prefetchd/internal/store"
)

// Config carries the subset of [model] settings ModelUpdater needs.
// HalfLife takes precedence over Decay when both are set (HalfLife > 0).
type Config struct {
	ActiveWindow time.Duration
	HalfLife     time.Duration
	Decay        float64
}

// Warnings aggregates the non-fatal problems observed during one tick's
// update, surfaced by Engine via DumpSummary and tracing.
type Warnings struct {
	Errors []error
}

// HasAny reports whether any warning was recorded.
func (w Warnings) HasAny() bool { return len(w.Errors) > 0 }

// ModelUpdater applies observation streams to Stores.
type ModelUpdater struct {
	stores *store.Stores
	policy *admission.Policy
	cfg    Config

	hasPrev         bool
	prevBeginTime   time.Time
	lastTickRunning map[model.ExeKey]bool
	lastRunningIds  []model.ExeId
	prevState       map[model.EdgeKey]model.EdgeState
}

// LastRunningIds returns the ids of every exe admitted as running in the
// most recently committed tick. Used by Predictor to zero out scores for
// exes whose pages are already resident.
func (u *ModelUpdater) LastRunningIds() []model.ExeId {
	return u.lastRunningIds
}

// New returns a ModelUpdater writing into stores, admitting through
// policy, and smoothing edges per cfg.
func New(stores *store.Stores, policy *admission.Policy, cfg Config) *ModelUpdater {
	return &ModelUpdater{
		stores:          stores,
		policy:          policy,
		cfg:             cfg,
		lastTickRunning: make(map[model.ExeKey]bool),
		prevState:       make(map[model.EdgeKey]model.EdgeState),
	}
}

// SetConfig replaces the updater's config, used on ReloadConfig. It does
// not reset accumulated running-set tracking.
func (u *ModelUpdater) SetConfig(cfg Config) { u.cfg = cfg }

// SetPolicy replaces the admission policy used for subsequent ticks'
// EvaluateExe/EvaluateMap calls, used on ReloadConfig. It does not by
// itself re-evaluate anything already committed to Stores — Engine's
// ReloadConfig handler does that separately.
func (u *ModelUpdater) SetPolicy(policy *admission.Policy) { u.policy = policy }

type admittedExe struct {
	path               string
	pid                int
	wasRunningLastTick bool
	partial            bool
}

type plan struct {
	dt           time.Duration
	beginTime    time.Time
	admittedExes []admittedExe
	admittedMaps map[string][]model.MapKey
	warnings     []error
}

// Update consumes one scan's worth of events and applies it to Stores.
// Returns the tick's non-fatal warnings, or an error if the scan could
// not be parsed — in which case Stores is left completely untouched.
func (u *ModelUpdater) Update(events []scanner.ObservationEvent) (Warnings, error) {
	p, err := u.buildPlan(events)
	if err != nil {
		return Warnings{}, err
	}
	u.commit(p)
	return Warnings{Errors: p.warnings}, nil
}

func (u *ModelUpdater) buildPlan(events []scanner.ObservationEvent) (plan, error) {
	var begin *scanner.ObsBegin
	var end *scanner.ObsEnd
	pidByExe := make(map[string]int)
	var exeOrder []string
	mapsByExe := make(map[string][]model.MapKey)

	for _, ev := range events {
		switch ev.Kind {
		case scanner.EventObsBegin:
			begin = ev.Begin
		case scanner.EventExeSeen:
			if _, ok := pidByExe[ev.Exe.Path]; !ok {
				exeOrder = append(exeOrder, ev.Exe.Path)
			}
			pidByExe[ev.Exe.Path] = ev.Exe.Pid
		case scanner.EventMapSeen:
			mapsByExe[ev.Map.ExePath] = append(mapsByExe[ev.Map.ExePath], ev.Map.Map)
		case scanner.EventObsEnd:
			end = ev.End
		}
	}
	if begin == nil || end == nil {
		return plan{}, perr.NewScanError("parse_observation_stream", errors.New("missing ObsBegin or ObsEnd"))
	}

	dt := time.Duration(0)
	if u.hasPrev {
		dt = begin.Time.Sub(u.prevBeginTime)
	}
	if dt < 0 {
		dt = 0
	}

	admittedMaps := make(map[string][]model.MapKey)
	var admitted []admittedExe

	for _, path := range exeOrder {
		pid := pidByExe[path]
		var totalBytes int64
		for _, mk := range mapsByExe[path] {
			totalBytes += mk.Length
		}

		decision := u.policy.EvaluateExe(path, totalBytes, begin.Time)
		if !decision.Admit {
			continue
		}

		var kept []model.MapKey
		for _, mk := range mapsByExe[path] {
			if d := u.policy.EvaluateMap(mk.Path, begin.Time); d.Admit {
				kept = append(kept, mk)
			}
		}
		if len(kept) > 0 {
			admittedMaps[path] = kept
		}

		admitted = append(admitted, admittedExe{
			path:               path,
			pid:                pid,
			wasRunningLastTick: u.lastTickRunning[model.ExeKey(path)],
			partial:            warnedForPid(end.Warnings, pid),
		})
	}

	return plan{
		dt:           dt,
		beginTime:    begin.Time,
		admittedExes: admitted,
		admittedMaps: admittedMaps,
		warnings:     end.Warnings,
	}, nil
}

func warnedForPid(warnings []error, pid int) bool {
	needle := fmt.Sprintf("pid %d:", pid)
	for _, w := range warnings {
		if w != nil && strings.Contains(w.Error(), needle) {
			return true
		}
	}
	return false
}

func (u *ModelUpdater) commit(p plan) {
	runningIds := make(map[model.ExeKey]model.ExeId, len(p.admittedExes))
	nowRunning := make(map[model.ExeKey]bool, len(p.admittedExes))

	for _, ae := range p.admittedExes {
		key := model.ExeKey(ae.path)
		id := u.stores.InternExe(key, p.beginTime)
		exe, _ := u.stores.Exe(id)
		exe.UpdateTime = p.beginTime
		exe.LastSeenTime = p.beginTime
		if ae.wasRunningLastTick {
			exe.TotalRunningTime += p.dt
		}
		if ae.partial {
			exe.Partial = true
		}
		runningIds[key] = id
		nowRunning[key] = true
		u.stores.ActiveSetInsert(id, p.beginTime)
	}

	for path, maps := range p.admittedMaps {
		exeId, ok := runningIds[model.ExeKey(path)]
		if !ok {
			continue
		}
		for _, mk := range maps {
			mapId := u.stores.InternMap(mk, p.beginTime)
			u.stores.Link(exeId, mapId)
		}
	}

	u.stores.AdvanceModelTime(p.dt)

	removed := u.stores.ActiveSetPrune(p.beginTime, u.cfg.ActiveWindow)
	if len(removed) > 0 {
		removedSet := make(map[model.ExeId]bool, len(removed))
		for _, id := range removed {
			removedSet[id] = true
		}
		for k := range u.prevState {
			if removedSet[k.A] || removedSet[k.B] {
				delete(u.prevState, k)
			}
		}
	}

	active := u.stores.ActiveSetMembers()
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if _, ok := u.stores.GetEdge(a, b); !ok {
				u.stores.UpsertEdge(a, b, model.NewMarkovEdge(p.beginTime))
			}
		}
	}

	runningById := make(map[model.ExeId]bool, len(runningIds))
	for _, id := range runningIds {
		runningById[id] = true
	}

	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			ek := model.NewEdgeKey(a, b)
			edge, ok := u.stores.GetEdge(a, b)
			if !ok {
				continue
			}
			curState := classifyState(runningById[ek.A], runningById[ek.B])
			prevState, known := u.prevState[ek]
			if !known {
				prevState = model.StateNeither
			}
			u.applyEdgeUpdate(edge, prevState, curState, p.dt, p.beginTime)
			u.prevState[ek] = curState
		}
	}

	u.lastTickRunning = nowRunning
	u.lastRunningIds = make([]model.ExeId, 0, len(runningIds))
	for _, id := range runningIds {
		u.lastRunningIds = append(u.lastRunningIds, id)
	}
	u.prevBeginTime = p.beginTime
	u.hasPrev = true
}

func classifyState(aRunning, bRunning bool) model.EdgeState {
	switch {
	case aRunning && bRunning:
		return model.StateBoth
	case aRunning:
		return model.StateOnlyA
	case bRunning:
		return model.StateOnlyB
	default:
		return model.StateNeither
	}
}

// computeAlpha derives the exponential smoothing factor from half_life
// (preferred) or decay. NaN/Inf results are treated as zero evidence: no
// update is applied rather than corrupting state with a degenerate alpha.
func computeAlpha(dt time.Duration, halfLife time.Duration, decay float64) float32 {
	if halfLife > 0 {
		ratio := dt.Seconds() / halfLife.Seconds()
		a := 1 - math.Pow(2, -ratio)
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return 0
		}
		if a < 0 {
			a = 0
		}
		if a > 1 {
			a = 1
		}
		return float32(a)
	}
	if math.IsNaN(decay) || math.IsInf(decay, 0) {
		return 0
	}
	if decay < 0 {
		decay = 0
	}
	if decay > 1 {
		decay = 1
	}
	return float32(decay)
}

// applyEdgeUpdate implements spec step 7: smooth time_to_leave[prevState]
// toward the observed dwell, re-estimate only row prevState of
// transition_prob when a transition occurred, and accumulate
// both_running_time when the pair is co-running.
func (u *ModelUpdater) applyEdgeUpdate(edge *model.MarkovEdge, prevState, curState model.EdgeState, dt time.Duration, now time.Time) {
	alpha := computeAlpha(dt, u.cfg.HalfLife, u.cfg.Decay)

	observed := float32(dt.Seconds())
	if math.IsNaN(float64(observed)) || math.IsInf(float64(observed), 0) {
		observed = 0
	}

	x := edge.TimeToLeave[prevState]
	edge.TimeToLeave[prevState] = x + alpha*(observed-x)

	if prevState != curState {
		for sp := 0; sp < model.NumStates; sp++ {
			var target float32
			if model.EdgeState(sp) == curState {
				target = 1
			}
			old := edge.TransitionProb[prevState][sp]
			edge.TransitionProb[prevState][sp] = old + alpha*(target-old)
		}
	}

	if curState == model.StateBoth {
		edge.BothRunningTime += dt
	}

	edge.LastUpdateTime = now
}
