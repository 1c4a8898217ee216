// Package predictor implements Predictor: it turns Stores' learned state
// into a per-exe "will this start next" score, then aggregates those into
// per-map scores for the planner. Grounded on
// internal/behavioral/prediction.go's FailurePredictor shape — compute
// independent component scores, combine them, default sensibly when a
// component has insufficient data — generalized from "will this task
// fail" to "will this exe start".
package predictor

import (
	"time"

	"github.com/harrison/prefetchd/internal/model"
	"github.com/harrison/prefetchd/internal/perr"
	"github.com/harrison/prefetchd/internal/store"
)

// epsBase is the floor applied to the base usage-frequency probability,
// so an exe with zero observed running time is never scored at exactly
// zero (distinct from the "currently running" zero-score rule).
const epsBase = float32(1e-6)

// Config carries the subset of [model] settings Predictor needs.
type Config struct {
	UseCorrelation bool
	// Cycle is the tick interval, used as the look-ahead window for
	// estimating the probability a co-running exe's pair leaves its
	// current Markov state before the next tick.
	Cycle time.Duration
}

// Predictor scores Stores' exes and maps against the current running set.
type Predictor struct {
	stores *store.Stores
	cfg    Config
}

// New returns a Predictor reading from stores per cfg.
func New(stores *store.Stores, cfg Config) *Predictor {
	return &Predictor{stores: stores, cfg: cfg}
}

// SetConfig replaces the predictor's config, used on ReloadConfig.
func (p *Predictor) SetConfig(cfg Config) { p.cfg = cfg }

// ScoreExes computes score(E) for every tracked exe given the ids
// currently running this tick. Returns the scores plus any numeric
// degeneracies encountered (always non-fatal; the offending contribution
// is treated as zero evidence).
func (p *Predictor) ScoreExes(runningIds []model.ExeId, now time.Time) (map[model.ExeId]float32, []error) {
	running := make(map[model.ExeId]bool, len(runningIds))
	for _, id := range runningIds {
		running[id] = true
	}

	modelTimeSec := float32(p.stores.ModelTime().Seconds())
	scores := make(map[model.ExeId]float32)
	var warnings []error

	p.stores.IterExes(func(e *model.Exe) {
		if running[e.Id] {
			scores[e.Id] = 0
			return
		}

		pBase := epsBase
		if modelTimeSec > 0 {
			v := float32(e.TotalRunningTime.Seconds()) / modelTimeSec
			if isNaN32(v) || isInf32(v) {
				warnings = append(warnings, perr.NewPredictionNumeric("p_base", "non-finite total_running_time/model_time ratio"))
			} else if v > pBase {
				pBase = v
			}
		}

		batch := newEdgeBatch(4, p.cfg.UseCorrelation)
		p.stores.IterEdgesOf(e.Id, func(peer model.ExeId, edge *model.MarkovEdge) {
			if !running[peer] {
				return
			}
			ek := model.NewEdgeKey(peer, e.Id)
			var curState model.EdgeState
			if ek.A == peer {
				curState = model.StateOnlyA
			} else {
				curState = model.StateOnlyB
			}

			var bothSeconds, denomSeconds float64
			if p.cfg.UseCorrelation {
				bothSeconds = edge.BothRunningTime.Seconds()
				peerExe, _ := p.stores.Exe(peer)
				thisExe := e
				denomSeconds = minDuration(peerExe.TotalRunningTime, thisExe.TotalRunningTime).Seconds()
			}

			batch.add(edge.TransitionProb[curState][model.StateBoth], edge.TimeToLeave[curState], bothSeconds, denomSeconds)
		})

		markovSum := batch.sum(float32(p.cfg.Cycle.Seconds()))

		score := pBase + markovSum
		if isNaN32(score) || isInf32(score) {
			warnings = append(warnings, perr.NewPredictionNumeric("combine", "non-finite score, falling back to p_base"))
			score = pBase
		}
		scores[e.Id] = clamp32(score, 0, 1)
	})

	return scores, warnings
}

// ScoreMaps derives score(M) = Σ score(E) over every exe that maps M.
func (p *Predictor) ScoreMaps(exeScores map[model.ExeId]float32) map[model.MapId]float32 {
	scores := make(map[model.MapId]float32)
	for exeId, score := range exeScores {
		if score <= 0 {
			continue
		}
		p.stores.IterMapsOf(exeId, func(m *model.MapSegment) {
			scores[m.Id] += score
		})
	}
	return scores
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
