// Package engine implements Engine: the tick state machine and run loop
// that ties every other collaborator together. Grounded on
// internal/executor/orchestrator.go's Orchestrator — a struct of
// injected collaborators, a context.WithCancel-based run loop, and a
// phase-by-phase execution shape — generalized from "execute a task
// plan" to "run one observe/predict/prefetch cycle forever".
package engine

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/harrison/prefetchd/internal/admission"
	"github.com/harrison/prefetchd/internal/clock"
	"github.com/harrison/prefetchd/internal/config"
	"github.com/harrison/prefetchd/internal/logger"
	"github.com/harrison/prefetchd/internal/model"
	"github.com/harrison/prefetchd/internal/perr"
	"github.com/harrison/prefetchd/internal/planner"
	"github.com/harrison/prefetchd/internal/predictor"
	"github.com/harrison/prefetchd/internal/prefetch"
	"github.com/harrison/prefetchd/internal/repository"
	"github.com/harrison/prefetchd/internal/scanner"
	"github.com/harrison/prefetchd/internal/store"
	"github.com/harrison/prefetchd/internal/summary"
	"github.com/harrison/prefetchd/internal/updater"
	"golang.org/x/sys/unix"
)

// ControlEvent is one of the four signals run_until reacts to, delivered
// from signal handlers one layer up in cmd/prefetchd.
type ControlEvent int

const (
	ReloadConfig ControlEvent = iota
	DumpSummary
	SaveNow
	Shutdown
)

func (e ControlEvent) String() string {
	switch e {
	case ReloadConfig:
		return "reload_config"
	case DumpSummary:
		return "dump_summary"
	case SaveNow:
		return "save_now"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// TickState enumerates the tick() state machine's stages.
type TickState int

const (
	StateIdle TickState = iota
	StateScanning
	StateUpdating
	StatePredicting
	StatePlanning
	StatePrefetching
	StateAccounting
)

// Warnings aggregates one tick's non-fatal problems.
type Warnings struct {
	Errors []error
}

// HasAny reports whether any warning was recorded.
func (w Warnings) HasAny() bool { return len(w.Errors) > 0 }

var errShutdownRequested = errors.New("shutdown requested")

// Deps carries every collaborator Engine needs, built by cmd/prefetchd's
// wiring. NewPrefetcher rebuilds the Prefetcher on ReloadConfig, since
// unlike Updater/Predictor/Planner it has no in-place config setter.
type Deps struct {
	Scanner       scanner.Scanner
	Stores        *store.Stores
	Policy        *admission.Policy
	Updater       *updater.ModelUpdater
	Predictor     *predictor.Predictor
	PlannerConfig planner.Config
	Prefetcher    prefetch.Prefetcher
	NewPrefetcher func(prefetch.Config) prefetch.Prefetcher
	Repository    repository.StateRepository
	Logger        logger.Logger
	Clock         clock.Clock
	Config        *config.Config
	// ConfigPaths is re-read by the ReloadConfig control event; later
	// paths override earlier ones, matching config.Load.
	ConfigPaths []string
}

// Engine orchestrates one tick and the run_until loop. Stores is mutated
// only from the Engine's goroutine: by the ModelUpdater during UPDATING
// and by the Engine's own purge handling in ACCOUNTING.
type Engine struct {
	scanner       scanner.Scanner
	stores        *store.Stores
	policy        *admission.Policy
	updater       *updater.ModelUpdater
	predictor     *predictor.Predictor
	plannerCfg    planner.Config
	prefetcher    prefetch.Prefetcher
	newPrefetcher func(prefetch.Config) prefetch.Prefetcher
	repo          repository.StateRepository
	logger        logger.Logger
	clock         clock.Clock
	cfg           *config.Config
	configPaths   []string

	state              TickState
	lastAccountingTime time.Time
	lastWarnings       Warnings
}

// New returns an Engine ready to tick, wired from d.
func New(d Deps) *Engine {
	c := d.Clock
	if c == nil {
		c = clock.NewReal()
	}
	return &Engine{
		scanner:       d.Scanner,
		stores:        d.Stores,
		policy:        d.Policy,
		updater:       d.Updater,
		predictor:     d.Predictor,
		plannerCfg:    d.PlannerConfig,
		prefetcher:    d.Prefetcher,
		newPrefetcher: d.NewPrefetcher,
		repo:          d.Repository,
		logger:        d.Logger,
		clock:         c,
		cfg:           d.Config,
		configPaths:   d.ConfigPaths,
		state:         StateIdle,
	}
}

// LastWarnings returns the Warnings record from the most recently
// completed tick.
func (e *Engine) LastWarnings() Warnings { return e.lastWarnings }

// Snapshot builds the current DumpSummary payload.
func (e *Engine) Snapshot() summary.Snapshot {
	return summary.Snapshot{
		ModelTime:   time.Duration(e.stores.ModelTime()),
		ExeCount:    e.stores.ExeCount(),
		MapCount:    e.stores.MapCount(),
		EdgeCount:   e.stores.EdgeCount(),
		ActiveCount: len(e.stores.ActiveSetMembers()),
		CycleConfig: e.cfg.Cycle(),
		MinSize:     e.cfg.Model.MinSizeBytes,
		SortOrder:   e.cfg.System.SortStrategy,
		Warnings:    e.lastWarnings.Errors,
	}
}

// tick performs one full IDLE→...→ACCOUNTING→IDLE cycle and returns
// without sleeping. An error aborts the rest of the cycle. UPDATING
// applies a scan to Stores all at once or not at all, so an error up to
// and including UPDATING leaves Stores as it was at the start of the tick;
// an error in a later stage keeps what UPDATING committed. Non-fatal
// errors are collected into the returned Warnings instead of aborting.
func (e *Engine) tick(ctx context.Context) (Warnings, error) {
	var warnings Warnings
	var events []scanner.ObservationEvent
	var mem model.MemStat
	var mapScores map[model.MapId]float32
	var plan planner.Plan
	var outcomes []prefetch.Outcome

	e.state = StateScanning
	for e.state != StateIdle {
		if err := ctx.Err(); err != nil {
			e.state = StateIdle
			return warnings, err
		}

		switch e.state {
		case StateScanning:
			if !e.cfg.System.DoScan {
				e.state = e.afterScanSkipped()
				continue
			}
			evs, err := e.scanner.Scan(ctx)
			if err != nil {
				e.state = StateIdle
				return warnings, perr.NewScanError("scan", err)
			}
			events = evs
			for _, ev := range evs {
				if ev.Kind == scanner.EventMemStat {
					mem = ev.Mem.Mem
				}
			}
			e.state = StateUpdating

		case StateUpdating:
			uw, err := e.updater.Update(events)
			if err != nil {
				e.state = StateIdle
				return warnings, err
			}
			warnings.Errors = append(warnings.Errors, uw.Errors...)
			if e.cfg.System.DoPredict {
				e.state = StatePredicting
			} else {
				e.state = StateIdle
			}

		case StatePredicting:
			running := e.updater.LastRunningIds()
			exeScores, pw := e.predictor.ScoreExes(running, e.clock.Now())
			warnings.Errors = append(warnings.Errors, pw...)
			mapScores = e.predictor.ScoreMaps(exeScores)
			e.state = StatePlanning

		case StatePlanning:
			scored := e.scoredMaps(mapScores)
			p, err := planner.BuildPlan(scored, mem, e.plannerCfg)
			if err != nil {
				e.state = StateIdle
				return warnings, err
			}
			plan = p
			e.state = StatePrefetching

		case StatePrefetching:
			outs, err := e.prefetcher.Execute(ctx, plan)
			if err != nil {
				e.state = StateIdle
				return warnings, err
			}
			outcomes = outs
			e.state = StateAccounting

		case StateAccounting:
			warnings.Errors = append(warnings.Errors, e.account(outcomes)...)
			e.lastAccountingTime = e.clock.Now()
			e.state = StateIdle
		}
	}

	e.lastWarnings = warnings
	return warnings, nil
}

// afterScanSkipped returns the stage to resume at when doscan is false:
// straight to PREDICTING against whatever Stores already holds, or IDLE
// if prediction is disabled too.
func (e *Engine) afterScanSkipped() TickState {
	if e.cfg.System.DoPredict {
		return StatePredicting
	}
	return StateIdle
}

// scoredMaps joins per-map scores with the Stores metadata the planner
// needs, populating Block/Inode only when the active sort strategy
// actually consumes them — these cost a stat(2) call per candidate.
func (e *Engine) scoredMaps(mapScores map[model.MapId]float32) []planner.ScoredMap {
	wantBlockInode := e.plannerCfg.SortStrategy == planner.SortBlock || e.plannerCfg.SortStrategy == planner.SortInode

	out := make([]planner.ScoredMap, 0, len(mapScores))
	for mid, score := range mapScores {
		m, ok := e.stores.Map(mid)
		if !ok {
			continue
		}
		sm := planner.ScoredMap{
			Id:     mid,
			Path:   m.Key.Path,
			Offset: m.Key.Offset,
			Length: m.Key.Length,
			Score:  score,
		}
		if wantBlockInode {
			if block, inode, ok := statBlockInode(m.Key.Path); ok {
				sm.Block = &block
				sm.Inode = &inode
			}
		}
		out = append(out, sm)
	}
	return out
}

// statBlockInode returns the allocated block count (st_blocks, in 512-byte
// units) and inode number of path's backing file, or ok=false if it could
// not be stat'd (e.g. the file disappeared between scan and planning). The
// block value is not the device block where the file starts, so the block
// sort strategy orders maps by allocated size, not by on-disk position.
func statBlockInode(path string) (block uint64, inode uint64, ok bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, false
	}
	return uint64(st.Blocks), st.Ino, true
}

// account implements the ACCOUNTING stage: Failed{FileMissing} purges the
// owning MapSegment, cascading to any owner left with zero remaining
// maps. Owners are captured before PurgeMap runs, since PurgeMap itself
// only unlinks them rather than cascading.
func (e *Engine) account(outcomes []prefetch.Outcome) []error {
	var warnings []error
	for _, o := range outcomes {
		if o.Kind != prefetch.Failed {
			continue
		}
		warnings = append(warnings, o.Err)

		var item *perr.PrefetchItemError
		if !errors.As(o.Err, &item) || item.Kind != perr.PrefetchMissing {
			continue
		}

		owners := e.stores.ExesOf(o.MapId)
		e.stores.PurgeMap(o.MapId)
		for _, owner := range owners {
			if len(e.stores.MapsOf(owner)) == 0 {
				e.stores.PurgeExe(owner)
			}
		}
	}
	return warnings
}

func (e *Engine) save(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	meta := repository.Meta{
		ModelTime:          time.Duration(e.stores.ModelTime()),
		LastAccountingTime: e.lastAccountingTime,
	}
	if err := e.repo.Save(ctx, e.stores, meta); err != nil {
		return perr.NewRepositoryError("save", err)
	}
	return nil
}

// reloadConfig re-reads configPaths, rebuilds AdmissionPolicy and the
// per-collaborator configs, flushes the admission cache, and re-applies
// admission to every exe/map already in Stores.
func (e *Engine) reloadConfig() error {
	newCfg, err := config.Load(e.configPaths...)
	if err != nil {
		return perr.NewConfigError("reload", err)
	}
	if err := newCfg.Validate(); err != nil {
		return perr.NewConfigError("reload", err)
	}

	policy := admission.New(AdmissionConfig(newCfg))

	e.policy = policy
	e.updater.SetPolicy(policy)
	e.updater.SetConfig(UpdaterConfig(newCfg))
	e.predictor.SetConfig(PredictorConfig(newCfg))
	e.plannerCfg = PlannerConfig(newCfg)
	if e.newPrefetcher != nil {
		e.prefetcher = e.newPrefetcher(PrefetchConfig(newCfg))
	}
	e.cfg = newCfg

	e.reapplyAdmission()
	return nil
}

// reapplyAdmission re-evaluates every exe and map currently in Stores
// against the (just-rebuilt) policy, purging anything now denied. An exe
// admitted by the new policy is otherwise untouched, including one
// re-admitted after a previous denial under the old config.
func (e *Engine) reapplyAdmission() {
	e.policy.FlushCache()
	now := e.clock.Now()

	var deniedExes []model.ExeId
	e.stores.IterExes(func(ex *model.Exe) {
		var total int64
		for _, mid := range e.stores.MapsOf(ex.Id) {
			if m, ok := e.stores.Map(mid); ok {
				total += m.Key.Length
			}
		}
		if !e.policy.EvaluateExe(string(ex.Key), total, now).Admit {
			deniedExes = append(deniedExes, ex.Id)
		}
	})
	for _, id := range deniedExes {
		e.stores.PurgeExe(id)
	}

	var deniedMaps []model.MapId
	e.stores.IterExes(func(ex *model.Exe) {
		for _, mid := range e.stores.MapsOf(ex.Id) {
			m, ok := e.stores.Map(mid)
			if !ok {
				continue
			}
			if !e.policy.EvaluateMap(m.Key.Path, now).Admit {
				deniedMaps = append(deniedMaps, mid)
			}
		}
	})
	for _, id := range deniedMaps {
		e.stores.PurgeMap(id)
	}
}

func (e *Engine) applyControlEvent(ctx context.Context, ev ControlEvent) error {
	switch ev {
	case ReloadConfig:
		return e.reloadConfig()
	case DumpSummary:
		e.logger.Infof("%s", summary.RenderText(e.Snapshot()))
		return nil
	case SaveNow:
		return e.save(ctx)
	case Shutdown:
		return errShutdownRequested
	default:
		return nil
	}
}

// RunUntil implements run_until: await whichever of {cycle timer,
// control event, ctx cancellation} fires first, applying a control event
// before/instead of a tick, else ticking and autosaving on cadence. On
// cancellation or Shutdown, performs a final save if save_on_shutdown is
// set, then returns nil. A fatal tick or control-event error returns
// immediately without a final save attempt beyond the one already owed.
func (e *Engine) RunUntil(ctx context.Context, events <-chan ControlEvent) error {
	lastSave := e.clock.Now()

	for {
		cycle := e.cfg.Cycle()
		timer := e.clock.After(cycle)

		select {
		case <-ctx.Done():
			return e.finalSave(context.Background())

		case ev := <-events:
			if err := e.applyControlEvent(ctx, ev); err != nil {
				if errors.Is(err, errShutdownRequested) {
					return e.finalSave(context.Background())
				}
				if perr.IsFatal(err) {
					return err
				}
				e.logger.Warnf("control event %s failed: %v", ev, err)
			}

		case <-timer:
			warnings, err := e.tick(ctx)
			if err != nil {
				if perr.IsFatal(err) {
					return err
				}
				e.logger.Warnf("tick aborted: %v", err)
				continue
			}
			for _, w := range warnings.Errors {
				e.logger.Warnf("tick warning: %v", w)
			}

			if interval, ok := e.cfg.AutosaveInterval(); ok && e.clock.Now().Sub(lastSave) >= interval {
				if err := e.save(ctx); err != nil {
					e.logger.Warnf("autosave failed: %v", err)
				}
				lastSave = e.clock.Now()
			}
		}
	}
}

func (e *Engine) finalSave(ctx context.Context) error {
	if !e.cfg.Persistence.SaveOnShutdown {
		return nil
	}
	if err := e.save(ctx); err != nil {
		e.logger.Warnf("final save failed: %v", err)
	}
	return nil
}

// UpdaterConfig derives updater.Config from cfg, used both for Engine's
// initial wiring and for ReloadConfig.
func UpdaterConfig(cfg *config.Config) updater.Config {
	halfLife, _ := cfg.HalfLife()
	var decay float64
	if cfg.Model.Decay != nil {
		decay = *cfg.Model.Decay
	}
	return updater.Config{
		ActiveWindow: cfg.ActiveWindow(),
		HalfLife:     halfLife,
		Decay:        decay,
	}
}

// PredictorConfig derives predictor.Config from cfg.
func PredictorConfig(cfg *config.Config) predictor.Config {
	return predictor.Config{
		UseCorrelation: cfg.Model.UseCorrelation,
		Cycle:          cfg.Cycle(),
	}
}

// PlannerConfig derives planner.Config from cfg.
func PlannerConfig(cfg *config.Config) planner.Config {
	return planner.Config{
		MemTotalPercent:     cfg.Model.Memory.MemTotalPercent,
		MemAvailablePercent: cfg.Model.Memory.MemAvailablePercent,
		SortStrategy:        planner.ParseSortStrategy(cfg.System.SortStrategy),
	}
}

// PrefetchConfig derives prefetch.Config from cfg. A nil
// prefetch_concurrency means "auto", taken as GOMAXPROCS.
func PrefetchConfig(cfg *config.Config) prefetch.Config {
	concurrency := runtime.GOMAXPROCS(0)
	if cfg.System.PrefetchConcurrency != nil {
		concurrency = *cfg.System.PrefetchConcurrency
	}
	return prefetch.Config{Concurrency: concurrency}
}

// AdmissionConfig derives admission.Config from cfg.
func AdmissionConfig(cfg *config.Config) admission.Config {
	return admission.Config{
		ExePrefixes:   admission.ParseRules(cfg.System.ExePrefix),
		MapPrefixes:   admission.ParseRules(cfg.System.MapPrefix),
		MinSizeBytes:  cfg.Model.MinSizeBytes,
		CacheTTL:      cfg.PolicyCacheTTL(),
		CacheCapacity: cfg.System.PolicyCacheCapacity,
	}
}
