// Package planner implements PrefetchPlanner: it turns scored maps and
// the current memory snapshot into a budget-bounded, deterministically
// ordered prefetch plan. Grounded on internal/budget/tracker.go's
// burn-rate-and-clamp arithmetic, generalized from "how much of the task
// budget is left" to "how many KB of page cache can we spend".
package planner

import (
	"math"
	"sort"

	"github.com/harrison/prefetchd/internal/model"
	"github.com/harrison/prefetchd/internal/perr"
)

// SortStrategy selects the tie-break rule applied after sorting scored
// maps by descending score.
type SortStrategy int

const (
	SortNone SortStrategy = iota
	SortPath
	SortBlock
	SortInode
)

// ParseSortStrategy maps a config string to a SortStrategy, defaulting to
// SortNone for any unrecognized value.
func ParseSortStrategy(s string) SortStrategy {
	switch s {
	case "path":
		return SortPath
	case "block":
		return SortBlock
	case "inode":
		return SortInode
	default:
		return SortNone
	}
}

// Config carries the subset of [model.memory]/[system] settings
// PrefetchPlanner needs.
type Config struct {
	// MemTotalPercent and MemAvailablePercent are clamped to [-100, 100];
	// negative values subtract from the budget.
	MemTotalPercent     int
	MemAvailablePercent int
	SortStrategy        SortStrategy
}

// ScoredMap is one candidate for prefetching, carrying the block/inode
// metadata needed for the block/inode tie-break strategies when
// available. Block and Inode are nil when that metadata could not be
// obtained, in which case the item falls back to the none tie-break.
type ScoredMap struct {
	Id     model.MapId
	Path   string
	Offset int64
	Length int64
	Score  float32
	Block  *uint64
	Inode  *uint64
}

// PlanItem is one entry of an ordered PrefetchPlan.
type PlanItem struct {
	MapId  model.MapId
	Path   string
	Offset int64
	Length int64
}

// Plan is an ordered, budget-bounded set of items to prefetch.
type Plan struct {
	Items    []PlanItem
	BudgetKB int64
}

// BuildPlan computes budget_kb from mem and cfg, filters non-positive
// scores, sorts by descending score (NaN last) with cfg.SortStrategy as
// tie-break, and greedily selects a monotone-budget-respecting prefix.
func BuildPlan(scored []ScoredMap, mem model.MemStat, cfg Config) (Plan, error) {
	budgetKB := computeBudgetKB(mem, cfg)

	var candidates []ScoredMap
	for _, sm := range scored {
		if sm.Score <= 0 {
			continue
		}
		candidates = append(candidates, sm)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j], cfg.SortStrategy)
	})

	var items []PlanItem
	var sumKB int64
	for _, sm := range candidates {
		lengthKB := sm.Length / 1024
		if sumKB+lengthKB > budgetKB {
			break
		}
		items = append(items, PlanItem{MapId: sm.Id, Path: sm.Path, Offset: sm.Offset, Length: sm.Length})
		sumKB += lengthKB
	}

	if sumKB > budgetKB {
		return Plan{}, perr.NewStoreInvariantViolation("plan_overbudget", "greedy selection exceeded budget_kb")
	}

	return Plan{Items: items, BudgetKB: budgetKB}, nil
}

func computeBudgetKB(mem model.MemStat, cfg Config) int64 {
	tp := clampPercent(cfg.MemTotalPercent)
	ap := clampPercent(cfg.MemAvailablePercent)

	budget := float64(mem.MemTotalKB)*float64(tp)/100.0 + float64(mem.MemAvailableKB)*float64(ap)/100.0
	if budget < 0 {
		budget = 0
	}
	if budget > float64(mem.MemAvailableKB) {
		budget = float64(mem.MemAvailableKB)
	}
	return int64(budget)
}

func clampPercent(p int) int {
	if p < -100 {
		return -100
	}
	if p > 100 {
		return 100
	}
	return p
}

// less implements the total order: descending score (NaN sorts last),
// tie-broken by strategy, finally by MapId so the order is always fully
// determined.
func less(a, b ScoredMap, strategy SortStrategy) bool {
	aNaN := isNaN32(a.Score)
	bNaN := isNaN32(b.Score)
	if aNaN != bNaN {
		return bNaN
	}
	if !aNaN && a.Score != b.Score {
		return a.Score > b.Score
	}
	return tieBreak(a, b, strategy)
}

func tieBreak(a, b ScoredMap, strategy SortStrategy) bool {
	switch strategy {
	case SortPath:
		if a.Path != b.Path {
			return a.Path < b.Path
		}
	case SortBlock:
		if a.Block != nil && b.Block != nil && *a.Block != *b.Block {
			return *a.Block < *b.Block
		}
	case SortInode:
		if a.Inode != nil && b.Inode != nil && *a.Inode != *b.Inode {
			return *a.Inode < *b.Inode
		}
	}
	return a.Id < b.Id
}

func isNaN32(v float32) bool { return math.IsNaN(float64(v)) }
