// Package prefetch defines the Prefetcher contract: execute a
// budget-bounded PrefetchPlan and report one outcome per item. Concrete
// backends (see internal/prefetch/fadvise) choose the actual kernel
// mechanism; this package only fixes the shape.
package prefetch

import (
	"context"

	"github.com/harrison/prefetchd/internal/model"
	"github.com/harrison/prefetchd/internal/perr"
	"github.com/harrison/prefetchd/internal/planner"
)

// OutcomeKind classifies a single item's result.
type OutcomeKind int

const (
	Ok OutcomeKind = iota
	Skipped
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// SkipReason explains why an item was not prefetched despite being
// in-budget and in-plan.
type SkipReason int

const (
	SkipUnknown SkipReason = iota
	// SkipResident means the backend probed residency and found the
	// pages already in the page cache, so prefetching would be a no-op.
	SkipResident
	// SkipConcurrencyDisabled means prefetch_concurrency is 0.
	SkipConcurrencyDisabled
)

func (r SkipReason) String() string {
	switch r {
	case SkipResident:
		return "already_resident"
	case SkipConcurrencyDisabled:
		return "concurrency_disabled"
	default:
		return "unknown"
	}
}

// Outcome is the per-item result of executing one PlanItem.
type Outcome struct {
	MapId           model.MapId
	Path            string
	Kind            OutcomeKind
	BytesPrefetched int64
	SkipReason      SkipReason
	Err             error
}

// Prefetcher executes a plan with its own configured concurrency and
// reports one Outcome per item, in no guaranteed order relative to the
// plan (callers that need per-item correlation use MapId/Path).
type Prefetcher interface {
	Execute(ctx context.Context, plan planner.Plan) ([]Outcome, error)
}

// Config carries the subset of [system] settings Prefetcher needs.
type Config struct {
	// Concurrency bounds the number of in-flight prefetch operations.
	// Zero disables execution entirely: Execute returns a Skipped
	// outcome for every item without attempting any I/O.
	Concurrency int
}

// ClassifyError maps a raw OS error to a perr.PrefetchItemKind, used by
// concrete backends to build PrefetchItemError for Failed outcomes.
func ClassifyError(path string, err error, missing bool, permission bool) *perr.PrefetchItemError {
	switch {
	case missing:
		return perr.NewPrefetchItemError(path, perr.PrefetchMissing, err)
	case permission:
		return perr.NewPrefetchItemError(path, perr.PrefetchPermission, err)
	default:
		return perr.NewPrefetchItemError(path, perr.PrefetchIO, err)
	}
}
