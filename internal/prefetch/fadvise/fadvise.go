// Package fadvise implements internal/prefetch.Prefetcher using the
// Linux posix_fadvise(2) WILLNEED hint and mincore(2) residency probing,
// via golang.org/x/sys/unix. Concurrency is bounded by a semaphore
// channel, grounded on internal/executor/wave.go's wave-parallelism
// shape: acquire a slot, launch a goroutine, rejoin on a results
// channel before returning.
package fadvise

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/harrison/prefetchd/internal/planner"
	"github.com/harrison/prefetchd/internal/prefetch"
)

const pageSize = 4096

// Backend executes a PrefetchPlan via posix_fadvise(WILLNEED), optionally
// skipping items whose pages are already resident according to mincore.
type Backend struct {
	cfg            prefetch.Config
	probeResidency bool
}

// New returns a Backend bounded by cfg.Concurrency. probeResidency
// enables the mincore pre-check; disable it to always issue the fadvise
// hint unconditionally (cheaper, but may re-hint resident pages).
func New(cfg prefetch.Config, probeResidency bool) *Backend {
	return &Backend{cfg: cfg, probeResidency: probeResidency}
}

// Execute satisfies prefetch.Prefetcher.
func (b *Backend) Execute(ctx context.Context, plan planner.Plan) ([]prefetch.Outcome, error) {
	if b.cfg.Concurrency <= 0 {
		outcomes := make([]prefetch.Outcome, len(plan.Items))
		for i, item := range plan.Items {
			outcomes[i] = prefetch.Outcome{
				MapId:      item.MapId,
				Path:       item.Path,
				Kind:       prefetch.Skipped,
				SkipReason: prefetch.SkipConcurrencyDisabled,
			}
		}
		return outcomes, nil
	}

	sem := make(chan struct{}, b.cfg.Concurrency)
	results := make(chan prefetch.Outcome, len(plan.Items))
	var wg sync.WaitGroup

	for _, item := range plan.Items {
		if ctx.Err() != nil {
			break
		}

		select {
		case <-ctx.Done():
			goto launched
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(item planner.PlanItem) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- b.prefetchOne(item)
		}(item)
	}

launched:
	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]prefetch.Outcome, 0, len(plan.Items))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes, ctx.Err()
}

func (b *Backend) prefetchOne(item planner.PlanItem) prefetch.Outcome {
	f, err := os.Open(item.Path)
	if err != nil {
		return prefetch.Outcome{
			MapId: item.MapId,
			Path:  item.Path,
			Kind:  prefetch.Failed,
			Err:   classify(item.Path, err),
		}
	}
	defer f.Close()

	if b.probeResidency {
		resident, err := residentAll(f, item.Offset, item.Length)
		if err == nil && resident {
			return prefetch.Outcome{
				MapId:      item.MapId,
				Path:       item.Path,
				Kind:       prefetch.Skipped,
				SkipReason: prefetch.SkipResident,
			}
		}
	}

	if err := unix.Fadvise(int(f.Fd()), item.Offset, item.Length, unix.FADV_WILLNEED); err != nil {
		return prefetch.Outcome{
			MapId: item.MapId,
			Path:  item.Path,
			Kind:  prefetch.Failed,
			Err:   classify(item.Path, err),
		}
	}

	return prefetch.Outcome{
		MapId:           item.MapId,
		Path:            item.Path,
		Kind:            prefetch.Ok,
		BytesPrefetched: item.Length,
	}
}

// residentAll mmaps [offset, offset+length) and asks mincore(2) whether
// every page in the range is already in the page cache.
func residentAll(f *os.File, offset, length int64) (bool, error) {
	if length <= 0 {
		return true, nil
	}

	pageOffset := (offset / pageSize) * pageSize
	mapLen := int(offset + length - pageOffset)

	data, err := unix.Mmap(int(f.Fd()), pageOffset, mapLen, unix.PROT_NONE, unix.MAP_SHARED)
	if err != nil {
		return false, err
	}
	defer unix.Munmap(data)

	vec := make([]byte, (mapLen+pageSize-1)/pageSize)
	if err := unix.Mincore(data, vec); err != nil {
		return false, err
	}

	for _, b := range vec {
		if b&1 == 0 {
			return false, nil
		}
	}
	return true, nil
}

func classify(path string, err error) error {
	missing := os.IsNotExist(err)
	permission := os.IsPermission(err)
	return prefetch.ClassifyError(path, err, missing, permission)
}
