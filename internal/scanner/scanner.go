// Package scanner defines the observation-producing side of the prefetch
// daemon: a Scanner walks running processes and memory maps once per tick
// and emits a finite, ordered sequence of ObservationEvent values.
package scanner

import (
	"context"
	"time"

	"github.com/harrison/prefetchd/internal/model"
)

// EventKind discriminates the concrete type carried by an ObservationEvent.
type EventKind int

const (
	EventObsBegin EventKind = iota
	EventExeSeen
	EventMapSeen
	EventMemStat
	EventObsEnd
)

// ObservationEvent is one element of the ordered stream a Scanner produces
// for a single tick. Exactly one of the typed fields is meaningful,
// selected by Kind.
type ObservationEvent struct {
	Kind EventKind

	Begin *ObsBegin
	Exe   *ExeSeen
	Map   *MapSeen
	Mem   *MemStat
	End   *ObsEnd
}

// ObsBegin opens a scan.
type ObsBegin struct {
	Time   time.Time
	ScanId uint64
}

// ExeSeen reports a running process backed by an executable at Path.
// Every MapSeen for Path within the same scan is preceded by its ExeSeen.
type ExeSeen struct {
	Path string
	Pid  int
}

// MapSeen reports a file-backed memory mapping belonging to the exe at
// ExePath.
type MapSeen struct {
	ExePath string
	Map     model.MapKey
}

// MemStat reports the scan-time system memory snapshot.
type MemStat struct {
	Mem model.MemStat
}

// ObsEnd closes a scan. Warnings holds non-fatal per-process failures
// encountered mid-scan (e.g. a process that exited before its maps file
// could be read); their presence never fails the scan.
type ObsEnd struct {
	Time     time.Time
	ScanId   uint64
	Warnings []error
}

func obsBeginEvent(e ObsBegin) ObservationEvent { return ObservationEvent{Kind: EventObsBegin, Begin: &e} }
func exeSeenEvent(e ExeSeen) ObservationEvent   { return ObservationEvent{Kind: EventExeSeen, Exe: &e} }
func mapSeenEvent(e MapSeen) ObservationEvent   { return ObservationEvent{Kind: EventMapSeen, Map: &e} }
func memStatEvent(e MemStat) ObservationEvent   { return ObservationEvent{Kind: EventMemStat, Mem: &e} }
func obsEndEvent(e ObsEnd) ObservationEvent     { return ObservationEvent{Kind: EventObsEnd, End: &e} }

// Scanner produces one complete scan per call to Scan. Implementations
// need not be synchronous internally, but Scan itself blocks until the
// scan is complete or ctx is done.
type Scanner interface {
	Scan(ctx context.Context) ([]ObservationEvent, error)
}
