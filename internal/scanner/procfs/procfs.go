// Package procfs implements scanner.Scanner by reading /proc directly:
// the running process list, each process's executable symlink and memory
// map table, and system-wide memory accounting. Grounded on the pack's
// raw-/proc reference parsers rather than a gopsutil-style wrapper, since
// the sanitization rules this daemon needs (stripped " (deleted)" and
// prelink suffixes, file-backed-only maps) aren't exposed by those
// wrappers anyway.
package procfs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harrison/prefetchd/internal/clock"
	"github.com/harrison/prefetchd/internal/model"
	"github.com/harrison/prefetchd/internal/scanner"
)

// Scanner reads /proc to produce one ObservationEvent stream per tick.
type Scanner struct {
	procRoot string
	clock    clock.Clock
	nextScanId uint64
}

// New returns a Scanner rooted at the standard /proc mount.
func New(clk clock.Clock) *Scanner {
	return &Scanner{procRoot: "/proc", clock: clk}
}

// NewWithRoot returns a Scanner rooted at root instead of /proc, for tests
// that stage a fake procfs tree.
func NewWithRoot(root string, clk clock.Clock) *Scanner {
	return &Scanner{procRoot: root, clock: clk}
}

// Scan implements scanner.Scanner.
func (s *Scanner) Scan(ctx context.Context) ([]scanner.ObservationEvent, error) {
	s.nextScanId++
	scanId := s.nextScanId

	var events []scanner.ObservationEvent
	var warnings []error

	begin := s.clock.Now()
	events = append(events, scanner.ObservationEvent{Kind: scanner.EventObsBegin, Begin: &scanner.ObsBegin{
		Time: begin, ScanId: scanId,
	}})

	pids, err := s.listPids()
	if err != nil {
		return nil, fmt.Errorf("procfs: list pids: %w", err)
	}

	for _, pid := range pids {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		exePath, err := s.readExe(pid)
		if err != nil {
			// process likely exited mid-scan; best-effort, not fatal.
			warnings = append(warnings, fmt.Errorf("pid %d: exe: %w", pid, err))
			continue
		}
		if exePath == "" {
			continue
		}

		events = append(events, scanner.ObservationEvent{Kind: scanner.EventExeSeen, Exe: &scanner.ExeSeen{
			Path: exePath, Pid: pid,
		}})

		maps, err := s.readMaps(pid)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("pid %d: maps: %w", pid, err))
			continue
		}
		for _, m := range maps {
			events = append(events, scanner.ObservationEvent{Kind: scanner.EventMapSeen, Map: &scanner.MapSeen{
				ExePath: exePath, Map: m,
			}})
		}
	}

	mem, err := s.readMemInfo()
	if err != nil {
		warnings = append(warnings, fmt.Errorf("meminfo: %w", err))
	} else {
		events = append(events, scanner.ObservationEvent{Kind: scanner.EventMemStat, Mem: &scanner.MemStat{Mem: mem}})
	}

	end := s.clock.Now()
	events = append(events, scanner.ObservationEvent{Kind: scanner.EventObsEnd, End: &scanner.ObsEnd{
		Time: end, ScanId: scanId, Warnings: warnings,
	}})

	return events, nil
}

func (s *Scanner) listPids() ([]int, error) {
	entries, err := os.ReadDir(s.procRoot)
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(ent.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func (s *Scanner) readExe(pid int) (string, error) {
	link := filepath.Join(s.procRoot, strconv.Itoa(pid), "exe")
	target, err := os.Readlink(link)
	if err != nil {
		return "", err
	}
	return sanitizePath(target), nil
}

// sanitizePath strips the kernel-appended " (deleted)" marker and the
// prelink-era " (prelink)" suffix some distros still attach, so the same
// backing file always maps to the same ExeKey/MapKey regardless of
// whether it happened to be deleted-but-still-mapped at scan time.
func sanitizePath(p string) string {
	p = strings.TrimSuffix(p, " (deleted)")
	p = strings.TrimSuffix(p, " (prelink)")
	return p
}

// readMaps parses /proc/[pid]/maps, emitting one MapKey per file-backed
// region. Mappings with no path, pseudo-mappings ([stack], [heap], [vdso],
// [vsyscall]), other non-absolute names such as anon_inode:..., and device
// files under /dev are not file-backed and are skipped.
func (s *Scanner) readMaps(pid int) ([]model.MapKey, error) {
	path := filepath.Join(s.procRoot, strconv.Itoa(pid), "maps")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []model.MapKey
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		pathField := strings.Join(fields[5:], " ")
		pathField = sanitizePath(pathField)
		if pathField == "" || !strings.HasPrefix(pathField, "/") || strings.HasPrefix(pathField, "/dev/") {
			continue
		}

		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		start, err := strconv.ParseInt(addrRange[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseInt(addrRange[1], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseInt(fields[2], 16, 64)
		if err != nil {
			continue
		}

		out = append(out, model.MapKey{
			Path:   pathField,
			Offset: offset,
			Length: end - start,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// readMemInfo parses /proc/meminfo for MemTotal and MemAvailable, in
// kilobytes.
func (s *Scanner) readMemInfo() (model.MemStat, error) {
	f, err := os.Open(filepath.Join(s.procRoot, "meminfo"))
	if err != nil {
		return model.MemStat{}, err
	}
	defer f.Close()

	var mem model.MemStat
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			mem.MemTotalKB = parseMemInfoValue(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			mem.MemAvailableKB = parseMemInfoValue(line)
		}
	}
	if err := sc.Err(); err != nil {
		return model.MemStat{}, err
	}
	return mem, nil
}

func parseMemInfoValue(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
