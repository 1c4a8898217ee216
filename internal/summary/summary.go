// Package summary renders the DumpSummary control event's payload:
// current configuration, Stores counts, and the last tick's warnings.
// Grounded on the teacher's use of github.com/yuin/goldmark for
// markdown handling (internal/parser/markdown.go parses plan files with
// it); here the direction is reversed — summary.go generates the
// Markdown source itself and uses goldmark to render it to HTML for
// --format=html, rather than parsing externally authored Markdown.
package summary

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Snapshot is the data DumpSummary renders. It is a plain value, not a
// live reference, so rendering never races with the engine's next tick.
type Snapshot struct {
	ModelTime   time.Duration
	ExeCount    int
	MapCount    int
	EdgeCount   int
	ActiveCount int
	CycleConfig time.Duration
	MinSize     int64
	SortOrder   string
	Warnings    []error
}

// RenderText renders snapshot as plain text, one field per line.
func RenderText(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "model_time: %s\n", s.ModelTime)
	fmt.Fprintf(&b, "exes: %d\n", s.ExeCount)
	fmt.Fprintf(&b, "maps: %d\n", s.MapCount)
	fmt.Fprintf(&b, "edges: %d\n", s.EdgeCount)
	fmt.Fprintf(&b, "active_set: %d\n", s.ActiveCount)
	fmt.Fprintf(&b, "cycle: %s\n", s.CycleConfig)
	fmt.Fprintf(&b, "minsize: %d bytes\n", s.MinSize)
	fmt.Fprintf(&b, "sortstrategy: %s\n", s.SortOrder)
	if len(s.Warnings) == 0 {
		b.WriteString("warnings: none\n")
	} else {
		fmt.Fprintf(&b, "warnings (%d):\n", len(s.Warnings))
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "  - %v\n", w)
		}
	}
	return b.String()
}

// RenderMarkdown renders snapshot as a Markdown document: a config
// table plus a warnings list.
func RenderMarkdown(s Snapshot) string {
	var b strings.Builder
	b.WriteString("# prefetchd summary\n\n")
	b.WriteString("| field | value |\n|---|---|\n")
	fmt.Fprintf(&b, "| model_time | %s |\n", s.ModelTime)
	fmt.Fprintf(&b, "| exes | %d |\n", s.ExeCount)
	fmt.Fprintf(&b, "| maps | %d |\n", s.MapCount)
	fmt.Fprintf(&b, "| edges | %d |\n", s.EdgeCount)
	fmt.Fprintf(&b, "| active_set | %d |\n", s.ActiveCount)
	fmt.Fprintf(&b, "| cycle | %s |\n", s.CycleConfig)
	fmt.Fprintf(&b, "| minsize | %d bytes |\n", s.MinSize)
	fmt.Fprintf(&b, "| sortstrategy | %s |\n", s.SortOrder)
	b.WriteString("\n## warnings\n\n")
	if len(s.Warnings) == 0 {
		b.WriteString("none\n")
	} else {
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "- %v\n", w)
		}
	}
	return b.String()
}

// RenderHTML converts the Markdown rendering of snapshot to HTML via
// goldmark, for --format=html.
func RenderHTML(s Snapshot) (string, error) {
	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := md.Convert([]byte(RenderMarkdown(s)), &buf); err != nil {
		return "", fmt.Errorf("render summary html: %w", err)
	}
	return buf.String(), nil
}
