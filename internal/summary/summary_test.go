package summary

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Snapshot {
	return Snapshot{
		ModelTime:   90 * time.Second,
		ExeCount:    3,
		MapCount:    7,
		EdgeCount:   2,
		ActiveCount: 1,
		CycleConfig: 5 * time.Second,
		MinSize:     4096,
		SortOrder:   "none",
		Warnings:    []error{errors.New("map missing: /lib/a.so")},
	}
}

func TestRenderTextIncludesAllFields(t *testing.T) {
	out := RenderText(sample())
	assert.Contains(t, out, "exes: 3")
	assert.Contains(t, out, "maps: 7")
	assert.Contains(t, out, "edges: 2")
	assert.Contains(t, out, "map missing: /lib/a.so")
}

func TestRenderTextNoWarnings(t *testing.T) {
	s := sample()
	s.Warnings = nil
	out := RenderText(s)
	assert.Contains(t, out, "warnings: none")
}

func TestRenderMarkdownIsATable(t *testing.T) {
	out := RenderMarkdown(sample())
	assert.True(t, strings.HasPrefix(out, "# prefetchd summary"))
	assert.Contains(t, out, "| exes | 3 |")
	assert.Contains(t, out, "## warnings")
}

func TestRenderHTMLProducesHTMLTable(t *testing.T) {
	html, err := RenderHTML(sample())
	require.NoError(t, err)
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "exes")
}
