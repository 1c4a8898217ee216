package prefetch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harrison/prefetchd/internal/perr"
)

func TestClassifyErrorMissing(t *testing.T) {
	e := ClassifyError("/x", errors.New("boom"), true, false)
	assert.Equal(t, perr.PrefetchMissing, e.Kind)
}

func TestClassifyErrorPermission(t *testing.T) {
	e := ClassifyError("/x", errors.New("boom"), false, true)
	assert.Equal(t, perr.PrefetchPermission, e.Kind)
}

func TestClassifyErrorDefaultsToIO(t *testing.T) {
	e := ClassifyError("/x", errors.New("boom"), false, false)
	assert.Equal(t, perr.PrefetchIO, e.Kind)
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "ok", Ok.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "failed", Failed.String())
}

func TestSkipReasonString(t *testing.T) {
	assert.Equal(t, "already_resident", SkipResident.String())
	assert.Equal(t, "concurrency_disabled", SkipConcurrencyDisabled.String())
}
