package perr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatalClassification(t *testing.T) {
	assert.True(t, IsFatal(NewConfigError("load", errors.New("bad toml"))))
	assert.True(t, IsFatal(NewStoreInvariantViolation("edge-self-loop", "A==B")))
	assert.False(t, IsFatal(NewScanError("readdir", errors.New("permission denied"))))
	assert.False(t, IsFatal(NewPredictionNumeric("markov", "NaN contribution")))
}

func TestPrefetchItemErrorUnwrap(t *testing.T) {
	base := errors.New("no such file or directory")
	err := NewPrefetchItemError("/tmp/gone", PrefetchMissing, base)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "missing")
}
