package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClockAfterFires(t *testing.T) {
	c := NewReal()
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("real clock After never fired")
	}
}

func TestMockClockAdvanceFiresWaiters(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)

	early := m.After(5 * time.Second)
	late := m.After(20 * time.Second)

	m.Advance(10 * time.Second)

	select {
	case got := <-early:
		assert.Equal(t, start.Add(10*time.Second), got)
	default:
		t.Fatal("expected early waiter to fire")
	}

	select {
	case <-late:
		t.Fatal("late waiter should not have fired yet")
	default:
	}

	m.Advance(15 * time.Second)
	select {
	case <-late:
	default:
		t.Fatal("expected late waiter to fire after second advance")
	}

	require.Equal(t, start.Add(25*time.Second), m.Now())
}

func TestMockClockZeroDurationFiresImmediately(t *testing.T) {
	m := NewMock(time.Now())
	ch := m.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("zero duration After should fire immediately")
	}
}
