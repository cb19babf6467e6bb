package timeoutheap

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrderUnderEqualDeadlines(t *testing.T) {
	mock := clock.NewMock()
	h := NewWithClock(mock)

	a := h.Add(0)
	b := h.Add(0)
	c := h.Add(0)

	require.True(t, h.AnyExpiredTimeouts())
	// the three ids were pushed at the identical deadline; id is the
	// tie-break so they must pop in insertion order.
	first := h.pop()
	require.NotNil(t, first)
	assert.Equal(t, a, first.id)

	second := h.pop()
	require.NotNil(t, second)
	assert.Equal(t, b, second.id)

	third := h.pop()
	require.NotNil(t, third)
	assert.Equal(t, c, third.id)
}

func TestCancelledIDNeverResurfaces(t *testing.T) {
	mock := clock.NewMock()
	h := NewWithClock(mock)

	a := h.Add(0)
	b := h.Add(0)

	h.Remove(a)

	require.True(t, h.AnyExpiredTimeouts())
	top := h.pop()
	require.Nil(t, top, "a was already popped by AnyExpiredTimeouts")

	assert.True(t, h.IsEmpty())
	_ = b
}

func TestDurationWhenExpiredCountsDownToMockDeadline(t *testing.T) {
	mock := clock.NewMock()
	h := NewWithClock(mock)

	h.Add(10)

	remaining, ok := h.DurationWhenExpired()
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, remaining)

	mock.Add(10 * time.Millisecond)

	remaining, ok = h.DurationWhenExpired()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestAnyExpiredTimeoutsFalseBeforeDeadline(t *testing.T) {
	mock := clock.NewMock()
	h := NewWithClock(mock)

	h.Add(50)
	assert.False(t, h.AnyExpiredTimeouts())

	mock.Add(50 * time.Millisecond)
	assert.True(t, h.AnyExpiredTimeouts())
}

func TestIsEmptyAfterCleaningAllCancelled(t *testing.T) {
	mock := clock.NewMock()
	h := NewWithClock(mock)

	a := h.Add(0)
	b := h.Add(0)
	h.Remove(a)
	h.Remove(b)

	assert.True(t, h.IsEmpty())
}

func TestPopWhenExpiredSleepsUntilDeadline(t *testing.T) {
	mock := clock.NewMock()
	h := NewWithClock(mock)

	h.Add(5)

	done := make(chan bool, 1)
	go func() {
		done <- h.PopWhenExpired()
	}()

	// give the goroutine a chance to block in clk.Sleep before advancing.
	time.Sleep(10 * time.Millisecond)
	mock.Add(5 * time.Millisecond)

	select {
	case popped := <-done:
		assert.True(t, popped)
	case <-time.After(time.Second):
		t.Fatal("PopWhenExpired did not return after mock clock advanced")
	}
}
