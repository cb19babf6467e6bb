package jsslab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotRoundTripInteger(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 2147483647, -2147483648, 42} {
		got, isRef := LoadValue(StoreValue(n, false))
		assert.False(t, isRef)
		assert.Equal(t, n, got)
	}
}

func TestSlotRoundTripHandle(t *testing.T) {
	for _, h := range []int64{1, 0, 2, 3, 4, 5, 6, 7, 1000, 2147483647} {
		got, isRef := LoadValue(StoreValue(h, true))
		assert.True(t, isRef)
		assert.Equal(t, h, got, "handle %d must survive the round trip", h)
	}
}
