package memview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMem struct{ buf []byte }

func (f *fakeMem) Bytes() []byte { return f.buf }

func newView(size int) (*View, *fakeMem) {
	m := &fakeMem{buf: make([]byte, size)}
	return New(m), m
}

func TestI32RoundTrip(t *testing.T) {
	v, _ := newView(64)
	for _, n := range []int32{0, 1, -1, 2147483647, -2147483648} {
		require.NoError(t, v.SetI32(8, n))
		got, err := v.I32(8)
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}

func TestI64RoundTrip(t *testing.T) {
	v, _ := newView(64)
	require.NoError(t, v.SetI64(0, -123456789012345))
	got, err := v.I64(0)
	require.NoError(t, err)
	assert.Equal(t, int64(-123456789012345), got)
}

func TestBoolEncodesSingleByte(t *testing.T) {
	v, m := newView(16)
	require.NoError(t, v.SetBool(4, true))
	assert.Equal(t, byte(0x01), m.buf[4])
	require.NoError(t, v.SetBool(4, false))
	assert.Equal(t, byte(0x00), m.buf[4])
}

func TestStringDescriptor(t *testing.T) {
	v, m := newView(128)
	payload := "Hello, world!\n"
	copy(m.buf[64:], payload)
	require.NoError(t, v.SetI32(0, 64))
	require.NoError(t, v.SetI64(8, int64(len(payload))))
	got, err := v.String(0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOutOfBoundsIsFatal(t *testing.T) {
	v, _ := newView(8)
	_, err := v.I32(16)
	assert.Error(t, err)
	_, err = v.I64(4)
	assert.Error(t, err)
}
