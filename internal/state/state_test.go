//go:build linux

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/wasabi-host/internal/ioloop"
	"github.com/nmxmxh/wasabi-host/internal/jsslab"
	"github.com/nmxmxh/wasabi-host/internal/timeoutheap"
)

func newState() *State {
	return New(jsslab.New(), timeoutheap.New(), nil)
}

func TestPendingEventFIFOOrder(t *testing.T) {
	st := newState()
	st.EnqueuePendingEvent(10)
	st.EnqueuePendingEvent(11)
	st.EnqueuePendingEvent(12)

	for _, want := range []int64{10, 11, 12} {
		got, ok := st.PopPendingEvent()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := st.PopPendingEvent()
	assert.False(t, ok)
}

func TestEnqueueReadinessEventBuildsPendingEvent(t *testing.T) {
	st := newState()
	st.NetCallbackHandle = 9

	require.NoError(t, st.EnqueueReadinessEvent(3, ioloop.Readiness{Readable: true, Hup: true}))

	pe, ok := st.PopPendingEvent()
	require.True(t, ok)

	id, ok := st.Slab.ReflectGet(pe, "id")
	require.True(t, ok)
	assert.Equal(t, jsslab.Prop{Num: 9, IsRef: false}, id)

	args, ok := st.Slab.ReflectGet(pe, "args")
	require.True(t, ok)
	token, ok := st.Slab.ReflectGetIndex(args.Num, 0)
	require.True(t, ok)
	assert.Equal(t, int64(3), token.Num)
	mask, ok := st.Slab.ReflectGetIndex(args.Num, 1)
	require.True(t, ok)
	assert.Equal(t, int64(1|4), mask.Num, "readable|hup")
}

func TestEnqueueReadinessEventWithoutListenerIsNoop(t *testing.T) {
	st := newState()
	require.NoError(t, st.EnqueueReadinessEvent(3, ioloop.Readiness{Readable: true}))
	assert.False(t, st.HasPendingEvents())
}

func TestBuildResultPropErrorKinds(t *testing.T) {
	st := newState()

	for _, tc := range []struct {
		kind ioloop.ErrorKind
		code string
	}{
		{ioloop.ErrorKindNotFound, "ENOENT"},
		{ioloop.ErrorKindAlreadyExists, "EEXIST"},
		{ioloop.ErrorKindPermission, "EACCES"},
		{ioloop.ErrorKindGeneric, "EIO"},
	} {
		prop, err := st.BuildResultProp(ioloop.Response{Kind: ioloop.KindError, ID: 1, Msg: "boom", EKind: tc.kind})
		require.NoError(t, err)
		require.True(t, prop.IsRef)

		codeProp, ok := st.Slab.ReflectGet(prop.Num, "code")
		require.True(t, ok)
		codeVal, found := st.Slab.Get(codeProp.Num)
		require.True(t, found)
		assert.Equal(t, tc.code, codeVal.Str)
	}
}

func TestBuildResultPropIpsIsArrayOfBytes(t *testing.T) {
	st := newState()

	prop, err := st.BuildResultProp(ioloop.Response{Kind: ioloop.KindIps, ID: 1, IPs: [][4]byte{{127, 0, 0, 1}}})
	require.NoError(t, err)
	require.True(t, prop.IsRef)

	n, ok := st.Slab.ValueLength(prop.Num)
	require.True(t, ok)
	require.EqualValues(t, 1, n)

	first, ok := st.Slab.ReflectGetIndex(prop.Num, 0)
	require.True(t, ok)
	addr, found := st.Slab.Get(first.Num)
	require.True(t, found)
	assert.Equal(t, []byte{127, 0, 0, 1}, addr.Data)
}

func TestAttachResultAndEnqueue(t *testing.T) {
	st := newState()
	cb := st.Slab.NewObject("wrappedFunc")

	require.NoError(t, st.AttachResultAndEnqueue(cb, jsslab.Prop{Num: 5, IsRef: false}))

	got, ok := st.PopPendingEvent()
	require.True(t, ok)
	assert.Equal(t, cb, got)

	result, ok := st.Slab.ReflectGet(cb, "result")
	require.True(t, ok)
	assert.Equal(t, jsslab.Prop{Num: 5, IsRef: false}, result)
}
