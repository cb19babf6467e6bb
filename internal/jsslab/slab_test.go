package jsslab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedIndices(t *testing.T) {
	s := New()

	nan, ok := s.Get(HandleNaN)
	require.True(t, ok)
	assert.Equal(t, KindNaN, nan.Kind)

	null, ok := s.Get(HandleNull)
	require.True(t, ok)
	assert.Equal(t, KindNull, null.Kind)

	tru, ok := s.Get(HandleTrue)
	require.True(t, ok)
	assert.Equal(t, KindTrue, tru.Kind)

	fls, ok := s.Get(HandleFalse)
	require.True(t, ok)
	assert.Equal(t, KindFalse, fls.Kind)
}

func TestGlobalPropertyGraph(t *testing.T) {
	s := New()

	fsProp, ok := s.ReflectGet(HandleGlobal, "fs")
	require.True(t, ok)
	assert.True(t, fsProp.IsRef)

	constants, ok := s.ReflectGet(fsProp.Num, "constants")
	require.True(t, ok)
	wronly, ok := s.ReflectGet(constants.Num, "O_WRONLY")
	require.True(t, ok)
	assert.Equal(t, int64(OWRONLY), wronly.Num)
	assert.False(t, wronly.IsRef)

	wasabiNS, ok := s.ReflectGet(HandleGlobal, "wasabi")
	require.True(t, ok)
	_, ok = s.ReflectGet(wasabiNS.Num, "lookup_ip")
	assert.True(t, ok)
}

func TestAddArrayAndIndex(t *testing.T) {
	s := New()
	obj, _ := s.AddObject(HandleGlobal, "scratch")
	arr, err := s.AddArray(obj, "items", []Prop{{Num: 10, IsRef: false}, {Num: HandleNull, IsRef: true}})
	require.NoError(t, err)

	length, ok := s.ValueLength(arr)
	require.True(t, ok)
	assert.EqualValues(t, 2, length)

	first, ok := s.ReflectGetIndex(arr, 0)
	require.True(t, ok)
	assert.Equal(t, int64(10), first.Num)
}

func TestReflectConstructUint8Array(t *testing.T) {
	s := New()
	uint8arr, ok := s.ReflectGet(HandleGlobal, "Uint8Array")
	require.True(t, ok)

	result, err := s.ReflectConstruct(uint8arr.Num, []Prop{{}, {Num: 4096}, {Num: 32}})
	require.NoError(t, err)
	require.True(t, result.IsRef)

	mem, ok := s.Get(result.Num)
	require.True(t, ok)
	assert.Equal(t, KindMemory, mem.Kind)
	assert.EqualValues(t, 4096, mem.MemAddr)
	assert.EqualValues(t, 32, mem.MemLen)
}

func TestReflectConstructUnknownClassFails(t *testing.T) {
	s := New()
	obj, _ := s.AddObject(HandleGlobal, "NotAClass")
	_, err := s.ReflectConstruct(obj, nil)
	assert.Error(t, err)
}

func TestNewPendingEventShape(t *testing.T) {
	s := New()

	pe, err := s.NewPendingEvent(0, nil)
	require.NoError(t, err)

	obj, ok := s.Get(pe)
	require.True(t, ok)
	assert.Equal(t, KindObject, obj.Kind)
	assert.Equal(t, "pending_event", obj.Name)

	id, ok := s.ReflectGet(pe, "id")
	require.True(t, ok)
	assert.Equal(t, Prop{Num: 0, IsRef: false}, id)

	result, ok := s.ReflectGet(pe, "result")
	require.True(t, ok)
	assert.Equal(t, Prop{Num: HandleNull, IsRef: true}, result)

	this, ok := s.ReflectGet(pe, "this")
	require.True(t, ok)
	thisObj, ok := s.Get(this.Num)
	require.True(t, ok)
	assert.Equal(t, KindObject, thisObj.Kind)

	args, ok := s.ReflectGet(pe, "args")
	require.True(t, ok)
	length, ok := s.ValueLength(args.Num)
	require.True(t, ok)
	assert.EqualValues(t, 0, length)
}
