package hostmodule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/wasabi-host/internal/memview"
)

type fakeMemory struct{ buf []byte }

func (m *fakeMemory) Bytes() []byte { return m.buf }

// readCString reads a NUL-terminated string starting at ptr, the shape
// the argv table's {ptr:u32, _pad:u32} entries point into, as opposed to
// the {ptr,len} descriptor mv.String expects elsewhere in the ABI.
func readCString(t *testing.T, mv *memview.View, ptr int32) string {
	t.Helper()
	var out []byte
	for i := int32(0); ; i++ {
		b, err := mv.Slice(ptr+i, 1)
		require.NoError(t, err)
		if b[0] == 0 {
			break
		}
		out = append(out, b[0])
	}
	return string(out)
}

// TestWriteArgsSingleString pins the layout for one argument: s\0 lands
// at offset 4096 and (argc, argv) come back as
// (1, 4096+ceil_align8(len(s)+1)).
func TestWriteArgsSingleString(t *testing.T) {
	mv := memview.New(&fakeMemory{buf: make([]byte, 8192)})

	argc, argv, err := WriteArgs(mv, []string{"hello"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), argc)
	assert.Equal(t, int32(4096+8), argv) // ceil_align8(len("hello")+1) == 8

	ptr, err := mv.I32(argv)
	require.NoError(t, err)
	assert.Equal(t, int32(argBase), ptr)
	assert.Equal(t, "hello", readCString(t, mv, ptr))
}

func TestWriteArgsMultipleStringsPreserveOrder(t *testing.T) {
	mv := memview.New(&fakeMemory{buf: make([]byte, 8192)})

	argc, argv, err := WriteArgs(mv, []string{"a.wasm", "--flag", "value"})
	require.NoError(t, err)
	require.Equal(t, int32(3), argc)

	for i, want := range []string{"a.wasm", "--flag", "value"} {
		ptr, err := mv.I32(argv + int32(i)*8)
		require.NoError(t, err)
		assert.Equal(t, want, readCString(t, mv, ptr))
	}
}

func TestWriteArgsEmptyVector(t *testing.T) {
	mv := memview.New(&fakeMemory{buf: make([]byte, 8192)})

	argc, argv, err := WriteArgs(mv, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), argc)
	assert.Equal(t, int32(argBase), argv)
}
