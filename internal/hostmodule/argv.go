package hostmodule

import (
	"encoding/binary"

	"github.com/nmxmxh/wasabi-host/internal/memview"
)

// argBase is the fixed guest-memory offset the argument vector is
// written to; the guest's runtime startup reads it from there.
const argBase = 4096

func ceilAlign8(n int) int { return (n + 7) &^ 7 }

// WriteArgs lays out the guest's argument vector: null-terminated,
// 8-aligned argument strings starting at offset 4096, followed by a
// contiguous table of {ptr:u32, _pad:u32=0} entries. It returns
// (argc, argv) exactly as the guest's run(argc, argv) export expects
// them.
func WriteArgs(mv *memview.View, args []string) (argc int32, argv int32, err error) {
	offset := argBase
	ptrs := make([]int32, len(args))

	for i, s := range args {
		data := append([]byte(s), 0)
		dst, err := mv.Slice(int32(offset), int32(len(data)))
		if err != nil {
			return 0, 0, err
		}
		copy(dst, data)
		ptrs[i] = int32(offset)
		offset += ceilAlign8(len(data))
	}

	tableBase := offset
	for _, p := range ptrs {
		dst, err := mv.Slice(int32(offset), 8)
		if err != nil {
			return 0, 0, err
		}
		binary.LittleEndian.PutUint32(dst[0:4], uint32(p))
		binary.LittleEndian.PutUint32(dst[4:8], 0)
		offset += 8
	}

	return int32(len(args)), int32(tableBase), nil
}
