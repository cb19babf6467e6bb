package hostfuncs

import (
	"encoding/binary"

	"github.com/nmxmxh/wasabi-host/internal/jsslab"
	"github.com/nmxmxh/wasabi-host/internal/memview"
)

// writeIntResult stores an i32 result at slot and its success byte at
// slot+4, the networking group's result convention (writeResult's
// tagged-slot pair applies to the syscall/js group, whose results are JS
// values rather than connection ids or counts).
func (h *Host) writeIntResult(mv *memview.View, slot int32, val int32) error {
	if err := mv.SetI32(slot, val); err != nil {
		return err
	}
	return mv.SetBool(slot+4, true)
}

// writeIntError stores an error slab object's handle at slot and clears
// the success byte at slot+4.
func (h *Host) writeIntError(mv *memview.View, slot int32, code string, ioErr error) error {
	obj, err := h.St.NewErrorObject(code, ioErr.Error())
	if err != nil {
		return err
	}
	if err := mv.SetI32(slot, int32(obj)); err != nil {
		return err
	}
	return mv.SetBool(slot+4, false)
}

// listenTCP binds addr (string descriptor at sp+8) and returns (id, ok) at
// sp+24/sp+28.
func (h *Host) listenTCP(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	addr, err := mv.String(sp + 8)
	if err != nil {
		return err
	}
	id, lerr := h.St.IO.TCPListen(addr)
	if lerr != nil {
		return h.writeIntError(mv, sp+24, "EIO", lerr)
	}
	return h.writeIntResult(mv, sp+24, int32(id))
}

// acceptTcp accepts one pending connection on the listener id at sp+8,
// returning (id, ok) at sp+16/sp+20.
func (h *Host) acceptTcp(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	listenerID, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	id, aerr := h.St.IO.TCPAccept(int(listenerID))
	if aerr != nil {
		return h.writeIntError(mv, sp+16, "EIO", aerr)
	}
	return h.writeIntResult(mv, sp+16, int32(id))
}

// dialTcp opens a non-blocking connect to addr (string descriptor at sp+8),
// returning (id, ok) at sp+24/sp+28; the connect's completion arrives later
// as a writable readiness event on that id.
func (h *Host) dialTcp(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	addr, err := mv.String(sp + 8)
	if err != nil {
		return err
	}
	id, derr := h.St.IO.TCPConnect(addr)
	if derr != nil {
		return h.writeIntError(mv, sp+24, "EIO", derr)
	}
	return h.writeIntResult(mv, sp+24, int32(id))
}

// readConn performs one non-blocking read of up to len bytes from
// connection id (sp+8) into guest memory at ptr (sp+16, len sp+24),
// returning (n, ok) at sp+40/sp+44.
func (h *Host) readConn(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	id, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	ptr, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	length, err := mv.I32(sp + 24)
	if err != nil {
		return err
	}
	dst, err := mv.Slice(ptr, length)
	if err != nil {
		return err
	}
	n, rerr := h.St.IO.ReadConn(int(id), dst)
	if rerr != nil {
		return h.writeIntError(mv, sp+40, "EIO", rerr)
	}
	return h.writeIntResult(mv, sp+40, int32(n))
}

// writeConn performs one non-blocking write of len bytes from guest memory
// at ptr to connection id, returning (n, ok) at sp+40/sp+44.
func (h *Host) writeConn(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	id, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	ptr, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	length, err := mv.I32(sp + 24)
	if err != nil {
		return err
	}
	src, err := mv.Slice(ptr, length)
	if err != nil {
		return err
	}
	n, werr := h.St.IO.WriteConn(int(id), src)
	if werr != nil {
		return h.writeIntError(mv, sp+40, "EIO", werr)
	}
	return h.writeIntResult(mv, sp+40, int32(n))
}

// shutdownConn issues a half-close: how is {1=read,2=write,3=both}.
func (h *Host) shutdownConn(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	id, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	how, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	dir := "rw"
	switch how {
	case 1:
		dir = "r"
	case 2:
		dir = "w"
	}
	return h.St.IO.ShutdownConn(int(id), dir)
}

func (h *Host) closeConn(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	id, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	return h.St.IO.CloseConn(int(id))
}

// closeListener shares the same connection slab as stream sockets, so
// closing one uses the identical path as closeConn.
func (h *Host) closeListener(sp int32) error {
	return h.closeConn(sp)
}

func (h *Host) localAddr(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	id, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	ptr, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	ip, port, aerr := h.St.IO.LocalAddr(int(id))
	if aerr != nil {
		return mv.SetBool(sp+24, false)
	}
	dst, err := mv.Slice(ptr, 6)
	if err != nil {
		return err
	}
	enc := encodeAddrBytes(ip, port)
	copy(dst, enc[:])
	return mv.SetBool(sp+24, true)
}

func (h *Host) remoteAddr(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	id, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	ptr, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	ip, port, aerr := h.St.IO.RemoteAddr(int(id))
	if aerr != nil {
		return mv.SetBool(sp+24, false)
	}
	dst, err := mv.Slice(ptr, 6)
	if err != nil {
		return err
	}
	enc := encodeAddrBytes(ip, port)
	copy(dst, enc[:])
	return mv.SetBool(sp+24, true)
}

// encodeAddrBytes serializes [a,b,c,d, port_lo, port_hi] without
// importing the linux-only ioloop helper of the same shape, keeping this
// file buildable independent of ioloop's build tag.
func encodeAddrBytes(ip [4]byte, port uint16) [6]byte {
	return [6]byte{ip[0], ip[1], ip[2], ip[3], byte(port), byte(port >> 8)}
}

// getError reads and clears a connection's pending socket error, reporting
// (msg, present) at sp+16/sp+20.
func (h *Host) getError(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	id, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	gerr := h.St.IO.GetError(int(id))
	if gerr == nil {
		return mv.SetBool(sp+20, false)
	}
	msgHandle := h.St.Slab.Insert(jsslab.Value{Kind: jsslab.KindString, Str: gerr.Error()})
	if err := mv.SetI32(sp+16, int32(msgHandle)); err != nil {
		return err
	}
	return mv.SetBool(sp+20, true)
}

// lookupIP resolves the host named by the descriptor at sp+8 and stores
// (addrs-handle, ok) at sp+24/sp+28. The result is the nested bytes
// encoding the guest's net shim walks with prepareBytes/loadBytes: one
// Bytes slab value per IPv4 address, and an outer Bytes value holding the
// inner handles as little-endian u32s. IPv6 answers are dropped. See
// hostfuncs.applyLookupIP for the reflect-routed async variant used when
// the guest calls wasabi.lookup_ip as a method.
func (h *Host) lookupIP(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	host, err := mv.String(sp + 8)
	if err != nil {
		return err
	}
	ips, lerr := h.St.IO.LookupIPSync(host)
	if lerr != nil {
		return h.writeIntError(mv, sp+24, "EIO", lerr)
	}
	refs := make([]byte, len(ips)*4)
	for i, ip := range ips {
		inner := h.St.Slab.Insert(jsslab.Value{Kind: jsslab.KindBytes, Data: []byte{ip[0], ip[1], ip[2], ip[3]}})
		binary.LittleEndian.PutUint32(refs[i*4:i*4+4], uint32(inner))
	}
	outer := h.St.Slab.Insert(jsslab.Value{Kind: jsslab.KindBytes, Data: refs})
	return h.writeIntResult(mv, sp+24, int32(outer))
}
