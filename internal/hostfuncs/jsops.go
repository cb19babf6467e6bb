package hostfuncs

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/nmxmxh/wasabi-host/internal/hosterrors"
	"github.com/nmxmxh/wasabi-host/internal/jsslab"
	"github.com/nmxmxh/wasabi-host/internal/memview"
)

// stringVal interns a guest string as a slab String value and returns its
// tagged handle at sp+24 (descriptor at sp+8 consumes two slots: ptr, len).
func (h *Host) stringVal(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	s, err := mv.String(sp + 8)
	if err != nil {
		return err
	}
	handle := h.St.Slab.Insert(jsslab.Value{Kind: jsslab.KindString, Str: s})
	return mv.SetRaw8(sp+24, jsslab.StoreValue(handle, true))
}

func loadTarget(mv *memview.View, sp int32) (int64, error) {
	slot, err := mv.Raw8(sp)
	if err != nil {
		return 0, err
	}
	h, _ := jsslab.LoadValue(slot)
	return h, nil
}

// valueGet implements target[key]: result at sp+32, no success byte. A
// missing key means the guest asked for a property the emulation does
// not carry, which is fatal.
func (h *Host) valueGet(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	target, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	key, err := mv.String(sp + 16)
	if err != nil {
		return err
	}
	prop, ok := h.St.Slab.ReflectGet(target, key)
	if !ok {
		return fmt.Errorf("%w: valueGet %q on handle %d", hosterrors.ErrSlabTypeMismatch, key, target)
	}
	return mv.SetRaw8(sp+32, jsslab.StoreValue(prop.Num, prop.IsRef))
}

// valueSet implements target[key] = value.
func (h *Host) valueSet(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	target, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	key, err := mv.String(sp + 16)
	if err != nil {
		return err
	}
	slot, err := mv.Raw8(sp + 32)
	if err != nil {
		return err
	}
	num, isRef := jsslab.LoadValue(slot)
	return h.St.Slab.ReflectSet(target, key, jsslab.Prop{Num: num, IsRef: isRef})
}

// valueIndex implements target[i] for arrays: index is an i64 slot at
// sp+16, result at sp+24.
func (h *Host) valueIndex(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	target, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	i, err := mv.I64(sp + 16)
	if err != nil {
		return err
	}
	prop, ok := h.St.Slab.ReflectGetIndex(target, int(i))
	if !ok {
		return fmt.Errorf("%w: valueIndex %d on handle %d", hosterrors.ErrSlabTypeMismatch, i, target)
	}
	return mv.SetRaw8(sp+24, jsslab.StoreValue(prop.Num, prop.IsRef))
}

// valueSetIndex implements target[i] = value.
func (h *Host) valueSetIndex(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	target, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	i, err := mv.I64(sp + 16)
	if err != nil {
		return err
	}
	slot, err := mv.Raw8(sp + 24)
	if err != nil {
		return err
	}
	num, isRef := jsslab.LoadValue(slot)
	v, ok := h.St.Slab.GetMut(target)
	if !ok || v.Kind != jsslab.KindArray || int(i) < 0 || int(i) >= len(v.Elems) {
		return fmt.Errorf("%w: valueSetIndex %d on handle %d", hosterrors.ErrSlabTypeMismatch, i, target)
	}
	v.Elems[i] = jsslab.Prop{Num: num, IsRef: isRef}
	return nil
}

// valueLength returns an array's element count.
func (h *Host) valueLength(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	target, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	n, _ := h.St.Slab.ValueLength(target)
	return mv.SetI64(sp+16, n)
}

// valuePrepareString hands the guest a (handle, length) pair for a slab
// String it is about to copy out: the tagged handle at sp+16, the UTF-8
// byte length at sp+24.
func (h *Host) valuePrepareString(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	target, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	v, ok := h.St.Slab.Get(target)
	if !ok || v.Kind != jsslab.KindString {
		return fmt.Errorf("%w: valuePrepareString on handle %d", hosterrors.ErrSlabTypeMismatch, target)
	}
	if err := mv.SetRaw8(sp+16, jsslab.StoreValue(target, true)); err != nil {
		return err
	}
	return mv.SetI64(sp+24, int64(len(v.Str)))
}

// valueLoadString copies a slab String value's bytes into the guest buffer
// described at sp+16 (ptr) / sp+24 (len), truncating to the shorter side.
func (h *Host) valueLoadString(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	target, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	ptr, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	length, err := mv.I64(sp + 24)
	if err != nil {
		return err
	}
	v, ok := h.St.Slab.Get(target)
	if !ok || v.Kind != jsslab.KindString {
		return fmt.Errorf("%w: valueLoadString on handle %d", hosterrors.ErrSlabTypeMismatch, target)
	}
	n := int64(len(v.Str))
	if length < n {
		n = length
	}
	dst, err := mv.Slice(ptr, int32(n))
	if err != nil {
		return err
	}
	copy(dst, v.Str[:n])
	return nil
}

// loadArgs reads a contiguous run of tagged slots starting at ptr: count
// props of 8 bytes each, the guest-side argument array backing valueCall,
// valueNew, and valueInvoke.
func (h *Host) loadArgs(mv *memview.View, ptr int32, count int32) ([]jsslab.Prop, error) {
	args := make([]jsslab.Prop, count)
	for i := int32(0); i < count; i++ {
		slot, err := mv.Raw8(ptr + i*8)
		if err != nil {
			return nil, err
		}
		num, isRef := jsslab.LoadValue(slot)
		args[i] = jsslab.Prop{Num: num, IsRef: isRef}
	}
	return args, nil
}

// valueCall implements target.method(args), dispatched through
// reflectApply by the (object-name, method-name) pair. The argument
// slice descriptor sits at sp+32 (ptr) / sp+40 (len); the result lands
// at sp+56 with its success byte at sp+64.
func (h *Host) valueCall(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	target, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	method, err := mv.String(sp + 16)
	if err != nil {
		return err
	}
	argsPtr, err := mv.I32(sp + 32)
	if err != nil {
		return err
	}
	argc, err := mv.I32(sp + 40)
	if err != nil {
		return err
	}
	args, err := h.loadArgs(mv, argsPtr, argc)
	if err != nil {
		return err
	}
	result, ok, err := h.reflectApply(target, method, args)
	if err != nil {
		return err
	}
	return h.writeResult(mv, sp+56, result, ok)
}

// valueInvoke calls target itself as a function (no method name); routed
// through the same dispatcher with an empty method, matching the few
// reflect_apply routes that key only on the object (e.g. a raw callback
// wrapper).
func (h *Host) valueInvoke(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	target, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	argsPtr, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	argc, err := mv.I32(sp + 24)
	if err != nil {
		return err
	}
	args, err := h.loadArgs(mv, argsPtr, argc)
	if err != nil {
		return err
	}
	result, ok, err := h.reflectApply(target, "", args)
	if err != nil {
		return err
	}
	return h.writeResult(mv, sp+40, result, ok)
}

// valueNew implements `new class(args)`, backed by jsslab.ReflectConstruct.
func (h *Host) valueNew(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	class, err := loadTarget(mv, sp+8)
	if err != nil {
		return err
	}
	argsPtr, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	argc, err := mv.I32(sp + 24)
	if err != nil {
		return err
	}
	args, err := h.loadArgs(mv, argsPtr, argc)
	if err != nil {
		return err
	}
	result, err := h.St.Slab.ReflectConstruct(class, args)
	if err != nil {
		return h.writeResult(mv, sp+40, jsslab.Prop{}, false)
	}
	return h.writeResult(mv, sp+40, result, true)
}

// reflectApply is the method-call dispatcher: routes are keyed on the
// (object-name, method-name) pair recovered from the slab, not on the
// handles themselves.
func (h *Host) reflectApply(target int64, method string, args []jsslab.Prop) (jsslab.Prop, bool, error) {
	obj, ok := h.St.Slab.Get(target)
	if !ok {
		return jsslab.Prop{}, false, fmt.Errorf("%w: (?, %s)", hosterrors.ErrUnknownRoute, method)
	}

	switch {
	case obj.Name == "Date" && method == "getTimezoneOffset":
		return jsslab.Prop{Num: 0, IsRef: false}, true, nil

	case obj.Name == "crypto" && method == "getRandomValues":
		if len(args) < 1 {
			return jsslab.Prop{}, false, nil
		}
		memVal, ok := h.St.Slab.Get(args[0].Num)
		if !ok || memVal.Kind != jsslab.KindMemory {
			return jsslab.Prop{}, false, nil
		}
		mv, err := h.mem()
		if err != nil {
			return jsslab.Prop{}, false, err
		}
		dst, err := mv.Slice(int32(memVal.MemAddr), int32(memVal.MemLen))
		if err != nil {
			return jsslab.Prop{}, false, err
		}
		if _, err := rand.Read(dst); err != nil {
			return jsslab.Prop{}, false, err
		}
		return args[0], true, nil

	case obj.Name == "this" && method == "_makeFuncWrapper":
		if len(args) < 1 {
			return jsslab.Prop{}, false, nil
		}
		wrapper := h.St.Slab.NewObject("wrappedFunc")
		if _, err := h.St.Slab.AddObject(wrapper, "this"); err != nil {
			return jsslab.Prop{}, false, err
		}
		if err := h.St.Slab.AddObjectValue(wrapper, "id", args[0]); err != nil {
			return jsslab.Prop{}, false, err
		}
		return jsslab.Prop{Num: wrapper, IsRef: true}, true, nil

	case obj.Name == "net_listener" && method == "register":
		if len(args) < 1 {
			return jsslab.Prop{}, false, nil
		}
		// The guest passes the callback wrapper built by _makeFuncWrapper;
		// what gets stored is the wrapper's id property, the guest-side
		// closure identifier each readiness pending_event is built around
		// (internal/state.EnqueueReadinessEvent).
		id, ok := h.St.Slab.ReflectGet(args[0].Num, "id")
		if !ok {
			return jsslab.Prop{}, false, fmt.Errorf("%w: net_listener.register callback has no id", hosterrors.ErrSlabTypeMismatch)
		}
		h.St.NetCallbackHandle = id.Num
		return jsslab.Prop{}, true, nil

	case obj.Name == "fs" && method == "write":
		return h.applyFSWrite(args)

	case obj.Name == "fs" && (method == "open" || method == "read" || method == "stat" || method == "fstat" || method == "close"):
		return h.applyFSAsync(method, args)

	case obj.Name == "wasabi" && method == "lookup_ip":
		return h.applyLookupIP(args)

	default:
		return jsslab.Prop{}, false, fmt.Errorf("%w: (%s, %s)", hosterrors.ErrUnknownRoute, obj.Name, method)
	}
}

// applyFSWrite handles the guest's Node-style
// fs.write(fd, buffer, offset, length, position, callback): the buffer is
// args[1], the callback is args[5], and the completion args array echoes
// back [null, args[3]] (the guest's own length argument). Stdout and
// stderr are written synchronously; anything past stderr goes to the
// file slab through the async worker.
func (h *Host) applyFSWrite(args []jsslab.Prop) (jsslab.Prop, bool, error) {
	if len(args) < 6 {
		return jsslab.Prop{}, false, nil
	}
	memVal, ok := h.St.Slab.Get(args[1].Num)
	if !ok || memVal.Kind != jsslab.KindMemory {
		return jsslab.Prop{}, false, nil
	}
	fd := args[0].Num
	callbackHandle := args[5].Num

	mv, err := h.mem()
	if err != nil {
		return jsslab.Prop{}, false, err
	}
	buf, err := mv.Slice(int32(memVal.MemAddr), int32(memVal.MemLen))
	if err != nil {
		return jsslab.Prop{}, false, err
	}

	if fd > 2 {
		h.St.IO.SubmitWrite(callbackHandle, int(fd), append([]byte(nil), buf...))
		return args[3], true, nil
	}

	out := os.Stdout
	if fd == 2 {
		out = os.Stderr
	}
	if _, err := out.Write(buf); err != nil {
		return jsslab.Prop{}, false, err
	}

	if err := h.St.EnqueueCallbackArgs(callbackHandle, []jsslab.Prop{
		{Num: jsslab.HandleNull, IsRef: true},
		args[3],
	}); err != nil {
		return jsslab.Prop{}, false, err
	}
	return args[3], true, nil
}

// applyFSAsync submits the remaining fs operations to the I/O loop's
// single worker, keyed by the callback handle the guest passes as its
// last argument.
func (h *Host) applyFSAsync(method string, args []jsslab.Prop) (jsslab.Prop, bool, error) {
	if len(args) < 2 {
		return jsslab.Prop{}, false, nil
	}
	callbackHandle := args[len(args)-1].Num

	switch method {
	case "open":
		pathVal, ok := h.St.Slab.Get(args[0].Num)
		if !ok || pathVal.Kind != jsslab.KindString {
			return jsslab.Prop{}, false, nil
		}
		mode := int(args[1].Num)
		h.St.IO.SubmitOpen(callbackHandle, pathVal.Str, mode, 0o644)

	case "read":
		fd := int(args[0].Num)
		memVal, ok := h.St.Slab.Get(args[1].Num)
		if !ok || memVal.Kind != jsslab.KindMemory {
			return jsslab.Prop{}, false, nil
		}
		buf := make([]byte, memVal.MemLen)
		// Node's fs.read(fd, buffer, offset, length, position, callback):
		// a null position means "read from the fd's current offset".
		pos := int64(-1)
		if len(args) >= 6 && !(args[4].IsRef && args[4].Num == jsslab.HandleNull) {
			pos = args[4].Num
		}
		h.St.IO.SubmitRead(callbackHandle, fd, buf, pos)

	case "stat":
		pathVal, ok := h.St.Slab.Get(args[0].Num)
		if !ok || pathVal.Kind != jsslab.KindString {
			return jsslab.Prop{}, false, nil
		}
		h.St.IO.SubmitStatPath(callbackHandle, pathVal.Str)

	case "fstat":
		fd := int(args[0].Num)
		h.St.IO.SubmitStat(callbackHandle, fd)

	case "close":
		fd := int(args[0].Num)
		h.St.IO.SubmitClose(callbackHandle, fd)
	}
	return jsslab.Prop{}, true, nil
}

func (h *Host) applyLookupIP(args []jsslab.Prop) (jsslab.Prop, bool, error) {
	if len(args) < 2 {
		return jsslab.Prop{}, false, nil
	}
	hostVal, ok := h.St.Slab.Get(args[0].Num)
	if !ok || hostVal.Kind != jsslab.KindString {
		return jsslab.Prop{}, false, nil
	}
	callbackHandle := args[1].Num
	h.St.IO.SubmitLookupIP(callbackHandle, hostVal.Str)
	return jsslab.Prop{}, true, nil
}
