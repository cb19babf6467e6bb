// Package jsslab implements the JS-value slab: a vector-backed arena with
// stable int64 handles emulating the JavaScript value graph the guest's
// runtime expects from its embedder. The arena is owned exclusively by the
// single driver thread, so it carries no locking of its own.
package jsslab

import (
	"fmt"

	"github.com/nmxmxh/wasabi-host/internal/hosterrors"
)

// Kind discriminates the tagged-union Value variants.
type Kind uint8

const (
	KindNaN Kind = iota
	KindNull
	KindTrue
	KindFalse
	KindInt
	KindString
	KindBytes
	KindMemory
	KindObject
	KindArray
)

// Prop is a property/element value: an i64 paired with a bool tagging
// whether the i64 is a slab handle (true) or an unboxed integer (false).
type Prop struct {
	Num   int64
	IsRef bool
}

// Value is one slab entry. Only the fields relevant to Kind are populated.
type Value struct {
	Kind Kind

	Int int32 // KindInt

	Str string // KindString

	Data []byte // KindBytes

	MemAddr int64 // KindMemory
	MemLen  int64 // KindMemory

	Name   string          // KindObject: static class/instance name
	Values map[string]Prop // KindObject: property bag

	Elems []Prop // KindArray
}

// Fixed slab indices the guest's runtime hard-codes.
const (
	HandleNaN     = 0
	HandleIntZero = 1
	HandleNull    = 2
	HandleTrue    = 3
	HandleFalse   = 4
	HandleGlobal  = 5
	HandleMem     = 6
	HandleThis    = 7
)

// fs.constants open-mode bitmask, mirroring Node's fs constants.
const (
	OWRONLY = 1
	ORDWR   = 2
	OCREAT  = 64
	OTRUNC  = 512
	OAPPEND = 1024
	OEXCL   = 128
)

// Slab is the value arena: append-only, stable int64 handles, no removal.
// Indices 0-7 are fixed for the life of the process.
type Slab struct {
	values []Value
}

// New constructs a Slab with the eight fixed indices and the global object
// graph pre-populated: fs (+ constants), crypto, Date, the typed-array
// constructors, process, and the wasabi namespace.
func New() *Slab {
	s := &Slab{values: make([]Value, 0, 64)}

	s.Insert(Value{Kind: KindNaN})
	s.Insert(Value{Kind: KindInt, Int: 0})
	s.Insert(Value{Kind: KindNull})
	s.Insert(Value{Kind: KindTrue})
	s.Insert(Value{Kind: KindFalse})
	global := s.NewObject("global")
	s.Insert(Value{Kind: KindMemory, MemAddr: 0, MemLen: 0})
	this := s.NewObject("this")

	fs, _ := s.AddObject(global, "fs")
	constants, _ := s.AddObject(fs, "constants")
	s.setUint(constants, "O_WRONLY", OWRONLY)
	s.setUint(constants, "O_RDWR", ORDWR)
	s.setUint(constants, "O_CREAT", OCREAT)
	s.setUint(constants, "O_TRUNC", OTRUNC)
	s.setUint(constants, "O_APPEND", OAPPEND)
	s.setUint(constants, "O_EXCL", OEXCL)

	s.mustAddObject(global, "crypto")

	s.mustAddObject(global, "Date")
	for _, name := range []string{"Uint8Array", "Int8Array", "Uint16Array", "Int16Array", "Int32Array", "Uint32Array", "Float32Array", "Float64Array"} {
		s.mustAddObject(global, name)
	}
	s.mustAddObject(global, "process")

	wasabiNS, _ := s.AddObject(global, "wasabi")
	s.mustAddObject(wasabiNS, "lookup_ip")
	s.mustAddObject(wasabiNS, "net_listener")

	s.mustAddObject(this, "_pendingEvent")
	s.mustAddObject(this, "_makeFuncWrapper")

	return s
}

func (s *Slab) setUint(obj int64, name string, val int) {
	_ = s.AddObjectValue(obj, name, Prop{Num: int64(val), IsRef: false})
}

func (s *Slab) mustAddObject(parent int64, name string) int64 {
	h, err := s.AddObject(parent, name)
	if err != nil {
		panic(err)
	}
	return h
}

// NewObject creates an empty detached object (no parent property entry)
// and returns its handle.
func (s *Slab) NewObject(name string) int64 {
	return s.Insert(Value{Kind: KindObject, Name: name, Values: map[string]Prop{}})
}

// NewArray creates a detached array of elements and returns its handle.
func (s *Slab) NewArray(elements []Prop) int64 {
	cp := make([]Prop, len(elements))
	copy(cp, elements)
	return s.Insert(Value{Kind: KindArray, Elems: cp})
}

// Insert appends value and returns its stable handle.
func (s *Slab) Insert(v Value) int64 {
	h := int64(len(s.values))
	s.values = append(s.values, v)
	return h
}

// Get returns a read-only view of handle h.
func (s *Slab) Get(h int64) (*Value, bool) {
	if h < 0 || int(h) >= len(s.values) {
		return nil, false
	}
	return &s.values[h], true
}

// GetMut returns a mutable view of handle h; the slice backing is
// addressable so callers may mutate in place.
func (s *Slab) GetMut(h int64) (*Value, bool) {
	if h < 0 || int(h) >= len(s.values) {
		return nil, false
	}
	return &s.values[h], true
}

// AddObject creates an empty object, installs it on parent under name, and
// returns the new handle. Fails if parent is not an object.
func (s *Slab) AddObject(parent int64, name string) (int64, error) {
	p, ok := s.GetMut(parent)
	if !ok || p.Kind != KindObject {
		return 0, fmt.Errorf("jsslab: AddObject: parent %d is not an object", parent)
	}
	h := s.Insert(Value{Kind: KindObject, Name: name, Values: map[string]Prop{}})
	p.Values[name] = Prop{Num: h, IsRef: true}
	return h, nil
}

// AddArray creates an array of elements, installs it on parent under name,
// and returns the new handle.
func (s *Slab) AddArray(parent int64, name string, elements []Prop) (int64, error) {
	p, ok := s.GetMut(parent)
	if !ok || p.Kind != KindObject {
		return 0, fmt.Errorf("jsslab: AddArray: parent %d is not an object", parent)
	}
	cp := make([]Prop, len(elements))
	copy(cp, elements)
	h := s.Insert(Value{Kind: KindArray, Elems: cp})
	p.Values[name] = Prop{Num: h, IsRef: true}
	return h, nil
}

// AddObjectValue sets parent[name] = value directly (value need not be a
// freshly created handle).
func (s *Slab) AddObjectValue(parent int64, name string, value Prop) error {
	p, ok := s.GetMut(parent)
	if !ok || p.Kind != KindObject {
		return fmt.Errorf("jsslab: AddObjectValue: parent %d is not an object", parent)
	}
	p.Values[name] = value
	return nil
}

// ReflectGet looks up target[key]. Returns ok=false if target is not an
// object or key is absent.
func (s *Slab) ReflectGet(target int64, key string) (Prop, bool) {
	t, ok := s.Get(target)
	if !ok || t.Kind != KindObject {
		return Prop{}, false
	}
	v, ok := t.Values[key]
	return v, ok
}

// ReflectGetIndex looks up arrayHandle[i].
func (s *Slab) ReflectGetIndex(arrayHandle int64, i int) (Prop, bool) {
	a, ok := s.Get(arrayHandle)
	if !ok || a.Kind != KindArray {
		return Prop{}, false
	}
	if i < 0 || i >= len(a.Elems) {
		return Prop{}, false
	}
	return a.Elems[i], true
}

// ReflectSet sets target[key] = value on an object.
func (s *Slab) ReflectSet(target int64, key string, value Prop) error {
	t, ok := s.GetMut(target)
	if !ok || t.Kind != KindObject {
		return hosterrors.ErrSlabTypeMismatch
	}
	t.Values[key] = value
	return nil
}

// ValueLength returns an array's element count.
func (s *Slab) ValueLength(handle int64) (int64, bool) {
	v, ok := s.Get(handle)
	if !ok || v.Kind != KindArray {
		return 0, false
	}
	return int64(len(v.Elems)), true
}

// NewPendingEvent builds a "pending_event" Object{id, result, this, args}
// the way the guest-facing event queue expects: id is stored unboxed,
// result starts out Null, this is a fresh empty object, and args is the
// given element list.
func (s *Slab) NewPendingEvent(id int64, args []Prop) (int64, error) {
	pe := s.Insert(Value{Kind: KindObject, Name: "pending_event", Values: map[string]Prop{}})
	if err := s.AddObjectValue(pe, "id", Prop{Num: id, IsRef: false}); err != nil {
		return 0, err
	}
	if err := s.AddObjectValue(pe, "result", Prop{Num: HandleNull, IsRef: true}); err != nil {
		return 0, err
	}
	if _, err := s.AddObject(pe, "this"); err != nil {
		return 0, err
	}
	if _, err := s.AddArray(pe, "args", args); err != nil {
		return 0, err
	}
	return pe, nil
}

// ReflectConstruct implements the `new Class(args)` routes the guest
// emulation relies on: Uint8Array builds a Memory view over
// the given address/length, Date is a no-op identity constructor, and
// net_listener builds a fresh object carrying a register method marker.
// Unknown classes fail.
func (s *Slab) ReflectConstruct(classHandle int64, args []Prop) (Prop, error) {
	class, ok := s.Get(classHandle)
	if !ok || class.Kind != KindObject {
		return Prop{}, fmt.Errorf("jsslab: ReflectConstruct: %d is not a class", classHandle)
	}
	switch class.Name {
	case "Uint8Array":
		if len(args) < 3 {
			return Prop{}, fmt.Errorf("jsslab: Uint8Array construct: need address and length args")
		}
		h := s.Insert(Value{Kind: KindMemory, MemAddr: args[1].Num, MemLen: args[2].Num})
		return Prop{Num: h, IsRef: true}, nil
	case "Date":
		return Prop{Num: classHandle, IsRef: true}, nil
	case "net_listener":
		h := s.NewObject("net_listener")
		s.mustAddObject(h, "register")
		return Prop{Num: h, IsRef: true}, nil
	default:
		return Prop{}, fmt.Errorf("jsslab: ReflectConstruct: unknown class %q", class.Name)
	}
}
