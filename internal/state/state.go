// Package state assembles the per-instance shared state: memory view,
// JS-value slab, timeout heap, pending-event FIFO, I/O loop, and the
// net-callback handle, all owned exclusively by the driver thread.
package state

import (
	"github.com/nmxmxh/wasabi-host/internal/hosterrors"
	"github.com/nmxmxh/wasabi-host/internal/ioloop"
	"github.com/nmxmxh/wasabi-host/internal/jsslab"
	"github.com/nmxmxh/wasabi-host/internal/memview"
	"github.com/nmxmxh/wasabi-host/internal/timeoutheap"
)

// State is the per-instance aggregate the guest and every host import
// share; one instance per module.
type State struct {
	Mem      *memview.View
	Slab     *jsslab.Slab
	Timeouts *timeoutheap.Heap
	IO       *ioloop.Loop

	// NetCallbackHandle is the guest closure id recovered from the wrapper
	// object the guest passes to net_listener.register (the id property,
	// not the wrapper's own slab handle). Zero means no listener
	// registered.
	NetCallbackHandle int64
	Exited            bool
	ExitCode          int32

	pending []int64
}

// New wires the four owned components into one State. mem is attached once
// the instance's memory export is known (see internal/hostmodule), so it is
// set separately via SetMemory.
func New(slab *jsslab.Slab, timeouts *timeoutheap.Heap, io *ioloop.Loop) *State {
	return &State{Slab: slab, Timeouts: timeouts, IO: io}
}

// SetMemory attaches the guest's linear-memory view once the module export
// is resolved.
func (s *State) SetMemory(mem *memview.View) { s.Mem = mem }

// EnqueuePendingEvent pushes handle onto the pending-event FIFO; the head
// is the event the guest observes on its next resume.
func (s *State) EnqueuePendingEvent(handle int64) {
	s.pending = append(s.pending, handle)
}

// PopPendingEvent pops the FIFO head.
func (s *State) PopPendingEvent() (int64, bool) {
	if len(s.pending) == 0 {
		return 0, false
	}
	h := s.pending[0]
	s.pending = s.pending[1:]
	return h, true
}

// HasPendingEvents reports whether the FIFO is non-empty.
func (s *State) HasPendingEvents() bool { return len(s.pending) > 0 }

// AttachResultAndEnqueue attaches a completion's result onto the slab
// object associated with the originating callback handle and pushes that
// handle onto the pending-event FIFO.
func (s *State) AttachResultAndEnqueue(callbackHandle int64, result jsslab.Prop) error {
	if err := s.Slab.ReflectSet(callbackHandle, "result", result); err != nil {
		return err
	}
	s.EnqueuePendingEvent(callbackHandle)
	return nil
}

// EnqueueCallbackArgs sets handle.args = args (the Node-callback-style
// (err, ...) argument list) and pushes handle onto the pending FIFO. Used
// both by the readiness-event branch below and by the fs.write reflect_apply
// route (internal/hostfuncs), which delivers its completion the same way a
// real Node fs callback would.
func (s *State) EnqueueCallbackArgs(handle int64, args []jsslab.Prop) error {
	if _, err := s.Slab.AddArray(handle, "args", args); err != nil {
		return err
	}
	s.EnqueuePendingEvent(handle)
	return nil
}

// EnqueueReadinessEvent builds an args array of [token, bitmask] for a
// poller event and enqueues a pending event bound to the registered net
// callback. The registered value is the guest closure id recovered from
// the callback wrapper's id property at net_listener.register time, so
// each event becomes a fresh pending_event object carrying that id.
func (s *State) EnqueueReadinessEvent(token int, r ioloop.Readiness) error {
	if s.NetCallbackHandle == 0 {
		return nil
	}
	mask := readinessBitmask(r)
	pe, err := s.Slab.NewPendingEvent(s.NetCallbackHandle, []jsslab.Prop{
		{Num: int64(token), IsRef: false},
		{Num: int64(mask), IsRef: false},
	})
	if err != nil {
		return err
	}
	s.EnqueuePendingEvent(pe)
	return nil
}

func readinessBitmask(r ioloop.Readiness) int {
	mask := 0
	if r.Readable {
		mask |= 1
	}
	if r.Writable {
		mask |= 2
	}
	if r.Hup {
		mask |= 4
	}
	if r.Error {
		mask |= 8
	}
	return mask
}

// EnqueueSyntheticExit enqueues the terminal pending_event{id=0} the guest
// answers with a stack dump. A pending event is always a full
// Object{id, result, this, args}, never a bare primitive handle, so this
// builds the usual shape with id 0 and no args.
func (s *State) EnqueueSyntheticExit() error {
	pe, err := s.Slab.NewPendingEvent(0, nil)
	if err != nil {
		return err
	}
	s.EnqueuePendingEvent(pe)
	return nil
}

// DeliverHeadToThis sets this._pendingEvent to handle, the final step
// before re-entering the guest.
func (s *State) DeliverHeadToThis(handle int64) error {
	return s.Slab.ReflectSet(jsslab.HandleThis, "_pendingEvent", jsslab.Prop{Num: handle, IsRef: true})
}

// BuildResultProp turns one ioloop.Response into the (i64, bool) property
// the scheduler attaches to the originating callback handle's "result"
// field, materializing slab objects for the variants that carry owned
// data.
func (s *State) BuildResultProp(resp ioloop.Response) (jsslab.Prop, error) {
	switch resp.Kind {
	case ioloop.KindFileRef:
		return jsslab.Prop{Num: int64(resp.FD), IsRef: false}, nil

	case ioloop.KindRead:
		h := s.Slab.Insert(jsslab.Value{Kind: jsslab.KindBytes, Data: append([]byte(nil), resp.Buf...)})
		return jsslab.Prop{Num: h, IsRef: true}, nil

	case ioloop.KindIps:
		elemHandles := make([]jsslab.Prop, len(resp.IPs))
		for i, ip := range resp.IPs {
			h := s.Slab.Insert(jsslab.Value{Kind: jsslab.KindBytes, Data: []byte{ip[0], ip[1], ip[2], ip[3]}})
			elemHandles[i] = jsslab.Prop{Num: h, IsRef: true}
		}
		arr := s.Slab.NewArray(elemHandles)
		return jsslab.Prop{Num: arr, IsRef: true}, nil

	case ioloop.KindMetadata:
		obj := s.Slab.NewObject("metadata")
		if err := s.Slab.AddObjectValue(obj, "size", jsslab.Prop{Num: resp.Meta.Size}); err != nil {
			return jsslab.Prop{}, err
		}
		isDir := jsslab.Prop{Num: jsslab.HandleFalse, IsRef: true}
		if resp.Meta.IsDir {
			isDir = jsslab.Prop{Num: jsslab.HandleTrue, IsRef: true}
		}
		if err := s.Slab.AddObjectValue(obj, "isDirectory", isDir); err != nil {
			return jsslab.Prop{}, err
		}
		return jsslab.Prop{Num: obj, IsRef: true}, nil

	case ioloop.KindError:
		errObj, err := s.NewErrorObject(ioErrorCode(resp.EKind), resp.Msg)
		if err != nil {
			return jsslab.Prop{}, err
		}
		return jsslab.Prop{Num: errObj, IsRef: true}, nil

	default: // KindSuccess
		return jsslab.Prop{Num: jsslab.HandleTrue, IsRef: true}, nil
	}
}

// NewErrorObject builds the error slab object host imports hand back to
// the guest on a non-fatal failure: code carries the POSIX-style error
// name, message the underlying text.
func (s *State) NewErrorObject(code, msg string) (int64, error) {
	codeHandle := s.Slab.Insert(jsslab.Value{Kind: jsslab.KindString, Str: code})
	msgHandle := s.Slab.Insert(jsslab.Value{Kind: jsslab.KindString, Str: msg})
	obj := s.Slab.NewObject("error")
	if err := s.Slab.AddObjectValue(obj, "code", jsslab.Prop{Num: codeHandle, IsRef: true}); err != nil {
		return 0, err
	}
	if err := s.Slab.AddObjectValue(obj, "message", jsslab.Prop{Num: msgHandle, IsRef: true}); err != nil {
		return 0, err
	}
	return obj, nil
}

func ioErrorCode(k ioloop.ErrorKind) string {
	switch k {
	case ioloop.ErrorKindNotFound:
		return "ENOENT"
	case ioloop.ErrorKindAlreadyExists:
		return "EEXIST"
	case ioloop.ErrorKindPermission:
		return "EACCES"
	default:
		return "EIO"
	}
}

// RequireMemory returns an error if the memory view has not been attached
// yet, guarding callers that would otherwise nil-deref.
func (s *State) RequireMemory() (*memview.View, error) {
	if s.Mem == nil {
		return nil, hosterrors.ErrMissingExport
	}
	return s.Mem, nil
}
