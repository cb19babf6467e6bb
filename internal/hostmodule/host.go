// Package hostmodule wires the pieces into one running guest instance:
// the wasmer-go engine/store/module/instance lifecycle, the host-import
// table registered under the "go" namespace the guest's managed-language
// toolchain expects, the memory-export binding, and the arg-vector
// startup glue.
package hostmodule

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/nmxmxh/wasabi-host/internal/diag"
	"github.com/nmxmxh/wasabi-host/internal/hosterrors"
	"github.com/nmxmxh/wasabi-host/internal/hostfuncs"
	"github.com/nmxmxh/wasabi-host/internal/ioloop"
	"github.com/nmxmxh/wasabi-host/internal/jsslab"
	"github.com/nmxmxh/wasabi-host/internal/memview"
	"github.com/nmxmxh/wasabi-host/internal/scheduler"
	"github.com/nmxmxh/wasabi-host/internal/state"
	"github.com/nmxmxh/wasabi-host/internal/timeoutheap"
)

// importNamespace is the single wasm import module name every host
// function is registered under: the managed toolchain's js/wasm ABI
// imports everything from one module ("go"), distinguishing operations
// by the dotted field name alone ("runtime.wasmExit",
// "syscall/js.valueGet", ...).
const importNamespace = "go"

// Config controls instantiation policy.
type Config struct {
	// ChrootRoot scopes every guest filesystem path argument.
	ChrootRoot string
	// Debug raises the host logger to DEBUG (the -d flag).
	Debug bool
}

// Host owns one guest module instance and the shared state every host
// import operates on.
type Host struct {
	id  uuid.UUID
	log *diag.Logger

	engine   *wasmer.Engine
	store    *wasmer.Store
	module   *wasmer.Module
	instance *wasmer.Instance

	st *state.State
}

// wasmerMemory adapts *wasmer.Memory to memview.Provider. Its Data()
// slice is re-fetched by the caller on every access rather than cached,
// since wasmer-go returns a fresh slice header after the guest grows
// memory.
type wasmerMemory struct{ mem *wasmer.Memory }

func (m *wasmerMemory) Bytes() []byte { return m.mem.Data() }

// New compiles wasmBytes, builds the full host-import table, instantiates
// the module, and binds its "mem" export. The returned Host is ready for
// Run.
func New(wasmBytes []byte, cfg Config) (*Host, error) {
	id := uuid.New()
	log := diag.New("wasabi-host").WithComponent(id.String()[:8])
	if cfg.Debug {
		log.SetLevel(diag.Debug)
	}

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("hostmodule: compile module: %w", err)
	}

	io, err := ioloop.New(cfg.ChrootRoot)
	if err != nil {
		return nil, fmt.Errorf("hostmodule: start io loop: %w", err)
	}

	st := state.New(jsslab.New(), timeoutheap.New(), io)
	dispatch := hostfuncs.New(st, log)

	importObject := wasmer.NewImportObject()
	importObject.Register(importNamespace, buildImports(store, dispatch))

	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		io.Close()
		return nil, fmt.Errorf("hostmodule: instantiate: %w", err)
	}

	mem, err := instance.Exports.GetMemory("mem")
	if err != nil {
		io.Close()
		return nil, fmt.Errorf("%w: memory export %q: %v", hosterrors.ErrMissingExport, "mem", err)
	}
	st.SetMemory(memview.New(&wasmerMemory{mem: mem}))

	return &Host{
		id: id, log: log,
		engine: engine, store: store, module: module, instance: instance,
		st: st,
	}, nil
}

// buildImports wraps every entry of the host-import dispatch table in a
// wasmer.Function with the fixed (i32) -> () signature, returning the
// extern map ready for ImportObject.Register.
func buildImports(store *wasmer.Store, dispatch *hostfuncs.Host) map[string]wasmer.IntoExtern {
	sig := wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes())

	externs := make(map[string]wasmer.IntoExtern)
	for name, fn := range dispatch.Table() {
		fn := fn
		externs[name] = wasmer.NewFunction(store, sig, func(args []wasmer.Value) ([]wasmer.Value, error) {
			sp := args[0].I32()
			if err := fn(sp); err != nil {
				return nil, err
			}
			return []wasmer.Value{}, nil
		})
	}
	return externs
}

// Run writes the guest argument vector, resolves the run/resume exports,
// and drives the scheduler loop to completion. It returns the process
// exit code: 0 on a clean finish, the guest-requested wasmExit(code)
// otherwise.
func (h *Host) Run(args []string) (exitCode int32, err error) {
	mv, err := h.st.RequireMemory()
	if err != nil {
		return 1, err
	}

	argc, argv, err := WriteArgs(mv, args)
	if err != nil {
		return 1, fmt.Errorf("hostmodule: write arg vector: %w", err)
	}

	runFn, err := h.instance.Exports.GetFunction("run")
	if err != nil {
		return 1, fmt.Errorf("%w: export %q: %v", hosterrors.ErrMissingExport, "run", err)
	}
	resumeFn, err := h.instance.Exports.GetFunction("resume")
	if err != nil {
		return 1, fmt.Errorf("%w: export %q: %v", hosterrors.ErrMissingExport, "resume", err)
	}

	driver := scheduler.New(h.st,
		func() error {
			_, err := runFn(argc, argv)
			return err
		},
		func() error {
			_, err := resumeFn()
			return err
		},
		h.log,
	)

	if err := driver.Run(); err != nil {
		return 1, err
	}
	return h.st.ExitCode, nil
}

// Close releases the host's I/O loop background goroutines and every open
// connection/file slab entry.
func (h *Host) Close() error {
	return h.st.IO.Close()
}
