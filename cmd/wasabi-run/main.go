// Command wasabi-run hosts a single Wasm module compiled from a
// managed-language toolchain that assumes a JavaScript-style embedder.
// It is the CLI surface wrapping internal/hostmodule.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/nmxmxh/wasabi-host/internal/diag"
	"github.com/nmxmxh/wasabi-host/internal/hostmodule"
)

func main() {
	os.Exit(run())
}

func run() int {
	optimize := flag.Bool("o", false, "optimize the compiled module")
	debug := flag.Bool("d", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: wasabi-run [-o] [-d] <module.wasm|module.wat>")
		return 1
	}
	path := flag.Arg(0)

	log := diag.Global().WithComponent("cli")
	if *debug {
		log.SetLevel(diag.Debug)
	}
	if *optimize {
		// wasmer's default compiler already runs its optimization passes;
		// there is no separate switch to flip.
		log.Debug("optimize flag set; wasmer's default compiler already optimizes")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Error("read module file", diag.String("path", path), diag.Err(err))
		return 1
	}

	wasmBytes := raw
	if len(raw) < 4 || string(raw[:4]) != "\x00asm" {
		wasmBytes, err = wasmer.Wat2Wasm(string(raw))
		if err != nil {
			log.Error("convert WAT to Wasm", diag.Err(err))
			return 1
		}
	}

	root, err := os.MkdirTemp("", "wasabi-fsroot-*")
	if err != nil {
		log.Error("create filesystem chroot root", diag.Err(err))
		return 1
	}
	defer os.RemoveAll(root)

	host, err := hostmodule.New(wasmBytes, hostmodule.Config{ChrootRoot: root, Debug: *debug})
	if err != nil {
		log.Error("instantiate guest module", diag.Err(err))
		return 1
	}
	defer host.Close()

	exitCode, err := host.Run(flag.Args())
	if err != nil {
		log.Error("guest trap", diag.Err(err))
		return 1
	}
	return int(exitCode)
}
