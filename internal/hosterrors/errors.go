// Package hosterrors defines the error taxonomy shared by the host-import
// dispatch, the I/O loop, and the scheduler driver.
package hosterrors

import "errors"

// Sentinel errors for the fatal half of the taxonomy. Anything that
// reaches the driver wrapped in one of these means the guest or the
// embedder violated the ABI contract and execution must abort.
var (
	ErrInvalidAddress   = errors.New("invalid memory address")
	ErrMissingExport    = errors.New("missing required guest export")
	ErrUnknownRoute     = errors.New("unknown (object, method) route")
	ErrSlabTypeMismatch = errors.New("slab value has unexpected type")
)

// Non-fatal I/O-layer sentinels: malformed socket addresses and chroot
// escapes surface to the guest as an error slab object, the same as a
// failed connect or a missing file. They are not guest ABI violations,
// so they stay distinct from ErrInvalidAddress.
var (
	ErrBadSocketAddress = errors.New("malformed socket address")
	ErrPathEscapesRoot  = errors.New("path escapes chroot root")
)
