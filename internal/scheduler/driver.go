// Package scheduler drives the cooperative single-threaded event loop:
// run the guest until it yields, settle what its next entry call will
// observe, repeat. The guest suspends only at run/resume boundaries, so
// the driver has exclusive hold of the shared state in between.
package scheduler

import (
	"fmt"
	"time"

	"github.com/nmxmxh/wasabi-host/internal/diag"
	"github.com/nmxmxh/wasabi-host/internal/ioloop"
	"github.com/nmxmxh/wasabi-host/internal/state"
)

// GuestEntry invokes a guest export (run on the first call, resume on every
// subsequent one) and reports whether the guest trapped.
type GuestEntry func() error

// Driver alternates between the guest's entry points and the host's
// pending work.
type Driver struct {
	st     *state.State
	run    GuestEntry
	resume GuestEntry
	log    *diag.Logger

	calledOnce bool
}

// New constructs a Driver over st, calling run on the first iteration and
// resume on every iteration after.
func New(st *state.State, run, resume GuestEntry, log *diag.Logger) *Driver {
	return &Driver{st: st, run: run, resume: resume, log: log}
}

// Run executes the loop to completion: guest trap, explicit wasmExit, or
// the terminal synthetic-event pass. It returns the guest's trap error,
// if any; a clean exit (including the guest-requested one recorded on
// State by the wasmExit import) returns nil.
func (d *Driver) Run() error {
	for {
		if err := d.callEntry(); err != nil {
			return fmt.Errorf("scheduler: guest trap: %w", err)
		}

		if d.st.Exited {
			return nil
		}

		if err := d.settleNext(); err != nil {
			return err
		}
	}
}

// settleNext decides what the guest's next entry call will observe. It
// drains I/O, discards expired timeouts, delivers the pending head, or
// suspends the driver until one of those becomes possible. It returns
// once the guest should be re-entered: either this._pendingEvent has
// been set, or a timeout fired and the guest's own runtime will discover
// it on resume.
func (d *Driver) settleNext() error {
	for {
		if err := d.drainIO(); err != nil {
			return err
		}

		// An expired timeout resumes the guest with no pending event; the
		// guest's runtime finds the due timer itself. The entry is popped
		// here so it cannot fire twice.
		if d.st.Timeouts.AnyExpiredTimeouts() {
			return nil
		}

		if d.st.HasPendingEvents() {
			head, _ := d.st.PopPendingEvent()
			if err := d.st.DeliverHeadToThis(head); err != nil {
				return fmt.Errorf("scheduler: deliver pending event: %w", err)
			}
			return nil
		}

		if dur, ok := d.st.Timeouts.DurationWhenExpired(); ok {
			if err := d.waitOnTimeoutOrIO(dur); err != nil {
				return err
			}
			continue
		}

		// With no timeout armed, in-flight I/O or an open socket is the
		// only possible wake source; block on the response channel.
		if d.st.IO.HasPendingWork() {
			if err := d.applyResponse(<-d.st.IO.Responses()); err != nil {
				return err
			}
			continue
		}

		// Nothing remains. Enqueue first, then deliver, so the guest
		// gets one final resume carrying this event before the driver
		// stops on the next pass.
		d.log.Debug("event loop exhausted, enqueueing synthetic exit event")
		d.st.Exited = true
		if err := d.st.EnqueueSyntheticExit(); err != nil {
			return fmt.Errorf("scheduler: enqueue synthetic exit event: %w", err)
		}
		head, _ := d.st.PopPendingEvent()
		if err := d.st.DeliverHeadToThis(head); err != nil {
			return fmt.Errorf("scheduler: deliver synthetic exit event: %w", err)
		}
		return nil
	}
}

func (d *Driver) callEntry() error {
	if !d.calledOnce {
		d.calledOnce = true
		return d.run()
	}
	return d.resume()
}

// drainIO empties the response channel without blocking: each completion
// attaches its result to the originating callback handle (bare readiness
// events instead build the [token, bitmask] args array against the
// registered net callback) and lands on the pending-event FIFO.
func (d *Driver) drainIO() error {
	for {
		select {
		case resp := <-d.st.IO.Responses():
			if err := d.applyResponse(resp); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (d *Driver) applyResponse(resp ioloop.Response) error {
	if resp.Kind == ioloop.KindEvent {
		return d.st.EnqueueReadinessEvent(resp.Token, resp.Readiness)
	}
	d.st.IO.AckCompletion()
	result, err := d.st.BuildResultProp(resp)
	if err != nil {
		return err
	}
	return d.st.AttachResultAndEnqueue(resp.ID, result)
}

// waitOnTimeoutOrIO suspends the driver until the next timeout's deadline
// or until an I/O response wakes it first. The caller re-runs its checks
// afterwards, so this only applies whatever woke it.
func (d *Driver) waitOnTimeoutOrIO(dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case resp := <-d.st.IO.Responses():
		return d.applyResponse(resp)
	}
}
