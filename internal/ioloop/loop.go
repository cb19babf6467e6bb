//go:build linux

package ioloop

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/multierr"
)

// task is one unit of work handed to the single async worker goroutine;
// with one worker, order of completion equals order of submission.
type task func() Response

// Loop is the background I/O layer: a readiness poller goroutine, a
// single async-worker goroutine, and the response channel that is their
// only communication path back to the driver.
type Loop struct {
	conns *slabPool[netResource]
	files *slabPool[fileEntry]
	root  string

	poller *poller

	responses chan Response
	tasks     chan task

	resolver *dnsResolver

	// inflight counts submitted-but-unacknowledged operations. Submissions
	// and acknowledgements both happen on the driver thread, so this is a
	// plain counter: submit increments it, the driver calls AckCompletion
	// once per delivered non-Event response.
	inflight int

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// New constructs and starts the loop's background goroutines. chrootRoot
// scopes every filesystem path argument.
func New(chrootRoot string) (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	l := &Loop{
		conns:     newSlabPool[netResource](),
		files:     newSlabPool[fileEntry](),
		poller:    p,
		responses: make(chan Response, 256),
		tasks:     make(chan task, 256),
		resolver:  newDNSResolver(),
		done:      make(chan struct{}),
	}
	l.root = chrootRoot

	// The first three file slots mirror the process's standard streams so
	// the fds handed back for opened files line up with POSIX numbering;
	// closeFile never touches them.
	l.files.insert(fileEntry{f: os.Stdin})
	l.files.insert(fileEntry{f: os.Stdout})
	l.files.insert(fileEntry{f: os.Stderr})

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		l.poller.run(l.responses)
	}()
	go func() {
		defer l.wg.Done()
		l.runWorker()
	}()
	return l, nil
}

func (l *Loop) runWorker() {
	for {
		select {
		case t := <-l.tasks:
			select {
			case l.responses <- t():
			case <-l.done:
				return
			}
		case <-l.done:
			return
		}
	}
}

// submit enqueues fn to run on the single worker goroutine; its result is
// delivered on Responses(). Submission order equals completion order.
func (l *Loop) submit(fn task) {
	l.inflight++
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// AckCompletion records that the driver consumed one submitted operation's
// response. Every non-Event Response must be acknowledged exactly once so
// HasPendingWork stays accurate.
func (l *Loop) AckCompletion() {
	if l.inflight > 0 {
		l.inflight--
	}
}

// HasPendingWork reports whether the loop still owes the driver anything:
// a submitted operation that has not completed, or an open socket whose
// readiness events may still arrive. The driver uses this to decide
// between blocking on Responses() and declaring the event loop
// exhausted.
func (l *Loop) HasPendingWork() bool {
	return l.inflight > 0 || l.conns.count() > 0
}

// Responses is the channel every completion and readiness event arrives
// on, in the order the background goroutines produced them.
func (l *Loop) Responses() <-chan Response {
	return l.responses
}

// Close shuts down both background goroutines and releases all slab
// resources, aggregating per-resource close errors with multierr.
func (l *Loop) Close() error {
	var errs error
	l.closeOnce.Do(func() {
		close(l.done)
		errs = multierr.Append(errs, l.poller.close())
		for i := range l.conns.entries {
			if l.conns.occupied[i] {
				if err := l.CloseConn(i); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("ioloop: close conn %d: %w", i, err))
				}
			}
		}
		for i := range l.files.entries {
			if l.files.occupied[i] {
				if err := l.closeFile(i); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("ioloop: close file %d: %w", i, err))
				}
			}
		}
		l.wg.Wait()
	})
	return errs
}
