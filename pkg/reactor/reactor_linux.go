/*
   Copyright 2020 Docker Compose CLI authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package reactor multiplexes signals, deadlines and readable descriptors
// into one stream of events.
//
// A Loop is driven by a single goroutine calling Poll repeatedly. Every call
// returns exactly one Event:
//
//   - Signal: a termination signal (SIGINT, SIGTERM, SIGQUIT) or a reaped child
//   - Timeout: the earliest scheduled deadline became due
//   - Input: a registered descriptor became readable
//
// Before every blocking wait the loop asks its reaper.Checker whether a child
// already exited. SIGCHLD is coalesced by the kernel, so reading it is only
// used to wake the loop up, never to count exits.
package reactor

import (
	"context"
	"fmt"
	"io"
	"math"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/stepvisor/stepvisor/internal/handle"
	"github.com/stepvisor/stepvisor/pkg/api"
	"github.com/stepvisor/stepvisor/pkg/reaper"
	"github.com/stepvisor/stepvisor/pkg/signals"
	"github.com/stepvisor/stepvisor/pkg/timerqueue"
)

const maxEvents = 16

// signalSource is what the loop needs from signals.Channel
type signalSource interface {
	Fd() int
	Read() (syscall.Signal, error)
	Close() error
}

type waitFunc func(epfd int, events []unix.EpollEvent, msec int) (int, error)

// Loop is the event reactor. It is not safe for concurrent use: one
// goroutine registers inputs and timers and calls Poll.
//
// Input descriptors are borrowed, the loop never closes them. They must stay
// open for as long as they are registered.
type Loop[N any] struct {
	epoll   *handle.Handle
	wake    *handle.Handle
	sigs    signalSource
	wait    waitFunc
	checker reaper.Checker
	timers  *timerqueue.Queue[N]
	inputs  map[int]N
	events  []unix.EpollEvent
	log     logrus.FieldLogger
}

// New creates the epoll instance, the signal channel and the wake
// descriptor, and watches the latter two. Any failure releases what was
// already created and matches api.ErrResourceCreationFailed.
func New[N any](opts ...Option) (_ *Loop[N], retErr error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	epoll, err := handle.EpollCreate()
	if err != nil {
		return nil, api.ResourceCreationFailed(err, "epoll instance")
	}
	defer func() {
		if retErr != nil {
			_ = epoll.Close()
		}
	}()

	sigs, err := signals.New(o.signals...)
	if err != nil {
		return nil, api.ResourceCreationFailed(err, "signal channel")
	}
	defer func() {
		if retErr != nil {
			_ = sigs.Close()
		}
	}()

	wake, err := handle.Eventfd()
	if err != nil {
		return nil, api.ResourceCreationFailed(err, "wake descriptor")
	}
	defer func() {
		if retErr != nil {
			_ = wake.Close()
		}
	}()

	l := &Loop[N]{
		epoll:   epoll,
		wake:    wake,
		sigs:    sigs,
		wait:    unix.EpollWait,
		checker: o.checker,
		timers:  timerqueue.New[N](o.clock),
		inputs:  map[int]N{},
		events:  make([]unix.EpollEvent, maxEvents),
		log:     o.logger,
	}
	if err := l.watch(sigs.Fd()); err != nil {
		return nil, api.ResourceCreationFailed(err, "watch signal channel")
	}
	if err := l.watch(wake.Fd()); err != nil {
		return nil, api.ResourceCreationFailed(err, "watch wake descriptor")
	}
	return l, nil
}

func (l *Loop[N]) watch(fd int) error {
	event := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(l.epoll.Fd(), unix.EPOLL_CTL_ADD, fd, &event)
}

// AddTimeout schedules name to be reported once d has elapsed.
func (l *Loop[N]) AddTimeout(d time.Duration, name N) timerqueue.ID {
	return l.timers.Schedule(d, name)
}

// CancelTimeout drops a pending timeout. It returns false if the timeout
// was already reported or cancelled.
func (l *Loop[N]) CancelTimeout(id timerqueue.ID) bool {
	return l.timers.Cancel(id)
}

// PendingTimeouts returns the number of scheduled timeouts not yet reported.
func (l *Loop[N]) PendingTimeouts() int {
	return l.timers.Len()
}

// AddInput watches a borrowed descriptor, typically an *os.File, for
// readability. conn is not closed by the loop.
func (l *Loop[N]) AddInput(conn syscall.Conn, name N) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "add input")
	}
	fd := -1
	if err := raw.Control(func(u uintptr) {
		fd = int(u)
	}); err != nil {
		return errors.Wrap(err, "add input")
	}
	return l.AddInputFD(fd, name)
}

// AddInputFD watches a borrowed raw descriptor for readability.
func (l *Loop[N]) AddInputFD(fd int, name N) error {
	if _, ok := l.inputs[fd]; ok || fd == l.sigs.Fd() || fd == l.wake.Fd() {
		return errors.Wrapf(api.ErrAlreadyRegistered, "descriptor %d", fd)
	}
	if err := l.watch(fd); err != nil {
		return errors.Wrapf(err, "watch descriptor %d", fd)
	}
	l.inputs[fd] = name
	return nil
}

// RemoveInput stops watching fd. The descriptor may already be closed.
func (l *Loop[N]) RemoveInput(fd int) error {
	if _, ok := l.inputs[fd]; !ok {
		return errors.Wrapf(api.ErrNotRegistered, "descriptor %d", fd)
	}
	delete(l.inputs, fd)
	err := unix.EpollCtl(l.epoll.Fd(), unix.EPOLL_CTL_DEL, fd, nil)
	// closing a descriptor already removes it from the interest list
	if err != nil && err != unix.EBADF && err != unix.ENOENT {
		return errors.Wrapf(err, "unwatch descriptor %d", fd)
	}
	return nil
}

// Poll blocks until one event is available and returns it. It returns
// ctx.Err() once ctx is done, an error matching api.ErrWaitFailed or
// api.ErrSignalReadFailed if the kernel resources broke, and never reports
// interruptions or spurious wake ups.
func (l *Loop[N]) Poll(ctx context.Context) (Event[N], error) {
	stop := context.AfterFunc(ctx, l.interrupt)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return Event[N]{}, err
		}
		// must run before blocking, a coalesced SIGCHLD may hide this exit
		if exit, ok := l.checker.Check(); ok {
			l.log.WithFields(logrus.Fields{
				"pid":    exit.Pid,
				"status": exit.Status,
			}).Debug("child exited")
			return SignalEvent[N](ChildExited(exit)), nil
		}

		n, err := l.wait(l.epoll.Fd(), l.events, l.timeout())
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return Event[N]{}, fmt.Errorf("epoll_wait: %w: %w", api.ErrWaitFailed, err)
		case n == 0:
			if ev, ok := l.due(); ok {
				return ev, nil
			}
			continue
		}

		ev, ok, err := l.dispatch(l.events[:n])
		if err != nil {
			return Event[N]{}, err
		}
		if ok {
			return ev, nil
		}
	}
}

// MustPoll polls without cancellation and exits the process if the
// loop's kernel resources fail.
func (l *Loop[N]) MustPoll() Event[N] {
	ev, err := l.Poll(context.Background())
	if err != nil {
		l.log.WithField("error", err).Fatal("event loop failed")
	}
	return ev
}

// timeout returns the epoll_wait timeout in milliseconds, -1 to block.
func (l *Loop[N]) timeout() int {
	remaining, ok := l.timers.Remaining()
	if !ok {
		return -1
	}
	ms := remaining.Milliseconds()
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

// due pops the earliest timer if it is really due. epoll_wait may return
// slightly early, so its timeout is never trusted on its own.
func (l *Loop[N]) due() (Event[N], bool) {
	if remaining, ok := l.timers.Remaining(); !ok || remaining > 0 {
		return Event[N]{}, false
	}
	entry, _ := l.timers.PopEarliest()
	l.log.WithField("deadline", entry.Deadline).Debug("timeout")
	return TimeoutEvent(entry.Name), true
}

func (l *Loop[N]) dispatch(ready []unix.EpollEvent) (Event[N], bool, error) {
	var (
		signalled, woken bool
		input            = -1
		sigFd            = l.sigs.Fd()
		wakeFd           = l.wake.Fd()
	)
	for _, ev := range ready {
		switch fd := int(ev.Fd); fd {
		case sigFd:
			signalled = true
		case wakeFd:
			woken = true
		default:
			if input < 0 {
				input = fd
			}
		}
	}

	// signals win over anything else ready in the same wake up
	if signalled {
		return l.readSignal()
	}
	if woken {
		l.drainWake()
		return Event[N]{}, false, nil
	}
	name, ok := l.inputs[input]
	if !ok {
		// removed while it was reported ready
		return Event[N]{}, false, nil
	}
	l.log.WithField("fd", input).Debug("input")
	return InputEvent(name), true, nil
}

func (l *Loop[N]) readSignal() (Event[N], bool, error) {
	signo, err := l.sigs.Read()
	switch {
	case errors.Is(err, signals.ErrNoSignal), errors.Is(err, unix.EINTR):
		return Event[N]{}, false, nil
	case err != nil:
		return Event[N]{}, false, fmt.Errorf("%w: %w", api.ErrSignalReadFailed, err)
	}

	switch signo {
	case unix.SIGINT, unix.SIGTERM, unix.SIGQUIT:
		l.log.WithField("signal", signo).Debug("termination signal")
		return SignalEvent[N](Terminated(signo)), true, nil
	case unix.SIGCHLD:
		// the reap-check at the top of the loop finds the child
		return Event[N]{}, false, nil
	default:
		l.log.WithField("signal", signo).Warn("signal ignored")
		return Event[N]{}, false, nil
	}
}

// interrupt wakes up a blocked Poll. It runs on its own goroutine when the
// Poll context is done.
func (l *Loop[N]) interrupt() {
	var one [8]byte
	one[0] = 1
	if _, err := l.wake.Write(one[:]); err != nil && err != unix.EAGAIN {
		l.log.WithField("error", err).Debug("waking up event loop")
	}
}

func (l *Loop[N]) drainWake() {
	var buf [8]byte
	if _, err := l.wake.Read(buf[:]); err != nil && err != unix.EAGAIN {
		l.log.WithField("error", err).Debug("draining wake descriptor")
	}
}

// Close releases the signal channel, the wake descriptor and the epoll
// instance. Registered inputs are left open.
func (l *Loop[N]) Close() error {
	var errs *multierror.Error
	for _, c := range []io.Closer{l.sigs, l.wake, l.epoll} {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
