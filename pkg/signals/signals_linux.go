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

// Package signals turns process signal delivery into a readable descriptor.
//
// The Go runtime owns the process signal handlers, so instead of signalfd the
// channel subscribes through os/signal and forwards every signal number, one
// byte each, into a non-blocking pipe. The read end becomes readable exactly
// when an unconsumed signal exists and can be watched by epoll like any other
// input.
package signals

import (
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/stepvisor/stepvisor/internal/handle"
)

const signalBufferSize = 2048

// ErrNoSignal is returned by Read when the channel was reported readable
// but no signal was pending.
var ErrNoSignal = errors.New("no pending signal")

// DefaultSignals are the termination signals plus SIGCHLD.
var DefaultSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	syscall.SIGCHLD,
}

// Channel is a descriptor-backed signal source.
type Channel struct {
	r, w    *handle.Handle
	notify  chan os.Signal
	wg      sync.WaitGroup
	once    sync.Once
	closeEr error
}

// New subscribes to sigs (DefaultSignals when empty) and starts forwarding
// them into the channel's pipe.
func New(sigs ...os.Signal) (*Channel, error) {
	if len(sigs) == 0 {
		sigs = DefaultSignals
	}
	r, w, err := handle.Pipe(unix.O_NONBLOCK)
	if err != nil {
		return nil, err
	}
	c := &Channel{
		r:      r,
		w:      w,
		notify: make(chan os.Signal, signalBufferSize),
	}
	logrus.WithFields(logrus.Fields{
		"bufferSize": signalBufferSize,
		"signals":    sigs,
	}).Debug("starting signal channel")
	signal.Notify(c.notify, sigs...)
	c.wg.Add(1)
	go c.forward()
	return c, nil
}

func (c *Channel) forward() {
	defer c.wg.Done()
	for s := range c.notify {
		sig, ok := s.(syscall.Signal)
		if !ok {
			continue
		}
		_, err := c.w.Write([]byte{byte(sig)})
		switch {
		case err == nil:
		case errors.Is(err, unix.EAGAIN):
			// a full pipe already guarantees a wake up, SIGCHLD coalesces anyway
			logrus.WithField("signal", sig).Debug("signal channel full, dropping signal")
		default:
			logrus.WithFields(logrus.Fields{
				"signal": sig,
				"error":  err,
			}).Error("forwarding signal")
		}
	}
}

// Fd returns the readable end of the channel.
func (c *Channel) Fd() int {
	return c.r.Fd()
}

// Read consumes exactly one pending signal. It returns ErrNoSignal if
// nothing is pending.
func (c *Channel) Read() (syscall.Signal, error) {
	var buf [1]byte
	n, err := c.r.Read(buf[:])
	switch {
	case errors.Is(err, unix.EAGAIN):
		return 0, ErrNoSignal
	case err != nil:
		return 0, err
	case n == 0:
		return 0, io.ErrUnexpectedEOF
	}
	return syscall.Signal(buf[0]), nil
}

// Close stops the subscription, waits for the forwarder to exit and
// releases both ends of the pipe. Signals received afterwards get their
// default disposition again.
func (c *Channel) Close() error {
	c.once.Do(func() {
		signal.Stop(c.notify)
		close(c.notify)
		c.wg.Wait()

		var errs *multierror.Error
		if err := c.w.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := c.r.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		c.closeEr = errs.ErrorOrNil()
	})
	return c.closeEr
}
