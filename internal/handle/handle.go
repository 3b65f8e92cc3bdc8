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

// Package handle owns kernel file descriptors.
//
// A Handle is the single owner of its descriptor: it is only ever passed
// around by pointer, Close releases the descriptor exactly once, and Release
// hands ownership over to someone else (typically an *os.File given to a
// child process).
package handle

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// noCopy makes `go vet` report accidental copies of a Handle.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type Handle struct {
	_    noCopy
	mu   sync.Mutex
	fd   int
	name string
}

// New takes ownership of fd.
func New(fd int, name string) (*Handle, error) {
	if fd < 0 {
		return nil, errors.Errorf("invalid descriptor %d for %s", fd, name)
	}
	return &Handle{fd: fd, name: name}, nil
}

// Fd returns the descriptor, or -1 once the handle is closed or released.
// The descriptor stays owned by the handle.
func (h *Handle) Fd() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fd
}

func (h *Handle) Name() string {
	return h.name
}

// Read reads from the descriptor, retrying on EINTR. Errors are returned
// unwrapped so callers can match errno values.
func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return 0, os.ErrClosed
	}
	for {
		n, err := unix.Read(h.fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Write writes to the descriptor, retrying on EINTR.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return 0, os.ErrClosed
	}
	for {
		n, err := unix.Write(h.fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (h *Handle) SetNonblock(nonblocking bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return os.ErrClosed
	}
	return errors.Wrapf(unix.SetNonblock(h.fd, nonblocking), "set non-blocking on %s", h.name)
}

// Release gives up ownership: the caller becomes responsible for closing
// the returned descriptor. The handle behaves as closed afterwards.
func (h *Handle) Release() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	fd := h.fd
	h.fd = -1
	return fd
}

// File transfers ownership of the descriptor to a new *os.File.
func (h *Handle) File() *os.File {
	fd := h.Release()
	if fd < 0 {
		return nil
	}
	return os.NewFile(uintptr(fd), h.name)
}

// Close releases the descriptor. Only the first call closes it, later calls
// return os.ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return os.ErrClosed
	}
	fd := h.fd
	h.fd = -1
	// close(2) must not be retried on EINTR, the descriptor is gone either way
	if err := unix.Close(fd); err != nil && err != unix.EINTR {
		return errors.Wrapf(err, "close %s", h.name)
	}
	return nil
}
