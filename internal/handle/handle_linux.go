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

package handle

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// EpollCreate creates a close-on-exec epoll instance.
func EpollCreate() (*Handle, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return New(fd, "epoll")
}

// Eventfd creates a non-blocking, close-on-exec eventfd counter.
func Eventfd() (*Handle, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "eventfd")
	}
	return New(fd, "eventfd")
}

// Pipe creates a close-on-exec pipe. flags are or-ed into the pipe2 flags
// and apply to both ends.
func Pipe(flags int) (r *Handle, w *Handle, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|flags); err != nil {
		return nil, nil, errors.Wrap(err, "pipe2")
	}
	r = &Handle{fd: p[0], name: "pipe (read)"}
	w = &Handle{fd: p[1], name: "pipe (write)"}
	return r, w, nil
}
