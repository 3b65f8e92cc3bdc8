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

package signals

import (
	"errors"
	"os"
	"syscall"
	"testing"

	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("os/signal.signal_recv"))
}

// waitReadable blocks until fd is readable or the timeout expires.
func waitReadable(t *testing.T, fd int, timeoutMs int) bool {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		assert.NilError(t, err)
		return n > 0
	}
}

func TestReadWithoutSignal(t *testing.T) {
	c, err := New(syscall.SIGUSR1)
	assert.NilError(t, err)
	defer c.Close() //nolint:errcheck

	_, err = c.Read()
	assert.Assert(t, errors.Is(err, ErrNoSignal))
}

func TestSignalBecomesReadable(t *testing.T) {
	c, err := New(syscall.SIGUSR1, syscall.SIGUSR2)
	assert.NilError(t, err)
	defer c.Close() //nolint:errcheck

	assert.NilError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
	assert.Assert(t, waitReadable(t, c.Fd(), 2000))

	sig, err := c.Read()
	assert.NilError(t, err)
	assert.Equal(t, sig, syscall.SIGUSR1)

	// one signal per read
	_, err = c.Read()
	assert.Assert(t, errors.Is(err, ErrNoSignal))

	assert.NilError(t, unix.Kill(os.Getpid(), unix.SIGUSR2))
	assert.Assert(t, waitReadable(t, c.Fd(), 2000))
	sig, err = c.Read()
	assert.NilError(t, err)
	assert.Equal(t, sig, syscall.SIGUSR2)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := New(syscall.SIGUSR1)
	assert.NilError(t, err)

	assert.NilError(t, c.Close())
	assert.NilError(t, c.Close())
	assert.Equal(t, c.Fd(), -1)
}

func TestDefaultSignals(t *testing.T) {
	c, err := New()
	assert.NilError(t, err)
	defer c.Close() //nolint:errcheck

	assert.Assert(t, c.Fd() >= 0)
	assert.Equal(t, len(DefaultSignals), 4)
}
