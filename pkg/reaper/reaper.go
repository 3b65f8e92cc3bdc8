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

package reaper

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const exitSignalOffset = 128

// Exit is the wait4 information from an exited process
type Exit struct {
	Pid    int
	Status int
}

// Checker reports one terminated child per call without blocking.
type Checker interface {
	Check() (Exit, bool)
}

// Reaper reaps any child of the calling process.
type Reaper struct{}

// Check reaps at most one terminated child.
func (Reaper) Check() (Exit, bool) {
	var (
		ws  unix.WaitStatus
		rus unix.Rusage
	)
	for {
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, &rus)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err != unix.ECHILD {
				logrus.WithField("error", err).Warn("reaping child processes")
			}
			return Exit{}, false
		}
		if pid <= 0 {
			return Exit{}, false
		}
		return Exit{
			Pid:    pid,
			Status: ExitStatus(ws),
		}, true
	}
}

// Nop never reports a child. Use it when children are waited for elsewhere.
type Nop struct{}

func (Nop) Check() (Exit, bool) {
	return Exit{}, false
}

// Reap reaps all child processes for the calling process and returns their
// exit information
func Reap(wait bool) (exits []Exit, err error) {
	var (
		ws  unix.WaitStatus
		rus unix.Rusage
	)
	flag := unix.WNOHANG
	if wait {
		flag = 0
	}
	for {
		pid, err := unix.Wait4(-1, &ws, flag, &rus)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.ECHILD {
				return exits, nil
			}
			return exits, err
		}
		if pid <= 0 {
			return exits, nil
		}
		exits = append(exits, Exit{
			Pid:    pid,
			Status: ExitStatus(ws),
		})
	}
}

// ExitStatus returns the correct exit status for a process based on if it
// was signaled or exited cleanly
func ExitStatus(status unix.WaitStatus) int {
	if status.Signaled() {
		return exitSignalOffset + int(status.Signal())
	}
	return status.ExitStatus()
}
