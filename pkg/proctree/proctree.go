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

// Package proctree signals a step process together with everything it
// spawned.
package proctree

import (
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-ps"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// processes is swapped in tests
var processes = ps.Processes

// Descendants returns the pids of all processes below pid, parents first.
func Descendants(pid int) ([]int, error) {
	all, err := processes()
	if err != nil {
		return nil, errors.Wrap(err, "list processes")
	}
	children := map[int][]int{}
	for _, p := range all {
		children[p.PPid()] = append(children[p.PPid()], p.Pid())
	}

	var (
		result []int
		queue  = []int{pid}
		seen   = map[int]bool{pid: true}
	)
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range children[parent] {
			if seen[child] {
				continue
			}
			seen[child] = true
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	return result, nil
}

// Kill sends sig to pid, to its process group and to every descendant that
// moved out of it. Processes that are already gone are not an error.
func Kill(pid int, sig syscall.Signal) error {
	// snapshot first, children are reparented as soon as pid dies
	descendants, err := Descendants(pid)
	if err != nil {
		logrus.WithError(err).Debug("process tree unavailable, signalling process group only")
	}

	var errs *multierror.Error
	for _, target := range append([]int{pid, -pid}, descendants...) {
		if err := unix.Kill(target, sig); err != nil && err != unix.ESRCH {
			errs = multierror.Append(errs, errors.Wrapf(err, "kill %d", target))
		}
	}
	logrus.WithFields(logrus.Fields{
		"pid":         pid,
		"signal":      sig,
		"descendants": len(descendants),
	}).Debug("signalled process tree")
	return errs.ErrorOrNil()
}
