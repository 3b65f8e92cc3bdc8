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

package reactor

import (
	"fmt"
	"syscall"

	"github.com/stepvisor/stepvisor/pkg/reaper"
)

// Kind classifies an Event
type Kind int

const (
	// KindSignal is a termination request or a child exit
	KindSignal Kind = iota + 1
	// KindTimeout is a scheduled deadline that became due
	KindTimeout
	// KindInput is a registered descriptor that became readable
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindTimeout:
		return "timeout"
	case KindInput:
		return "input"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SignalKind tells apart the two kinds of Signal events
type SignalKind int

const (
	// Terminate is SIGINT, SIGTERM or SIGQUIT
	Terminate SignalKind = iota + 1
	// ChildExit is a reaped child process
	ChildExit
)

// Signal describes a KindSignal event. Signo is set for Terminate, Pid and
// Status for ChildExit.
type Signal struct {
	Kind   SignalKind
	Signo  syscall.Signal
	Pid    int
	Status int
}

// Terminated returns a Terminate signal for signo
func Terminated(signo syscall.Signal) Signal {
	return Signal{Kind: Terminate, Signo: signo}
}

// ChildExited returns a ChildExit signal for a reaped child
func ChildExited(exit reaper.Exit) Signal {
	return Signal{Kind: ChildExit, Pid: exit.Pid, Status: exit.Status}
}

func (s Signal) String() string {
	switch s.Kind {
	case Terminate:
		return fmt.Sprintf("terminate(%s)", s.Signo)
	case ChildExit:
		return fmt.Sprintf("child exit(pid=%d, status=%d)", s.Pid, s.Status)
	}
	return "unknown signal"
}

// Event is the result of one Poll call. Name is set for KindTimeout and
// KindInput, Signal for KindSignal.
type Event[N any] struct {
	Kind   Kind
	Signal Signal
	Name   N
}

func SignalEvent[N any](s Signal) Event[N] {
	return Event[N]{Kind: KindSignal, Signal: s}
}

func TimeoutEvent[N any](name N) Event[N] {
	return Event[N]{Kind: KindTimeout, Name: name}
}

func InputEvent[N any](name N) Event[N] {
	return Event[N]{Kind: KindInput, Name: name}
}

func (e Event[N]) String() string {
	switch e.Kind {
	case KindSignal:
		return e.Signal.String()
	case KindTimeout, KindInput:
		return fmt.Sprintf("%s(%v)", e.Kind, e.Name)
	}
	return e.Kind.String()
}
