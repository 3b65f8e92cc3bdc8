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

//go:build !linux

package reactor

import (
	"context"
	"syscall"
	"time"

	"github.com/stepvisor/stepvisor/pkg/api"
	"github.com/stepvisor/stepvisor/pkg/timerqueue"
)

// Loop is only implemented on Linux, New always fails elsewhere.
type Loop[N any] struct{}

func New[N any](...Option) (*Loop[N], error) {
	return nil, api.ErrNotImplemented
}

func (l *Loop[N]) AddTimeout(time.Duration, N) timerqueue.ID { return 0 }

func (l *Loop[N]) CancelTimeout(timerqueue.ID) bool { return false }

func (l *Loop[N]) PendingTimeouts() int { return 0 }

func (l *Loop[N]) AddInput(syscall.Conn, N) error { return api.ErrNotImplemented }

func (l *Loop[N]) AddInputFD(int, N) error { return api.ErrNotImplemented }

func (l *Loop[N]) RemoveInput(int) error { return api.ErrNotImplemented }

func (l *Loop[N]) Poll(context.Context) (Event[N], error) {
	return Event[N]{}, api.ErrNotImplemented
}

func (l *Loop[N]) MustPoll() Event[N] { panic(api.ErrNotImplemented) }

func (l *Loop[N]) Close() error { return nil }
