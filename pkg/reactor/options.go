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
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/stepvisor/stepvisor/pkg/reaper"
)

type options struct {
	clock   clockwork.Clock
	checker reaper.Checker
	signals []os.Signal
	logger  logrus.FieldLogger
}

// Option configures a Loop
type Option func(*options)

func defaultOptions() options {
	return options{
		clock:   clockwork.NewRealClock(),
		checker: reaper.Reaper{},
		logger:  logrus.StandardLogger(),
	}
}

// WithClock sets the time source used for deadlines
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithChildChecker replaces the reap-check run before every wait.
// reaper.Nop disables child reporting.
func WithChildChecker(checker reaper.Checker) Option {
	return func(o *options) {
		o.checker = checker
	}
}

// WithSignals sets the signals the loop subscribes to, signals.DefaultSignals
// otherwise. SIGCHLD should be part of the set whenever children are
// reported, it is what wakes the loop up to reap them.
func WithSignals(sigs ...os.Signal) Option {
	return func(o *options) {
		o.signals = sigs
	}
}

// WithLogger sets the logger used for debug and warning output
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
