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

package step

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepvisor/stepvisor/pkg/reactor"
)

const (
	// DefaultGracePeriod is how long an interrupted step may take to exit
	// after SIGTERM before it is killed
	DefaultGracePeriod = 10 * time.Second
	// DefaultDrainTimeout bounds how long output is still collected once
	// the step process exited
	DefaultDrainTimeout = time.Second
)

type options struct {
	grace    time.Duration
	drain    time.Duration
	tracer   trace.Tracer
	meter    metric.Meter
	loopOpts []reactor.Option
}

// Option configures a Runner
type Option func(*options)

func defaultOptions() options {
	return options{
		grace:  DefaultGracePeriod,
		drain:  DefaultDrainTimeout,
		tracer: otel.Tracer("stepvisor"),
		meter:  otel.Meter("stepvisor"),
	}
}

// WithGracePeriod sets the delay between SIGTERM and SIGKILL when a step is
// interrupted
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		o.grace = d
	}
}

// WithDrainTimeout sets how long output of an exited step is still read,
// for when a leftover background process keeps the output pipe open
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		o.drain = d
	}
}

// WithTracerProvider sets where step spans are recorded
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp.Tracer("stepvisor")
	}
}

// WithMeterProvider sets where step metrics are recorded
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meter = mp.Meter("stepvisor")
	}
}

// WithLoopOptions is passed through to reactor.New
func WithLoopOptions(opts ...reactor.Option) Option {
	return func(o *options) {
		o.loopOpts = append(o.loopOpts, opts...)
	}
}
