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
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/stepvisor/stepvisor/pkg/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("os/signal.signal_recv"))
}

type line struct {
	step, message string
}

type recorder struct {
	lines      []line
	statuses   []line
	registered []string
}

func (r *recorder) Log(step, message string) {
	r.lines = append(r.lines, line{step, message})
}

func (r *recorder) Status(step, msg string) {
	r.statuses = append(r.statuses, line{step, msg})
}

func (r *recorder) Register(step string) {
	r.registered = append(r.registered, step)
}

func (r *recorder) messages(step string) []string {
	var out []string
	for _, l := range r.lines {
		if l.step == step {
			out = append(out, l.message)
		}
	}
	return out
}

func newRunner(t *testing.T, consumer api.LogConsumer, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(consumer, opts...)
	assert.NilError(t, err)
	t.Cleanup(func() {
		assert.NilError(t, r.Close())
	})
	return r
}

func shell(name, script string) Step {
	return Step{
		Name:    name,
		Command: []string{"/bin/sh", "-c", script},
	}
}

func TestRunStreamsOutput(t *testing.T) {
	rec := &recorder{}
	r := newRunner(t, rec)

	results, err := r.Run(context.Background(), []Step{
		shell("hello", "echo out; echo err >&2; printf tail"),
	})
	assert.NilError(t, err)
	assert.Check(t, is.Len(results, 1))
	assert.Equal(t, results[0].Status, 0)
	assert.Assert(t, results[0].Pid > 0)
	assert.NilError(t, results[0].Err)
	assert.DeepEqual(t, rec.messages("hello"), []string{"out", "err", "tail"})
	assert.DeepEqual(t, rec.registered, []string{"hello"})
	assert.Check(t, is.Len(rec.statuses, 1))
	assert.Check(t, strings.HasPrefix(rec.statuses[0].message, "Exited (0)"), rec.statuses[0].message)
}

func TestRunEnvironmentAndDirectory(t *testing.T) {
	rec := &recorder{}
	r := newRunner(t, rec)
	dir := t.TempDir()

	s := shell("env", `echo "$STEP_GREETING"; pwd`)
	s.Env = []string{"STEP_GREETING=hi"}
	s.Dir = dir
	_, err := r.Run(context.Background(), []Step{s})
	assert.NilError(t, err)
	assert.DeepEqual(t, rec.messages("env"), []string{"hi", dir})
}

func TestRunStopsAtFailure(t *testing.T) {
	rec := &recorder{}
	r := newRunner(t, rec)

	results, err := r.Run(context.Background(), []Step{
		shell("ok", "true"),
		shell("broken", "echo failing; exit 3"),
		shell("never", "echo unreachable"),
	})
	assert.Assert(t, api.IsStepFailedError(err))
	assert.Check(t, is.Len(results, 2))
	assert.Equal(t, results[1].Name, "broken")
	assert.Equal(t, results[1].Status, 3)
	assert.Check(t, is.Len(rec.messages("never"), 0))
	assert.DeepEqual(t, rec.registered, []string{"ok", "broken"})
}

func TestRunMissingCommand(t *testing.T) {
	r := newRunner(t, &recorder{})

	results, err := r.Run(context.Background(), []Step{
		{Name: "missing", Command: []string{"/nonexistent/command"}},
	})
	assert.Assert(t, api.IsStepFailedError(err))
	assert.Check(t, is.Len(results, 1))
	assert.Equal(t, results[0].Status, 127)
	assert.Equal(t, results[0].Pid, 0)
}

func TestRunTimeout(t *testing.T) {
	rec := &recorder{}
	r := newRunner(t, rec)

	s := shell("slow", "sleep 5")
	s.Timeout = 100 * time.Millisecond
	start := time.Now()
	results, err := r.Run(context.Background(), []Step{s})

	assert.Assert(t, api.IsStepTimeoutError(err))
	assert.Assert(t, time.Since(start) < 3*time.Second)
	assert.Equal(t, results[0].Status, 128+int(unix.SIGKILL))
	assert.Check(t, strings.HasPrefix(rec.statuses[0].message, "Timed out"), rec.statuses[0].message)
}

func TestRunTimeoutAfterOutputClosed(t *testing.T) {
	rec := &recorder{}
	r := newRunner(t, rec)

	s := shell("quiet", "exec >/dev/null 2>&1; sleep 3")
	s.Timeout = 100 * time.Millisecond
	start := time.Now()
	results, err := r.Run(context.Background(), []Step{s})

	assert.Assert(t, api.IsStepTimeoutError(err), "unexpected error: %v", err)
	assert.Assert(t, time.Since(start) < 2*time.Second)
	assert.Equal(t, results[0].Status, 128+int(unix.SIGKILL))
	assert.Check(t, is.Len(rec.messages("quiet"), 0))
}

func TestRunCancelled(t *testing.T) {
	r := newRunner(t, &recorder{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	results, err := r.Run(ctx, []Step{shell("slow", "sleep 5"), shell("next", "true")})

	assert.Assert(t, api.IsInterruptedError(err))
	assert.Assert(t, time.Since(start) < 3*time.Second)
	assert.Check(t, is.Len(results, 1))

	// the runner stays usable
	_, err = r.Run(context.Background(), []Step{shell("after", "true")})
	assert.NilError(t, err)
}

func TestRunTerminationSignal(t *testing.T) {
	r := newRunner(t, &recorder{}, WithGracePeriod(time.Second))

	var eg errgroup.Group
	eg.Go(func() error {
		time.Sleep(100 * time.Millisecond)
		return unix.Kill(os.Getpid(), unix.SIGTERM)
	})
	results, err := r.Run(context.Background(), []Step{shell("slow", "exec sleep 5")})
	assert.NilError(t, eg.Wait())

	assert.Assert(t, api.IsInterruptedError(err))
	assert.Equal(t, results[0].Status, 128+int(unix.SIGTERM))
}

func TestRunIgnoringTerminationIsKilled(t *testing.T) {
	r := newRunner(t, &recorder{}, WithGracePeriod(200*time.Millisecond))

	var eg errgroup.Group
	eg.Go(func() error {
		time.Sleep(200 * time.Millisecond)
		return unix.Kill(os.Getpid(), unix.SIGTERM)
	})
	start := time.Now()
	results, err := r.Run(context.Background(), []Step{
		shell("stubborn", "trap '' TERM; sleep 5 & wait; sleep 5"),
	})
	assert.NilError(t, eg.Wait())

	assert.Assert(t, api.IsInterruptedError(err))
	assert.Assert(t, time.Since(start) < 3*time.Second)
	assert.Equal(t, results[0].Status, 128+int(unix.SIGKILL))
}

func TestRunBackgroundProcessHoldingOutput(t *testing.T) {
	rec := &recorder{}
	r := newRunner(t, rec, WithDrainTimeout(200*time.Millisecond))

	start := time.Now()
	results, err := r.Run(context.Background(), []Step{
		shell("leaky", "sleep 5 & echo started"),
	})
	assert.NilError(t, err)
	assert.Assert(t, time.Since(start) < 3*time.Second)
	assert.Equal(t, results[0].Status, 0)
	assert.DeepEqual(t, rec.messages("leaky"), []string{"started"})
}

func TestRunRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	r := newRunner(t, &recorder{}, WithTracerProvider(tp))

	_, err := r.Run(context.Background(), []Step{
		shell("first", "true"),
		shell("second", "exit 2"),
	})
	assert.Assert(t, api.IsStepFailedError(err))

	spans := sr.Ended()
	assert.Assert(t, is.Len(spans, 2))
	assert.Equal(t, spans[0].Name(), "step/first")
	assert.Equal(t, spans[0].Status().Code, codes.Unset)
	assert.Equal(t, spans[1].Name(), "step/second")
	assert.Equal(t, spans[1].Status().Code, codes.Error)
}

func TestRunRecordsDurations(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		assert.NilError(t, mp.Shutdown(context.Background()))
	})
	r := newRunner(t, &recorder{}, WithMeterProvider(mp))

	_, err := r.Run(context.Background(), []Step{
		shell("first", "true"),
		shell("second", "exit 1"),
	})
	assert.Assert(t, api.IsStepFailedError(err))

	var rm metricdata.ResourceMetrics
	assert.NilError(t, reader.Collect(context.Background(), &rm))
	assert.Assert(t, is.Len(rm.ScopeMetrics, 1))
	assert.Assert(t, is.Len(rm.ScopeMetrics[0].Metrics, 1))
	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, m.Name, "step.duration")

	hist, ok := m.Data.(metricdata.Histogram[float64])
	assert.Assert(t, ok)
	outcomes := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("step.outcome"))
		outcomes[v.AsString()] += dp.Count
	}
	assert.DeepEqual(t, outcomes, map[string]uint64{"success": 1, "failure": 1})
}
