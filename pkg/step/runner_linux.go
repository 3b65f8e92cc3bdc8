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

//go:build linux

package step

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"

	"github.com/stepvisor/stepvisor/internal/handle"
	"github.com/stepvisor/stepvisor/pkg/api"
	"github.com/stepvisor/stepvisor/pkg/proctree"
	"github.com/stepvisor/stepvisor/pkg/reactor"
	"github.com/stepvisor/stepvisor/pkg/timerqueue"
)

const readBufferSize = 32 * 1024

type tokenKind int

const (
	output tokenKind = iota
	deadline
	grace
	drain
)

// token names inputs and timers in the loop. seq ties it to the step that
// registered it, so stale ones are recognized.
type token struct {
	kind tokenKind
	seq  int
}

// Runner executes steps. It must not be used concurrently.
type Runner struct {
	loop      *reactor.Loop[token]
	consumer  api.LogConsumer
	opts      options
	seq       int
	durations metric.Float64Histogram
}

// NewRunner creates the event loop steps run on. Failures match
// api.ErrResourceCreationFailed.
func NewRunner(consumer api.LogConsumer, opts ...Option) (*Runner, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	durations, err := o.meter.Float64Histogram("step.duration",
		metric.WithDescription("Duration of build steps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "step duration histogram")
	}
	loop, err := reactor.New[token](o.loopOpts...)
	if err != nil {
		return nil, err
	}
	return &Runner{
		loop:      loop,
		consumer:  consumer,
		opts:      o,
		durations: durations,
	}, nil
}

// Close releases the event loop
func (r *Runner) Close() error {
	return r.loop.Close()
}

// running is the state of the step currently executing
type running struct {
	Step
	seq         int
	pid         int
	out         *handle.Handle
	partial     []byte
	exited      bool
	eof         bool
	status      int
	timedOut    bool
	interrupted error
	timers      []timerqueue.ID
	log         logrus.FieldLogger
}

func (s *running) done() bool {
	return s.exited && s.eof
}

// runStep returns a non-nil error only for infrastructure failures, the
// step's own outcome is Result.Err.
func (r *Runner) runStep(ctx context.Context, s Step) (Result, error) {
	ctx, span := r.opts.tracer.Start(ctx, "step/"+s.Name, trace.WithAttributes(
		attribute.String("step.name", s.Name),
		attribute.StringSlice("step.command", s.Command),
		attribute.String("step.timeout", s.Timeout.String()),
	))
	defer span.End()

	r.seq++
	r.consumer.Register(s.Name)
	start := time.Now()

	st, err := r.start(s)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if api.IsInfrastructureError(err) {
			return Result{Name: s.Name}, err
		}
		r.consumer.Status(s.Name, err.Error())
		return Result{Name: s.Name, Status: 127, Err: err}, nil
	}
	span.SetAttributes(attribute.Int("step.pid", st.pid))
	defer r.finish(st)

	if s.Timeout > 0 {
		st.timers = append(st.timers, r.loop.AddTimeout(s.Timeout, token{deadline, st.seq}))
	}

	if err := r.supervise(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{Name: s.Name, Pid: st.pid}, err
	}

	res := Result{
		Name:     s.Name,
		Pid:      st.pid,
		Status:   st.status,
		Duration: time.Since(start),
	}
	switch {
	case st.interrupted != nil:
		res.Err = st.interrupted
	case st.timedOut:
		res.Err = errors.Wrapf(api.ErrStepTimeout, "step %q exceeded %s", s.Name, s.Timeout)
	case st.status != 0:
		res.Err = errors.Wrapf(api.ErrStepFailed, "step %q exited with status %d", s.Name, st.status)
	}

	r.durations.Record(ctx, res.Duration.Seconds(), metric.WithAttributes(
		attribute.String("step.name", s.Name),
		attribute.String("step.outcome", outcome(res.Err)),
	))
	span.SetAttributes(attribute.Int("step.status", res.Status))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	r.consumer.Status(s.Name, statusLine(res))
	return res, nil
}

// start spawns the step in its own process group, with stdout and stderr
// sharing one pipe watched by the loop. The process is never waited for
// here, the loop reaps it.
func (r *Runner) start(s Step) (_ *running, retErr error) {
	if len(s.Command) == 0 {
		return nil, errors.Wrapf(api.ErrStepFailed, "step %q has no command", s.Name)
	}
	out, in, err := handle.Pipe(0)
	if err != nil {
		return nil, api.ResourceCreationFailed(err, "output pipe")
	}
	defer func() {
		if retErr != nil {
			_ = out.Close()
		}
	}()
	if err := out.SetNonblock(true); err != nil {
		_ = in.Close()
		return nil, api.ResourceCreationFailed(err, "output pipe")
	}

	w := in.File()
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Dir = s.Dir
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	err = cmd.Start()
	// the child holds its own copy, EOF comes once every writer is gone
	_ = w.Close()
	if err != nil {
		return nil, errors.Wrapf(api.ErrStepFailed, "step %q: %v", s.Name, err)
	}
	pid := cmd.Process.Pid
	// exit status is collected by the reaper, not through os.Process
	_ = cmd.Process.Release()

	st := &running{
		Step: s,
		seq:  r.seq,
		pid:  pid,
		out:  out,
		log: logrus.WithFields(logrus.Fields{
			"step": s.Name,
			"pid":  pid,
		}),
	}
	if err := r.loop.AddInputFD(out.Fd(), token{output, st.seq}); err != nil {
		// nobody would ever read the pipe
		_ = proctree.Kill(pid, unix.SIGKILL)
		return nil, api.ResourceCreationFailed(err, "watch step output")
	}
	st.log.Debug("step started")
	return st, nil
}

// supervise polls until the step exited and its output is drained.
func (r *Runner) supervise(ctx context.Context, st *running) error {
	pollCtx := ctx
	for !st.done() {
		ev, err := r.loop.Poll(pollCtx)
		if err != nil {
			if pollCtx.Err() != nil && errors.Is(err, pollCtx.Err()) {
				st.log.Debug("step cancelled")
				st.interrupted = errors.Wrap(api.ErrInterrupted, err.Error())
				r.kill(st, unix.SIGKILL)
				// keep polling until the step is reaped
				pollCtx = context.Background()
				continue
			}
			r.kill(st, unix.SIGKILL)
			return err
		}

		switch ev.Kind {
		case reactor.KindInput:
			if ev.Name.seq == st.seq {
				r.readOutput(st)
			}
		case reactor.KindTimeout:
			if ev.Name.seq == st.seq {
				r.onTimeout(st, ev.Name.kind)
			}
		case reactor.KindSignal:
			r.onSignal(st, ev.Signal)
		}
	}
	return nil
}

func (r *Runner) onTimeout(st *running, kind tokenKind) {
	switch kind {
	case deadline:
		if st.exited {
			return
		}
		st.log.WithField("timeout", st.Timeout).Debug("step timed out")
		st.timedOut = true
		r.kill(st, unix.SIGKILL)
	case grace:
		if !st.exited {
			st.log.Debug("grace period expired")
			r.kill(st, unix.SIGKILL)
		}
	case drain:
		if !st.eof {
			st.log.Debug("output still open after exit, giving up")
			// whatever still holds the pipe belongs to the step
			_ = unix.Kill(-st.pid, unix.SIGKILL)
			r.closeOutput(st)
		}
	}
}

func (r *Runner) onSignal(st *running, sig reactor.Signal) {
	switch sig.Kind {
	case reactor.ChildExit:
		if sig.Pid != st.pid {
			logrus.WithField("pid", sig.Pid).Debug("reaped unrelated child")
			return
		}
		st.exited = true
		st.status = sig.Status
		st.log.WithField("status", sig.Status).Debug("step exited")
		if !st.eof {
			st.timers = append(st.timers, r.loop.AddTimeout(r.opts.drain, token{drain, st.seq}))
		}
	case reactor.Terminate:
		if st.interrupted != nil {
			// second request, stop waiting
			r.kill(st, unix.SIGKILL)
			return
		}
		st.interrupted = errors.Wrapf(api.ErrInterrupted, "received %s", sig.Signo)
		if st.exited {
			return
		}
		st.log.WithField("signal", sig.Signo).Debug("forwarding termination")
		r.kill(st, unix.SIGTERM)
		st.timers = append(st.timers, r.loop.AddTimeout(r.opts.grace, token{grace, st.seq}))
	}
}

func (r *Runner) kill(st *running, sig syscall.Signal) {
	if st.exited {
		return
	}
	if err := proctree.Kill(st.pid, sig); err != nil {
		st.log.WithError(err).Warn("signalling step")
	}
}

// readOutput consumes everything currently available on the output pipe.
func (r *Runner) readOutput(st *running) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := st.out.Read(buf)
		switch {
		case err == unix.EAGAIN:
			return
		case err != nil:
			st.log.WithError(err).Warn("reading step output")
			r.closeOutput(st)
			return
		case n == 0:
			r.closeOutput(st)
			return
		}
		r.emit(st, buf[:n])
	}
}

// closeOutput stops watching the output pipe. A pipe at end of file stays
// readable, it must leave the loop or timers never get a turn.
func (r *Runner) closeOutput(st *running) {
	if err := r.loop.RemoveInput(st.out.Fd()); err != nil && !api.IsNotRegisteredError(err) {
		st.log.WithError(err).Debug("unwatching step output")
	}
	r.flush(st)
	st.eof = true
}

func (r *Runner) emit(st *running, chunk []byte) {
	st.partial = append(st.partial, chunk...)
	for {
		i := bytes.IndexByte(st.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(st.partial[:i], []byte{'\r'})
		r.consumer.Log(st.Name, string(line))
		st.partial = st.partial[i+1:]
	}
	if len(st.partial) == 0 {
		st.partial = nil
	}
}

func (r *Runner) flush(st *running) {
	if len(st.partial) > 0 {
		r.consumer.Log(st.Name, string(st.partial))
		st.partial = nil
	}
}

// finish cancels the step's timers and releases its output pipe.
func (r *Runner) finish(st *running) {
	for _, id := range st.timers {
		r.loop.CancelTimeout(id)
	}
	if err := r.loop.RemoveInput(st.out.Fd()); err != nil && !api.IsNotRegisteredError(err) {
		st.log.WithError(err).Debug("unwatching step output")
	}
	if err := st.out.Close(); err != nil {
		st.log.WithError(err).Debug("closing step output")
	}
}
