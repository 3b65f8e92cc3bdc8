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

// Package step runs build steps one after the other on a single event loop,
// streaming their output and enforcing their time limits.
package step

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"github.com/stepvisor/stepvisor/pkg/api"
)

// Step is one command to run
type Step struct {
	Name    string
	Command []string
	Env     []string
	Dir     string
	// Timeout is the step time limit, zero for none
	Timeout time.Duration
}

// Result is the outcome of a step that was started
type Result struct {
	Name     string
	Pid      int
	Status   int
	Duration time.Duration
	Err      error
}

// Run executes steps in order and stops at the first one that does not
// succeed. It returns the results of the steps that were started and the
// error of the failing one, which matches api.ErrStepFailed,
// api.ErrStepTimeout, api.ErrInterrupted or an infrastructure error.
func (r *Runner) Run(ctx context.Context, steps []Step) ([]Result, error) {
	var results []Result
	for _, s := range steps {
		if ctx.Err() != nil {
			return results, errors.Wrap(api.ErrInterrupted, ctx.Err().Error())
		}
		res, err := r.runStep(ctx, s)
		if res.Pid != 0 || res.Err != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
		if res.Err != nil {
			return results, res.Err
		}
	}
	return results, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case api.IsStepTimeoutError(err):
		return "timeout"
	case api.IsInterruptedError(err):
		return "interrupted"
	}
	return "failure"
}

func statusLine(res Result) string {
	elapsed := units.HumanDuration(res.Duration)
	switch {
	case api.IsStepTimeoutError(res.Err):
		return fmt.Sprintf("Timed out after %s", elapsed)
	case api.IsInterruptedError(res.Err):
		return fmt.Sprintf("Interrupted after %s", elapsed)
	}
	return fmt.Sprintf("Exited (%d) after %s", res.Status, elapsed)
}
