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

package step

import (
	"context"

	"github.com/stepvisor/stepvisor/pkg/api"
)

// Runner is only implemented on Linux, NewRunner always fails elsewhere.
type Runner struct{}

func NewRunner(api.LogConsumer, ...Option) (*Runner, error) {
	return nil, api.ErrNotImplemented
}

func (r *Runner) Close() error { return nil }

func (r *Runner) runStep(context.Context, Step) (Result, error) {
	return Result{}, api.ErrNotImplemented
}
