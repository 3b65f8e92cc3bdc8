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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp/cmpopts"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/stepvisor/stepvisor/pkg/api"
	"github.com/stepvisor/stepvisor/pkg/step"
)

const sample = `
defaults:
  timeout: 10m
  env: [CI=true]
  dir: /work
steps:
  - name: install
    command: apk add --no-cache "curl ca-certificates"
    timeout: 5m
    env: [FOO=bar]
  - name: build
    command: [make, -j4]
    dir: /src
  - name: quick
    command: ./check.sh
    timeout: 30
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	assert.NilError(t, err)

	assert.DeepEqual(t, f.ToSteps(time.Hour), []step.Step{
		{
			Name:    "install",
			Command: []string{"apk", "add", "--no-cache", "curl ca-certificates"},
			Env:     []string{"CI=true", "FOO=bar"},
			Dir:     "/work",
			Timeout: 5 * time.Minute,
		},
		{
			Name:    "build",
			Command: []string{"make", "-j4"},
			Env:     []string{"CI=true"},
			Dir:     "/src",
			Timeout: 10 * time.Minute,
		},
		{
			Name:    "quick",
			Command: []string{"./check.sh"},
			Env:     []string{"CI=true"},
			Dir:     "/work",
			Timeout: 30 * time.Second,
		},
	})
}

func TestFallbackTimeout(t *testing.T) {
	f, err := Parse([]byte("steps:\n  - name: a\n    command: 'true'\n"))
	assert.NilError(t, err)
	steps := f.ToSteps(2 * time.Minute)
	assert.DeepEqual(t, steps, []step.Step{
		{Name: "a", Command: []string{"true"}, Timeout: 2 * time.Minute},
	}, cmpopts.EquateEmpty())

	f, err = Parse([]byte("steps:\n  - name: a\n    command: 'true'\n    timeout: 0s\n"))
	assert.NilError(t, err)
	steps = f.ToSteps(2 * time.Minute)
	assert.Equal(t, steps[0].Timeout, time.Duration(0))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "empty", yaml: "", want: "empty step file"},
		{name: "no steps", yaml: "steps: []", want: "no steps defined"},
		{name: "unknown key", yaml: "steps:\n  - name: a\n    command: x\n    image: alpine\n", want: "field image not found"},
		{name: "missing name", yaml: "steps:\n  - command: x\n", want: "steps[0]: name is required"},
		{name: "duplicate", yaml: "steps:\n  - {name: a, command: x}\n  - {name: a, command: y}\n", want: `step "a": duplicate name`},
		{name: "missing command", yaml: "steps:\n  - name: a\n", want: `step "a": command is required`},
		{name: "bad duration", yaml: "steps:\n  - {name: a, command: x, timeout: soon}\n", want: `invalid duration "soon"`},
		{name: "negative", yaml: "steps:\n  - {name: a, command: x, timeout: -1s}\n", want: "negative timeout"},
		{name: "unterminated quote", yaml: "steps:\n  - {name: a, command: 'echo \"oops'}\n", want: "invalid command line string"},
		{name: "command map", yaml: "steps:\n  - {name: a, command: {x: y}}\n", want: "command must be a string or a list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Assert(t, api.IsErrParsingFailed(err))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	assert.NilError(t, err)
	assert.Check(t, is.Len(f.Steps, 3))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Assert(t, os.IsNotExist(err))
}

func TestResolvePath(t *testing.T) {
	t.Setenv(FileEnvVar, "")
	assert.Equal(t, ResolvePath(""), DefaultFileName)
	assert.Equal(t, ResolvePath("ci.yaml"), "ci.yaml")

	t.Setenv(FileEnvVar, "env.yaml")
	assert.Equal(t, ResolvePath(""), "env.yaml")
	assert.Equal(t, ResolvePath("ci.yaml"), "ci.yaml")
}

func TestDefaultTimeout(t *testing.T) {
	t.Setenv(DefaultTimeoutEnvVar, "")
	d, err := DefaultTimeout()
	assert.NilError(t, err)
	assert.Equal(t, d, time.Duration(0))

	t.Setenv(DefaultTimeoutEnvVar, "90")
	d, err = DefaultTimeout()
	assert.NilError(t, err)
	assert.Equal(t, d, 90*time.Second)

	t.Setenv(DefaultTimeoutEnvVar, "1h")
	d, err = DefaultTimeout()
	assert.NilError(t, err)
	assert.Equal(t, d, time.Hour)

	t.Setenv(DefaultTimeoutEnvVar, "later")
	_, err = DefaultTimeout()
	assert.Assert(t, api.IsErrParsingFailed(err))
}
