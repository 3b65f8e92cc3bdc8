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

package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"

	"github.com/stepvisor/stepvisor/internal"
	"github.com/stepvisor/stepvisor/internal/config"
	"github.com/stepvisor/stepvisor/pkg/api"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.DefaultTimeoutEnvVar, "")
	t.Setenv(config.FileEnvVar, "")
	t.Setenv(AnsiEnvVar, "")
	t.Cleanup(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	})

	out := new(bytes.Buffer)
	root := RootCommand()
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCodeOf(t *testing.T, err error) int {
	t.Helper()
	var statusErr StatusError
	assert.Assert(t, errors.As(err, &statusErr), "not a StatusError: %v", err)
	return statusErr.StatusCode
}

func TestVersionCommand(t *testing.T) {
	originalVersion := internal.Version
	defer func() {
		internal.Version = originalVersion
	}()
	internal.Version = "v9.9.9-test"

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "default",
			args: []string{},
			want: "stepvisor version v9.9.9-test\n",
		},
		{
			name: "short flag",
			args: []string{"--short"},
			want: "9.9.9-test\n",
		},
		{
			name: "json flag",
			args: []string{"--format", "json"},
			want: `{"version":"v9.9.9-test"}` + "\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"version"}, test.args...)...)
			assert.NilError(t, err)
			assert.Equal(t, test.want, out)
		})
	}
}

func TestRunInvalidStepFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.yaml")
	assert.NilError(t, os.WriteFile(path, []byte("steps: []\n"), 0o600))

	_, err := execute(t, "run", "-f", path)
	assert.ErrorContains(t, err, "no steps defined")
	assert.Equal(t, exitCodeOf(t, err), api.ExitCodeStepFailed)
}

func TestRunInvalidAnsi(t *testing.T) {
	_, err := execute(t, "run", "--ansi", "sometimes", "--", "true")
	assert.ErrorContains(t, err, "unsupported --ansi value")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "version")
	assert.ErrorContains(t, err, "unable to parse logging level")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   int
	}{
		{name: "infrastructure", err: api.ErrWaitFailed, want: api.ExitCodeInfrastructure},
		{name: "resources", err: api.ErrResourceCreationFailed, want: api.ExitCodeInfrastructure},
		{name: "interrupted", err: api.ErrInterrupted, status: 143, want: api.ExitCodeInterrupted},
		{name: "cancelled", err: context.Canceled, want: api.ExitCodeInterrupted},
		{name: "timeout", err: api.ErrStepTimeout, status: 137, want: api.ExitCodeTimeout},
		{name: "step status", err: api.ErrStepFailed, status: 42, want: 42},
		{name: "step without status", err: api.ErrStepFailed, want: api.ExitCodeStepFailed},
		{name: "other", err: errors.New("boom"), want: api.ExitCodeStepFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, exitCode(tt.err, tt.status), tt.want)
		})
	}
}
