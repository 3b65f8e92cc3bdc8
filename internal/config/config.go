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

// Package config loads step files.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/stepvisor/stepvisor/pkg/api"
	"github.com/stepvisor/stepvisor/pkg/step"
)

const (
	// FileEnvVar is the environment variable naming the step file
	FileEnvVar = "STEPVISOR_FILE"
	// DefaultTimeoutEnvVar is the environment variable setting the time
	// limit of steps that declare none
	DefaultTimeoutEnvVar = "STEPVISOR_DEFAULT_TIMEOUT"
	// DefaultFileName is used when neither a flag nor FileEnvVar is set
	DefaultFileName = "steps.yaml"
)

// Duration is a YAML duration, either a Go duration string ("1m30s") or a
// number of seconds
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if secs, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return errors.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Command is either a list of arguments or a string split the way a
// shell would
type Command []string

func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		args, err := shellwords.Parse(value.Value)
		if err != nil {
			return errors.Errorf("line %d: %v", value.Line, err)
		}
		*c = args
		return nil
	case yaml.SequenceNode:
		var args []string
		if err := value.Decode(&args); err != nil {
			return err
		}
		*c = args
		return nil
	}
	return errors.Errorf("line %d: command must be a string or a list", value.Line)
}

// Defaults apply to every step
type Defaults struct {
	Timeout Duration `yaml:"timeout,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`
}

// StepConfig is one entry of the steps list
type StepConfig struct {
	Name    string    `yaml:"name"`
	Command Command   `yaml:"command"`
	Timeout *Duration `yaml:"timeout,omitempty"`
	Env     []string  `yaml:"env,omitempty"`
	Dir     string    `yaml:"dir,omitempty"`
}

// File is a parsed step file
type File struct {
	Defaults Defaults     `yaml:"defaults,omitempty"`
	Steps    []StepConfig `yaml:"steps"`
}

// ResolvePath returns the step file to load: the flag value, then
// FileEnvVar, then DefaultFileName.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v, ok := os.LookupEnv(FileEnvVar); ok && v != "" {
		return v
	}
	return DefaultFileName
}

// DefaultTimeout reads DefaultTimeoutEnvVar, zero when unset.
func DefaultTimeout() (time.Duration, error) {
	v, ok := os.LookupEnv(DefaultTimeoutEnvVar)
	if !ok || v == "" {
		return 0, nil
	}
	var d Duration
	if err := yaml.Unmarshal([]byte(v), &d); err != nil {
		return 0, errors.Wrapf(api.ErrParsingFailed, "%s: %v", DefaultTimeoutEnvVar, err)
	}
	return time.Duration(d), nil
}

// Load reads and validates a step file, "-" reads stdin.
func Load(path string) (*File, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return f, nil
}

// Parse decodes and validates a step file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, errors.Wrap(api.ErrParsingFailed, "empty step file")
		}
		return nil, errors.Wrapf(api.ErrParsingFailed, "%v", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every step and reports all problems at once.
func (f *File) Validate() error {
	var errs *multierror.Error
	if f.Defaults.Timeout < 0 {
		errs = multierror.Append(errs, errors.New("defaults: negative timeout"))
	}
	if len(f.Steps) == 0 {
		errs = multierror.Append(errs, errors.New("no steps defined"))
	}
	seen := map[string]bool{}
	for i, s := range f.Steps {
		where := fmt.Sprintf("steps[%d]", i)
		if s.Name != "" {
			where = fmt.Sprintf("step %q", s.Name)
		}
		switch {
		case s.Name == "":
			errs = multierror.Append(errs, errors.Errorf("%s: name is required", where))
		case seen[s.Name]:
			errs = multierror.Append(errs, errors.Errorf("%s: duplicate name", where))
		}
		seen[s.Name] = true
		if len(s.Command) == 0 {
			errs = multierror.Append(errs, errors.Errorf("%s: command is required", where))
		}
		if s.Timeout != nil && *s.Timeout < 0 {
			errs = multierror.Append(errs, errors.Errorf("%s: negative timeout", where))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return errors.Wrapf(api.ErrParsingFailed, "%v", err)
	}
	return nil
}

// ToSteps applies the defaults. fallback is the timeout of steps for which
// neither the step nor the defaults set one.
func (f *File) ToSteps(fallback time.Duration) []step.Step {
	steps := make([]step.Step, 0, len(f.Steps))
	for _, s := range f.Steps {
		timeout := fallback
		if f.Defaults.Timeout > 0 {
			timeout = time.Duration(f.Defaults.Timeout)
		}
		if s.Timeout != nil {
			timeout = time.Duration(*s.Timeout)
		}
		dir := f.Defaults.Dir
		if s.Dir != "" {
			dir = s.Dir
		}
		steps = append(steps, step.Step{
			Name:    s.Name,
			Command: s.Command,
			Env:     append(append([]string{}, f.Defaults.Env...), s.Env...),
			Dir:     dir,
			Timeout: timeout,
		})
	}
	return steps
}
