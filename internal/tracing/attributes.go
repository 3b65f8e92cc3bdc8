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

package tracing

import (
	"crypto/sha256"
	"encoding/hex"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/stepvisor/stepvisor/pkg/step"
)

// StepsOptions returns the attributes describing a list of steps for the
// root span of a run.
func StepsOptions(steps []step.Step) trace.SpanStartEventOption {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Name)
	}
	attrs := []attribute.KeyValue{
		attribute.StringSlice("steps.names", names),
		attribute.Int("steps.count", len(steps)),
	}
	if hash, ok := stepsHash(steps); ok {
		attrs = append(attrs, attribute.String("steps.hash", hash))
	}
	return trace.WithAttributes(attrs...)
}

// stepsHash identifies what a list of steps does. Time limits are left out
// so tuning them keeps runs comparable.
func stepsHash(steps []step.Step) (string, bool) {
	type hashed struct {
		Name    string
		Command []string
		Env     []string
		Dir     string
	}
	in := make([]hashed, 0, len(steps))
	for _, s := range steps {
		in = append(in, hashed{Name: s.Name, Command: s.Command, Env: s.Env, Dir: s.Dir})
	}
	b, err := yaml.Marshal(in)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), true
}
