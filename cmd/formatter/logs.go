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

package formatter

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/stepvisor/stepvisor/pkg/api"
)

// NewLogConsumer creates a new LogConsumer writing step output to w, each
// line prefixed with the step name when prefix is set
func NewLogConsumer(ctx context.Context, w io.Writer, color bool, prefix bool) api.LogConsumer {
	return &logConsumer{
		ctx:        ctx,
		presenters: map[string]*presenter{},
		writer:     w,
		color:      color,
		prefix:     prefix,
	}
}

// logConsumer consumes step output and formats it
type logConsumer struct {
	ctx        context.Context
	mu         sync.Mutex
	presenters map[string]*presenter
	width      int
	writer     io.Writer
	color      bool
	prefix     bool
}

type presenter struct {
	colors colorFunc
	name   string
	prefix string
}

func (p *presenter) setPrefix(width int) {
	p.prefix = p.colors(fmt.Sprintf("%-"+strconv.Itoa(width)+"s |", p.name))
}

func (l *logConsumer) Register(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.register(name)
}

func (l *logConsumer) register(name string) *presenter {
	cf := monochrome
	if l.color {
		cf = pickColor()
	}
	p := &presenter{
		colors: cf,
		name:   name,
	}
	l.presenters[name] = p
	if l.prefix {
		l.computeWidth()
		for _, p := range l.presenters {
			p.setPrefix(l.width)
		}
	}
	return p
}

func (l *logConsumer) getPresenter(name string) *presenter {
	p, ok := l.presenters[name]
	if !ok { // should have been registered
		return l.register(name)
	}
	return p
}

// Log formats a line of output of step
func (l *logConsumer) Log(step, message string) {
	if l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.getPresenter(step)
	for _, line := range strings.Split(message, "\n") {
		if l.prefix {
			fmt.Fprintf(l.writer, "%s %s\n", p.prefix, line) // nolint:errcheck
		} else {
			fmt.Fprintln(l.writer, line) // nolint:errcheck
		}
	}
}

// Status reports a change of state of step
func (l *logConsumer) Status(step, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.getPresenter(step)
	s := p.colors(fmt.Sprintf("%s %s\n", step, msg))
	l.writer.Write([]byte(s)) // nolint:errcheck
}

func (l *logConsumer) computeWidth() {
	width := 0
	for _, p := range l.presenters {
		if len(p.name) > width {
			width = len(p.name)
		}
	}
	l.width = width + 1
}
