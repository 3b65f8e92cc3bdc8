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
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/moby/term"
	"github.com/pkg/errors"
)

var names = []string{
	"grey",
	"red",
	"green",
	"yellow",
	"blue",
	"magenta",
	"cyan",
	"white",
}

const (
	// Never use ANSI codes
	Never = "never"

	// Always use ANSI codes
	Always = "always"

	// Auto detect terminal is a tty and can use ANSI codes
	Auto = "auto"
)

const (
	// JSON is the json output format
	JSON = "json"
	// PRETTY is the human readable output format
	PRETTY = "pretty"
)

// SetANSIMode configures colored output on ANSI-compliant consoles. ansi is
// one of Never, Always or Auto.
func SetANSIMode(out io.Writer, ansi string) error {
	use, err := useAnsi(out, ansi)
	if err != nil {
		return err
	}
	mutex.Lock()
	defer mutex.Unlock()
	if use {
		nextColor = rainbowColor
	} else {
		nextColor = func() colorFunc {
			return monochrome
		}
	}
	return nil
}

func useAnsi(out io.Writer, ansi string) (bool, error) {
	switch ansi {
	case Always:
		return true, nil
	case Never:
		return false, nil
	case Auto:
		_, isTerminal := term.GetFdInfo(out)
		return isTerminal, nil
	}
	return false, errors.Errorf("unsupported --ansi value %q", ansi)
}

// colorFunc use ANSI codes to render colored text on console
type colorFunc func(s string) string

var monochrome = func(s string) string {
	return s
}

func ansiColor(code, s string) string {
	return fmt.Sprintf("%s%s%s", ansiColorCode(code), s, ansiColorCode("0"))
}

func ansiColorCode(code string) string {
	return fmt.Sprintf("\033[%sm", code)
}

func makeColorFunc(code string) colorFunc {
	return func(s string) string {
		return ansiColor(code, s)
	}
}

var (
	nextColor    = rainbowColor
	rainbow      []colorFunc
	currentIndex = 0
	mutex        sync.Mutex
)

func rainbowColor() colorFunc {
	result := rainbow[currentIndex]
	currentIndex = (currentIndex + 1) % len(rainbow)
	return result
}

func pickColor() colorFunc {
	mutex.Lock()
	defer mutex.Unlock()
	return nextColor()
}

func init() {
	colors := map[string]colorFunc{}
	for i, name := range names {
		colors[name] = makeColorFunc(strconv.Itoa(30 + i))
		colors["intense_"+name] = makeColorFunc(strconv.Itoa(30+i) + ";1")
	}
	rainbow = []colorFunc{
		colors["cyan"],
		colors["yellow"],
		colors["green"],
		colors["magenta"],
		colors["blue"],
		colors["intense_cyan"],
		colors["intense_yellow"],
		colors["intense_green"],
		colors["intense_magenta"],
		colors["intense_blue"],
	}
}
