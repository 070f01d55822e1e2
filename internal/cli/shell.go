// Copyright 2025 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli is the boot loader's command line: a parser for ';'
// separated command lists with variable expansion, and the commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/mem"
)

// Command return codes.
const (
	Success = 0
	Failure = 1
	Usage   = -1
)

// maxArgs bounds the words in one command.
const maxArgs = 64

var (
	// ErrUsage makes the shell print the command's usage.
	ErrUsage = errors.New("usage")
	// ErrReset is returned by a command that reset the board.
	ErrReset = errors.New("board reset")
)

// FileSource reads files for "load" from one kind of storage.
type FileSource interface {
	// ReadFile reads path from the device and partition named by devPart,
	// e.g. "0:1".
	ReadFile(devPart, path string) ([]byte, error)
}

// Machine is the state commands operate on.
type Machine struct {
	Env     *env.Store
	Bootm   *bootm.Bootm
	Mem     *mem.Memory
	Keyring *crypto.Keyring
	Console io.Writer
	// Reset restarts the board. It may return on a simulated board.
	Reset func()
	// Sources maps "load" interface names to file sources.
	Sources map[string]FileSource
	Version string
}

// Command is one entry of the command table.
type Command struct {
	Name  string
	Usage string
	Help  string
	// MinArgs and MaxArgs bound len(args) including the command name.
	// A zero MaxArgs means no limit.
	MinArgs, MaxArgs int
	Run              func(ctx context.Context, s *Shell, args []string) error
}

// Shell parses and runs command lines.
type Shell struct {
	m     *Machine
	cmds  map[string]*Command
	depth int
	reset bool
}

// New returns a shell with the standard commands.
func New(m *Machine) *Shell {
	if m.Console == nil {
		m.Console = io.Discard
	}
	s := &Shell{m: m, cmds: make(map[string]*Command)}
	for _, c := range commands() {
		s.Register(c)
	}
	return s
}

// Register adds c, replacing any command of the same name.
func (s *Shell) Register(c *Command) {
	s.cmds[c.Name] = c
}

// Machine returns the state the shell operates on.
func (s *Shell) Machine() *Machine { return s.m }

// ResetRequested reports whether a command reset the board.
func (s *Shell) ResetRequested() bool { return s.reset }

func (s *Shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.m.Console, format, args...)
}

func (s *Shell) lookup(name string) (string, bool) {
	if s.m.Env == nil {
		return "", false
	}
	return s.m.Env.Get(name)
}

// Run executes a command list. Commands are separated by ';' or newlines
// and all of them run even if one fails. It returns Success only if every
// command succeeded.
func (s *Shell) Run(ctx context.Context, line string) int {
	rc := Success
	for _, l := range strings.Split(line, "\n") {
		for _, c := range splitCommands(l) {
			if s.reset {
				return Failure
			}
			if ctx.Err() != nil {
				return Failure
			}
			args, err := splitArgs(c, s.lookup)
			if err != nil {
				s.printf("%v\n", err)
				rc = Failure
				continue
			}
			if len(args) == 0 {
				continue
			}
			if s.Exec(ctx, args) != Success {
				rc = Failure
			}
		}
	}
	return rc
}

// Exec runs one parsed command and returns its code.
func (s *Shell) Exec(ctx context.Context, args []string) int {
	c, ok := s.find(args[0])
	if !ok {
		s.printf("Unknown command '%s' - try 'help'\n", args[0])
		return Failure
	}
	if len(args) < c.MinArgs || c.MaxArgs > 0 && len(args) > c.MaxArgs {
		s.usage(c)
		return Usage
	}
	glog.V(1).Infof("cli: %q", args)
	err := c.Run(ctx, s, args)
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrUsage):
		s.usage(c)
		return Usage
	case errors.Is(err, ErrReset):
		s.reset = true
		return Success
	}
	var ce codeError
	if errors.As(err, &ce) {
		return ce.code
	}
	s.printf("## Error: %v\n", err)
	return Failure
}

// find resolves a command name, accepting any unique prefix.
func (s *Shell) find(name string) (*Command, bool) {
	if c, ok := s.cmds[name]; ok {
		return c, true
	}
	var match *Command
	for n, c := range s.cmds {
		if strings.HasPrefix(n, name) {
			if match != nil {
				return nil, false
			}
			match = c
		}
	}
	return match, match != nil
}

func (s *Shell) usage(c *Command) {
	s.printf("%s - %s\n\nUsage:\n%s %s\n", c.Name, c.Help, c.Name, c.Usage)
}

func (s *Shell) names() []string {
	var ns []string
	for n := range s.cmds {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

// codeError is a failure which has already been reported and carries its
// own return code.
type codeError struct{ code int }

func (e codeError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

// silent is a failure already reported by the command.
var silent = codeError{code: Failure}

// splitCommands splits a line at ';' outside quotes. A backslash escapes
// the separator.
func splitCommands(line string) []string {
	var cmds []string
	var quote byte
	start := 0
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && quote != '\'':
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			cmds = append(cmds, line[start:i])
			start = i + 1
		}
	}
	return append(cmds, line[start:])
}

// splitArgs splits a command into words at blanks outside quotes, removing
// the quotes and expanding variables outside single quotes. A backslash
// outside single quotes escapes the next character. Expanded values are
// never scanned for quotes; unquoted ones are split at blanks.
func splitArgs(cmd string, get env.Lookup) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote byte
	inWord := false
	word := func() {
		if inWord {
			args = append(args, cur.String())
			cur.Reset()
			inWord = false
		}
	}
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		switch {
		case quote == '\'':
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\\' && i+1 < len(cmd):
			i++
			cur.WriteByte(cmd[i])
			inWord = true
		case c == '$':
			name, n, ok := env.Ref(cmd[i:])
			if !ok {
				cur.WriteByte(c)
				inWord = true
				continue
			}
			i += n - 1
			v, _ := get(name)
			if quote != 0 {
				cur.WriteString(v)
				continue
			}
			for j := 0; j < len(v); j++ {
				if v[j] == ' ' || v[j] == '\t' {
					word()
					continue
				}
				cur.WriteByte(v[j])
				inWord = true
			}
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote, inWord = c, true
		case c == ' ' || c == '\t':
			word()
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	word()
	if len(args) > maxArgs {
		return nil, fmt.Errorf("** Too many args (max. %d) **", maxArgs)
	}
	return args, nil
}
