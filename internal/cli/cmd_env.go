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

package cli

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/mem"
)

// maxRunDepth bounds nested "run" commands.
const maxRunDepth = 16

var envSubcommands = []*Command{
	{Name: "default", Usage: "[-f] -a | [-f] var [...]", Help: "reset variables to their defaults", MinArgs: 2, Run: envDefault},
	{Name: "delete", Usage: "[-f] var [...]", Help: "delete variables", MinArgs: 2, Run: envDelete},
	{Name: "exists", Usage: "var", Help: "test whether a variable is set", MinArgs: 2, MaxArgs: 2, Run: envExists},
	{Name: "export", Usage: "[-t | -b | -c] [-s size] addr [var ...]", Help: "export variables to memory", MinArgs: 2, Run: envExport},
	{Name: "grep", Usage: "[-n | -v | -b] string [...]", Help: "search variables", MinArgs: 2, Run: envGrep},
	{Name: "import", Usage: "[-d] [-t | -b | -c] addr [size] [var ...]", Help: "import variables from memory", MinArgs: 2, Run: envImport},
	{Name: "info", Usage: "[-d] [-p] [-q]", Help: "show environment information", Run: envInfo},
	{Name: "print", Usage: "[name ...]", Help: "print variables", Run: printenv},
	{Name: "run", Usage: "var [...]", Help: "run commands in variables", MinArgs: 2, Run: run},
	{Name: "save", Help: "save the environment", MaxArgs: 1, Run: saveenv},
	{Name: "erase", Help: "erase the stored environment", MaxArgs: 1, Run: envErase},
	{Name: "select", Usage: "target", Help: "select the environment medium", MinArgs: 2, MaxArgs: 2, Run: envSelect},
	{Name: "set", Usage: "[-f] name [value ...]", Help: "set or delete a variable", MinArgs: 2, Run: setenv},
}

func envCmd(ctx context.Context, s *Shell, args []string) error {
	if len(args) < 2 {
		return ErrUsage
	}
	for _, c := range envSubcommands {
		if c.Name == args[1] {
			sub := args[1:]
			if len(sub) < c.MinArgs || c.MaxArgs > 0 && len(sub) > c.MaxArgs {
				return ErrUsage
			}
			return c.Run(ctx, s, sub)
		}
	}
	return ErrUsage
}

func printenv(_ context.Context, s *Shell, args []string) error {
	t := s.m.Env.Table()
	if len(args) > 1 && args[1] == "-a" {
		args = args[1:]
	}
	if len(args) == 1 {
		n := 0
		for _, k := range t.Names() {
			v, _ := t.Get(k)
			s.printf("%s=%s\n", k, v)
			n += len(k) + len(v) + 2
		}
		s.printf("\nEnvironment size: %d/%d bytes\n", n+1, s.m.Env.Layout().DataSize())
		return nil
	}
	var err error
	for _, k := range args[1:] {
		v, ok := t.Get(k)
		if !ok {
			s.printf("## Error: \"%s\" not defined\n", k)
			err = silent
			continue
		}
		s.printf("%s=%s\n", k, v)
	}
	return err
}

func setenv(_ context.Context, s *Shell, args []string) error {
	force := false
	if args[1] == "-f" {
		force, args = true, args[1:]
		if len(args) < 2 {
			return ErrUsage
		}
	}
	name, value := args[1], strings.Join(args[2:], " ")
	t := s.m.Env.Table()
	var err error
	if force {
		err = t.ForceSet(name, value)
	} else {
		err = t.Set(name, value)
	}
	if err != nil {
		s.printf("## Error: %v\n", err)
		return silent
	}
	return nil
}

func saveenv(ctx context.Context, s *Shell, _ []string) error {
	if err := s.m.Env.Save(ctx); err != nil {
		s.printf("## Error: %v\n", err)
		return silent
	}
	return nil
}

func envErase(ctx context.Context, s *Shell, _ []string) error {
	return s.m.Env.Erase(ctx)
}

func envSelect(_ context.Context, s *Shell, args []string) error {
	if err := s.m.Env.Select(args[1]); err != nil {
		s.printf("Select Environment on %s: %v\n", args[1], err)
		return silent
	}
	s.printf("Select Environment on %s: OK\n", args[1])
	return nil
}

// parseForce strips a leading -f.
func parseForce(args []string) (bool, []string) {
	if len(args) > 0 && args[0] == "-f" {
		return true, args[1:]
	}
	return false, args
}

func envDefault(_ context.Context, s *Shell, args []string) error {
	force, rest := parseForce(args[1:])
	if len(rest) == 1 && rest[0] == "-a" {
		if err := s.m.Env.ResetDefaults(force); err != nil {
			return err
		}
		s.printf("## Resetting to default environment\n")
		return nil
	}
	if len(rest) == 0 {
		return ErrUsage
	}
	return s.m.Env.ResetDefaults(force, rest...)
}

func envDelete(_ context.Context, s *Shell, args []string) error {
	force, rest := parseForce(args[1:])
	if len(rest) == 0 {
		return ErrUsage
	}
	t := s.m.Env.Table()
	var err error
	for _, n := range rest {
		if _, ok := t.Get(n); !ok {
			s.printf("## Error: \"%s\" not defined\n", n)
			err = silent
			continue
		}
		set := t.Set
		if force {
			set = t.ForceSet
		}
		if e := set(n, ""); e != nil {
			s.printf("## Error: %v\n", e)
			err = silent
		}
	}
	return err
}

func envExists(_ context.Context, s *Shell, args []string) error {
	if _, ok := s.m.Env.Get(args[1]); !ok {
		return silent
	}
	return nil
}

// envFormat parses -t, -b and -c, defaulting to text.
func envFormat(args []string) (env.Format, []string) {
	f := env.FormatText
	for len(args) > 0 {
		switch args[0] {
		case "-t":
			f = env.FormatText
		case "-b":
			f = env.FormatBinary
		case "-c":
			f = env.FormatChecksummed
		default:
			return f, args
		}
		args = args[1:]
	}
	return f, args
}

func envExport(_ context.Context, s *Shell, args []string) error {
	f, rest := envFormat(args[1:])
	size := 0
	if len(rest) > 1 && rest[0] == "-s" {
		n, err := strconv.ParseUint(rest[1], 16, 32)
		if err != nil {
			return ErrUsage
		}
		size, rest = int(n), rest[2:]
		f, rest = envFormat(rest)
	}
	if len(rest) == 0 {
		return ErrUsage
	}
	addr, err := mem.ParseAddr(rest[0])
	if err != nil {
		return err
	}
	b, err := s.m.Env.Export(f, size, rest[1:]...)
	if err != nil {
		return err
	}
	if f == env.FormatText {
		// Text exports are NUL terminated in memory.
		b = append(b, 0)
	}
	if err := s.m.Mem.Write(addr, b); err != nil {
		return err
	}
	return s.m.Env.Set("filesize", fmt.Sprintf("%x", len(b)))
}

func envImport(_ context.Context, s *Shell, args []string) error {
	rest := args[1:]
	opts := env.ImportOpts{}
	if len(rest) > 0 && rest[0] == "-d" {
		opts.Replace, rest = true, rest[1:]
	}
	f, rest := envFormat(rest)
	if len(rest) > 0 && rest[0] == "-d" {
		opts.Replace, rest = true, rest[1:]
	}
	if len(rest) == 0 {
		return ErrUsage
	}
	addr, err := mem.ParseAddr(rest[0])
	if err != nil {
		return err
	}
	var size uint64
	if len(rest) > 1 && rest[1] != "-" {
		if size, err = strconv.ParseUint(rest[1], 16, 64); err != nil {
			return ErrUsage
		}
	}
	if len(rest) > 2 {
		opts.Only = rest[2:]
	}
	data, err := s.importData(f, addr, size)
	if err != nil {
		return err
	}
	warnings, err := s.m.Env.Import(f, data, opts)
	if err != nil {
		s.printf("## Error: environment import failed: %v\n", err)
		return silent
	}
	for _, w := range warnings {
		s.printf("## Warning: %v\n", w)
	}
	return nil
}

// importData reads the import source. Without a size a text or binary
// import runs to the terminating NUL(s), and a checksummed one uses the
// environment size.
func (s *Shell) importData(f env.Format, addr, size uint64) ([]byte, error) {
	if size != 0 {
		b, err := s.m.Mem.Read(addr, size)
		if err == nil && f == env.FormatText {
			if i := bytes.IndexByte(b, 0); i >= 0 {
				b = b[:i]
			}
		}
		return b, err
	}
	if f == env.FormatChecksummed {
		return s.m.Mem.Read(addr, uint64(s.m.Env.Layout().Size))
	}
	tail, err := s.m.Mem.Tail(addr)
	if err != nil {
		return nil, err
	}
	end := []byte{0}
	if f == env.FormatBinary {
		end = []byte{0, 0}
	}
	i := bytes.Index(tail, end)
	if i < 0 {
		return nil, fmt.Errorf("no terminating NUL after 0x%x", addr)
	}
	return append([]byte(nil), tail[:i+len(end)]...), nil
}

func envGrep(_ context.Context, s *Shell, args []string) error {
	names, values := true, true
	rest := args[1:]
	for len(rest) > 0 && strings.HasPrefix(rest[0], "-") {
		switch rest[0] {
		case "-n":
			names, values = true, false
		case "-v":
			names, values = false, true
		case "-b":
			names, values = true, true
		case "-e":
		default:
			return ErrUsage
		}
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return ErrUsage
	}
	t := s.m.Env.Table()
	found := false
	for _, k := range t.Names() {
		v, _ := t.Get(k)
		for _, pat := range rest {
			if names && strings.Contains(k, pat) || values && strings.Contains(v, pat) {
				s.printf("%s=%s\n", k, v)
				found = true
				break
			}
		}
	}
	if !found {
		return silent
	}
	return nil
}

func envInfo(_ context.Context, s *Shell, args []string) error {
	var checkDefault, checkPersist, quiet bool
	for _, a := range args[1:] {
		switch a {
		case "-d":
			checkDefault = true
		case "-p":
			checkPersist = true
		case "-q":
			quiet = true
		default:
			return ErrUsage
		}
	}
	info := s.m.Env.Info()
	if !checkDefault && !checkPersist {
		s.printf("env_valid = %s\n", info.Valid)
		s.printf("env_ready = %t\n", info.Ready)
		s.printf("env_use_default = %t\n", info.Default)
		s.printf("env_location = %s\n", info.Medium)
		return nil
	}
	// Succeed only if every requested check holds.
	ok := true
	if checkDefault {
		msg := "Environment was loaded from persistent storage"
		if info.Default {
			msg = "Default environment is used"
		}
		ok = ok && info.Default
		if !quiet {
			s.printf("%s\n", msg)
		}
	}
	if checkPersist {
		persist := info.Medium != "nowhere"
		msg := "Environment cannot be persisted"
		if persist {
			msg = "Environment can be persisted"
		}
		ok = ok && persist
		if !quiet {
			s.printf("%s\n", msg)
		}
	}
	if !ok {
		return silent
	}
	return nil
}

func run(ctx context.Context, s *Shell, args []string) error {
	if s.depth >= maxRunDepth {
		s.printf("## Error: run nested too deeply\n")
		return silent
	}
	s.depth++
	defer func() { s.depth-- }()
	for _, name := range args[1:] {
		cmd, ok := s.m.Env.Get(name)
		if !ok {
			s.printf("## Error: \"%s\" not defined\n", name)
			return silent
		}
		if s.Run(ctx, cmd) != Success {
			return silent
		}
	}
	return nil
}
