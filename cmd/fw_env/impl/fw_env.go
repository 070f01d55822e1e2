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

// Package impl is the implementation of the host environment tool.
package impl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/board/sim"
	"github.com/google/bootcore/internal/config"
	"github.com/google/bootcore/internal/env"
)

// FwEnvOpts encapsulates fw_env parameters.
type FwEnvOpts struct {
	ConfigFile string
	Dir        string
	// Args is the subcommand and its arguments.
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Main runs one print or set subcommand against the configured medium.
func Main(ctx context.Context, opts FwEnvOpts) error {
	if opts.ConfigFile == "" {
		return errors.New("--config is required")
	}
	if len(opts.Args) == 0 {
		return errors.New("expected a print or set subcommand")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Dir(opts.ConfigFile)
	}
	b, err := sim.New(cfg, sim.Options{Dir: opts.Dir, Serial: sim.NewSerial(bytes.NewReader(nil), opts.Stderr)})
	if err != nil {
		return fmt.Errorf("failed to open board storage: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			glog.Warningf("Close: %v", err)
		}
	}()
	eo, err := b.EnvOptions()
	if err != nil {
		return err
	}
	s, err := env.New(eo)
	if err != nil {
		return err
	}
	if err := s.Load(ctx); err != nil {
		glog.V(1).Infof("Load: %v", err)
	}

	switch sub, args := opts.Args[0], opts.Args[1:]; sub {
	case "print", "printenv":
		return printEnv(opts.Stdout, s, args)
	case "set", "setenv":
		return setEnv(ctx, s, args)
	default:
		return fmt.Errorf("unknown subcommand %q", sub)
	}
}

func printEnv(w io.Writer, s *env.Store, args []string) error {
	valueOnly := len(args) > 0 && args[0] == "-n"
	if valueOnly {
		args = args[1:]
		if len(args) != 1 {
			return errors.New("-n requires exactly one variable name")
		}
	}
	if len(args) == 0 {
		args = s.Table().Names()
	}
	var missing []string
	for _, name := range args {
		v, ok := s.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		if valueOnly {
			fmt.Fprintln(w, v)
		} else {
			fmt.Fprintf(w, "%s=%s\n", name, v)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("not defined: %s", strings.Join(missing, ", "))
	}
	return nil
}

// setEnv sets name to the remaining arguments joined by spaces, or deletes
// it if there are none, and saves.
func setEnv(ctx context.Context, s *env.Store, args []string) error {
	if len(args) == 0 {
		return errors.New("set requires a variable name")
	}
	if err := s.Set(args[0], strings.Join(args[1:], " ")); err != nil {
		return err
	}
	return s.Save(ctx)
}
