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

// Package proper is the full boot loader stage: it brings the board up,
// loads the environment and runs the main loop, which autoboots or serves
// the command line.
package proper

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/board"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/cli"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/mem"
)

// DefaultBootDelay is the autoboot delay used when "bootdelay" is unset or
// malformed.
const DefaultBootDelay = 2

// Console is the interactive console.
type Console interface {
	io.Writer
	// Tstc reports whether input is waiting.
	Tstc() bool
	// Getc waits for one character. It returns io.EOF once input is closed.
	Getc() (byte, error)
}

// Options configure the stage.
type Options struct {
	Env       env.Options
	Console   Console
	Version   string
	Arch      image.Arch
	Keyring   *crypto.Keyring
	Policy    fit.Policy
	MaxLen    uint64
	MachineID uint32
	// Sources are the "load" command's file sources.
	Sources map[string]cli.FileSource
	// Counter stores the boot count. Defaults to the environment.
	Counter BootCounter
	// Tick is the bootdelay polling interval. Defaults to 10ms.
	Tick time.Duration
}

// Proper is one run of the full boot loader.
type Proper struct {
	b    board.Board
	gd   *board.GlobalData
	opts Options

	env   *env.Store
	shell *cli.Shell
}

// New prepares a run on b. gd may carry memory set up by an earlier stage.
func New(b board.Board, gd *board.GlobalData, opts Options) *Proper {
	if opts.Tick == 0 {
		opts.Tick = 10 * time.Millisecond
	}
	if opts.Env.Console == nil {
		opts.Env.Console = opts.Console
	}
	return &Proper{b: b, gd: gd, opts: opts}
}

// Env returns the environment, once Run has brought it up.
func (p *Proper) Env() *env.Store { return p.env }

// Shell returns the command line, once Run has brought it up.
func (p *Proper) Shell() *cli.Shell { return p.shell }

// Run brings the board up and runs the main loop. It returns nil when the
// console input ends and an error wrapping cli.ErrReset when a command
// reset the board. A failure to bring the board up hangs it.
func (p *Proper) Run(ctx context.Context) error {
	if err := p.init(ctx); err != nil {
		return err
	}
	return p.mainLoop(ctx)
}

func (p *Proper) init(ctx context.Context) error {
	seq := board.SequenceF(p.b)
	banner := board.Initcall{Name: "display_options", Fn: func(gd *board.GlobalData) error {
		gd.Printf("\n\nU-Boot %s\n\n", p.opts.Version)
		return nil
	}}
	seq = append(seq[:1], append([]board.Initcall{banner}, seq[1:]...)...)
	if err := board.RunInitcalls(p.gd, seq); err != nil {
		return board.Hang(p.b, p.gd, fmt.Sprintf("init_f: %v", err), 1)
	}

	store, err := env.New(p.opts.Env)
	if err != nil {
		return board.Hang(p.b, p.gd, fmt.Sprintf("env: %v", err), 2)
	}
	p.env = store
	store.Init(ctx)
	p.gd.EnvValid = store.Info().Valid

	err = board.RunInitcalls(p.gd, board.SequenceR(p.b,
		board.Initcall{Name: "env_relocate", Fn: func(gd *board.GlobalData) error {
			store.Relocate(ctx)
			gd.Flags |= board.FlagEnvReady
			return nil
		}},
		board.Initcall{Name: "loadaddr", Fn: p.initLoadAddr},
		board.Initcall{Name: "shell", Fn: p.initShell},
	))
	if err != nil {
		return board.Hang(p.b, p.gd, fmt.Sprintf("init_r: %v", err), 5)
	}
	return nil
}

func (p *Proper) initLoadAddr(gd *board.GlobalData) error {
	v, ok := p.env.Get("loadaddr")
	if !ok {
		return nil
	}
	a, err := mem.ParseAddr(v)
	if err != nil {
		glog.Warningf("proper: ignoring loadaddr: %v", err)
		return nil
	}
	gd.LoadAddr = a
	return nil
}

func (p *Proper) initShell(gd *board.GlobalData) error {
	var console io.Writer = io.Discard
	if p.opts.Console != nil {
		console = p.opts.Console
	}
	b := bootm.New(bootm.Config{
		Mem:       gd.Mem,
		Env:       p.env,
		Arch:      p.opts.Arch,
		Keyring:   p.opts.Keyring,
		Policy:    p.opts.Policy,
		MaxLen:    p.opts.MaxLen,
		MachineID: p.opts.MachineID,
		Jumper:    p.b.Jumper(),
		Console:   console,
	})
	p.shell = cli.New(&cli.Machine{
		Env:     p.env,
		Bootm:   b,
		Mem:     gd.Mem,
		Keyring: p.opts.Keyring,
		Console: console,
		Reset:   p.b.Reset,
		Sources: p.opts.Sources,
		Version: p.opts.Version,
	})
	return nil
}

// errReset is returned by Run when a command reset the board.
var errReset = fmt.Errorf("proper: %w", cli.ErrReset)
