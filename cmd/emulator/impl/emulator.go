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

// Package impl is the implementation of the board emulator.
package impl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/board"
	"github.com/google/bootcore/internal/board/sim"
	"github.com/google/bootcore/internal/cli"
	"github.com/google/bootcore/internal/config"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/proper"
	"github.com/google/bootcore/internal/spl"
)

// EmulatorOpts encapsulates emulator parameters.
type EmulatorOpts struct {
	ConfigFile string
	Dir        string
	Version    string
	// Reboot restarts the board after a reset instead of exiting.
	Reboot bool

	// Stdin and Stdout are the console; they default to the process's own.
	Stdin  io.Reader
	Stdout io.Writer
}

// Main runs the board until its console input ends.
func Main(ctx context.Context, opts EmulatorOpts) error {
	if opts.ConfigFile == "" {
		return errors.New("--config is required")
	}
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Dir(opts.ConfigFile)
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	b, err := sim.New(cfg, sim.Options{Dir: opts.Dir, Serial: sim.NewSerial(opts.Stdin, opts.Stdout)})
	if err != nil {
		return fmt.Errorf("failed to build board: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			glog.Warningf("Close: %v", err)
		}
	}()

	for {
		err := powerOn(ctx, cfg, b, opts)
		if errors.Is(err, cli.ErrReset) {
			if opts.Reboot {
				glog.Info("Board reset, powering on again")
				continue
			}
			return nil
		}
		return err
	}
}

// powerOn runs one boot from SPL onwards.
func powerOn(ctx context.Context, cfg *config.Board, b *sim.Board, opts EmulatorOpts) error {
	arch, err := image.ParseArch(cfg.Arch)
	if err != nil {
		return err
	}
	ring, err := loadKeys(cfg.Verify.Keys, opts.Dir)
	if err != nil {
		return err
	}
	policy := fit.Policy{
		Verify:            true,
		RequireSignatures: cfg.Verify.RequireSignatures,
		RequiredKeys:      cfg.Verify.RequiredKeys,
	}
	envOpts, err := b.EnvOptions()
	if err != nil {
		return err
	}
	// SPL only peeks at the stored environment, for falcon mode.
	early, err := env.New(envOpts)
	if err != nil {
		return err
	}
	early.Init(ctx)

	var order []board.BootDevice
	for _, d := range cfg.BootOrder {
		bd, err := board.ParseBootDevice(d)
		if err != nil {
			return err
		}
		order = append(order, bd)
	}

	gd := &board.GlobalData{}
	next := func(ctx context.Context, _ *spl.Image) error {
		return proper.New(b, gd, proper.Options{
			Env:       envOpts,
			Console:   b.Serial(),
			Version:   opts.Version,
			Arch:      arch,
			Keyring:   ring,
			Policy:    policy,
			MaxLen:    cfg.BootmLen,
			MachineID: cfg.MachineID,
			Sources:   b.FileSources(),
		}).Run(ctx)
	}
	s := spl.New(b, gd, spl.Options{
		Params: spl.Params{
			AllowRaw:     cfg.SPL.AllowRaw,
			RawLoad:      cfg.SPL.RawLoad,
			RawSize:      cfg.SPL.RawSize,
			CheckDataCRC: true,
			Keyring:      ring,
			Policy:       policy,
			ArgsAddr:     cfg.SPL.ArgsAddr,
		},
		Loaders:     b.Loaders(),
		Order:       order,
		MaxAttempts: cfg.MaxAttempts,
		Falcon:      cfg.SPL.Falcon,
		Env:         early,
		MachineID:   cfg.MachineID,
		Next:        next,
	})
	chain, err := s.Run(ctx)
	if err != nil {
		return err
	}
	return chain(ctx)
}

// loadKeys reads the public keys from a control device tree, if any.
func loadKeys(path, dir string) (*crypto.Keyring, error) {
	if path == "" {
		return crypto.NewKeyring(), nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys: %w", err)
	}
	tree, err := fdt.Read(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse keys: %w", err)
	}
	return crypto.KeyringFromFDT(tree.RootNode)
}
