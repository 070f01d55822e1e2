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

// Package spl is the secondary program loader: it brings up DRAM, finds
// the next boot stage on one of the board's boot devices, and hands over.
package spl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/board"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/image"
)

// DefaultMaxAttempts bounds the boot devices tried when Options does not.
const DefaultMaxAttempts = 4

var (
	// ErrFatal wraps every failure the board cannot recover from.
	ErrFatal = errors.New("spl: fatal")
	// ErrNoImage is returned when a device holds nothing bootable.
	ErrNoImage = errors.New("no valid image found")
	// ErrNoLoadAddr is returned for a FIT payload without a load address.
	ErrNoLoadAddr = errors.New("no load address")
	// ErrUnavailable is returned by loaders for devices that are absent.
	ErrUnavailable = errors.New("boot device unavailable")
	// ErrNoFalcon is returned when a device cannot boot an OS directly.
	ErrNoFalcon = errors.New("falcon mode not supported")
	// ErrTooLarge is returned for a header claiming more data than fits in RAM.
	ErrTooLarge = errors.New("image too large")
)

// Loader reads the next stage from one kind of boot device.
type Loader interface {
	Name() string
	// Load places the next stage, or the OS when kernel is set, in memory.
	Load(ctx context.Context, p *Params, kernel bool) (*Image, error)
}

// Options configures an SPL run.
type Options struct {
	Params
	// Loaders maps each supported boot device to its loader.
	Loaders map[board.BootDevice]Loader
	// Order lists devices to try after the strap-selected one.
	Order       []board.BootDevice
	MaxAttempts int
	// Falcon allows booting the OS directly when Env has boot_os set.
	Falcon bool
	Env    bootm.Env
	// MachineID is passed to a falcon-mode ARM kernel.
	MachineID uint32
	// Next runs U-Boot proper in-process. When nil, the board's jumper is
	// used for every payload.
	Next func(ctx context.Context, img *Image) error
}

// Attempt records one boot device tried.
type Attempt struct {
	Device board.BootDevice
	Err    error
}

// Chain represents the next stage in the boot process.
type Chain func(ctx context.Context) error

// SPL runs the staged boot for one board.
type SPL struct {
	b    board.Board
	gd   *board.GlobalData
	opts Options

	// Attempts lists the devices tried by the last Run, in order.
	Attempts []Attempt
	// Image is the payload found by the last successful Run.
	Image *Image
}

// New returns an SPL for b.
func New(b board.Board, gd *board.GlobalData, opts Options) *SPL {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &SPL{b: b, gd: gd, opts: opts}
}

// Run performs the boot up to the point of handing over, and returns the
// first link in the boot chain. Failures before DRAM, or on every boot
// device, hang the board and return an error wrapping ErrFatal.
func (s *SPL) Run(ctx context.Context) (Chain, error) {
	s.Attempts, s.Image = nil, nil
	if err := board.RunInitcalls(s.gd, board.SequenceF(s.b)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFatal, board.Hang(s.b, s.gd, err.Error(), 1))
	}
	s.opts.Params.Mem = s.gd.Mem
	s.gd.Printf("\nU-Boot SPL (%s)\n", s.gd.Board)

	kernel := s.falcon()
	for _, dev := range s.devices() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := s.tryDevice(ctx, dev, kernel)
		s.Attempts = append(s.Attempts, Attempt{Device: dev, Err: err})
		if err != nil {
			s.gd.Printf("SPL: failed to boot from %s: %v\n", dev, err)
			continue
		}
		s.gd.BootDevice = dev
		s.Image = img
		break
	}
	if s.Image == nil {
		err := board.Hang(s.b, s.gd, "SPL: failed to boot from all boot devices", 3)
		return nil, fmt.Errorf("%w: %w: %w", ErrFatal, ErrNoImage, err)
	}
	glog.Infof("SPL: loaded %q (%s) from %s", s.Image.Name, s.Image.OS, s.gd.BootDevice)

	if err := board.RunInitcalls(s.gd, board.SequenceR(s.b)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFatal, board.Hang(s.b, s.gd, err.Error(), 4))
	}
	img := s.Image
	return func(ctx context.Context) error { return s.handOver(ctx, img) }, nil
}

// devices returns the boot devices to try: the strap-selected device first,
// then the configured order, without repeats and at most MaxAttempts.
func (s *SPL) devices() []board.BootDevice {
	var list []board.BootDevice
	dev, err := s.b.BootDevice(s.gd)
	if err != nil {
		s.gd.Printf("SPL: unknown boot device: %v\n", err)
	} else {
		list = append(list, dev)
	}
	for _, d := range s.opts.Order {
		dup := false
		for _, l := range list {
			dup = dup || l == d
		}
		if !dup {
			list = append(list, d)
		}
	}
	if len(list) > s.opts.MaxAttempts {
		list = list[:s.opts.MaxAttempts]
	}
	return list
}

func (s *SPL) tryDevice(ctx context.Context, dev board.BootDevice, kernel bool) (*Image, error) {
	l, ok := s.opts.Loaders[dev]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported boot device %s", ErrUnavailable, dev)
	}
	s.gd.Printf("Trying to boot from %s\n", strings.ToUpper(l.Name()))
	s.b.Watchdog()
	if kernel {
		img, err := l.Load(ctx, &s.opts.Params, true)
		if err == nil {
			return img, nil
		}
		s.gd.Printf("SPL: falcon boot failed (%v), loading U-Boot\n", err)
	}
	return l.Load(ctx, &s.opts.Params, false)
}

// falcon reports whether to try the OS before U-Boot proper.
func (s *SPL) falcon() bool {
	if !s.opts.Falcon || s.opts.Env == nil {
		return false
	}
	v, ok := s.opts.Env.Get("boot_os")
	if !ok {
		return false
	}
	on, err := env.ParseBool(v)
	return err == nil && on
}

func (s *SPL) handOver(ctx context.Context, img *Image) error {
	if img.OS == image.OSUBoot && s.opts.Next != nil {
		s.gd.Printf("Jumping to U-Boot\n")
		return s.opts.Next(ctx, img)
	}
	args := bootm.JumpArgs{
		OS:    img.OS,
		Arch:  img.Arch,
		Entry: img.Entry,
		Load:  img.LoadAddr,
		Size:  img.Size,
	}
	switch img.OS {
	case image.OSLinux:
		args.Regs = [4]uint64{0, uint64(s.opts.MachineID), img.Args}
	default:
		args.Regs[0] = img.Args
	}
	s.gd.Printf("Jumping to %s at 0x%x\n", img.OS.Description(), img.Entry)
	if err := s.b.Jumper().Jump(s.gd.Mem, args); err != nil {
		return fmt.Errorf("%w: %w", bootm.ErrReturned, err)
	}
	return bootm.ErrReturned
}
