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

package bootm

import (
	"bytes"
	"debug/elf"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/mem"
)

// OSHandler prepares memory for one kind of operating system and produces
// the arguments its entry point expects.
type OSHandler interface {
	Name() string
	Prep(b *Bootm) error
	Args(b *Bootm) JumpArgs
}

func defaultHandlers() map[image.OS]OSHandler {
	return map[image.OS]OSHandler{
		image.OSLinux:   linuxHandler{},
		image.OSVxWorks: vxworksHandler{},
		image.OSELF:     elfHandler{},
		image.OSNetBSD:  plainHandler{"NetBSD"},
		image.OSRTEMS:   plainHandler{"RTEMS"},
		image.OSQNX:     plainHandler{"QNX"},
		image.OSPlan9:   plainHandler{"Plan 9"},
	}
}

func (b *Bootm) handler() (OSHandler, error) {
	h, ok := b.handlers[b.h.OS]
	if !ok {
		b.printf("ERROR: booting os '%s' (%d) is not supported\n", b.h.OS.Description(), uint8(b.h.OS))
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedOS, b.h.OS)
	}
	return h, nil
}

func (b *Bootm) prepOS() error {
	if b.h.State&StateFindImages == 0 {
		return ErrNoImage
	}
	h, err := b.handler()
	if err != nil {
		return err
	}
	return h.Prep(b)
}

func (b *Bootm) goOS(fake bool) error {
	if b.h.State&StateFindImages == 0 {
		return ErrNoImage
	}
	if !b.h.Verified && b.h.Format != image.FormatUnknown {
		// Subcommands may skip states, but never verification.
		return fmt.Errorf("%w: image was not verified", ErrVerify)
	}
	h, err := b.handler()
	if err != nil {
		return err
	}
	args := h.Args(b)
	b.printf("## Transferring control to %s (at address %08x)...\n", h.Name(), args.Entry)
	if fake {
		b.printf("   (fake run for tracing)\n")
		return nil
	}
	b.printf("\nStarting kernel ...\n\n")
	glog.Infof("bootm: jumping to %#x", args.Entry)
	err = b.cfg.Jumper.Jump(b.cfg.Mem, args)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReturned, err)
	}
	return ErrReturned
}

// jumpArgs fills the fields every handler shares.
func (b *Bootm) jumpArgs(regs []uint64) JumpArgs {
	a := JumpArgs{
		OS:      b.h.OS,
		Arch:    b.cfg.Arch,
		Entry:   b.h.Entry,
		Load:    b.h.Load,
		Size:    b.h.LoadEnd - b.h.Load,
		Cmdline: b.h.Cmdline,
	}
	copy(a.Regs[:], regs)
	return a
}

// ProcessCmdline builds the kernel command line from bootargs: variable
// references are substituted and, when silent_linux is set, the console is
// silenced.
func (b *Bootm) ProcessCmdline() string {
	args := b.env("bootargs")
	if b.cfg.Env != nil {
		args = env.Expand(args, b.cfg.Env.Get)
	}
	if s := b.env("silent_linux"); s != "" {
		if on, err := env.ParseBool(s); err == nil && on {
			args = silenceConsole(args)
		}
	}
	return strings.TrimSpace(args)
}

// silenceConsole empties every console= argument, adding one if needed.
func silenceConsole(args string) string {
	fields := strings.Fields(args)
	found := false
	for i, f := range fields {
		if strings.HasPrefix(f, "console=") {
			fields[i] = "console="
			found = true
		}
	}
	if !found {
		fields = append(fields, "console=")
	}
	return strings.Join(fields, " ")
}

// writeFDT applies the standard fixups and writes the tree into the room
// reserved at FDT.
func (b *Bootm) writeFDT() error {
	h := &b.h
	if len(h.FDT) == 0 {
		return nil
	}
	fixed, err := fdt.Apply(h.FDT, fdt.Fixup{
		Bootargs:    h.Cmdline,
		InitrdStart: h.InitrdStart,
		InitrdEnd:   h.InitrdEnd,
		Memory:      b.cfg.Banks,
	})
	if err != nil {
		return fmt.Errorf("fdt fixup: %w", err)
	}
	if h.FDTRoom == 0 {
		return fmt.Errorf("device tree was not placed; run the fdt state first")
	}
	if uint64(len(fixed)) > h.FDTRoom {
		return fmt.Errorf("fixed-up device tree is %d bytes, only %d reserved", len(fixed), h.FDTRoom)
	}
	glog.V(1).Infof("bootm: device tree at %#x, %d bytes", h.FDTAddr, len(fixed))
	return b.cfg.Mem.Write(h.FDTAddr, fixed)
}

type linuxHandler struct{}

func (linuxHandler) Name() string { return "Linux" }

func (linuxHandler) Prep(b *Bootm) error {
	b.h.Cmdline = b.ProcessCmdline()
	return b.writeFDT()
}

// Args follows the ARM boot protocol: r0 = 0, r1 = machine id, r2 = tree.
// 64-bit and RISC-V kernels take the tree in the first register.
func (linuxHandler) Args(b *Bootm) JumpArgs {
	switch b.cfg.Arch {
	case image.ArchARM:
		return b.jumpArgs([]uint64{0, uint64(b.cfg.MachineID), b.h.FDTAddr})
	case image.ArchRISCV:
		return b.jumpArgs([]uint64{0, b.h.FDTAddr})
	}
	return b.jumpArgs([]uint64{b.h.FDTAddr})
}

type vxworksHandler struct{}

func (vxworksHandler) Name() string { return "VxWorks" }

// Prep writes the boot line to bootaddr when that variable is set.
func (vxworksHandler) Prep(b *Bootm) error {
	b.h.Cmdline = b.env("bootargs")
	if a := b.env("bootaddr"); a != "" && b.h.Cmdline != "" {
		addr, err := mem.ParseAddr(a)
		if err != nil {
			return fmt.Errorf("bootaddr: %w", err)
		}
		if err := b.cfg.Mem.Write(addr, append([]byte(b.h.Cmdline), 0)); err != nil {
			return fmt.Errorf("bootline: %w", err)
		}
	}
	return b.writeFDT()
}

func (vxworksHandler) Args(b *Bootm) JumpArgs {
	return b.jumpArgs([]uint64{b.h.FDTAddr})
}

type elfHandler struct{}

func (elfHandler) Name() string { return "ELF" }

// Prep loads the PT_LOAD segments of the loaded ELF file to their physical
// addresses and takes the entry point from the ELF header.
func (elfHandler) Prep(b *Bootm) error {
	h := &b.h
	img, err := b.cfg.Mem.Read(h.Load, h.LoadEnd-h.Load)
	if err != nil {
		return err
	}
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return fmt.Errorf("not an ELF file: %w", err)
	}
	defer f.Close()
	for idx, prg := range f.Progs {
		if prg.Type != elf.PT_LOAD {
			continue
		}
		if prg.Filesz > prg.Memsz {
			return fmt.Errorf("LOAD segment %d: file size %d exceeds memory size %d", idx, prg.Filesz, prg.Memsz)
		}
		if !b.cfg.Mem.Contains(prg.Paddr, prg.Memsz) {
			return fmt.Errorf("LOAD segment %d: %#x+%#x is outside RAM", idx, prg.Paddr, prg.Memsz)
		}
		seg := make([]byte, prg.Memsz)
		if _, err := prg.ReadAt(seg[:prg.Filesz], 0); err != nil {
			return fmt.Errorf("failed to read LOAD segment %d: %w", idx, err)
		}
		if err := b.cfg.Mem.Write(prg.Paddr, seg); err != nil {
			return fmt.Errorf("LOAD segment %d: %w", idx, err)
		}
		glog.V(1).Infof("bootm: ELF segment %d at %#x, %d bytes", idx, prg.Paddr, prg.Memsz)
	}
	h.Entry = f.Entry
	h.Cmdline = b.ProcessCmdline()
	return nil
}

func (elfHandler) Args(b *Bootm) JumpArgs {
	return b.jumpArgs(nil)
}

// plainHandler jumps to the entry point with no arguments.
type plainHandler struct{ name string }

func (p plainHandler) Name() string         { return p.name }
func (plainHandler) Prep(*Bootm) error      { return nil }
func (plainHandler) Args(b *Bootm) JumpArgs { return b.jumpArgs(nil) }
