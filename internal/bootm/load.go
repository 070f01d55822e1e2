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
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/compress"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/mem"
)

const (
	ramdiskAlign = 0x1000
	fdtAlign     = 0x8
	// fdtPad is extra room reserved so fixups can grow the tree.
	fdtPad = 0x3000
	// noloadAlign is where a compressed kernel_noload image is unpacked.
	noloadAlign = 0x100000
)

// verifyImages checks every image the attempt will use. Nothing after a
// failure here runs.
func (b *Bootm) verifyImages() error {
	h := &b.h
	if h.Arch != b.cfg.Arch && h.Type != image.TypeStandalone {
		b.printf("Unsupported Architecture 0x%x\n", uint8(h.Arch))
		return fmt.Errorf("%w: image is %v, board is %v", ErrWrongArch, h.Arch, b.cfg.Arch)
	}
	verify := b.verify()
	switch h.Format {
	case image.FormatLegacy:
		if verify {
			b.printf("   Verifying Checksum ... ")
			if err := h.Legacy.VerifyData(h.legacyData); err != nil {
				b.printf("Bad Data CRC\n")
				return fmt.Errorf("%w: %w", ErrVerify, err)
			}
			b.printf("OK\n")
		}
	case image.FormatFIT:
		p := b.cfg.Policy
		p.Verify = verify
		if h.Config != nil {
			b.printf("   Verifying Hash Integrity ... ")
			if err := h.FIT.VerifyConfig(h.Config, b.cfg.Keyring, p); err != nil {
				b.printf("error!\n")
				return fmt.Errorf("%w: %w", ErrVerify, err)
			}
			b.printf("OK\n")
		} else if p.RequireSignatures || len(p.RequiredKeys) > 0 {
			// A bare subimage cannot carry a configuration signature.
			return fmt.Errorf("%w: %w", ErrVerify, fit.ErrUnsigned)
		}
		for _, img := range h.fitImages {
			b.printf("   Verifying Hash Integrity of '%s' ... ", img.Name)
			if err := h.FIT.VerifyImage(img, b.cfg.Keyring, p); err != nil {
				b.printf("error!\n")
				return fmt.Errorf("%w: %w", ErrVerify, err)
			}
			b.printf("OK\n")
		}
	}
	if h.ramdiskLegacy != nil && verify {
		b.printf("   Verifying Checksum ... ")
		if err := h.ramdiskLegacy.VerifyData(h.ramdiskData); err != nil {
			b.printf("Bad Data CRC\n")
			return fmt.Errorf("%w: ramdisk: %w", ErrVerify, err)
		}
		b.printf("OK\n")
	}
	h.Verified = true
	return nil
}

// loadOS places the kernel at its load address, decompressing on the way.
func (b *Bootm) loadOS() error {
	h := &b.h
	if h.State&StateFindImages == 0 {
		return ErrNoImage
	}
	if h.Type == image.TypeMulti {
		h.Type = image.TypeKernel
	}
	if h.NoLoad {
		if h.Comp == image.CompNone {
			h.Load = h.DataAddr
		} else {
			h.Load = (h.DataAddr + uint64(len(h.Data)) + noloadAlign - 1) &^ (noloadAlign - 1)
		}
		// For kernel_noload the entry point is an offset from the load address.
		h.Entry += h.Load
	}

	if h.Comp == image.CompNone && h.Load == h.DataAddr {
		b.printf("   XIP %s ... OK\n", h.Type.Description())
		h.LoadEnd = h.Load + uint64(len(h.Data))
		b.reserve(h.Load, h.LoadEnd-h.Load)
		return nil
	}

	if h.Comp == image.CompNone {
		b.printf("   Loading %s\n", h.Type.Description())
	} else {
		b.printf("   Uncompressing %s\n", h.Type.Description())
	}
	out, err := compress.Decompress(h.Comp, h.Data, int(b.cfg.MaxLen))
	if err != nil {
		if errors.Is(err, compress.ErrTooLarge) {
			b.printf("%v\n", ErrTooLarge)
			return fmt.Errorf("%w: %w", ErrTooLarge, err)
		}
		b.printf("Error: Bad %s compressed image\n", h.Comp)
		return fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	h.LoadEnd = h.Load + uint64(len(out))
	glog.V(1).Infof("bootm: kernel loaded at %#x, end %#x", h.Load, h.LoadEnd)

	// Writing over the image we are unpacking, or a ramdisk still to be
	// moved, would corrupt them.
	if mem.Overlaps(h.Load, uint64(len(out)), h.DataAddr, uint64(len(h.Data))) ||
		mem.Overlaps(h.Load, uint64(len(out)), h.RamdiskSrc, uint64(len(h.Ramdisk))) {
		if h.Format == image.FormatFIT {
			b.printf("ERROR: new format image overwritten - must RESET the board to recover\n")
		}
		return fmt.Errorf("%w: load %#x-%#x, image %#x-%#x", ErrOverlap, h.Load, h.LoadEnd, h.DataAddr, h.DataAddr+uint64(len(h.Data)))
	}
	if err := b.cfg.Mem.Write(h.Load, out); err != nil {
		return err
	}
	b.reserve(h.Load, h.LoadEnd-h.Load)
	return nil
}

// relocateRamdisk copies the ramdisk below initrd_high, or leaves it in
// place when initrd_high is all ones.
func (b *Bootm) relocateRamdisk() error {
	h := &b.h
	if len(h.Ramdisk) == 0 {
		return nil
	}
	size := uint64(len(h.Ramdisk))
	top, inPlace, err := b.highLimit("initrd_high")
	if err != nil {
		return err
	}
	var dst uint64
	switch {
	case h.InitrdStart != 0:
		dst = h.InitrdStart
		if mem.Overlaps(dst, size, h.Load, h.LoadEnd-h.Load) {
			return fmt.Errorf("%w: ramdisk load %#x overlaps kernel", ErrOverlap, dst)
		}
	case inPlace:
		dst = h.RamdiskSrc
	default:
		if dst, err = b.place(size, top, ramdiskAlign); err != nil {
			return fmt.Errorf("ramdisk: %w", err)
		}
	}
	if dst != h.RamdiskSrc {
		b.printf("   Loading Ramdisk to %08x, end %08x ... ", dst, dst+size)
		if err := b.cfg.Mem.Write(dst, h.Ramdisk); err != nil {
			return err
		}
		b.printf("OK\n")
	}
	h.InitrdStart, h.InitrdEnd = dst, dst+size
	b.reserve(dst, size)
	return nil
}

// relocateFDT reserves room for the fixed-up device tree below fdt_high.
// The tree itself is written by OS_PREP once fixups are known.
func (b *Bootm) relocateFDT() error {
	h := &b.h
	if len(h.FDT) == 0 {
		return nil
	}
	h.FDTRoom = uint64(len(h.FDT)) + fdtPad
	top, inPlace, err := b.highLimit("fdt_high")
	if err != nil {
		return err
	}
	if inPlace {
		return fmt.Errorf("fdt_high=0xffffffff needs the tree at a fixed address, which is not supported")
	}
	addr, err := b.place(h.FDTRoom, top, fdtAlign)
	if err != nil {
		return fmt.Errorf("fdt: %w", err)
	}
	h.FDTAddr = addr
	b.reserve(addr, h.FDTRoom)
	b.printf("   Loading Device Tree to %08x, end %08x ... OK\n", addr, addr+h.FDTRoom)
	return nil
}

// standalone runs a standalone application when autostart is set, and
// otherwise records its size and stops.
func (b *Bootm) standalone() error {
	h := &b.h
	if v := b.env("autostart"); v == "" || (v[0] != 'y' && v[0] != 'Y' && v[0] != '1') {
		if b.cfg.Env != nil {
			if err := b.cfg.Env.Set("filesize", fmt.Sprintf("%x", h.LoadEnd-h.Load)); err != nil {
				return &Error{State: StateDecompress, Err: err}
			}
		}
		return nil
	}
	b.printf("## Starting application at 0x%08x ...\n", h.Entry)
	// Standalone applications return to the boot loader.
	if err := b.cfg.Jumper.Jump(b.cfg.Mem, b.jumpArgs(nil)); err != nil {
		return &Error{State: StateOSGo, Err: err}
	}
	return nil
}
