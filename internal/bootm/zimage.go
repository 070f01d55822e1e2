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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/bootcore/internal/compress"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/mem"
)

const (
	zImageMagic    = 0x016f2818
	zImageMagicOff = 0x24
	arm64Magic     = 0x644d5241 // "ARM\x64"
	arm64MagicOff  = 0x38
	arm64HdrSize   = 0x40
	// arm64AnyPlace is the flags bit allowing the kernel anywhere in RAM.
	arm64AnyPlace = 1 << 3
	arm64Align    = 0x200000
)

// ErrBadKernel is returned for raw kernels with a bad header.
var ErrBadKernel = errors.New("bad kernel image header")

// ZImage holds the fields of a 32-bit ARM zImage header.
type ZImage struct {
	Start, End uint32
}

// ParseZImage reads the zImage header at the start of b.
func ParseZImage(b []byte) (ZImage, error) {
	if len(b) < 0x30 || binary.LittleEndian.Uint32(b[zImageMagicOff:]) != zImageMagic {
		return ZImage{}, fmt.Errorf("%w: no zImage magic", ErrBadKernel)
	}
	z := ZImage{
		Start: binary.LittleEndian.Uint32(b[0x28:]),
		End:   binary.LittleEndian.Uint32(b[0x2c:]),
	}
	if z.End <= z.Start {
		return ZImage{}, fmt.Errorf("%w: zImage end %#x before start %#x", ErrBadKernel, z.End, z.Start)
	}
	return z, nil
}

// ARM64Image holds the fields of an arm64 Image header.
type ARM64Image struct {
	TextOffset uint64
	ImageSize  uint64
	Flags      uint64
}

// ParseARM64 reads the arm64 Image header at the start of b. Old kernels
// leave image_size zero; those get the historical defaults.
func ParseARM64(b []byte) (ARM64Image, error) {
	if len(b) < arm64HdrSize || binary.LittleEndian.Uint32(b[arm64MagicOff:]) != arm64Magic {
		return ARM64Image{}, fmt.Errorf("%w: bad Linux ARM64 Image magic", ErrBadKernel)
	}
	h := ARM64Image{
		TextOffset: binary.LittleEndian.Uint64(b[0x08:]),
		ImageSize:  binary.LittleEndian.Uint64(b[0x10:]),
		Flags:      binary.LittleEndian.Uint64(b[0x18:]),
	}
	if h.ImageSize == 0 {
		h.ImageSize = 16 << 20
		h.TextOffset = 0x80000
	}
	return h, nil
}

// raw sets the headers for a self-describing kernel, already verified by
// its own header, and then processes the ramdisk and fdt arguments.
func (b *Bootm) raw(arch image.Arch, data []byte, dataAddr, load, size uint64, args []string) error {
	h := &b.h
	if b.cfg.Arch != arch {
		return fmt.Errorf("%w: kernel is %v, board is %v", ErrWrongArch, arch, b.cfg.Arch)
	}
	h.Format = image.FormatUnknown
	h.OS, h.Arch, h.Type, h.Comp = image.OSLinux, arch, image.TypeKernel, image.CompNone
	h.Addr, h.Data, h.DataAddr = dataAddr, data, dataAddr
	h.Load, h.Entry = load, load
	h.LoadEnd = load + size
	b.reserve(load, size)
	if len(args) > 1 && args[1] != "-" {
		if err := b.findRamdiskArg(args[1]); err != nil {
			return fmt.Errorf("ramdisk: %w", err)
		}
	}
	if len(args) > 2 {
		if err := b.findFDTArg(args[2]); err != nil {
			return fmt.Errorf("fdt: %w", err)
		}
	}
	return nil
}

// Bootz boots a zImage in place. args are the kernel, ramdisk and fdt
// arguments as for bootm. When fake is set every state but the jump runs.
func (b *Bootm) Bootz(args []string, fake bool) error {
	b.h.Reset()
	addr, _, _, err := b.imageAddr(args)
	if err != nil {
		return &Error{State: StateFindImages, Err: err}
	}
	buf, err := b.cfg.Mem.Tail(addr)
	if err != nil {
		return &Error{State: StateFindImages, Err: err}
	}
	z, err := ParseZImage(buf)
	if err != nil {
		b.printf("Bad Linux ARM zImage magic!\n")
		return &Error{State: StateFindImages, Err: err}
	}
	size := uint64(z.End - z.Start)
	if size > uint64(len(buf)) {
		return &Error{State: StateFindImages, Err: fmt.Errorf("%w: zImage runs past end of memory", ErrBadKernel)}
	}
	b.printf("Kernel image @ 0x%08x [ 0x%06x - 0x%06x ]\n", addr, 0, size)
	if err := b.raw(image.ArchARM, buf[:size], addr, addr, size, args); err != nil {
		return &Error{State: StateFindImages, Err: err}
	}
	return b.finishRaw(fake)
}

// Booti boots an arm64 Image, moving it to the 2MiB-aligned position its
// header asks for. A gzip compressed Image is unpacked first.
func (b *Bootm) Booti(args []string, fake bool) error {
	b.h.Reset()
	addr, _, _, err := b.imageAddr(args)
	if err != nil {
		return &Error{State: StateFindImages, Err: err}
	}
	buf, err := b.cfg.Mem.Tail(addr)
	if err != nil {
		return &Error{State: StateFindImages, Err: err}
	}
	img := buf
	if len(buf) > 2 && buf[0] == 0x1f && buf[1] == 0x8b {
		b.printf("   Uncompressing Kernel Image\n")
		if img, err = compress.Decompress(image.CompGzip, buf, int(b.cfg.MaxLen)); err != nil {
			if errors.Is(err, compress.ErrTooLarge) {
				err = fmt.Errorf("%w: %w", ErrTooLarge, err)
			}
			return &Error{State: StateDecompress, Err: err}
		}
	}
	hdr, err := ParseARM64(img)
	if err != nil {
		b.printf("Bad Linux ARM64 Image magic!\n")
		return &Error{State: StateFindImages, Err: err}
	}
	var dst uint64
	if hdr.Flags&arm64AnyPlace != 0 && addr >= hdr.TextOffset {
		dst = addr - hdr.TextOffset
	} else {
		dst = b.cfg.Mem.Base
	}
	reloc := (dst+arm64Align-1)&^(arm64Align-1) + hdr.TextOffset
	n := uint64(len(img))
	if n > hdr.ImageSize {
		n = hdr.ImageSize
	}
	if reloc != addr || &img[0] != &buf[0] {
		b.printf("Moving Image from 0x%x to 0x%x, end=%x\n", addr, reloc, reloc+hdr.ImageSize)
		if !b.cfg.Mem.Contains(reloc, hdr.ImageSize) {
			return &Error{State: StateDecompress, Err: fmt.Errorf("%w: relocated image %#x-%#x", mem.ErrOutOfRange, reloc, reloc+hdr.ImageSize)}
		}
		if err := b.cfg.Mem.Write(reloc, img[:n]); err != nil {
			return &Error{State: StateDecompress, Err: err}
		}
	}
	if err := b.raw(image.ArchARM64, img[:n], addr, reloc, hdr.ImageSize, args); err != nil {
		return &Error{State: StateFindImages, Err: err}
	}
	return b.finishRaw(fake)
}

func (b *Bootm) finishRaw(fake bool) error {
	b.h.Verified = true
	if b.h.ramdiskLegacy != nil && b.verify() {
		if err := b.h.ramdiskLegacy.VerifyData(b.h.ramdiskData); err != nil {
			return &Error{State: StateVerify, Err: fmt.Errorf("%w: ramdisk: %w", ErrVerify, err)}
		}
	}
	b.h.State = StateStart | StateFindImages | StateVerify | StateDecompress
	last := StateOSGo
	if fake {
		last = StateOSFakeGo
	}
	return b.Run(StateRAMDisk|StateFDT|StateOSPrep|last, nil)
}
