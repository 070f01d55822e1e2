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
	"fmt"
	"strings"

	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/mem"
)

// imageAddr resolves the image argument, falling back to loadaddr.
func (b *Bootm) imageAddr(args []string) (addr uint64, conf, sub string, err error) {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	a, conf, sub := fit.SplitSpec(arg)
	if a == "" {
		a = b.env("loadaddr")
		if a == "" {
			return 0, "", "", ErrNoImage
		}
	}
	addr, err = mem.ParseAddr(a)
	return addr, conf, sub, err
}

func (b *Bootm) findImages(args []string) error {
	h := &b.h
	addr, conf, sub, err := b.imageAddr(args)
	if err != nil {
		return err
	}
	h.Addr = addr
	buf, err := b.cfg.Mem.Tail(addr)
	if err != nil {
		return err
	}

	h.Format = image.Probe(buf)
	switch h.Format {
	case image.FormatLegacy:
		err = b.findLegacy(buf)
	case image.FormatFIT:
		err = b.findFIT(buf, conf, sub)
	default:
		b.printf("Wrong Image Format for bootm command\n")
		return image.ErrUnknownFormat
	}
	if err != nil {
		return err
	}

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

func (b *Bootm) findLegacy(buf []byte) error {
	h := &b.h
	b.printf("## Booting kernel from Legacy Image at %08x ...\n", h.Addr)
	hdr, err := image.ParseLegacy(buf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerify, err)
	}
	hdr.Print(b.cfg.Console)
	data, err := hdr.Data(buf)
	if err != nil {
		return err
	}
	h.Legacy = hdr
	h.legacyData = data
	h.OS, h.Arch, h.Type, h.Comp = hdr.OS, hdr.Arch, hdr.Type, hdr.Comp
	h.Load, h.Entry = uint64(hdr.Load), uint64(hdr.Entry)
	h.Data = data
	h.DataAddr = h.Addr + image.LegacyHeaderSize
	b.reserve(h.Addr, image.LegacyHeaderSize+uint64(len(data)))

	switch hdr.Type {
	case image.TypeKernel, image.TypeKernelNoload, image.TypeStandalone:
	case image.TypeMulti:
		parts, err := image.MultiParts(data)
		if err != nil {
			return err
		}
		h.Data = parts[0]
		// Sub-images follow the size table, each padded to 4 bytes.
		h.DataAddr += 4 * uint64(len(parts)+1)
		off := h.DataAddr + uint64(len(parts[0]))
		for i := 1; i < len(parts); i++ {
			off = (off + 3) &^ 3
			switch i {
			case 1:
				if len(parts[i]) > 0 {
					h.Ramdisk, h.RamdiskSrc = parts[i], off
				}
			case 2:
				h.FDT = bytes.Clone(parts[i])
			}
			off += uint64(len(parts[i]))
		}
	default:
		return fmt.Errorf("%w: %v", ErrWrongType, hdr.Type.Description())
	}
	h.NoLoad = hdr.Type == image.TypeKernelNoload
	return nil
}

func (b *Bootm) findFIT(buf []byte, conf, sub string) error {
	h := &b.h
	b.printf("## Loading kernel from FIT Image at %08x ...\n", h.Addr)
	f, err := fit.Parse(buf)
	if err != nil {
		return err
	}
	h.FIT = f
	total, err := fdt.TotalSize(buf)
	if err != nil {
		return err
	}
	b.reserve(h.Addr, uint64(total))

	kernel := sub
	if sub == "" {
		c, err := f.Config(conf)
		if err != nil {
			return err
		}
		h.Config = c
		b.printf("   Using '%s' configuration\n", c.Name)
		kernel = c.Kernel
	}
	k, err := f.Image(kernel)
	if err != nil {
		return err
	}
	b.printf("   Trying '%s' kernel subimage\n", k.Name)
	if h.Type, err = k.Type(); err != nil {
		return err
	}
	if h.OS, err = k.OS(); err != nil {
		return err
	}
	if h.Arch, err = k.Arch(); err != nil {
		return err
	}
	if h.Comp, err = k.Comp(); err != nil {
		return err
	}
	if h.Data, err = k.Data(); err != nil {
		return err
	}
	off, err := k.DataOffset()
	if err != nil {
		return err
	}
	h.DataAddr = h.Addr + uint64(off)
	b.reserve(h.DataAddr, uint64(len(h.Data)))

	switch h.Type {
	case image.TypeKernel, image.TypeStandalone:
		load, ok := k.Load()
		if !ok {
			return fmt.Errorf("image %q has no load address", k.Name)
		}
		h.Load = load
	case image.TypeKernelNoload:
		h.NoLoad = true
	default:
		return fmt.Errorf("%w: %v", ErrWrongType, h.Type.Description())
	}
	entry, ok := k.Entry()
	if !ok {
		return fmt.Errorf("image %q has no entry point", k.Name)
	}
	h.Entry = entry
	h.fitImages = append(h.fitImages, k)

	if h.Config == nil {
		return nil
	}
	if h.Config.Ramdisk != "" {
		rd, err := f.Image(h.Config.Ramdisk)
		if err != nil {
			return err
		}
		if h.Ramdisk, err = rd.Data(); err != nil {
			return err
		}
		off, err := rd.DataOffset()
		if err != nil {
			return err
		}
		h.RamdiskSrc = h.Addr + uint64(off)
		if load, ok := rd.Load(); ok {
			h.InitrdStart = load
		}
		h.fitImages = append(h.fitImages, rd)
	}
	if len(h.Config.FDT) > 0 {
		d, err := f.Image(h.Config.FDT[0])
		if err != nil {
			return err
		}
		data, err := d.Data()
		if err != nil {
			return err
		}
		h.FDT = bytes.Clone(data)
		h.fitImages = append(h.fitImages, d)
	}
	for _, name := range h.Config.Loadables {
		l, err := f.Image(name)
		if err != nil {
			return err
		}
		h.fitImages = append(h.fitImages, l)
	}
	return nil
}

// findRamdiskArg handles "addr" (legacy ramdisk image) and "addr:size"
// (raw ramdisk).
func (b *Bootm) findRamdiskArg(arg string) error {
	h := &b.h
	a, size, raw := strings.Cut(arg, ":")
	addr, err := mem.ParseAddr(a)
	if err != nil {
		return err
	}
	if raw {
		n, err := mem.ParseAddr(size)
		if err != nil {
			return err
		}
		if h.Ramdisk, err = b.cfg.Mem.Slice(addr, n); err != nil {
			return err
		}
		h.RamdiskSrc = addr
		return nil
	}
	buf, err := b.cfg.Mem.Tail(addr)
	if err != nil {
		return err
	}
	b.printf("## Loading init Ramdisk from Legacy Image at %08x ...\n", addr)
	hdr, err := image.ParseLegacy(buf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerify, err)
	}
	if hdr.Type != image.TypeRamdisk {
		return fmt.Errorf("%w: %v is not a ramdisk", ErrWrongType, hdr.Type.Description())
	}
	if h.Ramdisk, err = hdr.Data(buf); err != nil {
		return err
	}
	h.RamdiskSrc = addr + image.LegacyHeaderSize
	h.ramdiskLegacy = hdr
	h.ramdiskData = h.Ramdisk
	if hdr.Load != 0 {
		h.InitrdStart = uint64(hdr.Load)
	}
	return nil
}

// findFDTArg handles a raw device tree or a legacy flat_dt image.
func (b *Bootm) findFDTArg(arg string) error {
	addr, err := mem.ParseAddr(arg)
	if err != nil {
		return err
	}
	buf, err := b.cfg.Mem.Tail(addr)
	if err != nil {
		return err
	}
	switch image.Probe(buf) {
	case image.FormatFIT:
		size, err := fdt.TotalSize(buf)
		if err != nil {
			return err
		}
		if int(size) > len(buf) {
			return fmt.Errorf("device tree at %08x runs past end of memory", addr)
		}
		b.printf("## Flattened Device Tree blob at %08x\n", addr)
		b.h.FDT = bytes.Clone(buf[:size])
	case image.FormatLegacy:
		hdr, err := image.ParseLegacy(buf)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrVerify, err)
		}
		if hdr.Type != image.TypeFlatDT {
			return fmt.Errorf("%w: %v is not a device tree", ErrWrongType, hdr.Type.Description())
		}
		data, err := hdr.Data(buf)
		if err != nil {
			return err
		}
		if err := hdr.VerifyData(data); err != nil {
			return fmt.Errorf("%w: %w", ErrVerify, err)
		}
		b.h.FDT = bytes.Clone(data)
	default:
		return image.ErrUnknownFormat
	}
	return nil
}
