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

package spl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/compress"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/mem"
)

// maxFITHeader bounds the tree part of a FIT read from a device.
const maxFITHeader = 1 << 20

// Params is what every loader needs to place an image in memory.
type Params struct {
	Mem *mem.Memory
	// AllowRaw accepts a payload with no recognised header, loading
	// RawSize bytes to RawLoad.
	AllowRaw bool
	RawLoad  uint64
	RawSize  uint64
	// CheckDataCRC verifies a legacy payload checksum. The header checksum
	// is always checked.
	CheckDataCRC bool
	Keyring      *crypto.Keyring
	Policy       fit.Policy
	// ArgsAddr is where a device tree for a falcon-mode kernel is placed.
	ArgsAddr uint64
}

// Image describes a loaded payload.
type Image struct {
	Name     string
	OS       image.OS
	Arch     image.Arch
	LoadAddr uint64
	Entry    uint64
	Size     uint64
	// Args is the address of the device tree handed to the payload, or 0.
	Args uint64
}

// LoadFrom loads the image at off in r. With kernel set, the kernel of a
// FIT configuration is loaded instead of its firmware.
func (p *Params) LoadFrom(r io.ReaderAt, off int64, name string, kernel bool) (*Image, error) {
	hdr := make([]byte, image.LegacyHeaderSize)
	if err := readFull(r, hdr, off); err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", name, err)
	}
	switch image.Probe(hdr) {
	case image.FormatFIT:
		return p.loadFIT(r, off, hdr, name, kernel)
	case image.FormatLegacy:
		return p.loadLegacy(r, off, hdr, name)
	}
	if !p.AllowRaw || kernel {
		return nil, fmt.Errorf("%s: %w: magic 0x%08x", name, ErrNoImage, binary.BigEndian.Uint32(hdr))
	}
	glog.V(1).Infof("%s: no header, loading %d raw bytes to 0x%x", name, p.RawSize, p.RawLoad)
	dst, err := p.Mem.Slice(p.RawLoad, p.RawSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := readFull(r, dst, off); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &Image{
		Name:     name,
		OS:       image.OSUBoot,
		LoadAddr: p.RawLoad,
		Entry:    p.RawLoad,
		Size:     p.RawSize,
	}, nil
}

func (p *Params) loadLegacy(r io.ReaderAt, off int64, hdr []byte, name string) (*Image, error) {
	h, err := image.ParseLegacy(hdr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	tail, err := p.Mem.Tail(uint64(h.Load))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if uint64(h.Size) > uint64(len(tail)) {
		return nil, fmt.Errorf("%s: %w: %d bytes at 0x%x", name, ErrTooLarge, h.Size, h.Load)
	}
	data := make([]byte, h.Size)
	if err := readFull(r, data, off+image.LegacyHeaderSize); err != nil {
		return nil, fmt.Errorf("%s: reading payload: %w", name, err)
	}
	if p.CheckDataCRC {
		if err := h.VerifyData(data); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	out, err := p.place(uint64(h.Load), h.Comp, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &Image{
		Name:     h.ImageName(),
		OS:       h.OS,
		Arch:     h.Arch,
		LoadAddr: uint64(h.Load),
		Entry:    uint64(h.Entry),
		Size:     out,
	}, nil
}

// place decompresses data to addr and returns the size written.
func (p *Params) place(addr uint64, c image.Comp, data []byte) (uint64, error) {
	tail, err := p.Mem.Tail(addr)
	if err != nil {
		return 0, err
	}
	out, err := compress.Decompress(c, data, len(tail))
	if err != nil {
		return 0, err
	}
	copy(tail, out)
	return uint64(len(out)), nil
}

func (p *Params) loadFIT(r io.ReaderAt, off int64, hdr []byte, name string, kernel bool) (*Image, error) {
	total := int64(binary.BigEndian.Uint32(hdr[4:]))
	if total < int64(len(hdr)) || total > maxFITHeader {
		return nil, fmt.Errorf("%s: implausible FIT size %d", name, total)
	}
	blob := make([]byte, total)
	if err := readFull(r, blob, off); err != nil {
		return nil, fmt.Errorf("%s: reading FIT: %w", name, err)
	}
	f, err := fit.Parse(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	// External data follows the tree; read it all in one go.
	ext, err := f.Extent()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if int64(ext) > total {
		if ext-uint64(total) > p.Mem.Size() {
			return nil, fmt.Errorf("%s: %w: %d bytes of external data", name, ErrTooLarge, ext-uint64(total))
		}
		blob = make([]byte, ext)
		if err := readFull(r, blob, off); err != nil {
			return nil, fmt.Errorf("%s: reading FIT data: %w", name, err)
		}
		if f, err = fit.Parse(blob); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	conf, err := f.Config("")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := f.VerifyConfig(conf, p.Keyring, p.Policy); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	loadables := conf.Loadables
	main := conf.Kernel
	if !kernel {
		switch {
		case conf.Firmware != "":
			main = conf.Firmware
		case len(loadables) > 0:
			main, loadables = loadables[0], loadables[1:]
		}
	}
	if main == "" {
		return nil, fmt.Errorf("%s: %w: configuration %q has nothing to boot", name, ErrNoImage, conf.Name)
	}
	img, err := p.loadFITImage(f, main, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for _, l := range loadables {
		if _, err := p.loadFITImage(f, l, false); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if len(conf.FDT) > 0 {
		// The device tree goes after the payload unless a falcon kernel
		// wants it at the args address.
		addr := (img.LoadAddr + img.Size + 7) &^ 7
		if kernel && p.ArgsAddr != 0 {
			addr = p.ArgsAddr
		}
		if err := p.loadFDT(f, conf.FDT[0], addr); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		img.Args = addr
	}
	return img, nil
}

// loadFITImage copies one image to its load address. Only the main image
// must have one.
func (p *Params) loadFITImage(f *fit.FIT, name string, main bool) (*Image, error) {
	i, err := f.Image(name)
	if err != nil {
		return nil, err
	}
	if err := f.VerifyImage(i, p.Keyring, p.Policy); err != nil {
		return nil, err
	}
	load, ok := i.Load()
	if !ok {
		if main {
			return nil, fmt.Errorf("image %q: %w", name, ErrNoLoadAddr)
		}
		glog.Warningf("image %q has no load address, skipped", name)
		return nil, nil
	}
	data, err := i.Data()
	if err != nil {
		return nil, err
	}
	comp, err := i.Comp()
	if err != nil {
		return nil, err
	}
	size, err := p.place(load, comp, data)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", name, err)
	}
	entry, ok := i.Entry()
	if !ok {
		entry = load
	}
	img := &Image{Name: name, LoadAddr: load, Entry: entry, Size: size}
	if img.OS, err = i.OS(); err != nil {
		img.OS = image.OSUBoot
	}
	img.Arch, _ = i.Arch()
	return img, nil
}

func (p *Params) loadFDT(f *fit.FIT, name string, addr uint64) error {
	i, err := f.Image(name)
	if err != nil {
		return err
	}
	if err := f.VerifyImage(i, p.Keyring, p.Policy); err != nil {
		return err
	}
	data, err := i.Data()
	if err != nil {
		return err
	}
	return p.Mem.Write(addr, data)
}

// loadArgs copies the device tree at off in r to ArgsAddr.
func (p *Params) loadArgs(r io.ReaderAt, off int64) error {
	if p.ArgsAddr == 0 {
		return fmt.Errorf("%w: no args address", ErrNoFalcon)
	}
	hdr := make([]byte, 8)
	if err := readFull(r, hdr, off); err != nil {
		return err
	}
	if binary.BigEndian.Uint32(hdr) != image.FDTMagic {
		return fmt.Errorf("%w: no device tree at offset 0x%x", ErrNoFalcon, off)
	}
	size := binary.BigEndian.Uint32(hdr[4:])
	if size > maxFITHeader {
		return fmt.Errorf("implausible device tree size %d", size)
	}
	dst, err := p.Mem.Slice(p.ArgsAddr, uint64(size))
	if err != nil {
		return err
	}
	return readFull(r, dst, off)
}

// readFull reads exactly len(b) bytes at off.
func readFull(r io.ReaderAt, b []byte, off int64) error {
	n, err := r.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
