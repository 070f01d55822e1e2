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
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/bootcore/internal/mem"
	"github.com/google/bootcore/internal/storage/ext4fs"
)

// MMCRaw loads from fixed byte offsets of an MMC or SD device.
type MMCRaw struct {
	Label  string
	Dev    ext4fs.BlockDevice
	Offset int64
	// OSOffset and ArgsOffset locate a falcon-mode kernel and its device
	// tree. A zero OSOffset disables falcon mode on this device.
	OSOffset   int64
	ArgsOffset int64
}

// Name implements Loader.
func (l *MMCRaw) Name() string { return l.Label }

// Load implements Loader.
func (l *MMCRaw) Load(_ context.Context, p *Params, kernel bool) (*Image, error) {
	return loadOffsets(ext4fs.BlockReaderAt{Dev: l.Dev}, l.Label, p, kernel, l.Offset, l.OSOffset, l.ArgsOffset)
}

// MMCFS loads files from an ext4 partition on an MMC or SD device.
type MMCFS struct {
	Label string
	Dev   ext4fs.BlockDevice
	// PartOffset and PartSize locate the partition, in bytes.
	PartOffset int64
	PartSize   int64
	File       string
	// OSFile and ArgsFile name a falcon-mode kernel and its device tree.
	OSFile   string
	ArgsFile string
}

// Name implements Loader.
func (l *MMCFS) Name() string { return l.Label }

// Load implements Loader.
func (l *MMCFS) Load(_ context.Context, p *Params, kernel bool) (*Image, error) {
	part := ext4fs.Open(ext4fs.BlockReaderAt{Dev: l.Dev}, l.PartOffset, l.PartSize)
	file := l.File
	if kernel {
		if l.OSFile == "" {
			return nil, fmt.Errorf("%s: %w", l.Label, ErrNoFalcon)
		}
		if l.ArgsFile != "" {
			args, err := part.ReadFile(l.ArgsFile)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", l.Label, l.ArgsFile, err)
			}
			if err := p.loadArgs(bytes.NewReader(args), 0); err != nil {
				return nil, fmt.Errorf("%s: %s: %w", l.Label, l.ArgsFile, err)
			}
		}
		file = l.OSFile
	}
	b, err := part.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", l.Label, file, err)
	}
	img, err := p.LoadFrom(bytes.NewReader(b), 0, l.Label+":"+file, kernel)
	if err != nil {
		return nil, err
	}
	if kernel && l.ArgsFile != "" && img.Args == 0 {
		img.Args = p.ArgsAddr
	}
	return img, nil
}

// SPIFlash loads from offsets of a SPI or parallel NOR flash.
type SPIFlash struct {
	Label      string
	Dev        io.ReaderAt
	Offset     int64
	OSOffset   int64
	ArgsOffset int64
}

// Name implements Loader.
func (l *SPIFlash) Name() string { return l.Label }

// Load implements Loader.
func (l *SPIFlash) Load(_ context.Context, p *Params, kernel bool) (*Image, error) {
	return loadOffsets(l.Dev, l.Label, p, kernel, l.Offset, l.OSOffset, l.ArgsOffset)
}

func loadOffsets(r io.ReaderAt, label string, p *Params, kernel bool, off, osOff, argsOff int64) (*Image, error) {
	if !kernel {
		return p.LoadFrom(r, off, label, false)
	}
	if osOff == 0 {
		return nil, fmt.Errorf("%s: %w", label, ErrNoFalcon)
	}
	if argsOff != 0 {
		if err := p.loadArgs(r, argsOff); err != nil {
			return nil, fmt.Errorf("%s: args: %w", label, err)
		}
	}
	img, err := p.LoadFrom(r, osOff, label, true)
	if err != nil {
		return nil, err
	}
	if argsOff != 0 && img.Args == 0 {
		img.Args = p.ArgsAddr
	}
	return img, nil
}

// RAM boots an image a previous stage, or a debugger, left in memory.
type RAM struct {
	Addr uint64
}

// Name implements Loader.
func (*RAM) Name() string { return "ram" }

// Load implements Loader.
func (l *RAM) Load(_ context.Context, p *Params, kernel bool) (*Image, error) {
	return p.LoadFrom(memReader{p.Mem}, int64(l.Addr), "ram", kernel)
}

// memReader reads memory by physical address.
type memReader struct {
	m *mem.Memory
}

func (r memReader) ReadAt(b []byte, off int64) (int, error) {
	tail, err := r.m.Tail(uint64(off))
	if err != nil {
		return 0, err
	}
	n := copy(b, tail)
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// UART receives an image as a byte stream, up to Max bytes.
type UART struct {
	R   io.Reader
	Max int64
}

// Name implements Loader.
func (*UART) Name() string { return "uart" }

// Load implements Loader.
func (l *UART) Load(_ context.Context, p *Params, kernel bool) (*Image, error) {
	if l.R == nil {
		return nil, fmt.Errorf("uart: %w", ErrUnavailable)
	}
	if kernel {
		return nil, fmt.Errorf("uart: %w", ErrNoFalcon)
	}
	b, err := io.ReadAll(io.LimitReader(l.R, l.Max+1))
	if err != nil {
		return nil, fmt.Errorf("uart: %w", err)
	}
	if int64(len(b)) > l.Max {
		return nil, fmt.Errorf("uart: image larger than %d bytes", l.Max)
	}
	return p.LoadFrom(bytes.NewReader(b), 0, "uart", false)
}

// Net would fetch the next stage over TFTP. It is never available.
type Net struct{}

// Name implements Loader.
func (Net) Name() string { return "net" }

// Load implements Loader.
func (Net) Load(context.Context, *Params, bool) (*Image, error) {
	return nil, fmt.Errorf("net: %w", ErrUnavailable)
}
