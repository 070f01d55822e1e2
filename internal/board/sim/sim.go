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

// Package sim is a simulated board: DRAM, SD cards and NOR flash backed by
// host files, a console on stdio, and payloads run as WebAssembly.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/board"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/config"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/env/media"
	"github.com/google/bootcore/internal/mem"
	"github.com/google/bootcore/internal/poll"
	"github.com/google/bootcore/internal/spl"
	"github.com/google/bootcore/internal/storage/ext4fs"
	"github.com/google/bootcore/internal/storage/journal"
)

// Flash status polling budgets, generous enough for any real part.
var (
	eraseBudget   = poll.Budget{Attempts: 4000, Interval: time.Millisecond}
	programBudget = poll.Budget{Attempts: 1000, Interval: 10 * time.Microsecond}
)

// Hang records one call to Board.Hang.
type Hang struct {
	Msg  string
	Code int
}

// Options configures a simulated board.
type Options struct {
	// Dir is the directory relative image paths are resolved against.
	Dir string
	// Serial is the console. Defaults to one on stdin and stdout.
	Serial *Serial
	// Jumper runs payloads. Defaults to a WasmJumper on the console.
	Jumper bootm.Jumper
}

// Board implements board.Board for the simulator.
type Board struct {
	cfg    *config.Board
	dir    string
	serial *Serial
	jumper bootm.Jumper
	disks  []*Disk
	nor    *NOR
	uart   io.Reader

	// Hangs lists every hang. The simulated board keeps running.
	Hangs []Hang
	// Resets counts reset requests.
	Resets int
	// Kicks counts watchdog services.
	Kicks int
}

// New builds the board described by cfg and opens its storage.
func New(cfg *config.Board, opts Options) (*Board, error) {
	b := &Board{cfg: cfg, dir: opts.Dir, serial: opts.Serial, jumper: opts.Jumper}
	if b.serial == nil {
		b.serial = NewSerial(os.Stdin, os.Stdout)
	}
	if b.jumper == nil {
		b.jumper = &WasmJumper{Console: b.serial}
	}
	for i, m := range cfg.Devices.MMC {
		d, err := OpenDisk(b.path(m.Image), m.BlockSize, 0)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("mmc%d: %w", i+1, err)
		}
		b.disks = append(b.disks, d)
	}
	if s := cfg.Devices.SPI; s != nil {
		n, err := OpenNOR(b.path(s.Image), s.EraseSize)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("spi: %w", err)
		}
		b.nor = n
	}
	if u := cfg.Devices.UART; u != nil && u.Path != "" {
		if u.Path == "-" {
			b.uart = os.Stdin
		} else {
			f, err := os.Open(b.path(u.Path))
			if err != nil {
				b.Close()
				return nil, fmt.Errorf("uart: %w", err)
			}
			b.uart = f
		}
	}
	return b, nil
}

func (b *Board) path(p string) string {
	if filepath.IsAbs(p) || b.dir == "" {
		return p
	}
	return filepath.Join(b.dir, p)
}

// Close releases the backing files.
func (b *Board) Close() error {
	var errs []error
	for _, d := range b.disks {
		errs = append(errs, d.Close())
	}
	if b.nor != nil {
		errs = append(errs, b.nor.Close())
	}
	if c, ok := b.uart.(io.Closer); ok && b.uart != os.Stdin {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Serial returns the console.
func (b *Board) Serial() *Serial { return b.serial }

// Name implements board.Board.
func (b *Board) Name() string { return b.cfg.Name }

// InitF implements board.Board. It brings up the console.
func (b *Board) InitF(gd *board.GlobalData) error {
	gd.Console = b.serial
	gd.BaudRate = 115200
	return nil
}

// DRAMInit implements board.Board. DRAM contents survive from "power on",
// so an image configured for the RAM boot device is already in place.
func (b *Board) DRAMInit(gd *board.GlobalData) error {
	gd.RAMBase, gd.RAMSize = b.cfg.DRAM.Base, b.cfg.DRAM.Size
	if gd.Mem == nil {
		gd.Mem = mem.New(gd.RAMBase, int(gd.RAMSize))
	}
	if r := b.cfg.Devices.RAM; r != nil && r.Image != "" {
		img, err := os.ReadFile(b.path(r.Image))
		if err != nil {
			return fmt.Errorf("ram: %w", err)
		}
		if err := gd.Mem.Write(r.Addr, img); err != nil {
			return fmt.Errorf("ram: %w", err)
		}
	}
	return nil
}

// InitR implements board.Board.
func (b *Board) InitR(gd *board.GlobalData) error {
	gd.Printf("MMC:   %d device(s)\n", len(b.disks))
	if b.nor != nil {
		gd.Printf("SF:    %d KiB NOR flash\n", b.nor.size>>10)
	}
	return nil
}

// BootDevice implements board.Board by classifying the configured straps.
func (b *Board) BootDevice(*board.GlobalData) (board.BootDevice, error) {
	var t board.StrapTable
	for _, s := range b.cfg.StrapTable {
		d, err := board.ParseBootDevice(s.Device)
		if err != nil {
			return board.BootDeviceNone, err
		}
		t = append(t, board.StrapRule{Mask: s.Mask, Value: s.Value, Device: d})
	}
	return t.Classify(b.cfg.Straps)
}

// Jumper implements board.Board.
func (b *Board) Jumper() bootm.Jumper { return b.jumper }

// Watchdog implements board.Board.
func (b *Board) Watchdog() { b.Kicks++ }

// Reset implements board.Board.
func (b *Board) Reset() {
	glog.Info("----RESET----")
	b.Resets++
}

// Hang implements board.Board. The simulator records the hang and returns.
func (b *Board) Hang(msg string, code int) {
	b.Hangs = append(b.Hangs, Hang{Msg: msg, Code: code})
}

// Loaders returns the SPL loader for each configured boot device.
func (b *Board) Loaders() map[board.BootDevice]spl.Loader {
	l := map[board.BootDevice]spl.Loader{board.BootDeviceNet: spl.Net{}}
	for i, m := range b.cfg.Devices.MMC {
		dev := board.BootDeviceMMC1 + board.BootDevice(i)
		if i > 1 {
			glog.Warningf("mmc%d cannot be a boot device", i+1)
			continue
		}
		if p := m.Partition; p != nil && p.File != "" {
			l[dev] = &spl.MMCFS{
				Label:      dev.String(),
				Dev:        b.disks[i],
				PartOffset: p.Offset,
				PartSize:   p.Size,
				File:       p.File,
				OSFile:     p.OSFile,
				ArgsFile:   p.ArgsFile,
			}
			continue
		}
		l[dev] = &spl.MMCRaw{
			Label:      dev.String(),
			Dev:        b.disks[i],
			Offset:     m.RawOffset,
			OSOffset:   m.OSOffset,
			ArgsOffset: m.ArgsOffset,
		}
	}
	if s := b.cfg.Devices.SPI; s != nil {
		l[board.BootDeviceSPI] = &spl.SPIFlash{
			Label:      "spi",
			Dev:        b.nor,
			Offset:     s.Offset,
			OSOffset:   s.OSOffset,
			ArgsOffset: s.ArgsOffset,
		}
	}
	if r := b.cfg.Devices.RAM; r != nil {
		l[board.BootDeviceRAM] = &spl.RAM{Addr: r.Addr}
	}
	if b.uart != nil {
		l[board.BootDeviceUART] = &spl.UART{R: b.uart, Max: int64(b.cfg.DRAM.Size)}
	}
	return l
}

// EnvOptions returns the environment store options for the configured
// medium.
func (b *Board) EnvOptions() (env.Options, error) {
	e := b.cfg.Env
	opts := env.Options{
		Layout:   env.Layout{Size: e.Size},
		Defaults: e.Defaults,
		Console:  b.serial,
	}
	if e.BigEndian {
		opts.Layout.Order = binary.BigEndian
	}
	var m env.Medium
	switch e.Medium {
	case "mmc":
		m = &media.Block{Label: fmt.Sprintf("MMC%d", e.Device), Dev: b.disks[e.Device], Size: e.Size, Offsets: e.Offsets}
	case "spi":
		m = &media.Flash{
			Dev:           b.nor,
			Size:          e.Size,
			Offsets:       e.Offsets,
			EraseBudget:   eraseBudget,
			ProgramBudget: programBudget,
			Watchdog:      b.Watchdog,
		}
	case "file":
		var paths []string
		for _, p := range e.Files {
			paths = append(paths, b.path(p))
		}
		m = &media.File{Paths: paths, Size: e.Size}
	case "ext4":
		p := b.cfg.Devices.MMC[e.Device].Partition
		m = &media.Ext4{
			Part: ext4fs.Open(ext4fs.BlockReaderAt{Dev: b.disks[e.Device]}, p.Offset, p.Size),
			Path: e.Path,
			Size: e.Size,
		}
	case "volume":
		v := e.Volume
		geo := journal.Geometry{Start: v.Start, Length: v.Length}
		for i := uint(0); i < v.Volumes; i++ {
			geo.VolumeLengths = append(geo.VolumeLengths, v.Length/v.Volumes)
		}
		part, err := journal.OpenPartition(b.disks[e.Device], geo)
		if err != nil {
			return env.Options{}, fmt.Errorf("env volume: %w", err)
		}
		m = &media.Volume{Part: part, Size: e.Size}
	case "nowhere":
		m = media.Nowhere{}
	default:
		return env.Options{}, fmt.Errorf("unknown environment medium %q", e.Medium)
	}
	opts.Media = []env.Medium{m}
	if e.Medium != "nowhere" {
		opts.Media = append(opts.Media, media.Nowhere{})
	}
	return opts, nil
}
