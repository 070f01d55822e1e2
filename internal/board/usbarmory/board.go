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

//go:build tamago && arm

package usbarmory

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/board"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/cli"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/env/media"
	"github.com/google/bootcore/internal/mem"
	"github.com/google/bootcore/internal/spl"
	"github.com/google/bootcore/internal/storage/ext4fs"
	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
)

// The first half of DRAM is left to images; the Go runtime lives above it.
const (
	DRAMStart = 0x80000000
	DRAMSize  = 0x10000000
)

// Raw card layout: U-Boot proper at sector 0x8a, a falcon-mode device tree
// and kernel further in, and the environment on eMMC.
const (
	RawOffset       = 0x8a * 512
	ArgsOffset      = 0x100000
	OSOffset        = 0x200000
	EnvOffset       = 0xc0000
	EnvOffsetRedund = 0xc2000
	EnvSize         = 0x2000
)

// Board is the USB armory Mk II.
type Board struct {
	SD      *Card
	EMMC    *Card
	Console *Console
}

// New returns the board with its standard devices.
func New() *Board {
	return &Board{
		SD:      &Card{Label: "mmc1", Dev: usbarmory.SD},
		EMMC:    &Card{Label: "mmc2", Dev: usbarmory.MMC},
		Console: &Console{UART: imx6ul.UART2},
	}
}

// Name implements board.Board.
func (b *Board) Name() string { return "USB armory Mk II" }

// InitF implements board.Board.
func (b *Board) InitF(gd *board.GlobalData) error {
	usbarmory.LED("blue", false)
	usbarmory.LED("white", false)
	gd.Console = b.Console
	gd.BaudRate = 115200
	return nil
}

// DRAMInit implements board.Board. DRAM is set up by the boot ROM's DCD
// table, so this only maps it.
func (b *Board) DRAMInit(gd *board.GlobalData) error {
	gd.RAMBase, gd.RAMSize = DRAMStart, DRAMSize
	if gd.Mem == nil {
		gd.Mem = mem.Wrap(DRAMStart, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(DRAMStart))), DRAMSize))
	}
	return nil
}

// InitR implements board.Board.
func (b *Board) InitR(gd *board.GlobalData) error {
	for _, c := range []*Card{b.SD, b.EMMC} {
		if err := c.Dev.Detect(); err != nil {
			gd.Printf("MMC:   %s: %v\n", c.Label, err)
			continue
		}
		info := c.Dev.Info()
		gd.Printf("MMC:   %s: %d MiB\n", c.Label, int64(info.Blocks)*int64(info.BlockSize)>>20)
	}
	usbarmory.LED("blue", true)
	return nil
}

func readReg(addr uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

// BootDevice implements board.Board from the SRC boot mode registers.
func (b *Board) BootDevice(*board.GlobalData) (board.BootDevice, error) {
	return DecodeBootMode(readReg(SBMR1), readReg(SBMR2))
}

// Jumper implements board.Board.
func (b *Board) Jumper() bootm.Jumper { return jumper{} }

// Watchdog implements board.Board. The watchdog is left disabled.
func (b *Board) Watchdog() {}

// Reset implements board.Board.
func (b *Board) Reset() {
	glog.Info("usbarmory: reset")
	imx6ul.Reset()
}

// Hang implements board.Board.
func (b *Board) Hang(msg string, code int) {
	haltAndCatchFire(msg, code)
}

// Loaders returns the raw card loaders.
func (b *Board) Loaders() map[board.BootDevice]spl.Loader {
	return map[board.BootDevice]spl.Loader{
		board.BootDeviceMMC1: &spl.MMCRaw{Label: "mmc1", Dev: b.SD, Offset: RawOffset, OSOffset: OSOffset, ArgsOffset: ArgsOffset},
		board.BootDeviceMMC2: &spl.MMCRaw{Label: "mmc2", Dev: b.EMMC, Offset: RawOffset, OSOffset: OSOffset, ArgsOffset: ArgsOffset},
		board.BootDeviceNet:  spl.Net{},
	}
}

// EnvOptions keeps a redundant environment on eMMC.
func (b *Board) EnvOptions(defaults map[string]string) env.Options {
	return env.Options{
		Layout:   env.Layout{Size: EnvSize},
		Defaults: defaults,
		Console:  b.Console,
		Media: []env.Medium{
			&media.Block{Label: "MMC", Dev: b.EMMC, Size: EnvSize, Offsets: []int64{EnvOffset, EnvOffsetRedund}},
			media.Nowhere{},
		},
	}
}

// FileSources returns the "load" sources: "mmc 0" is the microSD card and
// "mmc 1" the eMMC, each read through its ext4 partitions.
func (b *Board) FileSources() map[string]cli.FileSource {
	return map[string]cli.FileSource{"mmc": cardSource{b.SD, b.EMMC}}
}

type cardSource []*Card

func (s cardSource) ReadFile(devPart, path string) ([]byte, error) {
	devStr, partStr, _ := strings.Cut(devPart, ":")
	dev, err := strconv.Atoi(devStr)
	if err != nil || dev < 0 || dev >= len(s) {
		return nil, fmt.Errorf("no mmc device %q", devStr)
	}
	part := 1
	if partStr != "" {
		if part, err = strconv.Atoi(partStr); err != nil {
			return nil, fmt.Errorf("bad partition %q", partStr)
		}
	}
	r := ext4fs.BlockReaderAt{Dev: s[dev]}
	off, size, err := MBRPartition(r, part)
	if err != nil {
		return nil, err
	}
	return ext4fs.Open(r, off, size).ReadFile(path)
}
