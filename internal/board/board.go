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

// Package board is the contract between the boot flow and a board: the
// early and late init hooks, DRAM sizing, boot mode straps and the hang
// used when nothing else can run.
package board

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/mem"
)

var (
	// ErrHung is returned by Hang on boards where hanging returns, which is
	// only ever the case in tests and the emulator.
	ErrHung = errors.New("board hung")
	// ErrNoDRAM is returned when DRAM sizing finds no memory.
	ErrNoDRAM = errors.New("no DRAM available")
	// ErrUnknownStraps is returned when no strap rule matches.
	ErrUnknownStraps = errors.New("unrecognised boot mode straps")
)

// BootDevice identifies a medium the next stage can be loaded from.
type BootDevice int

// Boot devices.
const (
	BootDeviceNone BootDevice = iota
	BootDeviceMMC1
	BootDeviceMMC2
	BootDeviceNAND
	BootDeviceSPI
	BootDeviceNOR
	BootDeviceRAM
	BootDeviceUART
	BootDeviceUSB
	BootDeviceNet
)

var bootDeviceNames = []string{"none", "mmc1", "mmc2", "nand", "spi", "nor", "ram", "uart", "usb", "net"}

func (d BootDevice) String() string {
	if d < 0 || int(d) >= len(bootDeviceNames) {
		return fmt.Sprintf("bootdevice(%d)", int(d))
	}
	return bootDeviceNames[d]
}

// ParseBootDevice returns the device with the given name.
func ParseBootDevice(s string) (BootDevice, error) {
	for i, n := range bootDeviceNames {
		if n == strings.ToLower(s) {
			return BootDevice(i), nil
		}
	}
	return BootDeviceNone, fmt.Errorf("unknown boot device %q", s)
}

// Flags record bring-up progress.
type Flags uint32

// Progress flags.
const (
	FlagRelocated Flags = 1 << iota
	FlagDevInit
	FlagEnvReady
	FlagSilent
)

// GlobalData is the state shared by every boot phase, the "gd" of other
// boot loaders. It is owned by the single boot thread and never locked.
type GlobalData struct {
	Board   string
	RAMBase uint64
	RAMSize uint64
	// Mem is the view of DRAM, set once DRAM is sized.
	Mem        *mem.Memory
	BootDevice BootDevice
	// EnvValid records where the early environment came from.
	EnvValid env.Validity
	LoadAddr uint64
	BaudRate int
	Flags    Flags
	// BootCount is the number of boots since the counter was last reset.
	BootCount uint32
	// Console receives user-visible output.
	Console io.Writer
}

// Printf writes to the console, if there is one yet.
func (gd *GlobalData) Printf(format string, args ...interface{}) {
	if gd.Console == nil || gd.Flags&FlagSilent != 0 {
		return
	}
	fmt.Fprintf(gd.Console, format, args...)
}

// Board is implemented by each supported board.
type Board interface {
	Name() string
	// InitF runs before relocation with no DRAM: clocks, timer and console.
	InitF(gd *GlobalData) error
	// DRAMInit brings up the DRAM controller and records the bank in gd.
	DRAMInit(gd *GlobalData) error
	// InitR runs once DRAM is live and the boot loader has relocated.
	InitR(gd *GlobalData) error
	// BootDevice reads the boot mode straps.
	BootDevice(gd *GlobalData) (BootDevice, error)
	// Jumper transfers control to a loaded image.
	Jumper() bootm.Jumper
	// Watchdog services the watchdog, if any.
	Watchdog()
	// Reset restarts the board.
	Reset()
	// Hang stops the board after an unrecoverable error. On hardware it
	// never returns.
	Hang(msg string, code int)
}

// Hang reports an unrecoverable error and stops b. code identifies the
// failure where the only output is a blinking LED.
func Hang(b Board, gd *GlobalData, msg string, code int) error {
	glog.Errorf("%s: hang (%d): %s", b.Name(), code, msg)
	if gd != nil {
		gd.Printf("%s\n### ERROR ### Please RESET the board ###\n", msg)
	}
	b.Hang(msg, code)
	return fmt.Errorf("%w: %s", ErrHung, msg)
}

// Initcall is one step of an init sequence.
type Initcall struct {
	Name string
	Fn   func(gd *GlobalData) error
}

// RunInitcalls runs seq in order, stopping at the first failure.
func RunInitcalls(gd *GlobalData, seq []Initcall) error {
	for _, c := range seq {
		glog.V(1).Infof("initcall: %s", c.Name)
		if err := c.Fn(gd); err != nil {
			return fmt.Errorf("initcall %s failed: %w", c.Name, err)
		}
	}
	return nil
}

// SequenceF is the pre-relocation sequence: board early init, then DRAM.
// Any failure in it is fatal.
func SequenceF(b Board) []Initcall {
	return []Initcall{
		{"board_init_f", b.InitF},
		{"announce", func(gd *GlobalData) error {
			gd.Board = b.Name()
			gd.Printf("\nBoard: %s\n", gd.Board)
			return nil
		}},
		{"dram_init", b.DRAMInit},
		{"dram_check", checkDRAM},
	}
}

// SequenceR is the post-relocation sequence: board late init followed by
// extra, which the boot stage supplies.
func SequenceR(b Board, extra ...Initcall) []Initcall {
	seq := []Initcall{
		{"relocated", func(gd *GlobalData) error {
			gd.Flags |= FlagRelocated
			return nil
		}},
		{"board_init_r", b.InitR},
	}
	seq = append(seq, extra...)
	return append(seq, Initcall{"devices_done", func(gd *GlobalData) error {
		gd.Flags |= FlagDevInit
		return nil
	}})
}

// checkDRAM makes sure DRAM was found and builds the memory view over it.
func checkDRAM(gd *GlobalData) error {
	if gd.RAMSize == 0 {
		return ErrNoDRAM
	}
	if gd.Mem == nil {
		gd.Mem = mem.New(gd.RAMBase, int(gd.RAMSize))
	}
	if gd.Mem.Base != gd.RAMBase || gd.Mem.Size() != gd.RAMSize {
		return fmt.Errorf("memory view %#x+%#x does not match DRAM %#x+%#x", gd.Mem.Base, gd.Mem.Size(), gd.RAMBase, gd.RAMSize)
	}
	gd.Printf("DRAM:  %s\n", sizeString(gd.RAMSize))
	return nil
}

func sizeString(n uint64) string {
	switch {
	case n >= 1<<30 && n%(1<<30) == 0:
		return fmt.Sprintf("%d GiB", n>>30)
	case n >= 1<<20:
		return fmt.Sprintf("%d MiB", n>>20)
	}
	return fmt.Sprintf("%d KiB", n>>10)
}
