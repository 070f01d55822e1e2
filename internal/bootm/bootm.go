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

// Package bootm drives a boot attempt from an image in memory to the jump
// into the operating system.
//
// A boot attempt moves through a fixed sequence of states. Each state
// either completes or stops the attempt with an *Error naming the state;
// nothing after a failed state runs.
package bootm

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/mem"
)

// State is one step of a boot attempt. States combine as a bit set so a
// caller can run a subset of them.
type State uint

const (
	StateStart State = 1 << iota
	StateFindImages
	StateVerify
	StateDecompress
	StateRAMDisk
	StateFDT
	StateOSPrep
	StateOSFakeGo
	StateOSGo
)

// StatesBoot is a complete boot.
const StatesBoot = StateStart | StateFindImages | StateVerify | StateDecompress | StateRAMDisk | StateFDT | StateOSPrep | StateOSGo

var stateNames = []struct {
	s    State
	name string
}{
	{StateStart, "START"},
	{StateFindImages, "FIND_IMAGES"},
	{StateVerify, "VERIFY"},
	{StateDecompress, "DECOMPRESS"},
	{StateRAMDisk, "RAMDISK"},
	{StateFDT, "FDT"},
	{StateOSPrep, "OS_PREP"},
	{StateOSFakeGo, "OS_FAKE_GO"},
	{StateOSGo, "OS_GO"},
}

func (s State) String() string {
	var parts []string
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Subcommands maps "bootm <sub>" names to the states they run.
var Subcommands = map[string]State{
	"start":   StateStart | StateFindImages | StateVerify,
	"loados":  StateDecompress,
	"ramdisk": StateRAMDisk,
	"fdt":     StateFDT,
	"prep":    StateOSPrep,
	"fake":    StateOSFakeGo,
	"go":      StateOSGo,
}

var (
	// ErrVerify wraps every integrity or authenticity failure.
	ErrVerify = errors.New("verification failed")
	// ErrOverlap is returned when a load would overwrite data still needed.
	ErrOverlap = errors.New("images overlap")
	// ErrTooLarge is returned when a decompressed image exceeds MaxLen.
	ErrTooLarge = errors.New("Image too large: increase CONFIG_SYS_BOOTM_LEN")
	// ErrDecompress is returned when a payload fails to decompress.
	ErrDecompress = errors.New("decompression failed")
	// ErrUnsupportedOS is returned when no handler exists for the image OS.
	ErrUnsupportedOS = errors.New("OS not supported")
	// ErrWrongArch is returned when the image is built for another CPU.
	ErrWrongArch = errors.New("unsupported architecture")
	// ErrWrongType is returned when the image is not bootable.
	ErrWrongType = errors.New("wrong image type")
	// ErrOutOfOrder is returned when subcommands run backwards.
	ErrOutOfOrder = errors.New("trying to execute a command out of order")
	// ErrReturned is returned when the OS jump comes back.
	ErrReturned = errors.New("control returned from OS entry point")
	// ErrNoImage is returned when there is no image address.
	ErrNoImage = errors.New("no image address")
)

// Error records which state stopped a boot attempt.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bootm %v: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Env is the environment as seen by a boot attempt.
type Env interface {
	Get(name string) (string, bool)
	Set(name, value string) error
}

// JumpArgs is what the OS entry point receives.
type JumpArgs struct {
	OS    image.OS
	Arch  image.Arch
	Entry uint64
	// Load and Size locate the loaded kernel.
	Load uint64
	Size uint64
	// Regs are the first argument registers, in order.
	Regs    [4]uint64
	Cmdline string
}

// Jumper transfers control to loaded code. On hardware Jump never returns;
// any return is a failed boot.
type Jumper interface {
	Jump(m *mem.Memory, args JumpArgs) error
}

// Config describes the machine a boot attempt runs on.
type Config struct {
	Mem  *mem.Memory
	Env  Env
	Arch image.Arch
	// Banks are written to the kernel's /memory node. Defaults to Mem.
	Banks   []fdt.Bank
	Keyring *crypto.Keyring
	// Policy's Verify field is replaced per attempt by the "verify" variable.
	Policy fit.Policy
	// MaxLen bounds decompressed kernels.
	MaxLen    uint64
	MachineID uint32
	Jumper    Jumper
	Console   io.Writer
}

// DefaultMaxLen is the decompression limit when Config.MaxLen is zero.
const DefaultMaxLen = 0x800000

// Headers is the state of one boot attempt. It is reset at StateStart.
type Headers struct {
	// State accumulates completed states.
	State  State
	Format image.Format
	// Addr is where the image container starts.
	Addr   uint64
	Legacy *image.LegacyHeader
	FIT    *fit.FIT
	Config *fit.Config

	OS   image.OS
	Arch image.Arch
	Type image.Type
	Comp image.Comp

	// Data is the kernel payload as found in memory, at DataAddr.
	Data     []byte
	DataAddr uint64
	Load     uint64
	LoadEnd  uint64
	Entry    uint64
	NoLoad   bool

	// RamdiskSrc locates the ramdisk as found; InitrdStart and InitrdEnd
	// are where it ends up.
	Ramdisk                []byte
	RamdiskSrc             uint64
	InitrdStart, InitrdEnd uint64
	ramdiskLegacy          *image.LegacyHeader
	ramdiskData            []byte

	// FDT is a private copy of the kernel's device tree, placed at FDTAddr
	// with FDTRoom bytes reserved.
	FDT     []byte
	FDTAddr uint64
	FDTRoom uint64

	Cmdline string
	// Verified is set once every used image passed VERIFY.
	Verified bool

	// legacyData is the whole legacy payload, which the data CRC covers.
	legacyData []byte
	fitImages  []*fit.Image
	reserved   []span
}

type span struct{ start, end uint64 }

// Reset clears the headers for a new attempt.
func (h *Headers) Reset() {
	*h = Headers{}
}

// Bootm runs boot attempts.
type Bootm struct {
	cfg      Config
	h        Headers
	handlers map[image.OS]OSHandler
}

// New returns a Bootm with the standard OS handlers.
func New(cfg Config) *Bootm {
	if cfg.MaxLen == 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	if cfg.Console == nil {
		cfg.Console = io.Discard
	}
	if len(cfg.Banks) == 0 && cfg.Mem != nil {
		cfg.Banks = []fdt.Bank{{Start: cfg.Mem.Base, Size: cfg.Mem.Size()}}
	}
	return &Bootm{cfg: cfg, handlers: defaultHandlers()}
}

// Headers returns the current attempt's state.
func (b *Bootm) Headers() *Headers { return &b.h }

// RegisterOS installs or replaces the handler for an OS.
func (b *Bootm) RegisterOS(os image.OS, h OSHandler) {
	b.handlers[os] = h
}

func (b *Bootm) printf(format string, args ...interface{}) {
	fmt.Fprintf(b.cfg.Console, format, args...)
}

func (b *Bootm) env(name string) string {
	if b.cfg.Env == nil {
		return ""
	}
	v, _ := b.cfg.Env.Get(name)
	return v
}

// verify follows the "verify" variable: anything but a false value checks.
func (b *Bootm) verify() bool {
	v := b.env("verify")
	return v == "" || !(v[0] == 'n' || v[0] == 'N' || v[0] == '0' || v[0] == 'f' || v[0] == 'F')
}

// Run executes the requested states in order against args, which are the
// command's image, ramdisk and fdt arguments.
//
// When states does not include StateStart, Run continues the attempt begun
// by an earlier call and refuses states already passed.
func (b *Bootm) Run(states State, args []string) error {
	if states&StateStart == 0 {
		for _, n := range stateNames {
			if states&n.s != 0 && b.h.State >= n.s {
				return &Error{State: n.s, Err: ErrOutOfOrder}
			}
		}
		// Nothing after VERIFY runs on an image that has not passed it.
		if b.h.State&StateVerify == 0 || !b.h.Verified {
			for _, n := range stateNames {
				if n.s > StateVerify && states&n.s != 0 {
					return &Error{State: n.s, Err: fmt.Errorf("%w: image was not verified", ErrVerify)}
				}
			}
		}
	}
	steps := []struct {
		s  State
		fn func() error
	}{
		{StateStart, func() error { return b.start() }},
		{StateFindImages, func() error { return b.findImages(args) }},
		{StateVerify, b.verifyImages},
		{StateDecompress, b.loadOS},
		{StateRAMDisk, b.relocateRamdisk},
		{StateFDT, b.relocateFDT},
		{StateOSPrep, b.prepOS},
		{StateOSFakeGo, func() error { return b.goOS(true) }},
		{StateOSGo, func() error { return b.goOS(false) }},
	}
	for _, st := range steps {
		if states&st.s == 0 {
			continue
		}
		glog.V(1).Infof("bootm: state %v", st.s)
		if err := st.fn(); err != nil {
			glog.Warningf("bootm: %v failed: %v", st.s, err)
			return &Error{State: st.s, Err: err}
		}
		b.h.State |= st.s
		if st.s == StateDecompress && b.h.Type == image.TypeStandalone {
			return b.standalone()
		}
	}
	return nil
}

func (b *Bootm) start() error {
	b.h.Reset()
	return nil
}

// reserve records a range that later placements must avoid.
func (b *Bootm) reserve(start, size uint64) {
	if size > 0 {
		b.h.reserved = append(b.h.reserved, span{start, start + size})
	}
}

// place finds the highest aligned spot of size bytes below top that avoids
// every reserved range.
func (b *Bootm) place(size, top, align uint64) (uint64, error) {
	if top > b.cfg.Mem.End() {
		top = b.cfg.Mem.End()
	}
	if size > top-b.cfg.Mem.Base {
		return 0, fmt.Errorf("no room for %#x bytes below %#x", size, top)
	}
	addr := (top - size) &^ (align - 1)
	for {
		moved := false
		for _, r := range b.h.reserved {
			if mem.Overlaps(addr, size, r.start, r.end-r.start) {
				if r.start < b.cfg.Mem.Base+size {
					return 0, fmt.Errorf("no room for %#x bytes below %#x", size, top)
				}
				addr = (r.start - size) &^ (align - 1)
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	if addr < b.cfg.Mem.Base {
		return 0, fmt.Errorf("no room for %#x bytes below %#x", size, top)
	}
	return addr, nil
}

// highLimit reads an initrd_high/fdt_high style variable. inPlace is set
// when it is all ones, meaning leave the data where it is.
func (b *Bootm) highLimit(name string) (top uint64, inPlace bool, err error) {
	v := b.env(name)
	if v == "" {
		return b.cfg.Mem.End(), false, nil
	}
	a, err := mem.ParseAddr(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	if a == 0xffffffff || a == ^uint64(0) {
		return 0, true, nil
	}
	return a, false, nil
}
