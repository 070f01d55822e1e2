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

// Package config describes a board in YAML: its memory, boot devices,
// environment storage and image verification policy.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/bootcore/internal/image"
	"gopkg.in/yaml.v3"
)

// Board is the complete description of one board.
type Board struct {
	// Name appears in the banner and the "board_name" variable.
	Name string `yaml:"Name"`
	// Arch is the image architecture name, e.g. "arm" or "arm64".
	Arch string `yaml:"Arch"`
	// MachineID is passed to 32-bit ARM kernels in r1.
	MachineID uint32 `yaml:"MachineID"`
	DRAM      DRAM   `yaml:"DRAM"`
	// Straps is the value of the boot mode register on the simulated board.
	Straps uint32 `yaml:"Straps"`
	// StrapTable maps strap bits to boot devices, first match wins.
	StrapTable []Strap `yaml:"StrapTable"`
	// BootOrder lists boot devices to try after the strap-selected one.
	BootOrder []string `yaml:"BootOrder"`
	// MaxAttempts bounds the number of devices SPL tries. Zero tries all.
	MaxAttempts int     `yaml:"MaxAttempts"`
	Devices     Devices `yaml:"Devices"`
	SPL         SPL     `yaml:"SPL"`
	Env         Env     `yaml:"Env"`
	Verify      Verify  `yaml:"Verify"`
	// BootmLen bounds decompressed kernels; zero selects the default.
	BootmLen uint64 `yaml:"BootmLen"`
}

// DRAM is the single memory bank.
type DRAM struct {
	Base uint64 `yaml:"Base"`
	Size uint64 `yaml:"Size"`
}

// Strap is one row of the boot strap classification table.
type Strap struct {
	Mask   uint32 `yaml:"Mask"`
	Value  uint32 `yaml:"Value"`
	Device string `yaml:"Device"`
}

// Devices lists the storage the board can boot from.
type Devices struct {
	// MMC holds the controllers in order; index 0 is "mmc1".
	MMC  []MMC `yaml:"MMC"`
	SPI  *SPI  `yaml:"SPI"`
	RAM  *RAM  `yaml:"RAM"`
	UART *UART `yaml:"UART"`
}

// MMC is an SD card or eMMC backed by an image file.
type MMC struct {
	Image     string `yaml:"Image"`
	BlockSize uint   `yaml:"BlockSize"`
	// RawOffset is the byte offset of the next stage for raw-mode loading.
	RawOffset int64 `yaml:"RawOffset"`
	// OSOffset and ArgsOffset locate the kernel and its device tree for falcon mode.
	OSOffset   int64 `yaml:"OSOffset"`
	ArgsOffset int64 `yaml:"ArgsOffset"`
	// Partition, if set, is an ext4 filesystem holding the next stage as a file.
	Partition *Partition `yaml:"Partition"`
}

// Partition is an ext4 filesystem at a byte range of a device.
type Partition struct {
	Offset   int64  `yaml:"Offset"`
	Size     int64  `yaml:"Size"`
	File     string `yaml:"File"`
	OSFile   string `yaml:"OSFile"`
	ArgsFile string `yaml:"ArgsFile"`
}

// SPI is a NOR flash part backed by an image file.
type SPI struct {
	Image      string `yaml:"Image"`
	EraseSize  int64  `yaml:"EraseSize"`
	Offset     int64  `yaml:"Offset"`
	OSOffset   int64  `yaml:"OSOffset"`
	ArgsOffset int64  `yaml:"ArgsOffset"`
}

// RAM is an image preloaded into memory, e.g. by a debugger.
type RAM struct {
	Addr uint64 `yaml:"Addr"`
	// Image, if set, is copied to Addr when the board powers on.
	Image string `yaml:"Image"`
}

// UART streams the next stage over the serial line.
type UART struct {
	// Path is read to the end; "-" is standard input.
	Path string `yaml:"Path"`
}

// SPL configures the first stage.
type SPL struct {
	// AllowRaw accepts an image with no header, loaded to RawLoad.
	AllowRaw bool   `yaml:"AllowRaw"`
	RawLoad  uint64 `yaml:"RawLoad"`
	RawSize  uint64 `yaml:"RawSize"`
	// Falcon allows booting the kernel directly when "boot_os" is set.
	Falcon   bool   `yaml:"Falcon"`
	ArgsAddr uint64 `yaml:"ArgsAddr"`
}

// Env describes where the environment is stored.
type Env struct {
	// Medium is one of "mmc", "spi", "file", "ext4", "volume" or "nowhere".
	Medium string `yaml:"Medium"`
	// Device selects the MMC controller, counting from zero.
	Device int `yaml:"Device"`
	Size   int `yaml:"Size"`
	// Offsets holds one offset, or two for a redundant environment.
	Offsets   []int64 `yaml:"Offsets"`
	BigEndian bool    `yaml:"BigEndian"`
	// Files are the host files of the "file" medium.
	Files []string `yaml:"Files"`
	// Path is the file within the MMC partition for the "ext4" medium.
	Path string `yaml:"Path"`
	// Volume is the journal geometry of the "volume" medium.
	Volume *Volume `yaml:"Volume"`
	// Defaults is the compiled-in environment.
	Defaults map[string]string `yaml:"Defaults"`
}

// Volume locates the journal volumes on the selected MMC device, in blocks.
type Volume struct {
	Start   uint `yaml:"Start"`
	Length  uint `yaml:"Length"`
	Volumes uint `yaml:"Volumes"`
}

// Verify is the image verification policy.
type Verify struct {
	RequireSignatures bool     `yaml:"RequireSignatures"`
	RequiredKeys      []string `yaml:"RequiredKeys"`
	// Keys is a device tree file holding public keys under /signature.
	Keys string `yaml:"Keys"`
}

// Media names accepted in Env.Medium.
var media = map[string]bool{"mmc": true, "spi": true, "file": true, "ext4": true, "volume": true, "nowhere": true}

// bootDevices are the names accepted in BootOrder and StrapTable.
var bootDevices = map[string]bool{"mmc1": true, "mmc2": true, "nand": true, "spi": true, "nor": true, "ram": true, "uart": true, "usb": true, "net": true}

// Load reads and validates a board description.
func Load(path string) (*Board, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board config: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a board description.
func Parse(b []byte) (*Board, error) {
	c := &Board{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the description for consistency.
func (c Board) Validate() error {
	if c.Arch == "" {
		return errors.New("missing field: Arch")
	}
	if _, err := image.ParseArch(c.Arch); err != nil {
		return fmt.Errorf("Arch: %w", err)
	}
	if c.DRAM.Size == 0 {
		return errors.New("missing field: DRAM.Size")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("MaxAttempts %d is negative", c.MaxAttempts)
	}
	for _, d := range c.BootOrder {
		if !bootDevices[d] {
			return fmt.Errorf("BootOrder: unknown boot device %q", d)
		}
	}
	for i, s := range c.StrapTable {
		if !bootDevices[s.Device] {
			return fmt.Errorf("StrapTable[%d]: unknown boot device %q", i, s.Device)
		}
		if s.Value&^s.Mask != 0 {
			return fmt.Errorf("StrapTable[%d]: value %#x has bits outside mask %#x", i, s.Value, s.Mask)
		}
	}
	for i, m := range c.Devices.MMC {
		if m.Image == "" {
			return fmt.Errorf("Devices.MMC[%d]: missing field: Image", i)
		}
		if m.BlockSize != 0 && m.BlockSize&(m.BlockSize-1) != 0 {
			return fmt.Errorf("Devices.MMC[%d]: BlockSize %d is not a power of two", i, m.BlockSize)
		}
	}
	if s := c.Devices.SPI; s != nil {
		if s.Image == "" {
			return errors.New("Devices.SPI: missing field: Image")
		}
		if s.EraseSize <= 0 {
			return errors.New("Devices.SPI: missing field: EraseSize")
		}
	}
	if c.SPL.Falcon && c.SPL.ArgsAddr == 0 {
		return errors.New("SPL.Falcon needs SPL.ArgsAddr")
	}
	if c.SPL.AllowRaw && c.SPL.RawSize == 0 {
		return errors.New("SPL.AllowRaw needs SPL.RawSize")
	}
	if c.DRAM.Size > 0 && c.SPL.RawLoad != 0 && (c.SPL.RawLoad < c.DRAM.Base || c.SPL.RawLoad >= c.DRAM.Base+c.DRAM.Size) {
		return fmt.Errorf("SPL.RawLoad %#x is outside DRAM", c.SPL.RawLoad)
	}
	return c.Env.validate(c.Devices)
}

func (e Env) validate(d Devices) error {
	if e.Medium == "" {
		return errors.New("missing field: Env.Medium")
	}
	if !media[e.Medium] {
		return fmt.Errorf("Env.Medium: unknown medium %q", e.Medium)
	}
	if e.Medium == "nowhere" {
		return nil
	}
	if e.Size < 16 {
		return fmt.Errorf("Env.Size %d is too small", e.Size)
	}
	switch e.Medium {
	case "mmc", "spi":
		if n := len(e.Offsets); n != 1 && n != 2 {
			return fmt.Errorf("Env.Offsets: need 1 or 2 offsets, got %d", n)
		}
		if e.Medium == "spi" {
			if d.SPI == nil {
				return errors.New("Env.Medium spi needs Devices.SPI")
			}
			for _, o := range e.Offsets {
				if o%d.SPI.EraseSize != 0 {
					return fmt.Errorf("Env.Offsets: %#x is not sector aligned", o)
				}
			}
		} else if e.Device >= len(d.MMC) {
			return fmt.Errorf("Env.Device %d: no such MMC device", e.Device)
		}
		span := int64(e.Size)
		if e.Medium == "spi" {
			// Copies are erased a sector at a time.
			span = (span + d.SPI.EraseSize - 1) / d.SPI.EraseSize * d.SPI.EraseSize
		}
		for _, o := range e.Offsets {
			if o < 0 {
				return fmt.Errorf("Env.Offsets: %#x is negative", o)
			}
		}
		if len(e.Offsets) == 2 {
			a, b := e.Offsets[0], e.Offsets[1]
			if a < b+span && b < a+span {
				return fmt.Errorf("Env.Offsets: copies at %#x and %#x overlap (%#x bytes each)", a, b, span)
			}
		}
	case "file":
		if n := len(e.Files); n != 1 && n != 2 {
			return fmt.Errorf("Env.Files: need 1 or 2 files, got %d", n)
		}
	case "ext4":
		if e.Path == "" {
			return errors.New("missing field: Env.Path")
		}
		if e.Device >= len(d.MMC) || d.MMC[e.Device].Partition == nil {
			return fmt.Errorf("Env.Device %d: no MMC partition", e.Device)
		}
	case "volume":
		if e.Volume == nil || e.Volume.Length == 0 {
			return errors.New("missing field: Env.Volume")
		}
		if e.Volume.Volumes != 1 && e.Volume.Volumes != 2 {
			return fmt.Errorf("Env.Volume.Volumes: need 1 or 2, got %d", e.Volume.Volumes)
		}
		if e.Device >= len(d.MMC) {
			return fmt.Errorf("Env.Device %d: no such MMC device", e.Device)
		}
	}
	return nil
}
