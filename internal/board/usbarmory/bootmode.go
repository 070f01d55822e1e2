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

// Package usbarmory runs the boot loader on a USB armory Mk II: an i.MX6UL
// with a microSD slot on USDHC1 and eMMC on USDHC2.
package usbarmory

import (
	"fmt"

	"github.com/google/bootcore/internal/board"
)

// Boot mode registers of the System Reset Controller.
const (
	SBMR1 = 0x020d8004
	SBMR2 = 0x020d801c
)

// SBMR2[25:24] is BMOD; SBMR1 carries BOOT_CFG1 in [7:0] and BOOT_CFG2 in
// [15:8].
const (
	bmodSerial   = 0b01
	bmodReserved = 0b11

	cfgSerialROM = 0b0011
	cfgSD        = 0b0100
	cfgESD       = 0b0101
	cfgMMC       = 0b0110
	cfgEMMC      = 0b0111
	cfgNOR       = 0b0000
	cfgNAND      = 0b1000
)

// DecodeBootMode maps the boot mode registers to the device the ROM loaded
// us from. Serial download mode means the image came over USB.
func DecodeBootMode(sbmr1, sbmr2 uint32) (board.BootDevice, error) {
	switch (sbmr2 >> 24) & 0b11 {
	case bmodSerial:
		return board.BootDeviceUSB, nil
	case bmodReserved:
		return board.BootDeviceNone, fmt.Errorf("%w: BMOD reserved (SBMR2 %#08x)", board.ErrUnknownStraps, sbmr2)
	}
	switch dev := (sbmr1 >> 4) & 0xf; {
	case dev&cfgNAND != 0:
		return board.BootDeviceNAND, nil
	case dev == cfgNOR:
		return board.BootDeviceNOR, nil
	case dev == cfgSerialROM:
		return board.BootDeviceSPI, nil
	case dev == cfgSD, dev == cfgESD, dev == cfgMMC, dev == cfgEMMC:
		// BOOT_CFG2[4:3] selects the USDHC port.
		switch (sbmr1 >> 11) & 0b11 {
		case 0:
			return board.BootDeviceMMC1, nil
		case 1:
			return board.BootDeviceMMC2, nil
		}
	}
	return board.BootDeviceNone, fmt.Errorf("%w: SBMR1 %#08x", board.ErrUnknownStraps, sbmr1)
}
