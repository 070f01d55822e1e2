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

package image

import (
	"fmt"
)

// OS identifies the operating system an image is for.
type OS uint8

// Operating systems.
const (
	OSInvalid OS = 0
	OSNetBSD  OS = 2
	OSLinux   OS = 5
	OSVxWorks OS = 14
	OSQNX     OS = 16
	OSUBoot   OS = 17
	OSRTEMS   OS = 18
	OSPlan9   OS = 23
	OSARMTF   OS = 25
	OSTEE     OS = 26
	OSOpenSBI OS = 27
	OSEFI     OS = 28
	OSELF     OS = 29
)

// Arch identifies the CPU architecture an image is for.
type Arch uint8

// Architectures.
const (
	ArchInvalid Arch = 0
	ArchARM     Arch = 2
	ArchX86     Arch = 3
	ArchMIPS    Arch = 5
	ArchMIPS64  Arch = 6
	ArchPPC     Arch = 7
	ArchSandbox Arch = 19
	ArchARM64   Arch = 22
	ArchX86_64  Arch = 24
	ArchRISCV   Arch = 26
)

// Type identifies what an image contains.
type Type uint8

// Image types.
const (
	TypeInvalid      Type = 0
	TypeStandalone   Type = 1
	TypeKernel       Type = 2
	TypeRamdisk      Type = 3
	TypeMulti        Type = 4
	TypeFirmware     Type = 5
	TypeScript       Type = 6
	TypeFilesystem   Type = 7
	TypeFlatDT       Type = 8
	TypeKernelNoload Type = 14
	TypeLoadable     Type = 23
)

// Comp identifies the compression applied to an image's payload.
type Comp uint8

// Compression methods.
const (
	CompNone  Comp = 0
	CompGzip  Comp = 1
	CompBzip2 Comp = 2
	CompLZMA  Comp = 3
	CompLZO   Comp = 4
	CompLZ4   Comp = 5
	CompZstd  Comp = 6
)

// entry maps an id to its short name, as used in FIT properties and by
// mkimage, and a description for listings.
type entry struct {
	id   uint8
	name string
	desc string
}

var osTable = []entry{
	{uint8(OSInvalid), "invalid", "Invalid OS"},
	{uint8(OSNetBSD), "netbsd", "NetBSD"},
	{uint8(OSLinux), "linux", "Linux"},
	{uint8(OSVxWorks), "vxworks", "VxWorks"},
	{uint8(OSQNX), "qnx", "QNX"},
	{uint8(OSUBoot), "u-boot", "U-Boot"},
	{uint8(OSRTEMS), "rtems", "RTEMS"},
	{uint8(OSPlan9), "plan9", "Plan 9"},
	{uint8(OSARMTF), "arm-trusted-firmware", "ARM Trusted Firmware"},
	{uint8(OSTEE), "tee", "Trusted Execution Environment"},
	{uint8(OSOpenSBI), "opensbi", "RISC-V OpenSBI"},
	{uint8(OSEFI), "efi", "EFI Firmware"},
	{uint8(OSELF), "elf", "ELF Image"},
}

var archTable = []entry{
	{uint8(ArchInvalid), "invalid", "Invalid ARCH"},
	{uint8(ArchARM), "arm", "ARM"},
	{uint8(ArchX86), "x86", "Intel x86"},
	{uint8(ArchMIPS), "mips", "MIPS"},
	{uint8(ArchMIPS64), "mips64", "MIPS 64 Bit"},
	{uint8(ArchPPC), "powerpc", "PowerPC"},
	{uint8(ArchSandbox), "sandbox", "Sandbox"},
	{uint8(ArchARM64), "arm64", "AArch64"},
	{uint8(ArchX86_64), "x86_64", "AMD x86_64"},
	{uint8(ArchRISCV), "riscv", "RISC-V"},
}

var typeTable = []entry{
	{uint8(TypeInvalid), "invalid", "Invalid Image"},
	{uint8(TypeStandalone), "standalone", "Standalone Program"},
	{uint8(TypeKernel), "kernel", "Kernel Image"},
	{uint8(TypeRamdisk), "ramdisk", "RAMDisk Image"},
	{uint8(TypeMulti), "multi", "Multi-File Image"},
	{uint8(TypeFirmware), "firmware", "Firmware"},
	{uint8(TypeScript), "script", "Script"},
	{uint8(TypeFilesystem), "filesystem", "Filesystem Image"},
	{uint8(TypeFlatDT), "flat_dt", "Flat Device Tree"},
	{uint8(TypeKernelNoload), "kernel_noload", "Kernel Image (no loading done)"},
	{uint8(TypeLoadable), "loadable", "Loadable"},
}

var compTable = []entry{
	{uint8(CompNone), "none", "uncompressed"},
	{uint8(CompGzip), "gzip", "gzip compressed"},
	{uint8(CompBzip2), "bzip2", "bzip2 compressed"},
	{uint8(CompLZMA), "lzma", "lzma compressed"},
	{uint8(CompLZO), "lzo", "lzo compressed"},
	{uint8(CompLZ4), "lz4", "lz4 compressed"},
	{uint8(CompZstd), "zstd", "zstd compressed"},
}

func lookupID(tbl []entry, id uint8) (entry, bool) {
	for _, e := range tbl {
		if e.id == id {
			return e, true
		}
	}
	return entry{}, false
}

func lookupName(tbl []entry, kind, name string) (uint8, error) {
	for _, e := range tbl {
		if e.name == name {
			return e.id, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, name)
}

func nameOf(tbl []entry, id uint8) string {
	if e, ok := lookupID(tbl, id); ok {
		return e.name
	}
	return fmt.Sprintf("unknown(%d)", id)
}

func descOf(tbl []entry, id uint8) string {
	if e, ok := lookupID(tbl, id); ok {
		return e.desc
	}
	return fmt.Sprintf("Unknown (%d)", id)
}

func (o OS) String() string { return nameOf(osTable, uint8(o)) }

// Description returns a human readable name.
func (o OS) Description() string { return descOf(osTable, uint8(o)) }

func (a Arch) String() string { return nameOf(archTable, uint8(a)) }

// Description returns a human readable name.
func (a Arch) Description() string { return descOf(archTable, uint8(a)) }

func (t Type) String() string { return nameOf(typeTable, uint8(t)) }

// Description returns a human readable name.
func (t Type) Description() string { return descOf(typeTable, uint8(t)) }

func (c Comp) String() string { return nameOf(compTable, uint8(c)) }

// Description returns a human readable name.
func (c Comp) Description() string { return descOf(compTable, uint8(c)) }

// ParseOS returns the OS with the given short name.
func ParseOS(s string) (OS, error) {
	id, err := lookupName(osTable, "OS", s)
	return OS(id), err
}

// ParseArch returns the architecture with the given short name.
func ParseArch(s string) (Arch, error) {
	id, err := lookupName(archTable, "architecture", s)
	return Arch(id), err
}

// ParseType returns the image type with the given short name.
func ParseType(s string) (Type, error) {
	id, err := lookupName(typeTable, "image type", s)
	return Type(id), err
}

// ParseComp returns the compression with the given short name.
func ParseComp(s string) (Comp, error) {
	id, err := lookupName(compTable, "compression", s)
	return Comp(id), err
}
