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

package usbarmory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// mbrSectorSize is the unit of MBR partition table addresses.
const mbrSectorSize = 512

// ErrNoPartition is returned when an MBR has no such partition.
var ErrNoPartition = errors.New("no such partition")

// MBRPartition returns the byte extent of primary partition n (1-4) from
// the DOS partition table at the start of r.
func MBRPartition(r io.ReaderAt, n int) (offset, size int64, err error) {
	if n < 1 || n > 4 {
		return 0, 0, fmt.Errorf("%w: %d", ErrNoPartition, n)
	}
	var mbr [mbrSectorSize]byte
	if _, err := r.ReadAt(mbr[:], 0); err != nil {
		return 0, 0, fmt.Errorf("reading MBR: %w", err)
	}
	if mbr[510] != 0x55 || mbr[511] != 0xaa {
		return 0, 0, errors.New("no MBR signature")
	}
	e := mbr[0x1be+16*(n-1):][:16]
	start, sectors := binary.LittleEndian.Uint32(e[8:]), binary.LittleEndian.Uint32(e[12:])
	if e[4] == 0 || sectors == 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrNoPartition, n)
	}
	return int64(start) * mbrSectorSize, int64(sectors) * mbrSectorSize, nil
}
