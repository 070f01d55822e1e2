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

package testonly

import (
	"fmt"
)

// MemFlash emulates a NOR flash part: erase sets whole sectors to 0xff,
// programming can only clear bits, and each operation leaves the part busy
// for BusyPolls status reads.
type MemFlash struct {
	Data       []byte
	SectorSize int
	// BusyPolls is the number of status reads which report busy after each
	// erase or program.
	BusyPolls int
	// Budget, when non-negative, is the number of bytes which may still be
	// programmed before power is lost.
	Budget int
	// Cut is set once power has been lost.
	Cut bool

	busy int
	// Polls counts status reads.
	Polls int
}

// NewMemFlash returns an erased flash of the given geometry with no power budget.
func NewMemFlash(size, sectorSize int) *MemFlash {
	f := &MemFlash{Data: make([]byte, size), SectorSize: sectorSize, Budget: -1}
	for i := range f.Data {
		f.Data[i] = 0xff
	}
	return f
}

// Size returns the size of the part in bytes.
func (f *MemFlash) Size() int64 { return int64(len(f.Data)) }

// EraseSize returns the sector size.
func (f *MemFlash) EraseSize() int64 { return int64(f.SectorSize) }

// ReadAt implements io.ReaderAt.
func (f *MemFlash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(f.Data)) {
		return 0, fmt.Errorf("read [%d, %d) beyond flash end", off, off+int64(len(p)))
	}
	return copy(p, f.Data[off:]), nil
}

// Erase starts erasing the sector-aligned range [off, off+n).
func (f *MemFlash) Erase(off, n int64) error {
	if f.Cut {
		return ErrPowerCut
	}
	if off%int64(f.SectorSize) != 0 || n%int64(f.SectorSize) != 0 {
		return fmt.Errorf("erase [%d, %d) not sector aligned", off, off+n)
	}
	if off+n > int64(len(f.Data)) {
		return fmt.Errorf("erase [%d, %d) beyond flash end", off, off+n)
	}
	for i := off; i < off+n; i++ {
		f.Data[i] = 0xff
	}
	f.busy = f.BusyPolls
	return nil
}

// Program starts programming p at off.
func (f *MemFlash) Program(p []byte, off int64) error {
	if f.Cut {
		return ErrPowerCut
	}
	if off+int64(len(p)) > int64(len(f.Data)) {
		return fmt.Errorf("program [%d, %d) beyond flash end", off, off+int64(len(p)))
	}
	n := len(p)
	if f.Budget >= 0 && n > f.Budget {
		n = f.Budget
		f.Cut = true
	}
	for i := 0; i < n; i++ {
		f.Data[off+int64(i)] &= p[i]
	}
	if f.Budget >= 0 {
		f.Budget -= n
	}
	if f.Cut {
		return ErrPowerCut
	}
	f.busy = f.BusyPolls
	return nil
}

// Busy reports the status register's busy bit.
func (f *MemFlash) Busy() (bool, error) {
	f.Polls++
	if f.busy > 0 {
		f.busy--
		return true, nil
	}
	return false, nil
}
