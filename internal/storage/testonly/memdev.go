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

// Package testonly provides in-memory storage devices for tests.
package testonly

import (
	"errors"
	"fmt"
	"testing"
)

// MemBlockSize is the number of bytes in a single memory block.
const MemBlockSize = 512

// ErrPowerCut is returned by devices once their write budget is spent.
var ErrPowerCut = errors.New("power lost during write")

// MemDev is a simple in-memory block device.
type MemDev [][MemBlockSize]byte

// NewMemDev creates a new in-memory block device.
func NewMemDev(t *testing.T, numBlocks uint) MemDev {
	t.Helper()
	return make(MemDev, numBlocks)
}

// BlockSize returns the block size of the device.
func (md MemDev) BlockSize() uint {
	return MemBlockSize
}

// ReadBlocks reads len(b) bytes into b starting at block lba.
func (md MemDev) ReadBlocks(lba uint, b []byte) error {
	if err := md.check(lba, len(b)); err != nil {
		return err
	}
	for i := uint(0); i < uint(len(b))/MemBlockSize; i++ {
		copy(b[i*MemBlockSize:], md[lba+i][:])
	}
	return nil
}

// WriteBlocks writes b starting at block lba, zero padding the final block.
func (md MemDev) WriteBlocks(lba uint, b []byte) error {
	if r := len(b) % MemBlockSize; r != 0 {
		b = append(b, make([]byte, MemBlockSize-r)...)
	}
	if err := md.check(lba, len(b)); err != nil {
		return err
	}
	for i := uint(0); i < uint(len(b))/MemBlockSize; i++ {
		copy(md[lba+i][:], b[i*MemBlockSize:])
	}
	return nil
}

func (md MemDev) check(lba uint, n int) error {
	if n%MemBlockSize != 0 {
		return fmt.Errorf("transfer of %d bytes is not a multiple of the block size", n)
	}
	if end := lba + uint(n)/MemBlockSize; end > uint(len(md)) {
		return fmt.Errorf("blocks [%d, %d) beyond device end (%d)", lba, end, len(md))
	}
	return nil
}

// Bytes returns a copy of the whole device contents.
func (md MemDev) Bytes() []byte {
	r := make([]byte, 0, len(md)*MemBlockSize)
	for i := range md {
		r = append(r, md[i][:]...)
	}
	return r
}

// Clone returns an independent copy of the device.
func (md MemDev) Clone() MemDev {
	return append(MemDev(nil), md...)
}

// PowerCutDev wraps a MemDev and loses power once Budget bytes have been
// written: the write which crosses the budget is persisted only up to it,
// and it and every later write fail with ErrPowerCut.
type PowerCutDev struct {
	MemDev
	// Budget is the number of bytes which may still be written.
	Budget int
	// Cut is set once power has been lost.
	Cut bool
}

// WriteBlocks implements a write which may be interrupted part way through.
func (d *PowerCutDev) WriteBlocks(lba uint, b []byte) error {
	if d.Cut {
		return ErrPowerCut
	}
	if len(b) <= d.Budget {
		d.Budget -= len(b)
		return d.MemDev.WriteBlocks(lba, b)
	}
	// Persist only the prefix which made it out before the cut.
	n := (len(b) + MemBlockSize - 1) / MemBlockSize * MemBlockSize
	cur := make([]byte, n)
	if err := d.MemDev.ReadBlocks(lba, cur); err != nil {
		return err
	}
	copy(cur, b[:d.Budget])
	if err := d.MemDev.WriteBlocks(lba, cur); err != nil {
		return err
	}
	d.Budget = 0
	d.Cut = true
	return ErrPowerCut
}
