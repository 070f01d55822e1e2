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

// Package mem provides a bounds-checked view over a range of physical memory.
//
// All loader code addresses memory through a Memory rather than raw pointers,
// so that a bad load address or size in an image header turns into an error
// instead of scribbling over unrelated state.
package mem

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrOutOfRange is returned when an access falls outside of the view.
var ErrOutOfRange = errors.New("address range outside of memory")

// Memory is a window onto physical memory starting at Base.
//
// Memory is only ever used from the single boot thread, so it has no locking.
type Memory struct {
	// Base is the physical address of the first byte in the view.
	Base uint64

	buf []byte
}

// New allocates a zeroed view of size bytes at the given base address.
func New(base uint64, size int) *Memory {
	return &Memory{Base: base, buf: make([]byte, size)}
}

// Wrap returns a view backed by the provided buffer.
func Wrap(base uint64, buf []byte) *Memory {
	return &Memory{Base: base, buf: buf}
}

// Size returns the number of bytes covered by the view.
func (m *Memory) Size() uint64 {
	return uint64(len(m.buf))
}

// End returns the first address past the end of the view.
func (m *Memory) End() uint64 {
	return m.Base + m.Size()
}

// Contains reports whether [addr, addr+n) lies entirely inside the view.
func (m *Memory) Contains(addr, n uint64) bool {
	if addr < m.Base {
		return false
	}
	off := addr - m.Base
	return off <= m.Size() && n <= m.Size()-off
}

func (m *Memory) offset(addr, n uint64) (uint64, error) {
	if !m.Contains(addr, n) {
		return 0, fmt.Errorf("%w: [0x%x, 0x%x) not in [0x%x, 0x%x)", ErrOutOfRange, addr, addr+n, m.Base, m.End())
	}
	return addr - m.Base, nil
}

// Slice returns the n bytes at addr. The returned slice aliases the view.
func (m *Memory) Slice(addr, n uint64) ([]byte, error) {
	off, err := m.offset(addr, n)
	if err != nil {
		return nil, err
	}
	return m.buf[off : off+n : off+n], nil
}

// Tail returns everything from addr to the end of the view.
func (m *Memory) Tail(addr uint64) ([]byte, error) {
	if addr < m.Base || addr > m.End() {
		return nil, fmt.Errorf("%w: 0x%x not in [0x%x, 0x%x)", ErrOutOfRange, addr, m.Base, m.End())
	}
	return m.buf[addr-m.Base:], nil
}

// Read returns a copy of the n bytes at addr.
func (m *Memory) Read(addr, n uint64) ([]byte, error) {
	b, err := m.Slice(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write copies b into memory at addr.
func (m *Memory) Write(addr uint64, b []byte) error {
	dst, err := m.Slice(addr, uint64(len(b)))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Move copies n bytes from src to dst; the ranges may overlap.
func (m *Memory) Move(dst, src, n uint64) error {
	s, err := m.Slice(src, n)
	if err != nil {
		return err
	}
	d, err := m.Slice(dst, n)
	if err != nil {
		return err
	}
	copy(d, s)
	return nil
}

// Fill sets n bytes at addr to v.
func (m *Memory) Fill(addr, n uint64, v byte) error {
	b, err := m.Slice(addr, n)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = v
	}
	return nil
}

// Overlaps reports whether [a, a+alen) and [b, b+blen) intersect.
func Overlaps(a, alen, b, blen uint64) bool {
	if alen == 0 || blen == 0 {
		return false
	}
	return a < b+blen && b < a+alen
}

// ParseAddr parses an address the way commands accept them: hexadecimal,
// with or without a 0x prefix.
func ParseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return v, nil
}
