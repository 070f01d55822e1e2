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

package env

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var (
	// ErrBadCRC is returned when a blob's checksum does not match its data.
	ErrBadCRC = errors.New("bad CRC")
	// ErrTooBig is returned when exported variables do not fit in the data region.
	ErrTooBig = errors.New("environment too large")
)

// Layout describes the on-media encoding of an environment blob:
//
//	offset 0   : uint32 CRC-32 of the data region
//	offset 4   : generation flags byte (redundant layouts only)
//	offset 4/5 : data region up to Size, "key=value\0" entries ending in "\0\0"
type Layout struct {
	// Size is the total size of the blob in bytes.
	Size int
	// Redundant selects the layout with a generation flags byte.
	Redundant bool
	// Order is the byte order of the CRC field. Defaults to little-endian.
	Order binary.ByteOrder
	// Fill is the byte used to pad the data region.
	Fill byte
}

// HeaderSize returns the number of bytes preceding the data region.
func (l Layout) HeaderSize() int {
	if l.Redundant {
		return 5
	}
	return 4
}

// DataSize returns the size of the data region.
func (l Layout) DataSize() int {
	return l.Size - l.HeaderSize()
}

// Validate checks that the layout leaves room for at least an empty environment.
func (l Layout) Validate() error {
	if l.DataSize() < 2 {
		return fmt.Errorf("environment size %d too small", l.Size)
	}
	return nil
}

func (l Layout) order() binary.ByteOrder {
	if l.Order == nil {
		return binary.LittleEndian
	}
	return l.Order
}

// Image is a decoded environment blob.
type Image struct {
	// Flags is the generation counter of a redundant copy; zero otherwise.
	Flags uint8
	// Data is the whole data region, padding included.
	Data []byte
}

// Encode builds a blob from exported variable data, padding the data region
// and computing the CRC over all of it.
func Encode(l Layout, flags uint8, data []byte) ([]byte, error) {
	if len(data) > l.DataSize() {
		return nil, fmt.Errorf("%w: %d bytes of variables, %d available", ErrTooBig, len(data), l.DataSize())
	}
	b := make([]byte, l.Size)
	d := b[l.HeaderSize():]
	copy(d, data)
	for i := len(data); i < len(d); i++ {
		d[i] = l.Fill
	}
	if l.Redundant {
		b[4] = flags
	}
	l.order().PutUint32(b, crc32.ChecksumIEEE(d))
	return b, nil
}

// Decode checks a blob's CRC and returns its contents.
func Decode(l Layout, b []byte) (Image, error) {
	if len(b) < l.Size {
		return Image{}, fmt.Errorf("short environment blob: %d bytes, want %d", len(b), l.Size)
	}
	b = b[:l.Size]
	d := b[l.HeaderSize():]
	if got, want := crc32.ChecksumIEEE(d), l.order().Uint32(b); got != want {
		return Image{}, fmt.Errorf("%w: computed 0x%08x, stored 0x%08x", ErrBadCRC, got, want)
	}
	img := Image{Data: append([]byte(nil), d...)}
	if l.Redundant {
		img.Flags = b[4]
	}
	return img, nil
}

// newer reports whether generation a supersedes generation b, treating the
// wrap from 255 to 0 as an increment.
func newer(a, b uint8) bool {
	switch {
	case a == 0 && b == 0xff:
		return true
	case a == 0xff && b == 0:
		return false
	}
	return a > b
}

// pickCopy chooses which of two redundant copies is current. It returns -1
// when neither decoded. Equal generations prefer the primary copy.
func pickCopy(imgs [2]*Image) int {
	switch {
	case imgs[0] == nil && imgs[1] == nil:
		return -1
	case imgs[1] == nil:
		return 0
	case imgs[0] == nil:
		return 1
	case newer(imgs[1].Flags, imgs[0].Flags):
		return 1
	}
	return 0
}
