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

// Package image parses and builds boot images: the legacy fixed-header
// format and the identifiers shared with FIT images.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

const (
	// LegacyMagic starts every legacy image header.
	LegacyMagic = 0x27051956
	// LegacyHeaderSize is the size of a legacy header.
	LegacyHeaderSize = 64
	// FDTMagic starts every flattened device tree, and so every FIT image.
	FDTMagic = 0xd00dfeed

	nameLen = 32
)

var (
	// ErrUnknownFormat is returned for images with no recognised magic.
	ErrUnknownFormat = errors.New("unknown image format")
	// ErrBadMagic is returned when a legacy header has the wrong magic.
	ErrBadMagic = errors.New("bad magic number")
	// ErrBadHeaderCRC is returned when a legacy header fails its checksum.
	ErrBadHeaderCRC = errors.New("bad header checksum")
	// ErrBadDataCRC is returned when a payload fails its checksum.
	ErrBadDataCRC = errors.New("bad data CRC")
)

// Format is an image container format.
type Format int

// Container formats, in probe order.
const (
	FormatUnknown Format = iota
	FormatFIT
	FormatLegacy
)

func (f Format) String() string {
	switch f {
	case FormatFIT:
		return "FIT"
	case FormatLegacy:
		return "legacy"
	}
	return "unknown"
}

// Probe identifies the container format from the leading magic number.
// The device tree magic is checked first.
func Probe(b []byte) Format {
	if len(b) < 4 {
		return FormatUnknown
	}
	switch binary.BigEndian.Uint32(b) {
	case FDTMagic:
		return FormatFIT
	case LegacyMagic:
		return FormatLegacy
	}
	return FormatUnknown
}

// LegacyHeader is the 64-byte big-endian header of a legacy image.
type LegacyHeader struct {
	Magic     uint32
	HeaderCRC uint32
	Time      uint32
	Size      uint32
	Load      uint32
	Entry     uint32
	DataCRC   uint32
	OS        OS
	Arch      Arch
	Type      Type
	Comp      Comp
	Name      [nameLen]byte
}

// ParseLegacy decodes and checks a legacy header: the magic, then the
// header checksum computed with the checksum field zeroed.
func ParseLegacy(b []byte) (*LegacyHeader, error) {
	if len(b) < LegacyHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for a header", ErrBadMagic, len(b))
	}
	h := &LegacyHeader{}
	if err := binary.Read(bytes.NewReader(b[:LegacyHeaderSize]), binary.BigEndian, h); err != nil {
		return nil, err
	}
	if h.Magic != LegacyMagic {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, h.Magic)
	}
	if got := h.checksum(); got != h.HeaderCRC {
		return nil, fmt.Errorf("%w: computed 0x%08x, header has 0x%08x", ErrBadHeaderCRC, got, h.HeaderCRC)
	}
	return h, nil
}

func (h *LegacyHeader) checksum() uint32 {
	c := *h
	c.HeaderCRC = 0
	return crc32.ChecksumIEEE(c.bytes())
}

func (h *LegacyHeader) bytes() []byte {
	var b bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(&b, binary.BigEndian, h)
	return b.Bytes()
}

// Data returns the payload following the header in b.
func (h *LegacyHeader) Data(b []byte) ([]byte, error) {
	end := uint64(LegacyHeaderSize) + uint64(h.Size)
	if uint64(len(b)) < end {
		return nil, fmt.Errorf("image truncated: header claims %d data bytes, %d present", h.Size, len(b)-LegacyHeaderSize)
	}
	return b[LegacyHeaderSize:end], nil
}

// VerifyData checks the payload checksum.
func (h *LegacyHeader) VerifyData(data []byte) error {
	if got := crc32.ChecksumIEEE(data); got != h.DataCRC {
		return fmt.Errorf("%w: computed 0x%08x, header has 0x%08x", ErrBadDataCRC, got, h.DataCRC)
	}
	return nil
}

// ImageName returns the name field without trailing NULs.
func (h *LegacyHeader) ImageName() string {
	return string(bytes.TrimRight(h.Name[:], "\x00"))
}

// SetName sets the name field, truncating to fit.
func (h *LegacyHeader) SetName(n string) {
	h.Name = [nameLen]byte{}
	copy(h.Name[:], n)
}

// PackLegacy fills in the magic, size and checksums of h for data, and
// returns the complete image.
func PackLegacy(h LegacyHeader, data []byte) []byte {
	h.Magic = LegacyMagic
	h.Size = uint32(len(data))
	h.DataCRC = crc32.ChecksumIEEE(data)
	h.HeaderCRC = h.checksum()
	return append(h.bytes(), data...)
}

// Print writes a description of the header in the style of iminfo.
func (h *LegacyHeader) Print(w io.Writer) {
	fmt.Fprintf(w, "   Image Name:   %s\n", h.ImageName())
	fmt.Fprintf(w, "   Created:      %s\n", time.Unix(int64(h.Time), 0).UTC().Format("2006-01-02  15:04:05 UTC"))
	fmt.Fprintf(w, "   Image Type:   %s %s %s (%s)\n", h.Arch.Description(), h.OS.Description(), h.Type.Description(), h.Comp.Description())
	fmt.Fprintf(w, "   Data Size:    %d Bytes\n", h.Size)
	fmt.Fprintf(w, "   Load Address: %08x\n", h.Load)
	fmt.Fprintf(w, "   Entry Point:  %08x\n", h.Entry)
}

// MultiParts splits the payload of a multi-file image: a zero-terminated
// table of big-endian sizes, then each part padded to 4 bytes.
func MultiParts(data []byte) ([][]byte, error) {
	var sizes []uint32
	off := 0
	for {
		if off+4 > len(data) {
			return nil, errors.New("multi-file image: unterminated size table")
		}
		s := binary.BigEndian.Uint32(data[off:])
		off += 4
		if s == 0 {
			break
		}
		sizes = append(sizes, s)
	}
	if len(sizes) == 0 {
		return nil, errors.New("multi-file image: empty size table")
	}
	parts := make([][]byte, 0, len(sizes))
	for i, s := range sizes {
		if uint64(off)+uint64(s) > uint64(len(data)) {
			return nil, fmt.Errorf("multi-file image: part %d overruns image", i)
		}
		parts = append(parts, data[off:off+int(s)])
		off += int((s + 3) &^ 3)
	}
	return parts, nil
}

// PackMulti builds the payload of a multi-file image.
func PackMulti(parts [][]byte) []byte {
	var b bytes.Buffer
	for _, p := range parts {
		_ = binary.Write(&b, binary.BigEndian, uint32(len(p)))
	}
	_ = binary.Write(&b, binary.BigEndian, uint32(0))
	for _, p := range parts {
		b.Write(p)
		b.Write(make([]byte, (4-len(p)%4)%4))
	}
	return b.Bytes()
}
