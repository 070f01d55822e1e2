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

// Package media provides the storage backends the environment can live on.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/bootcore/internal/storage/ext4fs"
)

var (
	// ErrReadOnly is returned when saving to a medium which cannot be written.
	ErrReadOnly = errors.New("medium is read-only")
	// ErrNotFound is returned when a medium holds no environment.
	ErrNotFound = errors.New("no environment stored")
)

// BlockDevice reads and writes whole blocks, e.g. an MMC/SD card.
type BlockDevice interface {
	BlockSize() uint
	ReadBlocks(lba uint, b []byte) error
	WriteBlocks(lba uint, b []byte) error
}

// Block keeps the environment at fixed byte offsets of a block device.
type Block struct {
	// Label names the medium in messages; defaults to "MMC".
	Label string
	Dev   BlockDevice
	// Size is the environment blob size.
	Size int
	// Offsets holds the byte offset of each copy; one or two entries.
	Offsets []int64
}

// Name implements env.Medium.
func (b *Block) Name() string {
	if b.Label == "" {
		return "MMC"
	}
	return b.Label
}

// Copies implements env.Medium.
func (b *Block) Copies() int {
	return len(b.Offsets)
}

func (b *Block) span(idx int) (uint, int, []byte, error) {
	if idx < 0 || idx >= len(b.Offsets) {
		return 0, 0, nil, fmt.Errorf("invalid copy %d", idx)
	}
	bs := int64(b.Dev.BlockSize())
	off := b.Offsets[idx]
	first := off / bs
	last := (off + int64(b.Size) + bs - 1) / bs
	return uint(first), int(off - first*bs), make([]byte, (last-first)*bs), nil
}

// Read implements env.Medium.
func (b *Block) Read(_ context.Context, idx int) ([]byte, error) {
	lba, skip, buf, err := b.span(idx)
	if err != nil {
		return nil, err
	}
	if err := b.Dev.ReadBlocks(lba, buf); err != nil {
		return nil, err
	}
	return buf[skip : skip+b.Size], nil
}

// Write implements env.Medium. Partial blocks at either end are read first
// so that neighbouring data survives.
func (b *Block) Write(_ context.Context, idx int, blob []byte) error {
	lba, skip, buf, err := b.span(idx)
	if err != nil {
		return err
	}
	if len(blob) != b.Size {
		return fmt.Errorf("blob is %d bytes, medium holds %d", len(blob), b.Size)
	}
	if skip != 0 || len(buf) != b.Size {
		if err := b.Dev.ReadBlocks(lba, buf); err != nil {
			return fmt.Errorf("read-modify-write: %w", err)
		}
	}
	copy(buf[skip:], blob)
	return b.Dev.WriteBlocks(lba, buf)
}

// Erase implements env.Medium by zeroing the copy.
func (b *Block) Erase(ctx context.Context, idx int) error {
	return b.Write(ctx, idx, make([]byte, b.Size))
}

// Ext4 reads the environment from a file on an ext4 partition. Saving is
// not supported.
type Ext4 struct {
	Part *ext4fs.Partition
	// Path is the absolute path of the environment file, e.g. "/uboot.env".
	Path string
	// Size is the environment blob size.
	Size int
}

// Name implements env.Medium.
func (e *Ext4) Name() string { return "EXT4" }

// Copies implements env.Medium.
func (e *Ext4) Copies() int { return 1 }

// Read implements env.Medium.
func (e *Ext4) Read(context.Context, int) ([]byte, error) {
	b, err := e.Part.ReadFile(e.Path)
	if errors.Is(err, ext4fs.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	} else if err != nil {
		return nil, err
	}
	if len(b) < e.Size {
		return nil, fmt.Errorf("%s is %d bytes, want %d", e.Path, len(b), e.Size)
	}
	return b[:e.Size], nil
}

// Write implements env.Medium.
func (e *Ext4) Write(context.Context, int, []byte) error { return ErrReadOnly }

// Erase implements env.Medium.
func (e *Ext4) Erase(context.Context, int) error { return ErrReadOnly }

// Nowhere is the medium of boards without persistent environment.
type Nowhere struct{}

// Name implements env.Medium.
func (Nowhere) Name() string { return "nowhere" }

// Copies implements env.Medium.
func (Nowhere) Copies() int { return 1 }

// Read implements env.Medium.
func (Nowhere) Read(context.Context, int) ([]byte, error) { return nil, ErrNotFound }

// Write implements env.Medium.
func (Nowhere) Write(context.Context, int, []byte) error { return ErrReadOnly }

// Erase implements env.Medium.
func (Nowhere) Erase(context.Context, int) error { return ErrReadOnly }
