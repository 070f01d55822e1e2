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

package sim

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Disk is an SD card or eMMC backed by a host image file. Blocks beyond
// the end of the file read as zeros.
type Disk struct {
	f      *os.File
	bs     uint
	blocks uint
}

// OpenDisk opens the image at path. The card holds blocks blocks of bs
// bytes; zero sizes the card to the file.
func OpenDisk(path string, bs, blocks uint) (*Disk, error) {
	if bs == 0 {
		bs = 512
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open disk image: %w", err)
	}
	if blocks == 0 {
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		blocks = uint(fi.Size()) / bs
	}
	return &Disk{f: f, bs: bs, blocks: blocks}, nil
}

// BlockSize returns the block size of the card.
func (d *Disk) BlockSize() uint { return d.bs }

func (d *Disk) check(lba uint, n int) error {
	if n%int(d.bs) != 0 {
		return fmt.Errorf("%d bytes is not a whole number of blocks", n)
	}
	if lba+uint(n)/d.bs > d.blocks {
		return fmt.Errorf("blocks [%d, %d) beyond end of card (%d blocks)", lba, lba+uint(n)/d.bs, d.blocks)
	}
	return nil
}

// ReadBlocks reads len(b) bytes starting at block lba.
func (d *Disk) ReadBlocks(lba uint, b []byte) error {
	if err := d.check(lba, len(b)); err != nil {
		return err
	}
	n, err := d.f.ReadAt(b, int64(lba*d.bs))
	if errors.Is(err, io.EOF) {
		clear(b[n:])
		return nil
	}
	return err
}

// WriteBlocks writes b starting at block lba, zero padding the final block.
func (d *Disk) WriteBlocks(lba uint, b []byte) error {
	if r := len(b) % int(d.bs); r != 0 {
		b = append(b, make([]byte, int(d.bs)-r)...)
	}
	if err := d.check(lba, len(b)); err != nil {
		return err
	}
	_, err := d.f.WriteAt(b, int64(lba*d.bs))
	return err
}

// Close closes the image file.
func (d *Disk) Close() error { return d.f.Close() }

// NOR is a NOR flash part backed by a host image file. The part is the size
// of the file and never reports busy.
type NOR struct {
	f      *os.File
	size   int64
	sector int64
}

// OpenNOR opens the flash image at path.
func OpenNOR(path string, sector int64) (*NOR, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size()%sector != 0 {
		f.Close()
		return nil, fmt.Errorf("flash image size %d is not a multiple of the %d byte sector", fi.Size(), sector)
	}
	return &NOR{f: f, size: fi.Size(), sector: sector}, nil
}

// ReadAt reads the flash array.
func (n *NOR) ReadAt(p []byte, off int64) (int, error) {
	return n.f.ReadAt(p, off)
}

// EraseSize returns the sector size.
func (n *NOR) EraseSize() int64 { return n.sector }

// Erase sets the sectors in [off, off+size) to 0xff.
func (n *NOR) Erase(off, size int64) error {
	if off%n.sector != 0 || size%n.sector != 0 {
		return fmt.Errorf("erase 0x%x+0x%x is not sector aligned", off, size)
	}
	if off+size > n.size {
		return fmt.Errorf("erase 0x%x+0x%x beyond end of flash", off, size)
	}
	ff := make([]byte, size)
	for i := range ff {
		ff[i] = 0xff
	}
	_, err := n.f.WriteAt(ff, off)
	return err
}

// Program clears the bits of the flash at off which are clear in p.
func (n *NOR) Program(p []byte, off int64) error {
	if off+int64(len(p)) > n.size {
		return fmt.Errorf("program 0x%x+0x%x beyond end of flash", off, len(p))
	}
	cur := make([]byte, len(p))
	if _, err := n.f.ReadAt(cur, off); err != nil {
		return err
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	_, err := n.f.WriteAt(cur, off)
	return err
}

// Busy implements the status read; operations complete immediately.
func (n *NOR) Busy() (bool, error) { return false, nil }

// Close closes the image file.
func (n *NOR) Close() error { return n.f.Close() }
