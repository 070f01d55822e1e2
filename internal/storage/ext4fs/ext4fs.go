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

// Package ext4fs reads files from ext4 partitions on block storage.
package ext4fs

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dsoprea/go-ext4"
	"github.com/golang/glog"
)

// ErrNotFound is returned when a path does not exist on the partition.
var ErrNotFound = errors.New("file not found")

// BlockDevice reads whole blocks from storage.
type BlockDevice interface {
	BlockSize() uint
	ReadBlocks(lba uint, b []byte) error
}

// BlockReaderAt adapts a BlockDevice to io.ReaderAt.
type BlockReaderAt struct {
	Dev BlockDevice
}

// ReadAt implements io.ReaderAt, reading the covering blocks.
func (r BlockReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	bs := int64(r.Dev.BlockSize())
	first := off / bs
	last := (off + int64(len(p)) + bs - 1) / bs
	buf := make([]byte, (last-first)*bs)
	if err := r.Dev.ReadBlocks(uint(first), buf); err != nil {
		return 0, err
	}
	return copy(p, buf[off-first*bs:]), nil
}

// Partition is an ext4 filesystem occupying [offset, offset+size) of a device.
type Partition struct {
	rs io.ReadSeeker
}

// Open returns the partition at the given byte range of r.
func Open(r io.ReaderAt, offset, size int64) *Partition {
	return &Partition{rs: io.NewSectionReader(r, offset, size)}
}

func (p *Partition) blockGroupDescriptor(inode int) (*ext4.BlockGroupDescriptor, error) {
	if _, err := p.rs.Seek(ext4.Superblock0Offset, io.SeekStart); err != nil {
		return nil, err
	}
	sb, err := ext4.NewSuperblockWithReader(p.rs)
	if err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	bgdl, err := ext4.NewBlockGroupDescriptorListWithReadSeeker(p.rs, sb)
	if err != nil {
		return nil, fmt.Errorf("read block group descriptors: %w", err)
	}
	return bgdl.GetWithAbsoluteInode(inode)
}

// ReadFile returns the contents of the file at the given absolute path.
func (p *Partition) ReadFile(path string) ([]byte, error) {
	want := strings.Trim(path, "/")
	bgd, err := p.blockGroupDescriptor(ext4.InodeRootDirectory)
	if err != nil {
		return nil, err
	}
	// The walk descends into subdirectories, yielding paths relative to the root.
	dw, err := ext4.NewDirectoryWalk(p.rs, bgd, ext4.InodeRootDirectory)
	if err != nil {
		return nil, err
	}
	inode := 0
	for {
		name, de, err := dw.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if name == want {
			inode = int(de.Data().Inode)
			break
		}
	}
	if inode == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if bgd, err = p.blockGroupDescriptor(inode); err != nil {
		return nil, err
	}

	in, err := ext4.NewInodeWithReadSeeker(bgd, p.rs, inode)
	if err != nil {
		return nil, err
	}
	en := ext4.NewExtentNavigatorWithReadSeeker(p.rs, in)
	b, err := io.ReadAll(ext4.NewInodeReader(en))
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("ext4fs: read %s (inode %d, %d bytes)", path, inode, len(b))
	return b, nil
}
