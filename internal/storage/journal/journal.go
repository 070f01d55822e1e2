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

// Package journal implements a log-structured volume on top of a block
// device: every update appends a checksummed record, and the newest intact
// record is the content of the volume. An interrupted update leaves the
// previous record readable.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/golang/glog"
)

// recordMagic prefixes every record written to a journal.
const recordMagic = "UBV1"

const (
	// recordHeaderSize is the on-disk size of a record without its payload:
	// magic, sequence number, payload length and payload CRC-32.
	recordHeaderSize = 4 + 4 + 4 + 4

	// minRecords is the number of maximum-sized records a journal must be
	// able to hold. Three guarantees that wrapping to the start of the
	// journal never overwrites the newest intact record.
	minRecords = 3
)

var (
	// ErrTooLarge is returned when an update exceeds the journal's capacity.
	ErrTooLarge = errors.New("record too large for journal")
	// ErrCorrupt is returned when the journal holds contradictory records.
	ErrCorrupt = errors.New("journal is corrupt")
)

// BlockDevice reads and writes whole blocks of some backing storage.
type BlockDevice interface {
	// BlockSize returns the size in bytes of a block.
	BlockSize() uint
	// ReadBlocks fills b from consecutive blocks starting at lba.
	// len(b) must be a multiple of the block size.
	ReadBlocks(lba uint, b []byte) error
	// WriteBlocks writes b to consecutive blocks starting at lba.
	// A trailing partial block is zero padded.
	WriteBlocks(lba uint, b []byte) error
}

// Journal is a single log-structured volume spanning the blocks
// [start, start+length) of a device.
type Journal struct {
	dev    BlockDevice
	start  uint
	length uint

	seq     uint32
	data    []byte
	next    uint
	maxData uint
}

// Open scans the blocks [start, start+length) of dev for the newest intact
// record. An empty or fully invalid range yields an empty journal.
func Open(dev BlockDevice, start, length uint) (*Journal, error) {
	capacity := length * dev.BlockSize() / minRecords
	if capacity <= recordHeaderSize {
		return nil, fmt.Errorf("journal of %d blocks is too small", length)
	}
	j := &Journal{
		dev:     dev,
		start:   start,
		length:  length,
		maxData: capacity - recordHeaderSize,
	}
	if err := j.scan(); err != nil {
		return nil, err
	}
	return j, nil
}

// Data returns the payload of the newest record and its sequence number.
// A sequence number of zero means nothing has been written yet.
func (j *Journal) Data() ([]byte, uint32) {
	return j.data, j.seq
}

// MaxDataBytes returns the largest payload Update accepts.
func (j *Journal) MaxDataBytes() uint {
	return j.maxData
}

// Update appends a record holding data. On failure the previous content
// remains the journal's content.
func (j *Journal) Update(data []byte) error {
	if uint(len(data)) > j.maxData {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), j.maxData)
	}
	rec := marshalRecord(j.seq+1, data)
	bs := j.dev.BlockSize()
	at := j.next
	if (j.start+j.length-at)*bs < uint(len(rec)) {
		at = j.start
	}
	if err := j.dev.WriteBlocks(at, rec); err != nil {
		return fmt.Errorf("write record %d at block %d: %w", j.seq+1, at, err)
	}
	j.seq++
	j.data = append([]byte(nil), data...)
	j.next = at + blocksFor(uint(len(rec)), bs)
	if j.next >= j.start+j.length {
		j.next = j.start
	}
	glog.V(2).Infof("journal@%d: wrote record %d (%d bytes) at block %d", j.start, j.seq, len(data), at)
	return nil
}

// scan locates the newest intact record.
func (j *Journal) scan() error {
	bs := j.dev.BlockSize()
	buf := make([]byte, j.length*bs)
	if err := j.dev.ReadBlocks(j.start, buf); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	j.next = j.start
	for b := uint(0); b < j.length; {
		seq, data, err := unmarshalRecord(buf[b*bs:])
		if err != nil {
			if j.seq > 0 {
				break
			}
			// Either nothing was ever written here, or the start of the
			// journal was clobbered by an interrupted wrap. Keep looking.
			b++
			continue
		}
		switch {
		case seq > j.seq:
			j.seq, j.data = seq, data
			b += blocksFor(uint(recordHeaderSize+len(data)), bs)
			j.next = j.start + b
			continue
		case seq == j.seq:
			return fmt.Errorf("%w: two records with sequence %d", ErrCorrupt, seq)
		}
		// An older record following a newer one: the newer one is the head.
		break
	}
	if j.next >= j.start+j.length {
		j.next = j.start
	}
	return nil
}

func blocksFor(n, bs uint) uint {
	return (n + bs - 1) / bs
}

func marshalRecord(seq uint32, data []byte) []byte {
	rec := make([]byte, recordHeaderSize+len(data))
	copy(rec, recordMagic)
	binary.BigEndian.PutUint32(rec[4:], seq)
	binary.BigEndian.PutUint32(rec[8:], uint32(len(data)))
	binary.BigEndian.PutUint32(rec[12:], crc32.ChecksumIEEE(data))
	copy(rec[recordHeaderSize:], data)
	return rec
}

func unmarshalRecord(b []byte) (uint32, []byte, error) {
	if len(b) < recordHeaderSize {
		return 0, nil, errors.New("short record header")
	}
	if string(b[:4]) != recordMagic {
		return 0, nil, fmt.Errorf("bad record magic %q", b[:4])
	}
	seq := binary.BigEndian.Uint32(b[4:])
	n := binary.BigEndian.Uint32(b[8:])
	if uint64(n) > uint64(len(b)-recordHeaderSize) {
		return 0, nil, fmt.Errorf("record length %d overruns journal", n)
	}
	data := b[recordHeaderSize : recordHeaderSize+int(n)]
	if got, want := crc32.ChecksumIEEE(data), binary.BigEndian.Uint32(b[12:]); got != want {
		return 0, nil, fmt.Errorf("record %d: crc 0x%08x, header claims 0x%08x", seq, got, want)
	}
	return seq, append([]byte(nil), data...), nil
}
