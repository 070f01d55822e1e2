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
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func mbr(parts ...[3]uint32) []byte {
	b := make([]byte, 1024)
	for i, p := range parts {
		e := b[0x1be+16*i:]
		e[4] = byte(p[0])
		binary.LittleEndian.PutUint32(e[8:], p[1])
		binary.LittleEndian.PutUint32(e[12:], p[2])
	}
	b[510], b[511] = 0x55, 0xaa
	return b
}

func TestMBRPartition(t *testing.T) {
	disk := mbr([3]uint32{0x83, 2048, 4096}, [3]uint32{0x0c, 8192, 100})
	for _, test := range []struct {
		desc             string
		disk             []byte
		n                int
		wantOff, wantLen int64
		wantErr          bool
		wantIs           error
	}{
		{desc: "first", disk: disk, n: 1, wantOff: 2048 * 512, wantLen: 4096 * 512},
		{desc: "second", disk: disk, n: 2, wantOff: 8192 * 512, wantLen: 100 * 512},
		{desc: "empty slot", disk: disk, n: 3, wantErr: true, wantIs: ErrNoPartition},
		{desc: "out of range", disk: disk, n: 5, wantErr: true, wantIs: ErrNoPartition},
		{desc: "no signature", disk: make([]byte, 512), n: 1, wantErr: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			off, size, err := MBRPartition(bytes.NewReader(test.disk), test.n)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("MBRPartition: %v, wantErr %t", err, test.wantErr)
			}
			if test.wantIs != nil && !errors.Is(err, test.wantIs) {
				t.Errorf("error %v is not %v", err, test.wantIs)
			}
			if off != test.wantOff || size != test.wantLen {
				t.Errorf("MBRPartition = %d+%d, want %d+%d", off, size, test.wantOff, test.wantLen)
			}
		})
	}
}
