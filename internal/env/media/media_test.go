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

package media

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/bootcore/internal/poll"
	"github.com/google/bootcore/internal/storage/journal"
	"github.com/google/bootcore/internal/storage/testonly"
	"github.com/google/go-cmp/cmp"
)

func blob(size int, seed byte) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestBlockReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	dev := testonly.NewMemDev(t, 8)
	// Fill the device so that clobbered neighbours are visible.
	if err := dev.WriteBlocks(0, bytes.Repeat([]byte{0xaa}, 8*testonly.MemBlockSize)); err != nil {
		t.Fatal(err)
	}
	m := &Block{Dev: dev, Size: 700, Offsets: []int64{100, 1500}}
	for i := 0; i < m.Copies(); i++ {
		want := blob(700, byte(i))
		if err := m.Write(ctx, i, want); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
		got, err := m.Read(ctx, i)
		if err != nil {
			t.Fatalf("Read(%d): %v", i, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("copy %d diff (-want +got):\n%s", i, diff)
		}
	}
	raw := dev.Bytes()
	for _, off := range []int{0, 99, 800, 1499, 2200, 4095} {
		if raw[off] != 0xaa {
			t.Errorf("byte %d outside the copies was clobbered: 0x%02x", off, raw[off])
		}
	}
	if err := m.Write(ctx, 2, blob(700, 0)); err == nil {
		t.Error("Write to copy 2 succeeded")
	}
	if err := m.Write(ctx, 0, blob(10, 0)); err == nil {
		t.Error("Write of wrong-sized blob succeeded")
	}
}

func TestFlash(t *testing.T) {
	ctx := context.Background()
	part := testonly.NewMemFlash(64*1024, 4096)
	part.BusyPolls = 3
	ticks := 0
	m := &Flash{
		Dev:           part,
		Size:          2048,
		Offsets:       []int64{8192, 16384},
		EraseBudget:   poll.Budget{Attempts: 10},
		ProgramBudget: poll.Budget{Attempts: 10},
		Watchdog:      func() { ticks++ },
	}
	// Data sharing the first copy's sector must survive a save.
	copy(part.Data[8192+3000:], "neighbour")

	want := blob(2048, 1)
	if err := m.Write(ctx, 0, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(ctx, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("read back differs from written blob")
	}
	if got := string(part.Data[8192+3000 : 8192+3009]); got != "neighbour" {
		t.Errorf("neighbouring data = %q", got)
	}
	if ticks == 0 || ticks != part.Polls {
		t.Errorf("watchdog serviced %d times over %d polls", ticks, part.Polls)
	}

	if err := m.Erase(ctx, 1); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if m.Fill() != 0xff {
		t.Errorf("Fill() = 0x%02x, want 0xff", m.Fill())
	}
}

func TestFlashTimeout(t *testing.T) {
	part := testonly.NewMemFlash(16*1024, 4096)
	part.BusyPolls = 100
	m := &Flash{
		Dev:         part,
		Size:        1024,
		Offsets:     []int64{0},
		EraseBudget: poll.Budget{Attempts: 5},
	}
	if err := m.Write(context.Background(), 0, blob(1024, 0)); !errors.Is(err, poll.ErrTimeout) {
		t.Errorf("Write: %v, want timeout", err)
	}
	if part.Polls != 5 {
		t.Errorf("polled %d times, want 5", part.Polls)
	}
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := &File{Paths: []string{filepath.Join(dir, "uboot.env")}, Size: 64}
	if _, err := m.Read(ctx, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read of missing file: %v, want ErrNotFound", err)
	}
	want := blob(64, 9)
	if err := m.Write(ctx, 0, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(ctx, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("read back differs")
	}
	if err := m.Erase(ctx, 0); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if got, _ := m.Read(ctx, 0); !bytes.Equal(got, make([]byte, 64)) {
		t.Error("Erase did not zero the file")
	}
}

func TestVolume(t *testing.T) {
	ctx := context.Background()
	dev := testonly.NewMemDev(t, 64)
	geo := journal.Geometry{Start: 0, Length: 64, VolumeLengths: []uint{32, 32}}
	p, err := journal.OpenPartition(dev, geo)
	if err != nil {
		t.Fatalf("OpenPartition: %v", err)
	}
	m := &Volume{Part: p, Size: 4096}
	if m.Copies() != 2 {
		t.Errorf("Copies() = %d, want 2", m.Copies())
	}
	if _, err := m.Read(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read of empty volume: %v", err)
	}
	want := blob(4096, 3)
	if err := m.Write(ctx, 1, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p, err = journal.OpenPartition(dev, geo)
	if err != nil {
		t.Fatal(err)
	}
	m = &Volume{Part: p, Size: 4096}
	got, err := m.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("volume contents differ after reopen")
	}
}

func TestNowhere(t *testing.T) {
	var m Nowhere
	if _, err := m.Read(context.Background(), 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read: %v", err)
	}
	if err := m.Write(context.Background(), 0, nil); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write: %v", err)
	}
}
