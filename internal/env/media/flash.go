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
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/poll"
)

// FlashDevice is a NOR or SPI flash part.
type FlashDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	// EraseSize is the size of the smallest erasable sector.
	EraseSize() int64
	// Erase starts erasing a sector-aligned range.
	Erase(off, n int64) error
	// Program starts writing p at off. Only 1 bits can be cleared.
	Program(p []byte, off int64) error
	// Busy reads the status register's write-in-progress bit.
	Busy() (bool, error)
}

// Flash keeps the environment in dedicated flash sectors.
type Flash struct {
	// Label names the medium in messages; defaults to "SPIFlash".
	Label string
	Dev   FlashDevice
	// Size is the environment blob size.
	Size int
	// Offsets holds the sector-aligned offset of each copy.
	Offsets []int64
	// PageSize is the largest single program operation. Defaults to 256.
	PageSize int
	// EraseBudget and ProgramBudget bound the status polling after each operation.
	EraseBudget, ProgramBudget poll.Budget
	// Watchdog, if set, is serviced while waiting on the part.
	Watchdog func()
}

// Name implements env.Medium.
func (f *Flash) Name() string {
	if f.Label == "" {
		return "SPIFlash"
	}
	return f.Label
}

// Copies implements env.Medium.
func (f *Flash) Copies() int { return len(f.Offsets) }

// Fill implements env.Filler; erased flash reads as 0xff.
func (f *Flash) Fill() byte { return 0xff }

func (f *Flash) offset(idx int) (int64, error) {
	if idx < 0 || idx >= len(f.Offsets) {
		return 0, fmt.Errorf("invalid copy %d", idx)
	}
	return f.Offsets[idx], nil
}

// sectors returns the erase range covering a copy.
func (f *Flash) sectors(off int64) (int64, int64) {
	es := f.Dev.EraseSize()
	start := off / es * es
	end := (off + int64(f.Size) + es - 1) / es * es
	return start, end - start
}

// Read implements env.Medium.
func (f *Flash) Read(_ context.Context, idx int) ([]byte, error) {
	off, err := f.offset(idx)
	if err != nil {
		return nil, err
	}
	b := make([]byte, f.Size)
	if _, err := f.Dev.ReadAt(b, off); err != nil {
		return nil, err
	}
	return b, nil
}

func (f *Flash) wait(ctx context.Context, b poll.Budget) error {
	return poll.Wait(ctx, b, f.Watchdog, func() (bool, error) {
		busy, err := f.Dev.Busy()
		return !busy, err
	})
}

// Write implements env.Medium. The covering sectors are erased and
// reprogrammed; bytes of those sectors outside the copy are preserved.
func (f *Flash) Write(ctx context.Context, idx int, blob []byte) error {
	off, err := f.offset(idx)
	if err != nil {
		return err
	}
	if len(blob) != f.Size {
		return fmt.Errorf("blob is %d bytes, medium holds %d", len(blob), f.Size)
	}
	start, n := f.sectors(off)
	img := make([]byte, n)
	if _, err := f.Dev.ReadAt(img, start); err != nil {
		return fmt.Errorf("read sectors: %w", err)
	}
	copy(img[off-start:], blob)

	glog.V(1).Infof("%s: erasing 0x%x bytes at 0x%x", f.Name(), n, start)
	if err := f.Dev.Erase(start, n); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	if err := f.wait(ctx, f.EraseBudget); err != nil {
		return fmt.Errorf("erase at 0x%x: %w", start, err)
	}
	return f.program(ctx, img, start)
}

func (f *Flash) program(ctx context.Context, img []byte, start int64) error {
	page := f.PageSize
	if page <= 0 {
		page = 256
	}
	for i := 0; i < len(img); i += page {
		end := min(i+page, len(img))
		if err := f.Dev.Program(img[i:end], start+int64(i)); err != nil {
			return fmt.Errorf("program at 0x%x: %w", start+int64(i), err)
		}
		if err := f.wait(ctx, f.ProgramBudget); err != nil {
			return fmt.Errorf("program at 0x%x: %w", start+int64(i), err)
		}
	}
	return nil
}

// Erase implements env.Medium by erasing the copy's sectors.
func (f *Flash) Erase(ctx context.Context, idx int) error {
	off, err := f.offset(idx)
	if err != nil {
		return err
	}
	start, n := f.sectors(off)
	if err := f.Dev.Erase(start, n); err != nil {
		return err
	}
	return f.wait(ctx, f.EraseBudget)
}
