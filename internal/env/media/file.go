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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/bootcore/internal/storage/journal"
)

// File keeps each copy of the environment in a host file, as used by the
// host-side tools and the emulator.
type File struct {
	// Paths holds the file of each copy; one or two entries.
	Paths []string
	// Size is the environment blob size.
	Size int
}

// Name implements env.Medium.
func (f *File) Name() string { return "FAT" }

// Copies implements env.Medium.
func (f *File) Copies() int { return len(f.Paths) }

func (f *File) path(idx int) (string, error) {
	if idx < 0 || idx >= len(f.Paths) {
		return "", fmt.Errorf("invalid copy %d", idx)
	}
	return f.Paths[idx], nil
}

// Read implements env.Medium.
func (f *File) Read(_ context.Context, idx int) ([]byte, error) {
	p, err := f.path(idx)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return b, err
}

// Write implements env.Medium, replacing the file atomically.
func (f *File) Write(_ context.Context, idx int, blob []byte) error {
	p, err := f.path(idx)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Erase implements env.Medium by zeroing the file.
func (f *File) Erase(ctx context.Context, idx int) error {
	return f.Write(ctx, idx, make([]byte, f.Size))
}

// Volume keeps each copy of the environment in its own journal volume,
// the way a UBI volume pair is used.
type Volume struct {
	Part *journal.Partition
	// Size is the environment blob size.
	Size int
}

// Name implements env.Medium.
func (v *Volume) Name() string { return "UBI" }

// Copies implements env.Medium.
func (v *Volume) Copies() int {
	return min(v.Part.NumVolumes(), 2)
}

// Read implements env.Medium.
func (v *Volume) Read(_ context.Context, idx int) ([]byte, error) {
	j, err := v.Part.Volume(idx)
	if err != nil {
		return nil, err
	}
	b, seq := j.Data()
	if seq == 0 {
		return nil, fmt.Errorf("%w: volume %d is empty", ErrNotFound, idx)
	}
	return b, nil
}

// Write implements env.Medium.
func (v *Volume) Write(_ context.Context, idx int, blob []byte) error {
	j, err := v.Part.Volume(idx)
	if err != nil {
		return err
	}
	return j.Update(blob)
}

// Erase implements env.Medium by writing an all-zero record.
func (v *Volume) Erase(ctx context.Context, idx int) error {
	return v.Write(ctx, idx, make([]byte, v.Size))
}
