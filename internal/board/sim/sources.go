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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/bootcore/internal/cli"
	"github.com/google/bootcore/internal/storage/ext4fs"
)

// FileSources returns the "load" sources: "host" reads from the board's
// directory and "mmc" from the ext4 partition of each SD card.
func (b *Board) FileSources() map[string]cli.FileSource {
	return map[string]cli.FileSource{
		"host": hostSource{dir: b.dir},
		"mmc":  mmcSource{b: b},
	}
}

type hostSource struct{ dir string }

func (h hostSource) ReadFile(_, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(h.dir, filepath.Clean("/"+path)))
}

type mmcSource struct{ b *Board }

func (m mmcSource) ReadFile(devPart, path string) ([]byte, error) {
	devStr, partStr, _ := strings.Cut(devPart, ":")
	dev, err := strconv.Atoi(devStr)
	if err != nil || dev < 0 || dev >= len(m.b.disks) {
		return nil, fmt.Errorf("no mmc device %q", devStr)
	}
	if partStr != "" && partStr != "1" {
		return nil, fmt.Errorf("mmc %d: no partition %s", dev, partStr)
	}
	p := m.b.cfg.Devices.MMC[dev].Partition
	if p == nil {
		return nil, fmt.Errorf("mmc %d has no filesystem", dev)
	}
	part := ext4fs.Open(ext4fs.BlockReaderAt{Dev: m.b.disks[dev]}, p.Offset, p.Size)
	return part.ReadFile(path)
}
